package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"OneNight/internal/config"
	"OneNight/internal/game"
	"OneNight/internal/router"
	"OneNight/internal/server"
	"OneNight/internal/slack"
	"OneNight/internal/store"
	"OneNight/internal/telemetry"
)

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	var configPath string
	var addr string
	var dbPath string
	var debug bool

	flag.StringVar(&configPath, "config", "", "Path to TOML config file")
	flag.StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	flag.StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if addr != "" {
		cfg.Addr = addr
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if debug {
		cfg.Debug = true
	}

	clientID := os.Getenv("SLACK_CLIENT_ID")
	clientSecret := os.Getenv("SLACK_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		fmt.Fprintln(os.Stderr, "SLACK_CLIENT_ID and SLACK_CLIENT_SECRET must be set")
		os.Exit(1)
	}

	logger, err := telemetry.InitLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize telemetry: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	db, err := telemetry.InitDB(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	credentials := store.New(db, logger)
	client := slack.NewClient(cfg.SlackAPIURL, logger, tracer, meter)
	registry := router.NewRegistry(logger)
	manager := game.NewManager(client, registry, logger, tracer, meter, cfg.FallbackDelay())
	srv := server.New(logger, credentials, client, manager, registry, clientID, clientSecret)

	logger.Info("listening", "addr", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, srv); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}
