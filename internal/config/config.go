package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// SlackAPIURL is the default base URL for Slack Web API calls.
const SlackAPIURL = "https://slack.com/api"

// Config holds application configuration
type Config struct {
	Addr        string `toml:"addr"`    // HTTP listen address
	DBPath      string `toml:"db_path"` // SQLite database path
	SlackAPIURL string `toml:"slack_api_url"`
	Debug       bool   `toml:"debug"`

	// FallbackSeconds is the delay before a night phase with no expected
	// participants completes on its own.
	FallbackSeconds int `toml:"fallback_seconds"`
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		Addr:            ":8000",
		DBPath:          "onenight.db",
		SlackAPIURL:     SlackAPIURL,
		FallbackSeconds: 10,
	}
}

// Load reads configuration from a TOML file on top of the defaults.
// An empty path returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config file: %w", err)
	}
	return cfg, nil
}

// FallbackDelay returns FallbackSeconds as a duration.
func (c Config) FallbackDelay() time.Duration {
	return time.Duration(c.FallbackSeconds) * time.Second
}
