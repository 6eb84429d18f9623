// Package server exposes the HTTP surface of the bot: the install landing
// page, the OAuth callback, the slash-command webhook and the
// interactive-button webhook.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"OneNight/internal/slack"
	"OneNight/internal/store"
)

// Dispatcher routes raw interaction payloads to live sessions.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload []byte)
}

// Credentials persists and retrieves workspace install credentials.
type Credentials interface {
	SaveBot(ctx context.Context, bot store.Bot) error
	Bot(ctx context.Context, teamID string) (store.Bot, error)
}

// Starter launches a game session for a team's bot in a channel.
type Starter interface {
	StartGame(ctx context.Context, botUserID, token, channelID string)
}

// Exchanger completes the OAuth install exchange.
type Exchanger interface {
	OAuthAccess(ctx context.Context, clientID, clientSecret, code string) (slack.Install, error)
}

// Server is the HTTP handler for all inbound webhooks.
type Server struct {
	mux          *http.ServeMux
	logger       *slog.Logger
	creds        Credentials
	exchanger    Exchanger
	starter      Starter
	dispatcher   Dispatcher
	clientID     string
	clientSecret string
}

// New creates the server and wires its routes.
func New(logger *slog.Logger, creds Credentials, exchanger Exchanger, starter Starter,
	dispatcher Dispatcher, clientID, clientSecret string) *Server {

	s := &Server{
		mux:          http.NewServeMux(),
		logger:       logger,
		creds:        creds,
		exchanger:    exchanger,
		starter:      starter,
		dispatcher:   dispatcher,
		clientID:     clientID,
		clientSecret: clientSecret,
	}

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /oauth", s.handleOAuth)
	s.mux.HandleFunc("POST /command", s.handleCommand)
	s.mux.HandleFunc("POST /button", s.handleButton)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<html><body><h1>One Night Werewolf</h1>
<a href="https://slack.com/oauth/authorize?client_id=%s&scope=bot,commands">Add to Slack</a>
</body></html>`, s.clientID)
}

func (s *Server) handleOAuth(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}

	install, err := s.exchanger.OAuthAccess(r.Context(), s.clientID, s.clientSecret, code)
	if err != nil {
		s.logger.Error("oauth exchange failed", "error", err)
		http.Error(w, "oauth exchange failed", http.StatusBadGateway)
		return
	}

	err = s.creds.SaveBot(r.Context(), store.Bot{
		TeamID:    install.TeamID,
		BotUserID: install.BotUserID,
		Token:     install.BotToken,
	})
	if err != nil {
		s.logger.Error("failed to save install", "team_id", install.TeamID, "error", err)
		http.Error(w, "failed to save install", http.StatusInternalServerError)
		return
	}

	w.Header().Set("content-type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<html><body><h1>One Night Werewolf</h1><p>Installed. Run /onenight in a channel.</p></body></html>`)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	if r.PostFormValue("command") != "/onenight" {
		return
	}

	teamID := r.PostFormValue("team_id")
	channelID := r.PostFormValue("channel_id")

	bot, err := s.creds.Bot(r.Context(), teamID)
	if errors.Is(err, store.ErrNotInstalled) {
		fmt.Fprint(w, "This workspace has not installed One Night Werewolf yet.")
		return
	}
	if err != nil {
		s.logger.Error("failed to load bot credential", "team_id", teamID, "error", err)
		http.Error(w, "credential lookup failed", http.StatusInternalServerError)
		return
	}

	fmt.Fprint(w, "Summoning a GM...")

	// The game outlives this webhook request.
	go s.starter.StartGame(context.Background(), bot.BotUserID, bot.Token, channelID)
}

func (s *Server) handleButton(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	payload := r.PostFormValue("payload")
	if payload == "" {
		s.logger.Warn("button webhook without payload")
		return
	}

	// Unroutable interactions are dropped inside Dispatch; the platform
	// always gets a 200.
	go s.dispatcher.Dispatch(context.Background(), []byte(payload))
}
