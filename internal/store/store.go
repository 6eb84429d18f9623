package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrNotInstalled indicates that no bot credential is stored for a team.
var ErrNotInstalled = errors.New("team has not installed the app")

// Bot holds the identity and credential issued for one workspace install.
type Bot struct {
	TeamID      string
	BotUserID   string
	Token       string
	InstalledAt time.Time
}

// Store persists workspace install credentials. Reads are fronted by an
// in-process cache; a team's credential is written once at install time and
// read once per game-start trigger.
type Store struct {
	db     *sql.DB
	cache  sync.Map // team_id -> Bot
	logger *slog.Logger
}

// New creates a credential store backed by the given database.
func New(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// SaveBot stores the credential pair for a team, replacing any previous
// install for the same team.
func (s *Store) SaveBot(ctx context.Context, bot Bot) error {
	if bot.InstalledAt.IsZero() {
		bot.InstalledAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO bots (team_id, bot_user_id, bot_token, installed_at) VALUES (?, ?, ?, ?)",
		bot.TeamID, bot.BotUserID, bot.Token, bot.InstalledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save bot credential: %w", err)
	}

	s.cache.Store(bot.TeamID, bot)
	s.logger.Info("saved bot credential", "team_id", bot.TeamID, "bot_user_id", bot.BotUserID)
	return nil
}

// Bot returns the credential pair stored for a team.
func (s *Store) Bot(ctx context.Context, teamID string) (Bot, error) {
	if val, ok := s.cache.Load(teamID); ok {
		s.logger.Debug("credential cache hit", "team_id", teamID)
		return val.(Bot), nil
	}

	var bot Bot
	err := s.db.QueryRowContext(ctx,
		"SELECT team_id, bot_user_id, bot_token, installed_at FROM bots WHERE team_id = ?",
		teamID,
	).Scan(&bot.TeamID, &bot.BotUserID, &bot.Token, &bot.InstalledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Bot{}, ErrNotInstalled
	}
	if err != nil {
		return Bot{}, fmt.Errorf("failed to load bot credential: %w", err)
	}

	s.cache.Store(teamID, bot)
	return bot, nil
}
