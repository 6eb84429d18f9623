package game

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"OneNight/internal/router"
	"OneNight/internal/slack"
)

// Registry is the slice of the interaction router the manager needs.
type Registry interface {
	Register(sessionID string, h router.Handler)
	Deregister(sessionID string)
}

// Manager creates sessions, registers them with the interaction router for
// the duration of the game and tears them down afterwards.
type Manager struct {
	client   *slack.Client
	registry Registry
	logger   *slog.Logger
	tracer   trace.Tracer
	meter    metric.Meter
	fallback time.Duration

	gamesStarted metric.Int64Counter
}

// NewManager creates a session manager.
func NewManager(client *slack.Client, registry Registry, logger *slog.Logger,
	tracer trace.Tracer, meter metric.Meter, fallback time.Duration) *Manager {

	m := &Manager{
		client:   client,
		registry: registry,
		logger:   logger,
		tracer:   tracer,
		meter:    meter,
		fallback: fallback,
	}

	counter, err := meter.Int64Counter(
		"game.sessions.started",
		metric.WithDescription("Game sessions started"),
	)
	if err != nil {
		logger.Warn("failed to create session counter", "error", err)
	} else {
		m.gamesStarted = counter
	}

	return m
}

// StartGame runs one game session to completion: create, register with the
// router, drive the night sequence, deregister. Errors end the session and
// are logged, not returned; the slash-command trigger has long since been
// answered.
func (m *Manager) StartGame(ctx context.Context, botUserID, token, channelID string) {
	sess := New(Params{
		ChannelID: channelID,
		BotUserID: botUserID,
		Gateway:   &slackGateway{bot: m.client.Bot(token)},
		Logger:    m.logger,
		Tracer:    m.tracer,
		Meter:     m.meter,
		Fallback:  m.fallback,
	})

	m.registry.Register(sess.ID(), sess)
	defer m.registry.Deregister(sess.ID())

	if m.gamesStarted != nil {
		m.gamesStarted.Add(ctx, 1)
	}

	if err := sess.Start(ctx); err != nil {
		m.logger.Error("game session ended with error", "session_id", sess.ID(), "error", err)
		return
	}
	m.logger.Info("game session ended", "session_id", sess.ID())
}

// slackGateway adapts the bound Slack client to the Gateway interface.
type slackGateway struct {
	bot *slack.Bot
}

func (g *slackGateway) PostMessage(ctx context.Context, channel, text string) error {
	return g.bot.PostMessage(ctx, channel, text)
}

func (g *slackGateway) PostInteractive(ctx context.Context, channel, text string, attachments []slack.Attachment) error {
	return g.bot.PostInteractive(ctx, channel, text, attachments)
}

func (g *slackGateway) PostEphemeral(ctx context.Context, responseURL, text string) error {
	return g.bot.PostEphemeral(ctx, responseURL, text)
}

func (g *slackGateway) ChannelMembers(ctx context.Context, channel string) ([]string, error) {
	return g.bot.ChannelMembers(ctx, channel)
}

func (g *slackGateway) OpenRTM(ctx context.Context) (EventStream, error) {
	rtm, err := g.bot.OpenRTM(ctx)
	if err != nil {
		return nil, err
	}
	return rtm, nil
}
