package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"OneNight/internal/router"
	"OneNight/internal/slack"
)

// Gateway is the outbound half of the chat platform, consumed by the night
// coordinator. A non-nil error from any call is fatal for the session.
type Gateway interface {
	PostMessage(ctx context.Context, channel, text string) error
	PostInteractive(ctx context.Context, channel, text string, attachments []slack.Attachment) error
	PostEphemeral(ctx context.Context, responseURL, text string) error
	ChannelMembers(ctx context.Context, channel string) ([]string, error)
	OpenRTM(ctx context.Context) (EventStream, error)
}

// EventStream is one realtime duplex connection to the chat platform.
type EventStream interface {
	Events() <-chan slack.Event
	Send(channel, text string) error
	Close() error
}

// phase bundles the completion state for one night step.
type phase struct {
	name string
	set  *CompletionSet
	sig  *Signal
}

// Session is a single game instance. It owns the roster, the dealt roles and
// the night-phase completion state, and receives its button presses from the
// interaction router under its session id.
type Session struct {
	id        string
	channelID string
	botUserID string
	gateway   Gateway
	logger    *slog.Logger
	tracer    trace.Tracer
	fallback  time.Duration

	roster []string
	roles  map[Key]Role
	dealt  atomic.Bool

	reveal   phase
	werewolf phase
	seer     phase
	peeked   atomic.Bool // lone-wolf one-shot guard

	ready  *Signal // realtime handshake done
	closed *Signal // realtime connection gone

	eventHandlers  map[string]func(slack.Event)
	actionHandlers map[string]func(context.Context, router.Interaction)

	cancel  context.CancelFunc
	failMu  sync.Mutex
	failErr error

	phasesCompleted metric.Int64Counter
}

// Params configures a new session.
type Params struct {
	ChannelID string
	BotUserID string
	Gateway   Gateway
	Logger    *slog.Logger
	Tracer    trace.Tracer
	Meter     metric.Meter

	// Fallback is the delay before a phase with no expected participants
	// completes on its own.
	Fallback time.Duration
}

// New creates a session with a fresh unique id. Ids are never reused.
func New(p Params) *Session {
	s := &Session{
		id:        uuid.NewString(),
		channelID: p.ChannelID,
		botUserID: p.BotUserID,
		gateway:   p.Gateway,
		logger:    p.Logger,
		tracer:    p.Tracer,
		fallback:  p.Fallback,
		reveal:    phase{name: "reveal", set: NewCompletionSet(), sig: NewSignal()},
		werewolf:  phase{name: "werewolf", set: NewCompletionSet(), sig: NewSignal()},
		seer:      phase{name: "seer", set: NewCompletionSet(), sig: NewSignal()},
		ready:     NewSignal(),
		closed:    NewSignal(),
	}

	s.eventHandlers = map[string]func(slack.Event){
		"hello":   s.onHello,
		"message": s.onMessage,
	}
	s.actionHandlers = map[string]func(context.Context, router.Interaction){
		actionReveal:   s.handleReveal,
		actionWerewolf: s.handleWerewolf,
		actionPeek:     s.handlePeek,
		actionSeer:     s.handleSeer,
	}

	if p.Meter != nil {
		counter, err := p.Meter.Int64Counter(
			"game.phases.completed",
			metric.WithDescription("Night phases driven to completion"),
		)
		if err != nil {
			p.Logger.Warn("failed to create phase counter", "error", err)
		} else {
			s.phasesCompleted = counter
		}
	}

	p.Logger.Info("created game session", "session_id", s.id, "channel", p.ChannelID)
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// Role returns the role dealt to a key. ErrNotDealt before assignment.
func (s *Session) Role(key Key) (Role, error) {
	if !s.dealt.Load() {
		return "", ErrNotDealt
	}
	role, ok := s.roles[key]
	if !ok {
		return "", fmt.Errorf("no role dealt to %s", key)
	}
	return role, nil
}

// Start opens the realtime connection, resolves and validates the roster,
// deals roles and runs the night sequence. It returns when the night ends,
// the realtime connection closes, or an outbound call fails. A roster outside
// the supported band is a terminal but non-error outcome.
func (s *Session) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.setCancel(cancel)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "game_session")
	defer span.End()

	stream, err := s.gateway.OpenRTM(ctx)
	if err != nil {
		return fmt.Errorf("failed to open realtime connection: %w", err)
	}
	defer stream.Close()

	go s.pumpEvents(stream)

	select {
	case <-s.ready.Done():
	case <-s.closed.Done():
		return fmt.Errorf("realtime connection closed before handshake")
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := stream.Send(s.channelID, "A game of One Night Werewolf is starting!"); err != nil {
		return fmt.Errorf("failed to announce game: %w", err)
	}
	if err := stream.Send(s.channelID, "Checking who is playing..."); err != nil {
		return fmt.Errorf("failed to announce roster check: %w", err)
	}

	members, err := s.gateway.ChannelMembers(ctx, s.channelID)
	if err != nil {
		return fmt.Errorf("failed to look up channel members: %w", err)
	}
	roster := make([]string, 0, len(members))
	for _, id := range members {
		if id != s.botUserID {
			roster = append(roster, id)
		}
	}
	s.roster = roster

	roles, err := AssignRoles(roster)
	if errors.Is(err, ErrRosterSize) {
		msg := fmt.Sprintf("One Night Werewolf needs %d to %d players; this channel has %d.",
			MinPlayers, MaxPlayers, len(roster))
		if perr := s.gateway.PostMessage(ctx, s.channelID, msg); perr != nil {
			return fmt.Errorf("failed to post roster rejection: %w", perr)
		}
		s.logger.Info("aborting game: roster out of range", "session_id", s.id, "players", len(roster))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to assign roles: %w", err)
	}
	s.roles = roles
	s.dealt.Store(true)
	s.logger.Info("roles dealt", "session_id", s.id, "players", len(roster))

	if err := s.runNight(ctx); err != nil {
		return fmt.Errorf("night sequence failed: %w", err)
	}

	return s.gateway.PostMessage(ctx, s.channelID, "Dawn breaks. Everyone, wake up!")
}

// pumpEvents feeds inbound realtime events through the per-type handler
// table until the connection is gone.
func (s *Session) pumpEvents(stream EventStream) {
	for evt := range stream.Events() {
		s.dispatchEvent(evt)
	}
	s.closed.Fire()
}

// dispatchEvent routes one realtime event. Events carrying an error field or
// an unregistered type are logged and dropped, never fatal.
func (s *Session) dispatchEvent(evt slack.Event) {
	if evt.Error != nil {
		s.logger.Warn("dropping errored event",
			"session_id", s.id, "code", evt.Error.Code, "msg", evt.Error.Msg)
		return
	}
	h, ok := s.eventHandlers[evt.Type]
	if !ok {
		s.logger.Debug("unhandled event type", "session_id", s.id, "type", evt.Type)
		return
	}
	h(evt)
}

func (s *Session) onHello(slack.Event) {
	s.ready.Fire()
}

func (s *Session) onMessage(evt slack.Event) {
	s.logger.Debug("channel message", "session_id", s.id, "user", evt.User)
}

// HandleInteraction is the router's entry point into the session. Dispatch by
// action tag is a closed table; unknown tags are logged and dropped.
func (s *Session) HandleInteraction(ctx context.Context, in router.Interaction) {
	h, ok := s.actionHandlers[in.Action]
	if !ok {
		s.logger.Warn("dropping unknown action tag", "session_id", s.id, "action", in.Action)
		return
	}
	h(ctx, in)
}

// setCancel installs the function that releases every suspended phase task.
func (s *Session) setCancel(cancel context.CancelFunc) {
	s.failMu.Lock()
	s.cancel = cancel
	s.failMu.Unlock()
}

// fail records the first fatal error and cancels the whole night sequence.
// Later errors are dropped.
func (s *Session) fail(err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()

	if s.failErr != nil {
		return
	}
	s.failErr = err
	s.logger.Error("fatal chat platform failure", "session_id", s.id, "error", err)
	if s.cancel != nil {
		s.cancel()
	}
}

// failure returns the recorded fatal error, if any.
func (s *Session) failure() error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	return s.failErr
}
