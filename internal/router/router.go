// Package router demultiplexes inbound button interactions to the owning
// game session. Unroutable interactions are logged and dropped, never
// surfaced: a stale callback from a session that already ended is a normal
// occurrence, not an error.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"OneNight/internal/slack"
)

// Namespace is the leading segment of every callback identifier this app
// emits.
const Namespace = "onenight"

// CallbackID builds the callback identifier embedded in an interactive
// prompt: namespace, action tag and owning session id, colon-joined.
func CallbackID(action, sessionID string) string {
	return strings.Join([]string{Namespace, action, sessionID}, ":")
}

// Interaction is one decoded button press.
type Interaction struct {
	Action      string // action tag from the callback identifier
	SessionID   string
	UserID      string
	UserName    string
	ResponseURL string // destination for the private reply
	Value       string // action-specific payload, e.g. a center slot index
}

// Handler receives interactions routed to one session.
type Handler interface {
	HandleInteraction(ctx context.Context, in Interaction)
}

// Registry maps live session ids to their interaction handlers. It is the
// only state shared across sessions and is safe for concurrent registration,
// removal and dispatch.
type Registry struct {
	sessions map[string]Handler
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewRegistry creates an empty session registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]Handler),
		logger:   logger,
	}
}

// Register adds a session's handler under its id.
func (r *Registry) Register(sessionID string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionID] = h
}

// Deregister removes a session. Removing an unknown id is a no-op.
func (r *Registry) Deregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Dispatch decodes a raw interaction payload and forwards it to the owning
// session. Malformed payloads, foreign namespaces and unknown session ids are
// logged and dropped.
func (r *Registry) Dispatch(ctx context.Context, payload []byte) {
	var p slack.InteractionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.logger.Warn("dropping malformed interaction payload", "error", err)
		return
	}

	parts := strings.Split(p.CallbackID, ":")
	if len(parts) != 3 {
		r.logger.Warn("dropping malformed callback id", "callback_id", p.CallbackID)
		return
	}
	namespace, action, sessionID := parts[0], parts[1], parts[2]

	if namespace != Namespace {
		r.logger.Warn("dropping interaction for foreign namespace", "namespace", namespace)
		return
	}

	r.mu.RLock()
	h, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		// The session may have legitimately ended already.
		r.logger.Info("dropping interaction for unknown session", "session_id", sessionID, "action", action)
		return
	}

	in := Interaction{
		Action:      action,
		SessionID:   sessionID,
		UserID:      p.User.ID,
		UserName:    p.User.Name,
		ResponseURL: p.ResponseURL,
	}
	if len(p.Actions) > 0 {
		in.Value = p.Actions[0].Value
	}

	h.HandleInteraction(ctx, in)
}
