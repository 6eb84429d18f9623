package game

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"OneNight/internal/router"
	"OneNight/internal/slack"
)

// Action tags embedded in callback identifiers. The set is closed; anything
// else is dropped at dispatch.
const (
	actionReveal   = "reveal"
	actionWerewolf = "werewolf"
	actionPeek     = "peek"
	actionSeer     = "seer"
)

// runNight launches the night phases as concurrent tasks. The werewolf phase
// is gated on reveal completing for every player, the seer phase on werewolf
// completing; dependent phases start strictly after their prerequisite's
// signal fires. The first fatal error cancels all of them.
func (s *Session) runNight(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.setCancel(cancel)

	phases := []struct {
		name string
		run  func(context.Context) error
	}{
		{"reveal", s.revealPhase},
		{"werewolf", s.werewolfPhase},
		{"seer", s.seerPhase},
	}

	var wg sync.WaitGroup
	for _, p := range phases {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.fail(fmt.Errorf("%s phase: %w", p.name, err))
			}
		}()
	}
	wg.Wait()

	return s.failure()
}

// revealPhase asks every player to look at their own card and waits for all
// of them to confirm.
func (s *Session) revealPhase(ctx context.Context) error {
	attachments := []slack.Attachment{{
		Fallback:   "Look at your card",
		CallbackID: router.CallbackID(actionReveal, s.id),
		Color:      "#36393e",
		Actions:    []slack.AttachmentAction{slack.Button(actionReveal, "Look at your card", "")},
	}}
	if err := s.gateway.PostInteractive(ctx, s.channelID,
		"Night falls. Everyone, look at your card.", attachments); err != nil {
		return err
	}

	return s.awaitPhase(ctx, s.reveal, s.roster)
}

// werewolfPhase wakes the werewolves once everyone has seen their card. With
// two human werewolves each confirms and learns the other; a lone werewolf is
// redirected to a single center-card peek; with no human werewolf the phase
// completes on the fallback timer alone.
func (s *Session) werewolfPhase(ctx context.Context) error {
	if err := s.awaitGate(ctx, s.reveal); err != nil {
		return err
	}

	wolves := s.holders(RoleWerewolf)

	var text string
	var attachments []slack.Attachment
	if len(wolves) == 1 {
		text = "Werewolves, wake up. Your partner sleeps in the middle; you may peek at one center card."
		attachments = []slack.Attachment{{
			Fallback:   "Peek at a center card",
			CallbackID: router.CallbackID(actionPeek, s.id),
			Color:      "#8b0000",
			Actions: []slack.AttachmentAction{
				slack.Button("center", "Left card", "0"),
				slack.Button("center", "Middle card", "1"),
				slack.Button("center", "Right card", "2"),
			},
		}}
	} else {
		// Posted even when both werewolf cards sit in the center, so the
		// channel gives nothing away.
		text = "Werewolves, wake up and find each other."
		attachments = []slack.Attachment{{
			Fallback:   "Wake up",
			CallbackID: router.CallbackID(actionWerewolf, s.id),
			Color:      "#8b0000",
			Actions:    []slack.AttachmentAction{slack.Button(actionWerewolf, "Wake up", "")},
		}}
	}
	if err := s.gateway.PostInteractive(ctx, s.channelID, text, attachments); err != nil {
		return err
	}

	return s.awaitPhase(ctx, s.werewolf, wolves)
}

// seerPhase wakes the seer once the werewolves are done.
func (s *Session) seerPhase(ctx context.Context) error {
	if err := s.awaitGate(ctx, s.werewolf); err != nil {
		return err
	}

	seers := s.holders(RoleSeer)

	attachments := []slack.Attachment{{
		Fallback:   "Wake up",
		CallbackID: router.CallbackID(actionSeer, s.id),
		Color:      "#4b0082",
		Actions:    []slack.AttachmentAction{slack.Button(actionSeer, "Wake up", "")},
	}}
	if err := s.gateway.PostInteractive(ctx, s.channelID,
		"Seer, wake up. You may look at two of the center cards.", attachments); err != nil {
		return err
	}

	return s.awaitPhase(ctx, s.seer, seers)
}

// awaitGate blocks until a prerequisite phase's signal fires.
func (s *Session) awaitGate(ctx context.Context, p phase) error {
	select {
	case <-p.sig.Done():
		return nil
	case <-s.closed.Done():
		return fmt.Errorf("realtime connection closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// awaitPhase suspends until the phase's completion signal fires. An empty
// expected set arms the fallback timer, which fires the signal
// unconditionally; no human input is required to unblock dependents.
func (s *Session) awaitPhase(ctx context.Context, p phase, expected []string) error {
	if len(expected) == 0 {
		s.logger.Info("no expected participants, arming fallback timer",
			"session_id", s.id, "phase", p.name, "delay", s.fallback)
		timer := time.AfterFunc(s.fallback, p.sig.Fire)
		defer timer.Stop()
	}

	select {
	case <-p.sig.Done():
		s.logger.Info("phase complete", "session_id", s.id, "phase", p.name, "confirmed", p.set.Len())
		if s.phasesCompleted != nil {
			s.phasesCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", p.name)))
		}
		return nil
	case <-s.closed.Done():
		return fmt.Errorf("realtime connection closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// holders returns the roster members dealt the given role, in roster order.
// Center slots never appear: they cannot interact.
func (s *Session) holders(role Role) []string {
	var ids []string
	for _, id := range s.roster {
		if s.roles[PlayerKey(id)] == role {
			ids = append(ids, id)
		}
	}
	return ids
}

// handleReveal records a player confirming their own card and replies with
// their role.
func (s *Session) handleReveal(ctx context.Context, in router.Interaction) {
	role, err := s.Role(PlayerKey(in.UserID))
	if err != nil {
		s.reject(ctx, in, "You are not part of this game.")
		return
	}

	dup, complete := s.reveal.set.MarkAndCheck(in.UserID, s.roster)
	if dup {
		s.logger.Debug("duplicate reveal confirmation", "session_id", s.id, "user", in.UserID)
	}

	if err := s.gateway.PostEphemeral(ctx, in.ResponseURL, fmt.Sprintf("You are the %s.", role)); err != nil {
		s.fail(fmt.Errorf("failed to send role reply: %w", err))
		return
	}

	if complete {
		s.reveal.sig.Fire()
	}
}

// handleWerewolf records a werewolf waking up and tells them who their
// partners are.
func (s *Session) handleWerewolf(ctx context.Context, in router.Interaction) {
	if !s.dealt.Load() {
		s.reject(ctx, in, "The game has not started yet.")
		return
	}

	wolves := s.holders(RoleWerewolf)
	if !slices.Contains(wolves, in.UserID) {
		s.reject(ctx, in, "Shh. Only werewolves may wake now.")
		return
	}

	dup, complete := s.werewolf.set.MarkAndCheck(in.UserID, wolves)
	if dup {
		s.logger.Debug("duplicate werewolf confirmation", "session_id", s.id, "user", in.UserID)
	}

	var partners []string
	for _, id := range wolves {
		if id != in.UserID {
			partners = append(partners, "<@"+id+">")
		}
	}
	msg := fmt.Sprintf("You and %s are the werewolves.", strings.Join(partners, ", "))
	if err := s.gateway.PostEphemeral(ctx, in.ResponseURL, msg); err != nil {
		s.fail(fmt.Errorf("failed to send werewolf reply: %w", err))
		return
	}

	if complete {
		s.werewolf.sig.Fire()
	}
}

// handlePeek resolves a lone werewolf's center-card peek. The has-looked
// guard is a single compare-and-swap so two concurrent presses can never both
// reveal a card.
func (s *Session) handlePeek(ctx context.Context, in router.Interaction) {
	if !s.dealt.Load() {
		s.reject(ctx, in, "The game has not started yet.")
		return
	}

	wolves := s.holders(RoleWerewolf)
	if len(wolves) != 1 || wolves[0] != in.UserID {
		s.reject(ctx, in, "Only a lone werewolf may peek at the center.")
		return
	}

	slot, err := strconv.Atoi(in.Value)
	if err != nil || slot < 0 || slot >= CenterSlots {
		s.reject(ctx, in, "Pick one of the three center cards.")
		return
	}

	if !s.peeked.CompareAndSwap(false, true) {
		s.reject(ctx, in, "You have already peeked at a center card.")
		return
	}

	role := s.roles[CenterKey(slot)]
	_, complete := s.werewolf.set.MarkAndCheck(in.UserID, wolves)

	if err := s.gateway.PostEphemeral(ctx, in.ResponseURL, fmt.Sprintf("The center card you picked is the %s.", role)); err != nil {
		s.fail(fmt.Errorf("failed to send peek reply: %w", err))
		return
	}

	if complete {
		s.werewolf.sig.Fire()
	}
}

// handleSeer wakes the seer and shows them two center cards.
func (s *Session) handleSeer(ctx context.Context, in router.Interaction) {
	if !s.dealt.Load() {
		s.reject(ctx, in, "The game has not started yet.")
		return
	}

	seers := s.holders(RoleSeer)
	if !slices.Contains(seers, in.UserID) {
		s.reject(ctx, in, "Only the seer may wake now.")
		return
	}

	dup, complete := s.seer.set.MarkAndCheck(in.UserID, seers)
	if dup {
		s.logger.Debug("duplicate seer confirmation", "session_id", s.id, "user", in.UserID)
	}

	msg := fmt.Sprintf("Two of the center cards: the %s and the %s.",
		s.roles[CenterKey(0)], s.roles[CenterKey(1)])
	if err := s.gateway.PostEphemeral(ctx, in.ResponseURL, msg); err != nil {
		s.fail(fmt.Errorf("failed to send seer reply: %w", err))
		return
	}

	if complete {
		s.seer.sig.Fire()
	}
}

// reject sends a private rejection reply without mutating phase state.
func (s *Session) reject(ctx context.Context, in router.Interaction, msg string) {
	if err := s.gateway.PostEphemeral(ctx, in.ResponseURL, msg); err != nil {
		s.fail(fmt.Errorf("failed to send rejection: %w", err))
	}
}
