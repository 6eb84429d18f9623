package game

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"OneNight/internal/router"
	"OneNight/internal/slack"
)

// fakePrompt is one interactive message captured by the fake gateway.
type fakePrompt struct {
	text       string
	callbackID string
	actions    []slack.AttachmentAction
}

// fakeGateway records outbound calls and can be told to fail them.
type fakeGateway struct {
	mu         sync.Mutex
	messages   []string
	prompts    []fakePrompt
	ephemerals []string
	members    []string
	stream     *fakeStream

	failInteractive bool
	failEphemeral   bool
}

func (g *fakeGateway) PostMessage(ctx context.Context, channel, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages = append(g.messages, text)
	return nil
}

func (g *fakeGateway) PostInteractive(ctx context.Context, channel, text string, attachments []slack.Attachment) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failInteractive {
		return errors.New("API error: 500 Internal Server Error")
	}
	p := fakePrompt{text: text}
	if len(attachments) > 0 {
		p.callbackID = attachments[0].CallbackID
		p.actions = attachments[0].Actions
	}
	g.prompts = append(g.prompts, p)
	return nil
}

func (g *fakeGateway) PostEphemeral(ctx context.Context, responseURL, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failEphemeral {
		return errors.New("API error: 500 Internal Server Error")
	}
	g.ephemerals = append(g.ephemerals, text)
	return nil
}

func (g *fakeGateway) ChannelMembers(ctx context.Context, channel string) ([]string, error) {
	return g.members, nil
}

func (g *fakeGateway) OpenRTM(ctx context.Context) (EventStream, error) {
	return g.stream, nil
}

func (g *fakeGateway) promptCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

func (g *fakeGateway) prompt(i int) fakePrompt {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prompts[i]
}

func (g *fakeGateway) ephemeralsMatching(substr string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, text := range g.ephemerals {
		if strings.Contains(text, substr) {
			n++
		}
	}
	return n
}

func (g *fakeGateway) messagesMatching(substr string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, text := range g.messages {
		if strings.Contains(text, substr) {
			n++
		}
	}
	return n
}

// fakeStream is a scripted realtime connection.
type fakeStream struct {
	events    chan slack.Event
	mu        sync.Mutex
	sent      []string
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan slack.Event, 16)}
}

func (s *fakeStream) Events() <-chan slack.Event { return s.events }

func (s *fakeStream) Send(channel, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	return nil
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.events) })
	return nil
}

func (s *fakeStream) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newNightSession builds a session with pre-dealt roles, skipping the
// roster-resolution part of Start.
func newNightSession(t *testing.T, gw *fakeGateway, roster []string, roles map[Key]Role) *Session {
	t.Helper()
	s := New(Params{
		ChannelID: "C1",
		BotUserID: "BOT",
		Gateway:   gw,
		Logger:    testLogger(),
		Tracer:    noop.NewTracerProvider().Tracer("test"),
		Fallback:  20 * time.Millisecond,
	})
	s.roster = roster
	s.roles = roles
	s.dealt.Store(true)
	return s
}

func inter(action, user, value string) router.Interaction {
	return router.Interaction{
		Action:      action,
		UserID:      user,
		UserName:    strings.ToLower(user),
		ResponseURL: "https://hooks.example.com/" + user,
		Value:       value,
	}
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestNightTwoHumanWerewolves(t *testing.T) {
	roster := []string{"U1", "U2", "U3", "U4", "U5"}
	roles := map[Key]Role{
		PlayerKey("U1"): RoleWerewolf,
		PlayerKey("U2"): RoleWerewolf,
		PlayerKey("U3"): RoleSeer,
		PlayerKey("U4"): RoleVillager,
		PlayerKey("U5"): RoleVillager,
		CenterKey(0):    RoleRobber,
		CenterKey(1):    RoleTroublemaker,
		CenterKey(2):    RoleVillager,
	}
	gw := &fakeGateway{}
	s := newNightSession(t, gw, roster, roles)

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- s.runNight(ctx) }()

	waitFor(t, "reveal prompt", func() bool { return gw.promptCount() >= 1 })
	for _, user := range roster {
		s.HandleInteraction(ctx, inter(actionReveal, user, ""))
	}
	if gw.ephemeralsMatching("You are the") != len(roster) {
		t.Errorf("expected a role reply for every player")
	}

	waitFor(t, "werewolf prompt", func() bool { return gw.promptCount() >= 2 })
	if cb := gw.prompt(1).callbackID; !strings.Contains(cb, ":werewolf:") {
		t.Fatalf("second prompt callback %q, want werewolf action", cb)
	}

	s.HandleInteraction(ctx, inter(actionWerewolf, "U1", ""))
	if s.werewolf.sig.Fired() {
		t.Fatal("werewolf phase completed with only one of two confirmations")
	}
	s.HandleInteraction(ctx, inter(actionWerewolf, "U2", ""))

	if gw.ephemeralsMatching("<@U2> are the werewolves") != 1 {
		t.Error("U1 was not told their partner")
	}

	waitFor(t, "seer prompt", func() bool { return gw.promptCount() >= 3 })
	s.HandleInteraction(ctx, inter(actionSeer, "U3", ""))

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runNight returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("night did not finish")
	}

	if gw.ephemeralsMatching("the robber and the troublemaker") != 1 {
		t.Error("seer did not see center cards 0 and 1")
	}
}

func TestNightNoHumanWerewolfFallback(t *testing.T) {
	roster := []string{"U1", "U2", "U3"}
	roles := map[Key]Role{
		PlayerKey("U1"): RoleSeer,
		PlayerKey("U2"): RoleRobber,
		PlayerKey("U3"): RoleTroublemaker,
		CenterKey(0):    RoleWerewolf,
		CenterKey(1):    RoleWerewolf,
		CenterKey(2):    RoleVillager,
	}
	gw := &fakeGateway{}
	s := newNightSession(t, gw, roster, roles)

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- s.runNight(ctx) }()

	waitFor(t, "reveal prompt", func() bool { return gw.promptCount() >= 1 })
	for _, user := range roster {
		s.HandleInteraction(ctx, inter(actionReveal, user, ""))
	}

	// Both werewolf cards sit in the center: the wake-up prompt is still
	// posted, and the phase completes on the fallback timer alone.
	waitFor(t, "seer prompt after fallback", func() bool { return gw.promptCount() >= 3 })
	if s.werewolf.set.Len() != 0 {
		t.Errorf("werewolf phase recorded %d confirmations, want 0", s.werewolf.set.Len())
	}

	s.HandleInteraction(ctx, inter(actionSeer, "U1", ""))

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runNight returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("night did not finish")
	}
}

func TestNightLoneWolfPeeks(t *testing.T) {
	roster := []string{"U1", "U2", "U3"}
	roles := map[Key]Role{
		PlayerKey("U1"): RoleWerewolf,
		PlayerKey("U2"): RoleSeer,
		PlayerKey("U3"): RoleRobber,
		CenterKey(0):    RoleWerewolf,
		CenterKey(1):    RoleTroublemaker,
		CenterKey(2):    RoleVillager,
	}
	gw := &fakeGateway{}
	s := newNightSession(t, gw, roster, roles)

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- s.runNight(ctx) }()

	waitFor(t, "reveal prompt", func() bool { return gw.promptCount() >= 1 })
	for _, user := range roster {
		s.HandleInteraction(ctx, inter(actionReveal, user, ""))
	}

	waitFor(t, "peek prompt", func() bool { return gw.promptCount() >= 2 })
	if cb := gw.prompt(1).callbackID; !strings.Contains(cb, ":peek:") {
		t.Fatalf("lone wolf got callback %q, want peek action", cb)
	}

	s.HandleInteraction(ctx, inter(actionPeek, "U1", "1"))
	if gw.ephemeralsMatching("is the troublemaker") != 1 {
		t.Error("lone wolf did not see center card 1")
	}

	// A second attempt is rejected without revealing another card.
	s.HandleInteraction(ctx, inter(actionPeek, "U1", "2"))
	if gw.ephemeralsMatching("already peeked") != 1 {
		t.Error("second peek attempt was not rejected")
	}
	if gw.ephemeralsMatching("is the villager") != 0 {
		t.Error("second peek revealed a card")
	}

	waitFor(t, "seer prompt", func() bool { return gw.promptCount() >= 3 })
	s.HandleInteraction(ctx, inter(actionSeer, "U2", ""))

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runNight returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("night did not finish")
	}
}

func TestLoneWolfConcurrentPeeks(t *testing.T) {
	roster := []string{"U1", "U2", "U3"}
	roles := map[Key]Role{
		PlayerKey("U1"): RoleWerewolf,
		PlayerKey("U2"): RoleSeer,
		PlayerKey("U3"): RoleVillager,
		CenterKey(0):    RoleWerewolf,
		CenterKey(1):    RoleRobber,
		CenterKey(2):    RoleTroublemaker,
	}
	gw := &fakeGateway{}
	s := newNightSession(t, gw, roster, roles)

	ctx := context.Background()
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.HandleInteraction(ctx, inter(actionPeek, "U1", "0"))
		}()
	}
	wg.Wait()

	if got := gw.ephemeralsMatching("The center card you picked"); got != 1 {
		t.Errorf("%d peeks succeeded, want exactly 1", got)
	}
	if got := gw.ephemeralsMatching("already peeked"); got != 7 {
		t.Errorf("%d peeks rejected, want 7", got)
	}
}

func TestUnauthorizedActorsRejected(t *testing.T) {
	roster := []string{"U1", "U2", "U3"}
	roles := map[Key]Role{
		PlayerKey("U1"): RoleWerewolf,
		PlayerKey("U2"): RoleWerewolf,
		PlayerKey("U3"): RoleSeer,
		CenterKey(0):    RoleRobber,
		CenterKey(1):    RoleTroublemaker,
		CenterKey(2):    RoleVillager,
	}
	gw := &fakeGateway{}
	s := newNightSession(t, gw, roster, roles)
	ctx := context.Background()

	// A stranger pressing the reveal button.
	s.HandleInteraction(ctx, inter(actionReveal, "U99", ""))
	if gw.ephemeralsMatching("not part of this game") != 1 {
		t.Error("stranger was not rejected")
	}
	if s.reveal.set.Len() != 0 {
		t.Error("stranger mutated the reveal completion set")
	}

	// The seer pressing the werewolf button.
	s.HandleInteraction(ctx, inter(actionWerewolf, "U3", ""))
	if gw.ephemeralsMatching("Only werewolves") != 1 {
		t.Error("non-werewolf was not rejected")
	}
	if s.werewolf.set.Len() != 0 || s.werewolf.sig.Fired() {
		t.Error("non-werewolf mutated the werewolf phase")
	}

	// A werewolf pressing the seer button.
	s.HandleInteraction(ctx, inter(actionSeer, "U1", ""))
	if gw.ephemeralsMatching("Only the seer") != 1 {
		t.Error("non-seer was not rejected")
	}
	if s.seer.set.Len() != 0 {
		t.Error("non-seer mutated the seer phase")
	}
}

func TestUnknownActionTagDropped(t *testing.T) {
	gw := &fakeGateway{}
	s := newNightSession(t, gw, []string{"U1", "U2", "U3"}, map[Key]Role{
		PlayerKey("U1"): RoleWerewolf,
		PlayerKey("U2"): RoleWerewolf,
		PlayerKey("U3"): RoleSeer,
		CenterKey(0):    RoleRobber,
		CenterKey(1):    RoleTroublemaker,
		CenterKey(2):    RoleVillager,
	})

	s.HandleInteraction(context.Background(), inter("vote", "U1", ""))
	if len(gw.ephemerals) != 0 {
		t.Error("unknown action produced a reply")
	}
}

func TestOutboundFailureIsFatal(t *testing.T) {
	gw := &fakeGateway{failInteractive: true}
	s := newNightSession(t, gw, []string{"U1", "U2", "U3"}, map[Key]Role{
		PlayerKey("U1"): RoleWerewolf,
		PlayerKey("U2"): RoleWerewolf,
		PlayerKey("U3"): RoleSeer,
		CenterKey(0):    RoleRobber,
		CenterKey(1):    RoleTroublemaker,
		CenterKey(2):    RoleVillager,
	})

	err := s.runNight(context.Background())
	if err == nil {
		t.Fatal("runNight succeeded despite failing outbound calls")
	}
	if !strings.Contains(err.Error(), "reveal phase") {
		t.Errorf("error %q does not name the failing phase", err)
	}
}

func TestEphemeralFailureIsFatal(t *testing.T) {
	roster := []string{"U1", "U2", "U3"}
	gw := &fakeGateway{failEphemeral: true}
	s := newNightSession(t, gw, roster, map[Key]Role{
		PlayerKey("U1"): RoleWerewolf,
		PlayerKey("U2"): RoleWerewolf,
		PlayerKey("U3"): RoleSeer,
		CenterKey(0):    RoleRobber,
		CenterKey(1):    RoleTroublemaker,
		CenterKey(2):    RoleVillager,
	})

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- s.runNight(ctx) }()

	waitFor(t, "reveal prompt", func() bool { return gw.promptCount() >= 1 })
	s.HandleInteraction(ctx, inter(actionReveal, "U1", ""))

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("night survived a failed private reply")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("night did not abort")
	}
}
