package game

import "sync"

// CompletionSet records which participants have confirmed one night phase.
// Membership only ever grows, and recording plus the completeness check run
// in a single critical section so two nearly-simultaneous final confirmations
// cannot both miss completion.
type CompletionSet struct {
	mu      sync.Mutex
	members map[string]struct{}
}

// NewCompletionSet creates an empty completion set.
func NewCompletionSet() *CompletionSet {
	return &CompletionSet{members: make(map[string]struct{})}
}

// MarkAndCheck records a confirmation and reports whether the participant had
// already confirmed and whether every expected participant has now confirmed.
// The order confirmations arrive in never affects the outcome.
func (c *CompletionSet) MarkAndCheck(user string, expected []string) (dup, complete bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, dup = c.members[user]
	c.members[user] = struct{}{}

	for _, id := range expected {
		if _, ok := c.members[id]; !ok {
			return dup, false
		}
	}
	return dup, true
}

// Has reports whether a participant has confirmed.
func (c *CompletionSet) Has(user string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.members[user]
	return ok
}

// Len returns the number of recorded confirmations.
func (c *CompletionSet) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.members)
}
