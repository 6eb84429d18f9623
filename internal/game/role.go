package game

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// Role is a card in the one-night deck.
type Role string

const (
	RoleWerewolf     Role = "werewolf"
	RoleSeer         Role = "seer"
	RoleRobber       Role = "robber"
	RoleTroublemaker Role = "troublemaker"
	RoleVillager     Role = "villager"
)

const (
	// MinPlayers is the fewest human players a game supports.
	MinPlayers = 3
	// MaxPlayers is the most human players a game supports.
	MaxPlayers = 5
	// CenterSlots is the number of anonymous face-down center cards.
	CenterSlots = 3
)

// ErrRosterSize indicates the channel roster is outside the supported band.
var ErrRosterSize = errors.New("roster size out of range")

// ErrNotDealt indicates a role lookup before roles were assigned.
var ErrNotDealt = errors.New("roles have not been dealt")

// Key identifies a role holder: either a roster member or one of the three
// center slots. Roster ids are never empty, so a zero Player marks a center
// key.
type Key struct {
	Player string
	Center int
}

// PlayerKey builds the key for a roster member.
func PlayerKey(id string) Key {
	return Key{Player: id}
}

// CenterKey builds the key for a center slot in 0..2.
func CenterKey(slot int) Key {
	return Key{Center: slot}
}

// IsCenter reports whether the key names a center slot.
func (k Key) IsCenter() bool {
	return k.Player == ""
}

func (k Key) String() string {
	if k.IsCenter() {
		return fmt.Sprintf("center:%d", k.Center)
	}
	return k.Player
}

// BuildDeck builds the unshuffled deck for n players: two werewolves, one
// each of seer, robber and troublemaker, villagers for the rest. Deck size is
// always n + CenterSlots.
func BuildDeck(n int) ([]Role, error) {
	if n < MinPlayers || n > MaxPlayers {
		return nil, fmt.Errorf("%w: got %d players, need %d to %d", ErrRosterSize, n, MinPlayers, MaxPlayers)
	}

	deck := []Role{RoleWerewolf, RoleWerewolf, RoleSeer, RoleRobber, RoleTroublemaker}
	for range n - 2 {
		deck = append(deck, RoleVillager)
	}
	return deck, nil
}

// AssignRoles shuffles the deck for the roster and deals it positionally to
// every roster member plus the three center slots. The returned assignment is
// never mutated afterwards.
func AssignRoles(roster []string) (map[Key]Role, error) {
	deck, err := BuildDeck(len(roster))
	if err != nil {
		return nil, err
	}

	rand.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})

	roles := make(map[Key]Role, len(deck))
	for i, id := range roster {
		roles[PlayerKey(id)] = deck[i]
	}
	for slot := range CenterSlots {
		roles[CenterKey(slot)] = deck[len(roster)+slot]
	}
	return roles, nil
}
