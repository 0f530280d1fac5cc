package battle

import (
	"errors"
)

// Powerup type catalog. A pickup carries one of these; collecting it
// grants the type to the collecting team.
const (
	PowerupShuffle = "shuffle"
	PowerupFreeze  = "freeze"
	PowerupCheck   = "check"
	PowerupReveal  = "reveal"
)

// Types lists the spawnable powerup types.
var Types = []string{PowerupShuffle, PowerupFreeze, PowerupCheck, PowerupReveal}

var (
	ErrBattleNotFound = errors.New("battle not found")
	ErrPickupNotFound = errors.New("pickup not found")
	ErrInvalidTeam    = errors.New("invalid team")
)

// Powerup is a team-scoped one-time-use effect token. Used is the unix
// millisecond it was spent, zero while held. Target is the team it was
// used against.
type Powerup struct {
	Type   string `json:"type"`
	Used   int64  `json:"used,omitempty"`
	Target *int   `json:"target,omitempty"`
}

// Pickup is a board-coordinate-bound collectible.
type Pickup struct {
	Type     string `json:"type"`
	I        int    `json:"i"`
	J        int    `json:"j"`
	PickedUp bool   `json:"pickedUp,omitempty"`
}

// Winner records which team finished first. At most one winner is ever
// written per battle.
type Winner struct {
	Team        int   `json:"team"`
	CompletedAt int64 `json:"completedAt"`
}

// Player is one roster entry.
type Player struct {
	Name string `json:"name"`
	Team int    `json:"team"`
}

// Data links a game session back to its battle.
type Data struct {
	BID  string `json:"bid"`
	Team int    `json:"team"`
}

// Snapshot is the full battle state as read from the store.
type Snapshot struct {
	Games     []string          `json:"games,omitempty"`
	Players   map[string]Player `json:"players,omitempty"`
	Powerups  [][]Powerup       `json:"powerups,omitempty"`
	Pickups   map[string]Pickup `json:"pickups,omitempty"`
	Winner    *Winner           `json:"winner,omitempty"`
	StartedAt int64             `json:"startedAt,omitempty"`
}

// LivePickups counts pickups that have not been collected yet.
func LivePickups(pickups map[string]Pickup) int {
	live := 0
	for _, p := range pickups {
		if !p.PickedUp {
			live++
		}
	}
	return live
}

// HasType reports whether the team's list already holds a powerup of the
// given type.
func HasType(powerups []Powerup, typ string) bool {
	for _, p := range powerups {
		if p.Type == typ {
			return true
		}
	}
	return false
}
