package game

import (
	"github.com/wordbattle/wordbattle/internal/domain/event"
)

// CellState is one board square in the derived state.
type CellState struct {
	Black    bool   `json:"black,omitempty"`
	Number   int    `json:"number,omitempty"`
	Value    string `json:"value,omitempty"`
	Color    string `json:"color,omitempty"`
	Pencil   bool   `json:"pencil,omitempty"`
	EditedBy string `json:"editedBy,omitempty"`
	Good     bool   `json:"good,omitempty"`
	Bad      bool   `json:"bad,omitempty"`
	Revealed bool   `json:"revealed,omitempty"`
}

// Verified reports whether the cell is locked against further edits.
func (c CellState) Verified() bool {
	return c.Good || c.Revealed
}

// User is the presence record for one participant.
type User struct {
	DisplayName string `json:"displayName,omitempty"`
	Color       string `json:"color,omitempty"`
}

// Cursor is one user's last reported position.
type Cursor struct {
	R         int   `json:"r"`
	C         int   `json:"c"`
	Timestamp int64 `json:"timestamp"`
}

// Ping is one user's last cell flash.
type Ping struct {
	R         int   `json:"r"`
	C         int   `json:"c"`
	Timestamp int64 `json:"timestamp"`
}

// Clock tracks accumulated solve time.
type Clock struct {
	LastUpdated int64 `json:"lastUpdated"`
	TotalTime   int64 `json:"totalTime"`
	Paused      bool  `json:"paused"`
}

// State is the derived snapshot of one session. It is produced exclusively
// by Reduce; consumers only read it.
type State struct {
	PID        string              `json:"pid"`
	Version    float64             `json:"version"`
	Info       event.Info          `json:"info"`
	Grid       [][]CellState       `json:"grid"`
	Solution   [][]string          `json:"solution"`
	Circles    []event.Cell        `json:"circles,omitempty"`
	Clues      event.Clues         `json:"clues"`
	Chat       []event.ChatMessage `json:"chat"`
	Cursors    map[string]Cursor   `json:"cursors,omitempty"`
	Pings      map[string]Ping     `json:"pings,omitempty"`
	Users      map[string]User     `json:"users,omitempty"`
	Clock      Clock               `json:"clock"`
	Started    bool                `json:"started,omitempty"`
	Solved     bool                `json:"solved"`
	ThemeColor string              `json:"themeColor,omitempty"`
}

// CellAt returns the cell at (r, c) and whether the coordinate is on the
// board.
func (s *State) CellAt(r, c int) (CellState, bool) {
	if r < 0 || r >= len(s.Grid) || c < 0 || c >= len(s.Grid[r]) {
		return CellState{}, false
	}
	return s.Grid[r][c], true
}

// SolutionAt returns the solution value at (r, c), or "" off the board.
func (s *State) SolutionAt(r, c int) string {
	if r < 0 || r >= len(s.Solution) || c < 0 || c >= len(s.Solution[r]) {
		return ""
	}
	return s.Solution[r][c]
}

// IsSolved reports whether every fillable cell matches the solution.
func (s *State) IsSolved() bool {
	if len(s.Grid) == 0 {
		return false
	}
	for r := range s.Grid {
		for c := range s.Grid[r] {
			cell := s.Grid[r][c]
			if cell.Black {
				continue
			}
			if cell.Value == "" || cell.Value != s.SolutionAt(r, c) {
				return false
			}
		}
	}
	return true
}
