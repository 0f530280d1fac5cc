package game

import (
	"encoding/json"

	"github.com/wordbattle/wordbattle/internal/domain/event"
)

// Reduce folds an ordered event list into a state snapshot. It is pure and
// total: the same create params and the same ordered events always yield
// the same state, an empty event list yields the freshly created snapshot,
// and it is safe to re-run from scratch at any time. Events are sorted by
// (timestamp, id) before application; any create events in the list are
// skipped since the seed is applied first. Events with types outside the
// registry are ignored; the ingress boundary rejects them before they can
// be appended.
func Reduce(create event.CreateParams, events []event.Event) State {
	state := NewState(create)
	sorted := make([]event.Event, len(events))
	copy(sorted, events)
	event.Sort(sorted)
	for _, evt := range sorted {
		if evt.Type == event.TypeCreate {
			continue
		}
		apply(&state, evt)
	}
	return state
}

// ReduceWithPending folds confirmed history first, then pending events on
// top of it in the order given. Pending events are not sorted into the
// history; they sit after it until confirmation moves them into the sorted
// fold, which is what makes locally proposed edits visible before the
// server echoes them back.
func ReduceWithPending(create event.CreateParams, confirmed, pending []event.Event) State {
	state := Reduce(create, confirmed)
	for _, evt := range pending {
		if evt.Type == event.TypeCreate {
			continue
		}
		apply(&state, evt)
	}
	return state
}

// NewState builds the origin snapshot from create params.
func NewState(create event.CreateParams) State {
	seed := create.Game
	rows := len(seed.Grid)
	grid := make([][]CellState, rows)
	for r := range seed.Grid {
		grid[r] = make([]CellState, len(seed.Grid[r]))
		for c, cell := range seed.Grid[r] {
			grid[r][c] = CellState{
				Black:  cell.Black,
				Number: cell.Number,
				Value:  cell.Value,
			}
		}
	}
	solution := make([][]string, len(seed.Solution))
	for r := range seed.Solution {
		solution[r] = append([]string(nil), seed.Solution[r]...)
	}
	return State{
		PID:        create.PID,
		Version:    create.Version,
		Info:       seed.Info,
		Grid:       grid,
		Solution:   solution,
		Circles:    append([]event.Cell(nil), seed.Circles...),
		Clues:      seed.Clues,
		Chat:       append([]event.ChatMessage(nil), seed.Chat.Messages...),
		Cursors:    make(map[string]Cursor),
		Pings:      make(map[string]Ping),
		Users:      make(map[string]User),
		Clock: Clock{
			LastUpdated: seed.Clock.LastUpdated,
			TotalTime:   seed.Clock.TotalTime,
			Paused:      seed.Clock.Paused,
		},
		Solved:     seed.Solved,
		ThemeColor: seed.ThemeColor,
	}
}

func apply(s *State, evt event.Event) {
	switch evt.Type {
	case event.TypeUpdateCell:
		var p event.UpdateCellParams
		if json.Unmarshal(evt.Params, &p) == nil {
			applyUpdateCell(s, evt, p)
		}
	case event.TypeUpdateCursor:
		var p event.UpdateCursorParams
		if json.Unmarshal(evt.Params, &p) == nil {
			s.Cursors[p.ID] = Cursor{R: p.Cell.R, C: p.Cell.C, Timestamp: eventTime(evt, p.Timestamp)}
		}
	case event.TypeAddPing:
		var p event.AddPingParams
		if json.Unmarshal(evt.Params, &p) == nil {
			s.Pings[p.ID] = Ping{R: p.Cell.R, C: p.Cell.C, Timestamp: eventTime(evt, p.Timestamp)}
		}
	case event.TypeUpdateDisplayName:
		var p event.UpdateDisplayNameParams
		if json.Unmarshal(evt.Params, &p) == nil {
			user := s.Users[p.ID]
			user.DisplayName = p.DisplayName
			s.Users[p.ID] = user
		}
	case event.TypeUpdateColor:
		var p event.UpdateColorParams
		if json.Unmarshal(evt.Params, &p) == nil {
			user := s.Users[p.ID]
			user.Color = p.Color
			s.Users[p.ID] = user
		}
	case event.TypeUpdateClock:
		var p event.UpdateClockParams
		if json.Unmarshal(evt.Params, &p) == nil {
			applyClock(s, eventTime(evt, p.Timestamp), p.Action)
		}
	case event.TypeCheck:
		var p event.ScopeParams
		if json.Unmarshal(evt.Params, &p) == nil {
			applyCheck(s, p.Scope)
		}
	case event.TypeReveal:
		var p event.ScopeParams
		if json.Unmarshal(evt.Params, &p) == nil {
			applyReveal(s, evt, p.Scope)
		}
	case event.TypeReset:
		var p event.ResetParams
		if json.Unmarshal(evt.Params, &p) == nil {
			applyReset(s, p.Scope, p.Force)
		}
	case event.TypeChat:
		var p event.ChatParams
		if json.Unmarshal(evt.Params, &p) == nil {
			s.Chat = append(s.Chat, event.ChatMessage{
				Text:      p.Text,
				Sender:    p.Sender,
				SenderID:  p.SenderID,
				Timestamp: evt.Timestamp,
			})
		}
	case event.TypeSendChatMessage:
		// Mirrored onto the team stream by consumers; no grid state change.
	case event.TypeStartGame:
		s.Started = true
		if s.Clock.Paused {
			s.Clock.Paused = false
			s.Clock.LastUpdated = evt.Timestamp
		}
	}
}

func applyUpdateCell(s *State, evt event.Event, p event.UpdateCellParams) {
	cell, ok := s.CellAt(p.Cell.R, p.Cell.C)
	if !ok || cell.Black || cell.Verified() {
		return
	}
	cell.Value = p.Value
	cell.Color = p.Color
	cell.Pencil = p.Pencil
	cell.EditedBy = p.ID
	cell.Bad = false
	cell.Good = false
	if p.Autocheck && p.Value != "" {
		if p.Value == s.SolutionAt(p.Cell.R, p.Cell.C) {
			cell.Good = true
		} else {
			cell.Bad = true
		}
	}
	s.Grid[p.Cell.R][p.Cell.C] = cell
	markSolved(s, evt.Timestamp)
}

func applyCheck(s *State, scope []event.Cell) {
	for _, loc := range scope {
		cell, ok := s.CellAt(loc.R, loc.C)
		if !ok || cell.Black || cell.Value == "" {
			continue
		}
		if cell.Value == s.SolutionAt(loc.R, loc.C) {
			cell.Good = true
			cell.Bad = false
		} else {
			cell.Bad = true
		}
		s.Grid[loc.R][loc.C] = cell
	}
}

func applyReveal(s *State, evt event.Event, scope []event.Cell) {
	for _, loc := range scope {
		cell, ok := s.CellAt(loc.R, loc.C)
		if !ok || cell.Black {
			continue
		}
		cell.Value = s.SolutionAt(loc.R, loc.C)
		cell.Revealed = true
		cell.Good = true
		cell.Bad = false
		cell.Pencil = false
		s.Grid[loc.R][loc.C] = cell
	}
	markSolved(s, evt.Timestamp)
}

func applyReset(s *State, scope []event.Cell, force bool) {
	for _, loc := range scope {
		cell, ok := s.CellAt(loc.R, loc.C)
		if !ok || cell.Black {
			continue
		}
		if cell.Verified() && !force {
			continue
		}
		cell.Value = ""
		cell.Color = ""
		cell.Pencil = false
		cell.EditedBy = ""
		cell.Good = false
		cell.Bad = false
		cell.Revealed = false
		s.Grid[loc.R][loc.C] = cell
	}
}

func applyClock(s *State, at int64, action event.ClockAction) {
	switch action {
	case event.ClockStart:
		s.Clock = Clock{LastUpdated: at, TotalTime: 0, Paused: false}
	case event.ClockResume:
		if s.Clock.Paused {
			s.Clock.Paused = false
			s.Clock.LastUpdated = at
		}
	case event.ClockPause, event.ClockStop:
		pauseClock(s, at)
	}
}

func pauseClock(s *State, at int64) {
	if !s.Clock.Paused {
		if at > s.Clock.LastUpdated {
			s.Clock.TotalTime += at - s.Clock.LastUpdated
		}
		s.Clock.Paused = true
	}
	s.Clock.LastUpdated = at
}

// markSolved latches the solved flag and stops the clock the first time
// the grid matches the solution. Solved never reverts.
func markSolved(s *State, at int64) {
	if s.Solved || !s.IsSolved() {
		return
	}
	s.Solved = true
	pauseClock(s, at)
}

func eventTime(evt event.Event, override int64) int64 {
	if override != 0 {
		return override
	}
	return evt.Timestamp
}
