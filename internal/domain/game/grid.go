package game

import (
	"github.com/wordbattle/wordbattle/internal/domain/event"
)

// CrossingCells returns the cells of the across and down words passing
// through (r, c). The cell itself is included once per word it belongs to.
func (s *State) CrossingCells(r, c int) []event.Cell {
	cell, ok := s.CellAt(r, c)
	if !ok || cell.Black {
		return nil
	}
	var cells []event.Cell
	// across
	start := c
	for start > 0 && !s.Grid[r][start-1].Black {
		start--
	}
	for j := start; j < len(s.Grid[r]) && !s.Grid[r][j].Black; j++ {
		cells = append(cells, event.Cell{R: r, C: j})
	}
	// down
	start = r
	for start > 0 && !s.Grid[start-1][c].Black {
		start--
	}
	for i := start; i < len(s.Grid) && !s.Grid[i][c].Black; i++ {
		cells = append(cells, event.Cell{R: i, C: c})
	}
	return cells
}

// CellCorrect reports whether the cell at (r, c) is filled with the
// solution value.
func (s *State) CellCorrect(r, c int) bool {
	cell, ok := s.CellAt(r, c)
	if !ok || cell.Black {
		return false
	}
	return cell.Value != "" && cell.Value == s.SolutionAt(r, c)
}

// OpenCells returns the fillable cells that are still empty, the candidate
// locations for pickup spawns.
func (s *State) OpenCells() []event.Cell {
	var cells []event.Cell
	for r := range s.Grid {
		for c := range s.Grid[r] {
			cell := s.Grid[r][c]
			if cell.Black || cell.Value != "" {
				continue
			}
			cells = append(cells, event.Cell{R: r, C: c})
		}
	}
	return cells
}
