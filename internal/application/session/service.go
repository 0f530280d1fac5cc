package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wordbattle/wordbattle/internal/domain/battle"
	"github.com/wordbattle/wordbattle/internal/domain/event"
	"github.com/wordbattle/wordbattle/internal/domain/game"
	"github.com/wordbattle/wordbattle/internal/infrastructure/store"
)

// Broadcaster fans one confirmed event out to every connection joined to a
// game. The transport hub implements it; a nil broadcaster disables fanout.
type Broadcaster interface {
	BroadcastEvent(gid string, evt event.Event)
}

// Puzzle is a stored puzzle definition games are created from.
type Puzzle struct {
	Version float64        `json:"version"`
	Game    event.GameSeed `json:"game"`
}

// Service owns the server-side event logs. Every mutation enters through
// Append, which validates, persists, and fans out exactly once.
type Service struct {
	store  *store.Store
	bcast  Broadcaster
	logger zerolog.Logger
}

// NewService creates a session service.
func NewService(st *store.Store, bcast Broadcaster, logger zerolog.Logger) *Service {
	return &Service{
		store:  st,
		bcast:  bcast,
		logger: logger.With().Str("service", "session").Logger(),
	}
}

func eventsPath(gid string) string { return "game/" + gid + "/events" }
func puzzlePath(pid string) string { return "puzzle/" + pid }

// PutPuzzle registers a puzzle definition under its pid.
func (s *Service) PutPuzzle(ctx context.Context, pid string, p Puzzle) error {
	if pid == "" {
		return fmt.Errorf("pid is required")
	}
	if len(p.Game.Grid) == 0 {
		return fmt.Errorf("puzzle grid is empty")
	}
	return s.store.Put(ctx, puzzlePath(pid), p)
}

// Puzzle loads a stored puzzle definition.
func (s *Service) Puzzle(ctx context.Context, pid string) (Puzzle, error) {
	var p Puzzle
	if err := s.store.Get(ctx, puzzlePath(pid), &p); err != nil {
		return Puzzle{}, fmt.Errorf("load puzzle %s: %w", pid, err)
	}
	return p, nil
}

// Create allocates a new game session seeded by create params. The create
// event is the first and only create entry in the log.
func (s *Service) Create(ctx context.Context, params event.CreateParams) (string, error) {
	evt, err := event.New(event.TypeCreate, time.Now().UnixMilli(), params)
	if err != nil {
		return "", err
	}
	if err := event.Validate(evt); err != nil {
		return "", err
	}
	gid := event.NewID()
	if err := s.store.Txn(ctx, func(tx *store.Tx) error {
		_, err := tx.Push(eventsPath(gid), evt)
		return err
	}); err != nil {
		return "", fmt.Errorf("persist create event: %w", err)
	}
	s.logger.Info().Str("gid", gid).Str("pid", params.PID).Msg("game created")
	return gid, nil
}

// CreateGame allocates a session for one battle team from a stored puzzle.
// It satisfies battle.GameCreator.
func (s *Service) CreateGame(ctx context.Context, pid string, data battle.Data) (string, error) {
	p, err := s.Puzzle(ctx, pid)
	if err != nil {
		return "", err
	}
	return s.Create(ctx, event.CreateParams{
		PID:     pid,
		Version: p.Version,
		Game:    p.Game,
		Battle:  &event.BattleSeed{BID: data.BID, Team: data.Team},
	})
}

// Join verifies the session exists.
func (s *Service) Join(ctx context.Context, gid string) error {
	entries, err := s.store.List(ctx, eventsPath(gid))
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: %s", event.ErrSessionNotFound, gid)
	}
	return nil
}

// Append validates and persists one event, then broadcasts it. Appending
// an event whose id is already in the log is a no-op, so retried and
// duplicated submissions converge on a single log entry.
func (s *Service) Append(ctx context.Context, gid string, evt event.Event) error {
	if err := event.Validate(evt); err != nil {
		return err
	}
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}
	appended := false
	err := s.store.Txn(ctx, func(tx *store.Tx) error {
		entries := tx.List(eventsPath(gid))
		if len(entries) == 0 {
			return fmt.Errorf("%w: %s", event.ErrSessionNotFound, gid)
		}
		for _, e := range entries {
			var existing event.Event
			if json.Unmarshal(e.Value, &existing) == nil && existing.ID == evt.ID {
				return nil
			}
		}
		if evt.Type == event.TypeCreate {
			return event.ErrDuplicateCreate
		}
		if _, err := tx.Push(eventsPath(gid), evt); err != nil {
			return err
		}
		appended = true
		return nil
	})
	if err != nil {
		return err
	}
	if !appended {
		s.logger.Debug().Str("gid", gid).Str("event_id", evt.ID).Msg("duplicate event ignored")
		return nil
	}
	if s.bcast != nil {
		s.bcast.BroadcastEvent(gid, evt)
	}
	return nil
}

// Events returns the full log in persisted order, create event first.
func (s *Service) Events(ctx context.Context, gid string) ([]event.Event, error) {
	entries, err := s.store.List(ctx, eventsPath(gid))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", event.ErrSessionNotFound, gid)
	}
	events := make([]event.Event, 0, len(entries))
	for _, e := range entries {
		var evt event.Event
		if err := json.Unmarshal(e.Value, &evt); err != nil {
			s.logger.Warn().Str("gid", gid).Str("key", e.Key).Err(err).Msg("skipping undecodable event")
			continue
		}
		events = append(events, evt)
	}
	return events, nil
}

// State folds the persisted log into the current snapshot.
func (s *Service) State(ctx context.Context, gid string) (game.State, error) {
	events, err := s.Events(ctx, gid)
	if err != nil {
		return game.State{}, err
	}
	var create event.CreateParams
	found := false
	for _, evt := range events {
		if evt.Type != event.TypeCreate {
			continue
		}
		if err := json.Unmarshal(evt.Params, &create); err != nil {
			return game.State{}, fmt.Errorf("decode create params: %w", err)
		}
		found = true
		break
	}
	if !found {
		return game.State{}, fmt.Errorf("%w: %s", event.ErrMissingCreate, gid)
	}
	return game.Reduce(create, events), nil
}

// OpenCells returns the still-empty fillable cells of a session's board.
// It satisfies battle.BoardProvider.
func (s *Service) OpenCells(ctx context.Context, gid string) (map[[2]int]bool, error) {
	state, err := s.State(ctx, gid)
	if err != nil {
		return nil, err
	}
	open := make(map[[2]int]bool)
	for _, c := range state.OpenCells() {
		open[[2]int{c.R, c.C}] = true
	}
	return open, nil
}
