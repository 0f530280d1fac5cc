package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordbattle/wordbattle/internal/domain/battle"
	"github.com/wordbattle/wordbattle/internal/domain/event"
	"github.com/wordbattle/wordbattle/internal/infrastructure/store"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []event.Event
}

func (b *recordingBroadcaster) BroadcastEvent(gid string, evt event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func newTestService(t *testing.T) (*Service, *recordingBroadcaster) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	bcast := &recordingBroadcaster{}
	return NewService(st, bcast, zerolog.Nop()), bcast
}

func testCreateParams() event.CreateParams {
	return event.CreateParams{
		PID:     "puzzle-1",
		Version: 1,
		Game: event.GameSeed{
			Info: event.Info{Title: "Mini", Author: "test"},
			Grid: [][]event.SeedCell{
				{{Number: 1}, {Number: 2}},
				{{Number: 3}, {Black: true}},
			},
			Solution: [][]string{{"A", "B"}, {"C", ""}},
			Clues:    event.Clues{Across: []string{"1. AB"}, Down: []string{"1. AC"}},
		},
	}
}

func TestCreateSeedsLogWithCreateEvent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	gid, err := svc.Create(ctx, testCreateParams())
	require.NoError(t, err)
	require.NotEmpty(t, gid)

	events, err := svc.Events(ctx, gid)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.TypeCreate, events[0].Type)
}

func TestAppendPersistsAndBroadcasts(t *testing.T) {
	svc, bcast := newTestService(t)
	ctx := context.Background()

	gid, err := svc.Create(ctx, testCreateParams())
	require.NoError(t, err)

	evt, err := event.New(event.TypeUpdateCell, 100, event.UpdateCellParams{
		Cell: event.Cell{R: 0, C: 0}, Value: "A", ID: "u1",
	})
	require.NoError(t, err)
	require.NoError(t, svc.Append(ctx, gid, evt))

	events, err := svc.Events(ctx, gid)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, evt.ID, events[1].ID)
	assert.Equal(t, 1, bcast.count())
}

func TestAppendDuplicateIDIsNoop(t *testing.T) {
	svc, bcast := newTestService(t)
	ctx := context.Background()

	gid, err := svc.Create(ctx, testCreateParams())
	require.NoError(t, err)

	evt, err := event.New(event.TypeUpdateCursor, 100, event.UpdateCursorParams{
		Cell: event.Cell{R: 0, C: 1}, ID: "u1",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Append(ctx, gid, evt))
	require.NoError(t, svc.Append(ctx, gid, evt))

	events, err := svc.Events(ctx, gid)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, 1, bcast.count())
}

func TestAppendRejectsSecondCreate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	gid, err := svc.Create(ctx, testCreateParams())
	require.NoError(t, err)

	dup, err := event.New(event.TypeCreate, 200, testCreateParams())
	require.NoError(t, err)
	err = svc.Append(ctx, gid, dup)
	assert.ErrorIs(t, err, event.ErrDuplicateCreate)
}

func TestAppendUnknownSessionFails(t *testing.T) {
	svc, _ := newTestService(t)

	evt, err := event.New(event.TypeStartGame, 100, event.StartGameParams{})
	require.NoError(t, err)
	err = svc.Append(context.Background(), "missing", evt)
	assert.ErrorIs(t, err, event.ErrSessionNotFound)
}

func TestAppendRejectsInvalidEvent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	gid, err := svc.Create(ctx, testCreateParams())
	require.NoError(t, err)

	evt, err := event.New(event.Type("explode"), 100, struct{}{})
	require.NoError(t, err)
	err = svc.Append(ctx, gid, evt)
	assert.ErrorIs(t, err, event.ErrUnknownType)
}

func TestStateFoldsAppendedEvents(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	gid, err := svc.Create(ctx, testCreateParams())
	require.NoError(t, err)

	fill, err := event.New(event.TypeUpdateCell, 100, event.UpdateCellParams{
		Cell: event.Cell{R: 0, C: 0}, Value: "A", ID: "u1",
	})
	require.NoError(t, err)
	require.NoError(t, svc.Append(ctx, gid, fill))

	state, err := svc.State(ctx, gid)
	require.NoError(t, err)
	assert.Equal(t, "A", state.Grid[0][0].Value)
	assert.Equal(t, "u1", state.Grid[0][0].EditedBy)
}

func TestCreateGameFromStoredPuzzle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	params := testCreateParams()
	require.NoError(t, svc.PutPuzzle(ctx, "puzzle-1", Puzzle{Version: params.Version, Game: params.Game}))

	gid, err := svc.CreateGame(ctx, "puzzle-1", battle.Data{BID: "b1", Team: 1})
	require.NoError(t, err)

	state, err := svc.State(ctx, gid)
	require.NoError(t, err)
	assert.Equal(t, "puzzle-1", state.PID)
}

func TestOpenCellsExcludesFilledAndBlack(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	gid, err := svc.Create(ctx, testCreateParams())
	require.NoError(t, err)

	fill, err := event.New(event.TypeUpdateCell, 100, event.UpdateCellParams{
		Cell: event.Cell{R: 0, C: 0}, Value: "A", ID: "u1",
	})
	require.NoError(t, err)
	require.NoError(t, svc.Append(ctx, gid, fill))

	open, err := svc.OpenCells(ctx, gid)
	require.NoError(t, err)
	assert.Equal(t, map[[2]int]bool{{0, 1}: true, {1, 0}: true}, open)
}
