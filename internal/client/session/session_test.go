package session

import (
	"context"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appBattle "github.com/wordbattle/wordbattle/internal/application/battle"
	appSession "github.com/wordbattle/wordbattle/internal/application/session"
	"github.com/wordbattle/wordbattle/internal/client/transport"
	"github.com/wordbattle/wordbattle/internal/domain/event"
	"github.com/wordbattle/wordbattle/internal/infrastructure/store"
	"github.com/wordbattle/wordbattle/internal/infrastructure/ws"
)

type harness struct {
	url      string
	sessions *appSession.Service
}

func startServer(t *testing.T) *harness {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	hub := ws.NewHub(zerolog.Nop())
	sessions := appSession.NewService(st, hub, zerolog.Nop())
	battles := appBattle.NewService(st, sessions, sessions, zerolog.Nop())
	handler := ws.NewHandler(sessions, battles, st, hub, zerolog.Nop())

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &harness{
		url:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		sessions: sessions,
	}
}

func (h *harness) newClient(t *testing.T) *Client {
	t.Helper()
	m := transport.NewManager(h.url, 5*time.Second, zerolog.Nop())
	t.Cleanup(func() { _ = m.Close() })
	return NewClient(m, zerolog.Nop())
}

func oneByOne() event.CreateParams {
	return event.CreateParams{
		PID:     "p1",
		Version: 1,
		Game: event.GameSeed{
			Grid:     [][]event.SeedCell{{{Number: 1}}},
			Solution: [][]string{{"A"}},
		},
	}
}

func twoByTwo() event.CreateParams {
	return event.CreateParams{
		PID:     "p2",
		Version: 1,
		Game: event.GameSeed{
			Grid: [][]event.SeedCell{
				{{Number: 1}, {Number: 2}},
				{{Number: 3}, {Number: 4}},
			},
			Solution: [][]string{{"A", "B"}, {"C", "D"}},
		},
	}
}

func TestAttachBecomesReadyAndMatchesServerState(t *testing.T) {
	h := startServer(t)
	ctx := context.Background()

	gid, err := h.sessions.Create(ctx, twoByTwo())
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		evt, err := event.New(event.TypeUpdateCursor, int64(100+i), event.UpdateCursorParams{
			Cell: event.Cell{R: i % 2, C: (i / 2) % 2}, ID: fmt.Sprintf("u%d", i%3),
		})
		require.NoError(t, err)
		require.NoError(t, h.sessions.Append(ctx, gid, evt))
	}

	c := h.newClient(t)
	s, err := c.Attach(ctx, gid)
	require.NoError(t, err)
	require.NoError(t, s.WaitReady(ctx))

	got, err := s.State()
	require.NoError(t, err)
	want, err := h.sessions.State(ctx, gid)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestAttachUnknownGameFails(t *testing.T) {
	h := startServer(t)
	c := h.newClient(t)

	_, err := c.Attach(context.Background(), "missing")
	assert.Error(t, err)
}

func TestOptimisticProposalConfirmsWithoutReapplying(t *testing.T) {
	h := startServer(t)
	ctx := context.Background()

	gid, err := h.sessions.Create(ctx, oneByOne())
	require.NoError(t, err)

	c := h.newClient(t)
	s, err := c.Attach(ctx, gid)
	require.NoError(t, err)
	require.NoError(t, s.WaitReady(ctx))

	_, err = s.Propose(ctx, event.TypeUpdateCell, event.UpdateCellParams{
		Cell: event.Cell{R: 0, C: 0}, Value: "A", ID: "u1",
	})
	require.NoError(t, err)

	// visible immediately, before any server round trip
	state, err := s.State()
	require.NoError(t, err)
	assert.Equal(t, "A", state.Grid[0][0].Value)
	assert.Equal(t, 1, s.PendingCount())

	require.Eventually(t, func() bool { return s.PendingCount() == 0 },
		5*time.Second, 10*time.Millisecond, "proposal never confirmed")

	confirmed, err := s.State()
	require.NoError(t, err)
	assert.Equal(t, state.Grid, confirmed.Grid)
}

func TestBroadcastReachesOtherClients(t *testing.T) {
	h := startServer(t)
	ctx := context.Background()

	gid, err := h.sessions.Create(ctx, oneByOne())
	require.NoError(t, err)

	alice := h.newClient(t)
	sa, err := alice.Attach(ctx, gid)
	require.NoError(t, err)
	bob := h.newClient(t)
	sb, err := bob.Attach(ctx, gid)
	require.NoError(t, err)
	require.NoError(t, sa.WaitReady(ctx))
	require.NoError(t, sb.WaitReady(ctx))

	_, err = sa.Propose(ctx, event.TypeUpdateCell, event.UpdateCellParams{
		Cell: event.Cell{R: 0, C: 0}, Value: "A", ID: "alice",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		state, err := sb.State()
		return err == nil && state.Grid[0][0].Value == "A"
	}, 5*time.Second, 10*time.Millisecond, "broadcast never reached second client")
}

func TestResyncEquivalence(t *testing.T) {
	h := startServer(t)
	ctx := context.Background()

	gid, err := h.sessions.Create(ctx, twoByTwo())
	require.NoError(t, err)

	live := h.newClient(t)
	sl, err := live.Attach(ctx, gid)
	require.NoError(t, err)
	require.NoError(t, sl.WaitReady(ctx))

	values := []string{"A", "B", "C", "D"}
	for i, v := range values {
		evt, err := event.New(event.TypeUpdateCell, int64(100+i), event.UpdateCellParams{
			Cell: event.Cell{R: i / 2, C: i % 2}, Value: v, ID: "u1",
		})
		require.NoError(t, err)
		require.NoError(t, h.sessions.Append(ctx, gid, evt))
	}

	require.Eventually(t, func() bool {
		state, err := sl.State()
		return err == nil && state.Solved
	}, 5*time.Second, 10*time.Millisecond, "live client never saw all events")

	late := h.newClient(t)
	sLate, err := late.Attach(ctx, gid)
	require.NoError(t, err)
	require.NoError(t, sLate.WaitReady(ctx))

	liveState, err := sl.State()
	require.NoError(t, err)
	lateState, err := sLate.State()
	require.NoError(t, err)
	assert.Equal(t, liveState, lateState)
}

func TestProposeRejectsInvalidEvent(t *testing.T) {
	h := startServer(t)
	ctx := context.Background()

	gid, err := h.sessions.Create(ctx, oneByOne())
	require.NoError(t, err)

	c := h.newClient(t)
	s, err := c.Attach(ctx, gid)
	require.NoError(t, err)
	require.NoError(t, s.WaitReady(ctx))

	_, err = s.Propose(ctx, event.Type("teleport"), struct{}{})
	assert.ErrorIs(t, err, event.ErrUnknownType)
	assert.Equal(t, 0, s.PendingCount())
}

func TestConcurrentAttachSeesEveryBroadcast(t *testing.T) {
	h := startServer(t)
	ctx := context.Background()

	gid, err := h.sessions.Create(ctx, oneByOne())
	require.NoError(t, err)

	// racing attachers must all end up behind a live broadcast handler
	c := h.newClient(t)
	var wg sync.WaitGroup
	attached := make([]*Session, 4)
	for i := 0; i < 4; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := c.Attach(ctx, gid)
			require.NoError(t, err)
			attached[i] = s
		}()
	}
	wg.Wait()

	evt, err := event.New(event.TypeUpdateCell, 500, event.UpdateCellParams{
		Cell: event.Cell{R: 0, C: 0}, Value: "A", ID: "u9",
	})
	require.NoError(t, err)
	require.NoError(t, h.sessions.Append(ctx, gid, evt))

	for _, s := range attached {
		require.NoError(t, s.WaitReady(ctx))
		require.Eventually(t, func() bool {
			state, err := s.State()
			return err == nil && state.Grid[0][0].Value == "A"
		}, 5*time.Second, 10*time.Millisecond, "broadcast missed by an attacher")
	}
}

func TestSubscribeObservesOptimisticThenConfirmed(t *testing.T) {
	h := startServer(t)
	ctx := context.Background()

	gid, err := h.sessions.Create(ctx, oneByOne())
	require.NoError(t, err)

	c := h.newClient(t)
	s, err := c.Attach(ctx, gid)
	require.NoError(t, err)
	require.NoError(t, s.WaitReady(ctx))

	optimistic := make(chan event.Event, 1)
	confirmed := make(chan event.Event, 4)
	s.Subscribe(NoticeOptimistic, func(evt event.Event) { optimistic <- evt })
	unsub := s.Subscribe(NoticeConfirmed, func(evt event.Event) { confirmed <- evt })

	proposed, err := s.UpdateCell(ctx, event.UpdateCellParams{
		Cell: event.Cell{R: 0, C: 0}, Value: "A", ID: "u1",
	})
	require.NoError(t, err)

	select {
	case evt := <-optimistic:
		assert.Equal(t, proposed.ID, evt.ID)
	default:
		t.Fatal("optimistic notice not delivered synchronously")
	}

	select {
	case evt := <-confirmed:
		assert.Equal(t, proposed.ID, evt.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("confirmed notice never delivered")
	}

	unsub()
	_, err = s.UpdateCursor(ctx, event.UpdateCursorParams{
		Cell: event.Cell{R: 0, C: 0}, ID: "u1",
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.PendingCount() == 0 },
		5*time.Second, 10*time.Millisecond)
	assert.Empty(t, confirmed)
}

func TestChatFansOutToTwoProposals(t *testing.T) {
	h := startServer(t)
	ctx := context.Background()

	gid, err := h.sessions.Create(ctx, oneByOne())
	require.NoError(t, err)

	c := h.newClient(t)
	s, err := c.Attach(ctx, gid)
	require.NoError(t, err)
	require.NoError(t, s.WaitReady(ctx))

	events, err := s.Chat(ctx, event.ChatParams{Text: "hi", Sender: "Alice", SenderID: "u1"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, event.TypeChat, events[0].Type)
	assert.Equal(t, event.TypeSendChatMessage, events[1].Type)
	assert.NotEqual(t, events[0].ID, events[1].ID)

	state, err := s.State()
	require.NoError(t, err)
	require.Len(t, state.Chat, 1)
	assert.Equal(t, "hi", state.Chat[0].Text)

	require.Eventually(t, func() bool { return s.PendingCount() == 0 },
		5*time.Second, 10*time.Millisecond, "chat proposals never confirmed")
}

func TestDetachReleasesObservers(t *testing.T) {
	h := startServer(t)
	ctx := context.Background()

	gid, err := h.sessions.Create(ctx, oneByOne())
	require.NoError(t, err)

	c := h.newClient(t)
	s, err := c.Attach(ctx, gid)
	require.NoError(t, err)
	require.NoError(t, s.WaitReady(ctx))

	notices := make(chan event.Event, 4)
	s.Subscribe(NoticeConfirmed, func(evt event.Event) { notices <- evt })
	c.Detach(ctx, gid)

	evt, err := event.New(event.TypeUpdateCursor, 500, event.UpdateCursorParams{
		Cell: event.Cell{R: 0, C: 0}, ID: "u2",
	})
	require.NoError(t, err)
	require.NoError(t, h.sessions.Append(ctx, gid, evt))

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, notices)

	// the detached session still serves its last known state
	state, err := s.State()
	require.NoError(t, err)
	assert.NotNil(t, state.Grid)
}

func TestDuplicateConfirmationIsIdempotent(t *testing.T) {
	h := startServer(t)
	ctx := context.Background()

	gid, err := h.sessions.Create(ctx, oneByOne())
	require.NoError(t, err)

	c := h.newClient(t)
	s, err := c.Attach(ctx, gid)
	require.NoError(t, err)
	require.NoError(t, s.WaitReady(ctx))

	evt, err := s.Propose(ctx, event.TypeUpdateCell, event.UpdateCellParams{
		Cell: event.Cell{R: 0, C: 0}, Value: "A", ID: "u1",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.PendingCount() == 0 },
		5*time.Second, 10*time.Millisecond)

	// a replayed broadcast of the same id is a flag flip, not a re-application
	before, err := s.State()
	require.NoError(t, err)
	s.handleRemote(evt)
	after, err := s.State()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// a resync against the same history changes nothing either
	require.NoError(t, s.resync(ctx))
	resynced, err := s.State()
	require.NoError(t, err)
	assert.Equal(t, before, resynced)
}
