package ws

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordbattle/wordbattle/internal/domain/event"
)

func recvFrame(t *testing.T, c *Conn) Frame {
	t.Helper()
	select {
	case data := <-c.send:
		frame, err := DecodeFrame(data)
		require.NoError(t, err)
		return frame
	default:
		t.Fatal("no frame queued")
		return Frame{}
	}
}

func TestHubBroadcastsToRoomMembersOnly(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	a, b, c := newConn(nil), newConn(nil), newConn(nil)
	hub.Join("g1", a)
	hub.Join("g1", b)
	hub.Join("g2", c)

	evt, err := event.New(event.TypeStartGame, 100, event.StartGameParams{})
	require.NoError(t, err)
	hub.BroadcastEvent("g1", evt)

	for _, conn := range []*Conn{a, b} {
		frame := recvFrame(t, conn)
		assert.Equal(t, MsgGameEvent, frame.Name)
	}
	assert.Empty(t, c.send)
}

func TestHubLeaveStopsDelivery(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	a := newConn(nil)
	hub.Join("g1", a)
	hub.Leave("g1", a)

	evt, err := event.New(event.TypeStartGame, 100, event.StartGameParams{})
	require.NoError(t, err)
	hub.BroadcastEvent("g1", evt)
	assert.Empty(t, a.send)
	assert.Equal(t, 0, hub.RoomSize("g1"))
}

func TestHubDropRemovesFromAllRooms(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	a := newConn(nil)
	hub.Join("g1", a)
	hub.Join("g2", a)
	hub.Drop(a)
	assert.Equal(t, 0, hub.RoomSize("g1"))
	assert.Equal(t, 0, hub.RoomSize("g2"))
}

func TestHubDoubleJoinIsNoop(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	a := newConn(nil)
	hub.Join("g1", a)
	hub.Join("g1", a)
	assert.Equal(t, 1, hub.RoomSize("g1"))

	evt, err := event.New(event.TypeStartGame, 100, event.StartGameParams{})
	require.NoError(t, err)
	hub.BroadcastEvent("g1", evt)
	recvFrame(t, a)
	assert.Empty(t, a.send)
}

func TestTrySendDropsWhenBufferFull(t *testing.T) {
	c := newConn(nil)
	for i := 0; i < sendBuffer; i++ {
		require.True(t, c.trySend([]byte("x")))
	}
	assert.False(t, c.trySend([]byte("overflow")))
}

func TestTrySendRefusesClosedConn(t *testing.T) {
	c := newConn(nil)
	c.close()
	assert.False(t, c.trySend([]byte("x")))
}
