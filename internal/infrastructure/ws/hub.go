package ws

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/wordbattle/wordbattle/internal/domain/event"
)

// Hub tracks which connections have joined which games and fans confirmed
// events out to them. It satisfies the session service's Broadcaster.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Conn]struct{}
	logger zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Conn]struct{}),
		logger: logger.With().Str("component", "ws_hub").Logger(),
	}
}

// Join adds the connection to a game's room. Joining twice is a no-op.
func (h *Hub) Join(gid string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[gid]
	if room == nil {
		room = make(map[*Conn]struct{})
		h.rooms[gid] = room
	}
	room[c] = struct{}{}
}

// Leave removes the connection from a game's room.
func (h *Hub) Leave(gid string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[gid]
	if room == nil {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, gid)
	}
}

// Drop removes the connection from every room it joined.
func (h *Hub) Drop(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for gid, room := range h.rooms {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, gid)
		}
	}
}

// RoomSize reports how many connections have joined the game.
func (h *Hub) RoomSize(gid string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[gid])
}

// BroadcastEvent sends a confirmed event to every connection joined to the
// game, including the one that submitted it. A connection whose send
// buffer is full misses the frame and recovers via resync.
func (h *Hub) BroadcastEvent(gid string, evt event.Event) {
	frame, err := marshalFrame(MsgGameEvent, GameEventPayload{GID: gid, Event: evt})
	if err != nil {
		h.logger.Error().Err(err).Str("gid", gid).Msg("encode broadcast frame")
		return
	}
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.rooms[gid]))
	for c := range h.rooms[gid] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		if !c.trySend(frame) {
			h.logger.Warn().Str("gid", gid).Msg("dropping broadcast to slow connection")
		}
	}
}
