package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	appBattle "github.com/wordbattle/wordbattle/internal/application/battle"
	appSession "github.com/wordbattle/wordbattle/internal/application/session"
	"github.com/wordbattle/wordbattle/internal/infrastructure/store"
)

const (
	sendBuffer   = 64
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 50 * time.Second
	maxFrameSize = 1 << 20
)

// Conn is one websocket connection. Outbound frames go through a buffered
// send channel drained by a single writer goroutine.
type Conn struct {
	sock *websocket.Conn
	send chan []byte

	mu       sync.Mutex
	watchers map[string]*store.Watcher

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(sock *websocket.Conn) *Conn {
	return &Conn{
		sock:     sock,
		send:     make(chan []byte, sendBuffer),
		watchers: make(map[string]*store.Watcher),
		closed:   make(chan struct{}),
	}
}

func (c *Conn) trySend(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func marshalFrame(name string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(Frame{Name: name, Payload: raw})
}

// Handler upgrades websocket connections and dispatches their frames to
// the session and battle services.
type Handler struct {
	sessions *appSession.Service
	battles  *appBattle.Service
	store    *store.Store
	hub      *Hub
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates a websocket handler.
func NewHandler(sessions *appSession.Service, battles *appBattle.Service, st *store.Store, hub *Hub, logger zerolog.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		battles:  battles,
		store:    st,
		hub:      hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "ws").Logger(),
	}
}

// ServeHTTP upgrades the request and runs the connection's pumps until
// either side closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := newConn(sock)
	go h.writePump(c)
	h.readPump(r.Context(), c)
}

func (h *Handler) writePump(c *Conn) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.sock.Close()
	}()
	for {
		select {
		case frame := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (h *Handler) readPump(ctx context.Context, c *Conn) {
	defer func() {
		c.close()
		h.hub.Drop(c)
		c.mu.Lock()
		for _, w := range c.watchers {
			h.store.Unwatch(w)
		}
		c.watchers = nil
		c.mu.Unlock()
		_ = c.sock.Close()
	}()
	c.sock.SetReadLimit(maxFrameSize)
	_ = c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}
		frame, err := DecodeFrame(data)
		if err != nil {
			h.logger.Warn().Err(err).Msg("discarding malformed frame")
			continue
		}
		h.dispatch(ctx, c, frame)
	}
}

func (h *Handler) dispatch(ctx context.Context, c *Conn, frame Frame) {
	result, err := h.handle(ctx, c, frame)
	if frame.Ack == 0 {
		if err != nil {
			h.logger.Warn().Err(err).Str("name", frame.Name).Msg("frame failed")
		}
		return
	}
	reply := Frame{Name: MsgAck, ReplyTo: frame.Ack}
	if err != nil {
		reply.Error = err.Error()
	} else if result != nil {
		raw, merr := json.Marshal(result)
		if merr != nil {
			reply.Error = merr.Error()
		} else {
			reply.Payload = raw
		}
	}
	encoded, err := EncodeFrame(reply)
	if err != nil {
		h.logger.Error().Err(err).Msg("encode ack frame")
		return
	}
	c.trySend(encoded)
}

// handle runs one frame and returns the ack payload, if any.
func (h *Handler) handle(ctx context.Context, c *Conn, frame Frame) (any, error) {
	switch frame.Name {
	case MsgJoinGame:
		var p GamePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return nil, err
		}
		if err := h.sessions.Join(ctx, p.GID); err != nil {
			return nil, err
		}
		h.hub.Join(p.GID, c)
		return nil, nil

	case MsgLeaveGame:
		var p GamePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return nil, err
		}
		h.hub.Leave(p.GID, c)
		return nil, nil

	case MsgGameEvent:
		var p GameEventPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return nil, err
		}
		return nil, h.sessions.Append(ctx, p.GID, p.Event)

	case MsgSyncAllEvents:
		var p GamePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return nil, err
		}
		return h.sessions.Events(ctx, p.GID)

	case MsgBattleSnapshot:
		var p BattlePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return nil, err
		}
		return h.battles.Snapshot(ctx, p.BID)

	case MsgBattleStart:
		var p BattlePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return nil, err
		}
		return h.battles.Start(ctx, p.BID)

	case MsgBattleAddPlayer:
		var p BattlePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return nil, err
		}
		return nil, h.battles.AddPlayer(ctx, p.BID, p.PlayerID, p.Name, p.Team)

	case MsgBattleRemovePlayer:
		var p BattlePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return nil, err
		}
		return nil, h.battles.RemovePlayer(ctx, p.BID, p.PlayerID)

	case MsgBattleSetWinner:
		var p BattlePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return nil, err
		}
		return h.battles.TrySetWinner(ctx, p.BID, p.Team)

	case MsgBattleCollect:
		var p BattlePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return nil, err
		}
		return h.battles.CollectPickup(ctx, p.BID, p.Pickup, p.Team)

	case MsgBattleGrant:
		var p BattlePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return nil, err
		}
		return nil, h.battles.GrantPowerupOnce(ctx, p.BID, p.Team, p.Type)

	case MsgBattleUsePowerup:
		var p BattlePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return nil, err
		}
		return h.battles.UsePowerup(ctx, p.BID, p.Team, p.Type)

	case MsgWatchPath:
		var p PathPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return nil, err
		}
		h.watchPath(c, p.Path)
		return nil, nil

	case MsgUnwatchPath:
		var p PathPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return nil, err
		}
		h.unwatchPath(c, p.Path)
		return nil, nil

	default:
		h.logger.Warn().Str("name", frame.Name).Msg("unknown frame")
		return nil, nil
	}
}

// watchPath forwards store snapshots of path to the connection until the
// watch is cancelled or the connection closes.
func (h *Handler) watchPath(c *Conn, path string) {
	c.mu.Lock()
	if c.watchers == nil {
		c.mu.Unlock()
		return
	}
	if _, ok := c.watchers[path]; ok {
		c.mu.Unlock()
		return
	}
	w := h.store.Watch(path)
	c.watchers[path] = w
	c.mu.Unlock()

	go func() {
		for {
			select {
			case value, ok := <-w.Values():
				if !ok {
					return
				}
				frame, err := marshalFrame(MsgPathValue, PathValuePayload{Path: path, Value: value})
				if err != nil {
					h.logger.Error().Err(err).Str("path", path).Msg("encode path value")
					continue
				}
				c.trySend(frame)
			case <-c.closed:
				return
			}
		}
	}()
}

func (h *Handler) unwatchPath(c *Conn, path string) {
	c.mu.Lock()
	w := c.watchers[path]
	delete(c.watchers, path)
	c.mu.Unlock()
	if w != nil {
		h.store.Unwatch(w)
	}
}
