package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/wordbattle/wordbattle/internal/infrastructure/ws"
)

// Lifecycle notification names. Handlers subscribed to these fire on
// connection state changes rather than on wire frames.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// DefaultAckTimeout bounds how long EmitWithAck waits for the server.
const DefaultAckTimeout = 10 * time.Second

const reconnectBase = 250 * time.Millisecond
const reconnectMax = 10 * time.Second

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport closed")
	// ErrAckTimeout is returned when the server does not acknowledge in time.
	ErrAckTimeout = errors.New("ack timed out")
)

// Handler consumes one inbound frame payload.
type Handler func(payload json.RawMessage)

// Manager owns one websocket connection to the server. It is an explicit
// instance injected into each component that needs the wire, never a
// package global. Concurrent Connect calls coalesce onto a single dial,
// subscriptions are durable across reconnects, and every request/response
// exchange is bounded by the ack timeout.
type Manager struct {
	url        string
	dialer     *websocket.Dialer
	ackTimeout time.Duration
	logger     zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	writeMu  sync.Mutex
	dialing  chan struct{}
	dialErr  error
	subs     map[string][]Handler
	acks     map[uint64]chan ws.Frame
	nextAck  uint64
	closed   bool
	stopLoop chan struct{}
}

// NewManager creates a manager for the given websocket URL. It does not
// dial until Connect.
func NewManager(url string, ackTimeout time.Duration, logger zerolog.Logger) *Manager {
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	return &Manager{
		url:        url,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		ackTimeout: ackTimeout,
		logger:     logger.With().Str("component", "transport").Logger(),
		subs:       make(map[string][]Handler),
		acks:       make(map[uint64]chan ws.Frame),
	}
}

// Connect dials the server unless already connected. Callers that arrive
// while a dial is in flight wait for that same dial instead of opening a
// second connection.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.conn != nil {
		m.mu.Unlock()
		return nil
	}
	if m.dialing != nil {
		done := m.dialing
		m.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.mu.Lock()
		err := m.dialErr
		m.mu.Unlock()
		return err
	}
	done := make(chan struct{})
	m.dialing = done
	m.mu.Unlock()

	conn, _, err := m.dialer.DialContext(ctx, m.url, nil)

	m.mu.Lock()
	m.dialing = nil
	m.dialErr = err
	if err != nil {
		m.mu.Unlock()
		close(done)
		return fmt.Errorf("dial %s: %w", m.url, err)
	}
	if m.closed {
		m.mu.Unlock()
		close(done)
		_ = conn.Close()
		return ErrClosed
	}
	m.conn = conn
	stop := make(chan struct{})
	m.stopLoop = stop
	m.mu.Unlock()
	close(done)

	go m.readLoop(conn, stop)
	m.fire(EventConnect, nil)
	return nil
}

// Subscribe registers a durable handler for frames with the given name.
// The registration survives reconnects; EventConnect handlers run after
// every successful dial, which is where rejoin and resync logic lives.
func (m *Manager) Subscribe(name string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[name] = append(m.subs[name], h)
}

// Emit sends a frame without waiting for acknowledgement. With no live
// connection it dials first rather than dropping the frame.
func (m *Manager) Emit(ctx context.Context, name string, payload any) error {
	frame, err := buildFrame(name, payload, 0)
	if err != nil {
		return err
	}
	if err := m.Connect(ctx); err != nil {
		return err
	}
	return m.write(frame)
}

// EmitWithAck sends a frame and waits for the server's acknowledgement,
// bounded by the ack timeout. With no live connection it dials first.
// Returns the ack payload.
func (m *Manager) EmitWithAck(ctx context.Context, name string, payload any) (json.RawMessage, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.nextAck++
	id := m.nextAck
	ch := make(chan ws.Frame, 1)
	m.acks[id] = ch
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.acks, id)
		m.mu.Unlock()
	}()

	frame, err := buildFrame(name, payload, id)
	if err != nil {
		return nil, err
	}
	if err := m.Connect(ctx); err != nil {
		return nil, err
	}
	if err := m.write(frame); err != nil {
		return nil, err
	}

	timer := time.NewTimer(m.ackTimeout)
	defer timer.Stop()
	select {
	case reply := <-ch:
		if reply.Error != "" {
			return nil, fmt.Errorf("%s: %s", name, reply.Error)
		}
		return reply.Payload, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s: %w after %s", name, ErrAckTimeout, m.ackTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts the connection down and stops reconnecting.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	if m.stopLoop != nil {
		close(m.stopLoop)
		m.stopLoop = nil
	}
	m.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Connected reports whether a live connection exists.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

func buildFrame(name string, payload any, ack uint64) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return ws.EncodeFrame(ws.Frame{Name: name, Payload: raw, Ack: ack})
}

func (m *Manager) write(frame []byte) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (m *Manager) readLoop(conn *websocket.Conn, stop chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			m.handleDisconnect(conn)
			return
		}
		frame, err := ws.DecodeFrame(data)
		if err != nil {
			m.logger.Warn().Err(err).Msg("discarding malformed frame")
			continue
		}
		if frame.ReplyTo != 0 {
			m.mu.Lock()
			ch := m.acks[frame.ReplyTo]
			m.mu.Unlock()
			if ch != nil {
				ch <- frame
			}
			continue
		}
		m.fire(frame.Name, frame.Payload)
	}
}

func (m *Manager) fire(name string, payload json.RawMessage) {
	m.mu.Lock()
	handlers := append([]Handler(nil), m.subs[name]...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
}

// handleDisconnect drops the dead connection, notifies subscribers, and
// redials with backoff until it succeeds or the manager is closed.
func (m *Manager) handleDisconnect(dead *websocket.Conn) {
	m.mu.Lock()
	if m.closed || m.conn != dead {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.stopLoop = nil
	m.mu.Unlock()
	_ = dead.Close()
	m.logger.Warn().Msg("connection lost, reconnecting")
	m.fire(EventDisconnect, nil)

	delay := reconnectBase
	for {
		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := m.Connect(ctx)
		cancel()
		if err == nil || errors.Is(err, ErrClosed) {
			return
		}
		m.logger.Warn().Err(err).Dur("retry_in", delay).Msg("reconnect failed")
		time.Sleep(delay)
		delay *= 2
		if delay > reconnectMax {
			delay = reconnectMax
		}
	}
}
