package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wordbattle/wordbattle/internal/client/transport"
	"github.com/wordbattle/wordbattle/internal/domain/event"
	"github.com/wordbattle/wordbattle/internal/domain/game"
	"github.com/wordbattle/wordbattle/internal/infrastructure/ws"
)

// Client multiplexes game sessions over one transport connection. The
// wire handlers are registered once, before any history fetch, so an
// event broadcast during the fetch lands in the arena instead of being
// lost; the id-keyed dedupe then folds it together with the fetched copy.
type Client struct {
	transport *transport.Manager
	logger    zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	wired    bool
}

// NewClient creates a client on the given transport.
func NewClient(t *transport.Manager, logger zerolog.Logger) *Client {
	return &Client{
		transport: t,
		logger:    logger.With().Str("component", "client").Logger(),
		sessions:  make(map[string]*Session),
	}
}

// Attach connects, joins the game, and fetches its history. Safe to call
// for an already attached gid; it resyncs in place.
func (c *Client) Attach(ctx context.Context, gid string) (*Session, error) {
	c.ensureWired()
	if err := c.transport.Connect(ctx); err != nil {
		return nil, err
	}
	s := c.session(gid)
	if err := s.join(ctx); err != nil {
		return nil, err
	}
	if err := s.resync(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Detach leaves the game and releases the session's observers. The
// session's event log is kept, so callbacks still holding the session
// read stale but consistent state instead of failing.
func (c *Client) Detach(ctx context.Context, gid string) {
	c.mu.Lock()
	s := c.sessions[gid]
	delete(c.sessions, gid)
	c.mu.Unlock()
	if s == nil {
		return
	}
	s.releaseObservers()
	if err := c.transport.Emit(ctx, ws.MsgLeaveGame, ws.GamePayload{GID: gid}); err != nil {
		c.logger.Debug().Err(err).Str("gid", gid).Msg("leave_game failed")
	}
}

func (c *Client) session(gid string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.sessions[gid]
	if s == nil {
		s = newSession(gid, c)
		c.sessions[gid] = s
	}
	return s
}

// ensureWired registers the durable wire handlers exactly once. The
// registrations happen inside the critical section, so no Attach can
// reach join or resync before the game_event handler is live.
func (c *Client) ensureWired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wired {
		return
	}

	c.transport.Subscribe(ws.MsgGameEvent, func(payload json.RawMessage) {
		var p ws.GameEventPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			c.logger.Warn().Err(err).Msg("malformed game_event payload")
			return
		}
		c.mu.Lock()
		s := c.sessions[p.GID]
		c.mu.Unlock()
		if s != nil {
			s.handleRemote(p.Event)
		}
	})

	c.transport.Subscribe(transport.EventConnect, func(json.RawMessage) {
		c.mu.Lock()
		attached := make([]*Session, 0, len(c.sessions))
		for _, s := range c.sessions {
			attached = append(attached, s)
		}
		c.mu.Unlock()
		for _, s := range attached {
			go s.recover()
		}
	})
	c.wired = true
}

type entry struct {
	evt       event.Event
	confirmed bool
	seq       uint64
}

// Local notice names delivered to per-session observers.
const (
	// NoticeOptimistic fires when a proposal is applied speculatively,
	// before any server round trip.
	NoticeOptimistic = "optimistic"
	// NoticeConfirmed fires when a broadcast event lands in the arena.
	NoticeConfirmed = "confirmed"
)

// Session is one client-side view of a game. Confirmed history and
// locally proposed events share a single id-keyed arena; confirmation is
// a flag flip on the existing entry, never a second application.
type Session struct {
	gid    string
	client *Client

	mu      sync.Mutex
	create  *event.CreateParams
	entries map[string]*entry
	nextSeq uint64
	subs    map[string]map[uint64]func(event.Event)
	nextSub uint64

	readyOnce sync.Once
	ready     chan struct{}
}

func newSession(gid string, c *Client) *Session {
	return &Session{
		gid:     gid,
		client:  c,
		entries: make(map[string]*entry),
		ready:   make(chan struct{}),
	}
}

// GID returns the session's game id.
func (s *Session) GID() string { return s.gid }

// Ready is closed once the create event has been seen and state can be
// derived. It resolves exactly once; there is no polling.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// WaitReady blocks until the session is ready or the context ends.
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers an observer for the named notice. The returned
// function removes the registration. Observers are released on Detach.
func (s *Session) Subscribe(name string, fn func(event.Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[string]map[uint64]func(event.Event))
	}
	if s.subs[name] == nil {
		s.subs[name] = make(map[uint64]func(event.Event))
	}
	s.nextSub++
	id := s.nextSub
	s.subs[name][id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if set := s.subs[name]; set != nil {
			delete(set, id)
		}
	}
}

func (s *Session) notify(name string, evt event.Event) {
	s.mu.Lock()
	fns := make([]func(event.Event), 0, len(s.subs[name]))
	for _, fn := range s.subs[name] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(evt)
	}
}

func (s *Session) releaseObservers() {
	s.mu.Lock()
	s.subs = nil
	s.mu.Unlock()
}

func (s *Session) isReady() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// State derives the current snapshot: create seed, confirmed events in
// (timestamp, id) order, then unconfirmed local events in proposal order.
func (s *Session) State() (game.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.create == nil {
		return game.State{}, fmt.Errorf("%w: %s", event.ErrSessionNotReady, s.gid)
	}
	var confirmed, pending []event.Event
	pendingEntries := make([]*entry, 0, 4)
	for _, e := range s.entries {
		if e.confirmed {
			confirmed = append(confirmed, e.evt)
		} else {
			pendingEntries = append(pendingEntries, e)
		}
	}
	sort.Slice(pendingEntries, func(i, j int) bool {
		return pendingEntries[i].seq < pendingEntries[j].seq
	})
	for _, e := range pendingEntries {
		pending = append(pending, e.evt)
	}
	return game.ReduceWithPending(*s.create, confirmed, pending), nil
}

// PendingCount reports how many proposed events await confirmation.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if !e.confirmed {
			n++
		}
	}
	return n
}

// Propose applies an event locally and transmits it. The local copy stays
// unconfirmed until the server's broadcast echoes the same id back. A
// session that has not seen its create event yet rejects the proposal
// with ErrSessionNotReady; nothing is applied or transmitted.
func (s *Session) Propose(ctx context.Context, typ event.Type, params any) (event.Event, error) {
	if !s.isReady() {
		return event.Event{}, fmt.Errorf("%w: %s", event.ErrSessionNotReady, s.gid)
	}
	evt, err := event.New(typ, time.Now().UnixMilli(), params)
	if err != nil {
		return event.Event{}, err
	}
	if err := event.Validate(evt); err != nil {
		return event.Event{}, err
	}

	s.mu.Lock()
	s.nextSeq++
	s.entries[evt.ID] = &entry{evt: evt, seq: s.nextSeq}
	s.mu.Unlock()
	s.notify(NoticeOptimistic, evt)

	go s.transmit(context.WithoutCancel(ctx), evt)
	return evt, nil
}

func (s *Session) transmit(ctx context.Context, evt event.Event) {
	_, err := s.client.transport.EmitWithAck(ctx, ws.MsgGameEvent, ws.GameEventPayload{GID: s.gid, Event: evt})
	if err != nil {
		// the event stays pending; the next resync settles it
		s.client.logger.Warn().Err(err).Str("gid", s.gid).Str("event_id", evt.ID).Msg("event transmit failed")
	}
}

// handleRemote folds one broadcast event into the arena. A known id is
// confirmed in place; re-application would double-apply, so the stored
// event is kept as is.
func (s *Session) handleRemote(evt event.Event) {
	s.mu.Lock()
	if e, ok := s.entries[evt.ID]; ok {
		e.confirmed = true
	} else {
		s.entries[evt.ID] = &entry{evt: evt, confirmed: true}
	}
	s.mu.Unlock()
	s.observeCreate(evt)
	s.notify(NoticeConfirmed, evt)
}

func (s *Session) observeCreate(evt event.Event) {
	if evt.Type != event.TypeCreate {
		return
	}
	var params event.CreateParams
	if err := json.Unmarshal(evt.Params, &params); err != nil {
		s.client.logger.Error().Err(err).Str("gid", s.gid).Msg("undecodable create params")
		return
	}
	s.mu.Lock()
	s.create = &params
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *Session) join(ctx context.Context) error {
	_, err := s.client.transport.EmitWithAck(ctx, ws.MsgJoinGame, ws.GamePayload{GID: s.gid})
	if err != nil {
		return fmt.Errorf("join %s: %w", s.gid, err)
	}
	return nil
}

// resync fetches the authoritative history and replaces the confirmed
// portion of the arena with it. Unconfirmed local events survive unless
// the history already contains their id, in which case they flip to
// confirmed. Events broadcast while the fetch was in flight are already
// in the arena and deduplicate by id.
func (s *Session) resync(ctx context.Context) error {
	raw, err := s.client.transport.EmitWithAck(ctx, ws.MsgSyncAllEvents, ws.GamePayload{GID: s.gid})
	if err != nil {
		return fmt.Errorf("sync %s: %w", s.gid, err)
	}
	var history []event.Event
	if err := json.Unmarshal(raw, &history); err != nil {
		return fmt.Errorf("decode history for %s: %w", s.gid, err)
	}

	s.mu.Lock()
	merged := make(map[string]*entry, len(history))
	for _, evt := range history {
		merged[evt.ID] = &entry{evt: evt, confirmed: true}
	}
	for id, e := range s.entries {
		if _, ok := merged[id]; ok {
			continue
		}
		// pending proposals and events that arrived live after the
		// server snapshotted the history
		merged[id] = e
	}
	s.entries = merged
	s.mu.Unlock()

	for _, evt := range history {
		s.observeCreate(evt)
	}
	return nil
}

// recover rejoins and resyncs after a reconnect, then retransmits any
// still pending events. The server ignores ids it already has, so a
// retransmit can never duplicate an entry in the log.
func (s *Session) recover() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.join(ctx); err != nil {
		s.client.logger.Warn().Err(err).Str("gid", s.gid).Msg("rejoin failed")
		return
	}
	if err := s.resync(ctx); err != nil {
		s.client.logger.Warn().Err(err).Str("gid", s.gid).Msg("resync failed")
		return
	}
	s.mu.Lock()
	var pending []event.Event
	for _, e := range s.entries {
		if !e.confirmed {
			pending = append(pending, e.evt)
		}
	}
	s.mu.Unlock()
	for _, evt := range pending {
		s.transmit(ctx, evt)
	}
}
