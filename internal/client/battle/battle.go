package battle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/wordbattle/wordbattle/internal/client/transport"
	"github.com/wordbattle/wordbattle/internal/domain/battle"
	"github.com/wordbattle/wordbattle/internal/domain/game"
	"github.com/wordbattle/wordbattle/internal/infrastructure/ws"
)

const numTeams = 2

// watchedFields are the battle store paths a client mirrors locally.
var watchedFields = []string{"games", "players", "startedAt", "winner", "pickups", "powerups/0", "powerups/1"}

// Watcher mirrors one battle's shared state over path watches and drives
// the coordinator operations for the local team. All cross-team
// coordination goes through the server's transactions; the watcher itself
// only reads its mirror and emits requests.
type Watcher struct {
	transport *transport.Manager
	bid       string
	team      int
	logger    zerolog.Logger

	mu       sync.Mutex
	snap     battle.Snapshot
	onChange func(battle.Snapshot)
	wired    bool
}

// NewWatcher creates a watcher for one battle from one team's seat.
func NewWatcher(t *transport.Manager, bid string, team int, logger zerolog.Logger) *Watcher {
	return &Watcher{
		transport: t,
		bid:       bid,
		team:      team,
		logger:    logger.With().Str("component", "battle_watcher").Str("bid", bid).Logger(),
		snap:      battle.Snapshot{Powerups: make([][]battle.Powerup, numTeams)},
	}
}

// OnChange registers the callback fired after every mirror update.
func (w *Watcher) OnChange(fn func(battle.Snapshot)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = fn
}

// Attach connects and registers the path watches. The path_value handler
// is durable, so a reconnect only needs the watch_path frames re-emitted.
func (w *Watcher) Attach(ctx context.Context) error {
	if err := w.transport.Connect(ctx); err != nil {
		return err
	}
	w.mu.Lock()
	if !w.wired {
		w.wired = true
		w.transport.Subscribe(ws.MsgPathValue, w.handleFrame)
		w.transport.Subscribe(transport.EventConnect, func(json.RawMessage) {
			go w.rewatch()
		})
	}
	w.mu.Unlock()
	return w.watchAll(ctx)
}

func (w *Watcher) watchAll(ctx context.Context) error {
	for _, field := range watchedFields {
		payload := ws.PathPayload{Path: w.fieldPath(field)}
		if _, err := w.transport.EmitWithAck(ctx, ws.MsgWatchPath, payload); err != nil {
			return fmt.Errorf("watch %s: %w", field, err)
		}
	}
	return nil
}

func (w *Watcher) rewatch() {
	ctx := context.Background()
	if err := w.watchAll(ctx); err != nil {
		w.logger.Warn().Err(err).Msg("rewatch failed")
	}
}

func (w *Watcher) fieldPath(field string) string {
	return "battle/" + w.bid + "/" + field
}

// Snapshot returns a copy of the current mirror.
func (w *Watcher) Snapshot() battle.Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snap
}

func (w *Watcher) handleFrame(payload json.RawMessage) {
	var p ws.PathValuePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		w.logger.Warn().Err(err).Msg("malformed path_value payload")
		return
	}
	prefix := "battle/" + w.bid + "/"
	if !strings.HasPrefix(p.Path, prefix) {
		return
	}
	field := strings.TrimPrefix(p.Path, prefix)
	w.mu.Lock()
	if err := w.applyValue(field, p.Value); err != nil {
		w.mu.Unlock()
		w.logger.Warn().Err(err).Str("field", field).Msg("undecodable path value")
		return
	}
	snap := w.snap
	fn := w.onChange
	w.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

func (w *Watcher) applyValue(field string, value json.RawMessage) error {
	// an absent path arrives over the wire as the JSON literal null
	if len(value) == 0 || bytes.Equal(value, []byte("null")) {
		value = nil
	}
	switch {
	case field == "games":
		if value == nil {
			w.snap.Games = nil
			return nil
		}
		var byTeam map[string]string
		if err := json.Unmarshal(value, &byTeam); err != nil {
			return err
		}
		games := make([]string, numTeams)
		for key, gid := range byTeam {
			team, err := strconv.Atoi(key)
			if err != nil || team < 0 || team >= numTeams {
				continue
			}
			games[team] = gid
		}
		w.snap.Games = games

	case field == "players":
		if value == nil {
			w.snap.Players = nil
			return nil
		}
		// decode into a fresh map so server-side removals disappear here too
		players := make(map[string]battle.Player)
		if err := json.Unmarshal(value, &players); err != nil {
			return err
		}
		w.snap.Players = players

	case field == "startedAt":
		if value == nil {
			w.snap.StartedAt = 0
			return nil
		}
		return json.Unmarshal(value, &w.snap.StartedAt)

	case field == "winner":
		if value == nil {
			w.snap.Winner = nil
			return nil
		}
		w.snap.Winner = &battle.Winner{}
		return json.Unmarshal(value, w.snap.Winner)

	case field == "pickups":
		if value == nil {
			w.snap.Pickups = nil
			return nil
		}
		pickups := make(map[string]battle.Pickup)
		if err := json.Unmarshal(value, &pickups); err != nil {
			return err
		}
		w.snap.Pickups = pickups

	case strings.HasPrefix(field, "powerups/"):
		team, err := strconv.Atoi(strings.TrimPrefix(field, "powerups/"))
		if err != nil || team < 0 || team >= numTeams {
			return nil
		}
		if len(w.snap.Powerups) < numTeams {
			w.snap.Powerups = make([][]battle.Powerup, numTeams)
		}
		if value == nil {
			w.snap.Powerups[team] = nil
			return nil
		}
		var byKey map[string]battle.Powerup
		if err := json.Unmarshal(value, &byKey); err != nil {
			return err
		}
		keys := make([]string, 0, len(byKey))
		for k := range byKey {
			keys = append(keys, k)
		}
		// push keys sort lexicographically in insertion order
		sort.Strings(keys)
		list := make([]battle.Powerup, 0, len(keys))
		for _, k := range keys {
			list = append(list, byKey[k])
		}
		w.snap.Powerups[team] = list
	}
	return nil
}

// CheckPickups collects every live pickup whose cell the given board has
// filled correctly, and declares the win once the board is solved. Both
// requests are idempotent server side, so redundant calls from teammates
// observing the same fill are harmless.
func (w *Watcher) CheckPickups(ctx context.Context, state game.State) {
	w.mu.Lock()
	pickups := make(map[string]battle.Pickup, len(w.snap.Pickups))
	for k, p := range w.snap.Pickups {
		pickups[k] = p
	}
	w.mu.Unlock()

	for key, p := range pickups {
		if p.PickedUp || !state.CellCorrect(p.I, p.J) {
			continue
		}
		payload := ws.BattlePayload{BID: w.bid, Pickup: key, Team: w.team}
		if _, err := w.transport.EmitWithAck(ctx, ws.MsgBattleCollect, payload); err != nil {
			w.logger.Warn().Err(err).Str("pickup", key).Msg("collect failed")
		}
	}

	if state.IsSolved() {
		if _, err := w.transport.EmitWithAck(ctx, ws.MsgBattleSetWinner, ws.BattlePayload{BID: w.bid, Team: w.team}); err != nil {
			w.logger.Warn().Err(err).Msg("winner declaration failed")
		}
	}
}

// UsePowerup spends one held powerup of the given type.
func (w *Watcher) UsePowerup(ctx context.Context, typ string) (battle.Powerup, error) {
	raw, err := w.transport.EmitWithAck(ctx, ws.MsgBattleUsePowerup, ws.BattlePayload{BID: w.bid, Team: w.team, Type: typ})
	if err != nil {
		return battle.Powerup{}, err
	}
	var spent battle.Powerup
	if err := json.Unmarshal(raw, &spent); err != nil {
		return battle.Powerup{}, fmt.Errorf("decode spent powerup: %w", err)
	}
	return spent, nil
}

// JoinRoster adds the local player to the battle roster.
func (w *Watcher) JoinRoster(ctx context.Context, playerID, name string) error {
	payload := ws.BattlePayload{BID: w.bid, PlayerID: playerID, Name: name, Team: w.team}
	_, err := w.transport.EmitWithAck(ctx, ws.MsgBattleAddPlayer, payload)
	return err
}

// LeaveRoster removes the local player from the battle roster.
func (w *Watcher) LeaveRoster(ctx context.Context, playerID string) error {
	payload := ws.BattlePayload{BID: w.bid, PlayerID: playerID}
	_, err := w.transport.EmitWithAck(ctx, ws.MsgBattleRemovePlayer, payload)
	return err
}

// Start stamps the battle's start time and returns it.
func (w *Watcher) Start(ctx context.Context) (int64, error) {
	raw, err := w.transport.EmitWithAck(ctx, ws.MsgBattleStart, ws.BattlePayload{BID: w.bid})
	if err != nil {
		return 0, err
	}
	var startedAt int64
	if err := json.Unmarshal(raw, &startedAt); err != nil {
		return 0, fmt.Errorf("decode startedAt: %w", err)
	}
	return startedAt, nil
}
