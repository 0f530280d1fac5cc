package battle

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wordbattle/wordbattle/internal/domain/battle"
	"github.com/wordbattle/wordbattle/internal/domain/event"
	"github.com/wordbattle/wordbattle/internal/infrastructure/store"
)

const (
	// NumTeams is fixed at two opposing boards per battle.
	NumTeams = 2
	// StartingPowerups is granted to each team at initialization.
	StartingPowerups = 1
	// InitialPickups is spawned across the board at initialization.
	InitialPickups = 10
	// MaxLivePickups caps simultaneously uncollected pickups on the board.
	MaxLivePickups = 3
)

// Service coordinates the shared battle fields. Every mutation of winner,
// pickups, and powerups goes through one store transaction; a losing racer
// observes the precondition already satisfied and writes nothing.
type Service struct {
	store  *store.Store
	games  battle.GameCreator
	boards battle.BoardProvider
	logger zerolog.Logger
	now    func() int64
	intN   func(n int) int
}

// NewService creates a battle service.
func NewService(st *store.Store, games battle.GameCreator, boards battle.BoardProvider, logger zerolog.Logger) *Service {
	return &Service{
		store:  st,
		games:  games,
		boards: boards,
		logger: logger.With().Str("service", "battle").Logger(),
		now:    func() int64 { return time.Now().UnixMilli() },
		intN:   rand.Intn,
	}
}

func battlePath(bid, field string) string { return "battle/" + bid + "/" + field }

func teamPowerupsPath(bid string, team int) string {
	return fmt.Sprintf("battle/%s/powerups/%d", bid, team)
}

// Initialize allocates a new battle: one game session per team created
// from the puzzle, one starting powerup per team, and the initial pickup
// spread. Returns the battle id.
func (s *Service) Initialize(ctx context.Context, pid string) (string, error) {
	bid := event.NewID()

	gids := make([]string, NumTeams)
	g, gctx := errgroup.WithContext(ctx)
	for team := 0; team < NumTeams; team++ {
		team := team
		g.Go(func() error {
			gid, err := s.games.CreateGame(gctx, pid, battle.Data{BID: bid, Team: team})
			if err != nil {
				return fmt.Errorf("create game for team %d: %w", team, err)
			}
			gids[team] = gid
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	cells, err := s.spawnCells(ctx, gids, InitialPickups, nil)
	if err != nil {
		return "", err
	}

	err = s.store.Txn(ctx, func(tx *store.Tx) error {
		for team, gid := range gids {
			if err := tx.Put(fmt.Sprintf("battle/%s/games/%d", bid, team), gid); err != nil {
				return err
			}
			for i := 0; i < StartingPowerups; i++ {
				p := battle.Powerup{Type: s.randomType()}
				if _, err := tx.Push(teamPowerupsPath(bid, team), p); err != nil {
					return err
				}
			}
		}
		for _, c := range cells {
			p := battle.Pickup{Type: s.randomType(), I: c[0], J: c[1]}
			if _, err := tx.Push(battlePath(bid, "pickups"), p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("initialize battle: %w", err)
	}
	s.logger.Info().Str("bid", bid).Str("pid", pid).Msg("battle initialized")
	return bid, nil
}

// Snapshot assembles the full battle state.
func (s *Service) Snapshot(ctx context.Context, bid string) (battle.Snapshot, error) {
	var snap battle.Snapshot

	games, err := s.store.List(ctx, battlePath(bid, "games"))
	if err != nil {
		return snap, err
	}
	if len(games) == 0 {
		return snap, fmt.Errorf("%w: %s", battle.ErrBattleNotFound, bid)
	}
	snap.Games = make([]string, len(games))
	for i, e := range games {
		if err := json.Unmarshal(e.Value, &snap.Games[i]); err != nil {
			return snap, fmt.Errorf("decode team %d game: %w", i, err)
		}
	}

	players, err := s.store.List(ctx, battlePath(bid, "players"))
	if err != nil {
		return snap, err
	}
	snap.Players = make(map[string]battle.Player, len(players))
	for _, e := range players {
		var p battle.Player
		if err := json.Unmarshal(e.Value, &p); err != nil {
			return snap, err
		}
		snap.Players[e.Key] = p
	}

	snap.Powerups = make([][]battle.Powerup, len(snap.Games))
	for team := range snap.Games {
		entries, err := s.store.List(ctx, teamPowerupsPath(bid, team))
		if err != nil {
			return snap, err
		}
		for _, e := range entries {
			var p battle.Powerup
			if err := json.Unmarshal(e.Value, &p); err != nil {
				return snap, err
			}
			snap.Powerups[team] = append(snap.Powerups[team], p)
		}
	}

	pickups, err := s.store.List(ctx, battlePath(bid, "pickups"))
	if err != nil {
		return snap, err
	}
	snap.Pickups = make(map[string]battle.Pickup, len(pickups))
	for _, e := range pickups {
		var p battle.Pickup
		if err := json.Unmarshal(e.Value, &p); err != nil {
			return snap, err
		}
		snap.Pickups[e.Key] = p
	}

	var winner battle.Winner
	if err := s.store.Get(ctx, battlePath(bid, "winner"), &winner); err == nil {
		snap.Winner = &winner
	}
	_ = s.store.Get(ctx, battlePath(bid, "startedAt"), &snap.StartedAt)
	return snap, nil
}

// AddPlayer puts a roster entry.
func (s *Service) AddPlayer(ctx context.Context, bid, playerID, name string, team int) error {
	if team < 0 || team >= NumTeams {
		return fmt.Errorf("%w: %d", battle.ErrInvalidTeam, team)
	}
	return s.store.Put(ctx, battlePath(bid, "players")+"/"+playerID, battle.Player{Name: name, Team: team})
}

// RemovePlayer drops a roster entry.
func (s *Service) RemovePlayer(ctx context.Context, bid, playerID string) error {
	return s.store.Txn(ctx, func(tx *store.Tx) error {
		return tx.Delete(battlePath(bid, "players") + "/" + playerID)
	})
}

// Start stamps startedAt once. Later calls leave the first stamp in place.
func (s *Service) Start(ctx context.Context, bid string) (int64, error) {
	var startedAt int64
	err := s.store.Txn(ctx, func(tx *store.Tx) error {
		if err := tx.Get(battlePath(bid, "startedAt"), &startedAt); err == nil {
			return nil
		}
		startedAt = s.now()
		return tx.Put(battlePath(bid, "startedAt"), startedAt)
	})
	return startedAt, err
}

// TrySetWinner declares team the winner unless one is already set, and
// returns whichever winner ended up persisted. First writer wins; the
// comparison happens inside the transaction, so racing declarations for
// different teams converge on a single stable value.
func (s *Service) TrySetWinner(ctx context.Context, bid string, team int) (battle.Winner, error) {
	if team < 0 || team >= NumTeams {
		return battle.Winner{}, fmt.Errorf("%w: %d", battle.ErrInvalidTeam, team)
	}
	var winner battle.Winner
	err := s.store.Txn(ctx, func(tx *store.Tx) error {
		if err := tx.Get(battlePath(bid, "winner"), &winner); err == nil {
			return nil
		}
		winner = battle.Winner{Team: team, CompletedAt: s.now()}
		return tx.Put(battlePath(bid, "winner"), winner)
	})
	return winner, err
}

// CollectPickup marks the pickup collected and grants its powerup to the
// collecting team, both inside one transaction. A second caller sees
// pickedUp already true and gets collected=false with no grant, so one
// pickup never yields more than one powerup.
func (s *Service) CollectPickup(ctx context.Context, bid, pickupKey string, team int) (bool, error) {
	if team < 0 || team >= NumTeams {
		return false, fmt.Errorf("%w: %d", battle.ErrInvalidTeam, team)
	}
	collected := false
	path := battlePath(bid, "pickups") + "/" + pickupKey
	err := s.store.Txn(ctx, func(tx *store.Tx) error {
		var p battle.Pickup
		if err := tx.Get(path, &p); err != nil {
			return fmt.Errorf("%w: %s", battle.ErrPickupNotFound, pickupKey)
		}
		if p.PickedUp {
			return nil
		}
		p.PickedUp = true
		if err := tx.Put(path, p); err != nil {
			return err
		}
		if _, err := tx.Push(teamPowerupsPath(bid, team), battle.Powerup{Type: p.Type}); err != nil {
			return err
		}
		collected = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if collected {
		s.logger.Info().Str("bid", bid).Str("pickup", pickupKey).Int("team", team).Msg("pickup collected")
	}
	return collected, nil
}

// GrantPowerupOnce grants one powerup of the given type to the team unless
// the team already holds that type.
func (s *Service) GrantPowerupOnce(ctx context.Context, bid string, team int, typ string) error {
	if team < 0 || team >= NumTeams {
		return fmt.Errorf("%w: %d", battle.ErrInvalidTeam, team)
	}
	return s.store.Txn(ctx, func(tx *store.Tx) error {
		var held []battle.Powerup
		for _, e := range tx.List(teamPowerupsPath(bid, team)) {
			var p battle.Powerup
			if err := json.Unmarshal(e.Value, &p); err != nil {
				return err
			}
			held = append(held, p)
		}
		if battle.HasType(held, typ) {
			return nil
		}
		_, err := tx.Push(teamPowerupsPath(bid, team), battle.Powerup{Type: typ})
		return err
	})
}

// UsePowerup spends the team's first unspent powerup of the given type,
// targeting the opposing team. Returns the spent powerup.
func (s *Service) UsePowerup(ctx context.Context, bid string, team int, typ string) (battle.Powerup, error) {
	if team < 0 || team >= NumTeams {
		return battle.Powerup{}, fmt.Errorf("%w: %d", battle.ErrInvalidTeam, team)
	}
	var spent battle.Powerup
	err := s.store.Txn(ctx, func(tx *store.Tx) error {
		for _, e := range tx.List(teamPowerupsPath(bid, team)) {
			var p battle.Powerup
			if err := json.Unmarshal(e.Value, &p); err != nil {
				return err
			}
			if p.Type != typ || p.Used != 0 {
				continue
			}
			target := (team + 1) % NumTeams
			p.Used = s.now()
			p.Target = &target
			spent = p
			return tx.Put(teamPowerupsPath(bid, team)+"/"+e.Key, p)
		}
		return fmt.Errorf("no unused %s powerup for team %d", typ, team)
	})
	return spent, err
}

// SpawnPickups tops the board back up to the live cap, placing new pickups
// on open cells that do not already host a live pickup. Spawning stops
// once a winner exists.
func (s *Service) SpawnPickups(ctx context.Context, bid string) error {
	snap, err := s.Snapshot(ctx, bid)
	if err != nil {
		return err
	}
	if snap.Winner != nil {
		return nil
	}
	missing := MaxLivePickups - battle.LivePickups(snap.Pickups)
	if missing <= 0 {
		return nil
	}

	occupied := make(map[[2]int]bool)
	for _, p := range snap.Pickups {
		if !p.PickedUp {
			occupied[[2]int{p.I, p.J}] = true
		}
	}
	cells, err := s.spawnCells(ctx, snap.Games, missing, occupied)
	if err != nil {
		return err
	}
	if len(cells) == 0 {
		return nil
	}

	return s.store.Txn(ctx, func(tx *store.Tx) error {
		for _, c := range cells {
			p := battle.Pickup{Type: s.randomType(), I: c[0], J: c[1]}
			if _, err := tx.Push(battlePath(bid, "pickups"), p); err != nil {
				return err
			}
		}
		return nil
	})
}

// spawnCells picks up to n random cells open on every team's board,
// excluding occupied ones. A cell one team has already filled can never
// be collected by that team, so only the intersection is eligible. Fewer
// than n are returned when the boards are nearly full.
func (s *Service) spawnCells(ctx context.Context, gids []string, n int, occupied map[[2]int]bool) ([][2]int, error) {
	first, err := s.boards.OpenCells(ctx, gids[0])
	if err != nil {
		return nil, fmt.Errorf("open cells for %s: %w", gids[0], err)
	}
	open := make(map[[2]int]bool, len(first))
	for c := range first {
		open[c] = true
	}
	for _, gid := range gids[1:] {
		other, err := s.boards.OpenCells(ctx, gid)
		if err != nil {
			return nil, fmt.Errorf("open cells for %s: %w", gid, err)
		}
		for c := range open {
			if !other[c] {
				delete(open, c)
			}
		}
	}
	candidates := make([][2]int, 0, len(open))
	for c := range open {
		if occupied[c] {
			continue
		}
		candidates = append(candidates, c)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i][0] != candidates[j][0] {
			return candidates[i][0] < candidates[j][0]
		}
		return candidates[i][1] < candidates[j][1]
	})
	for i := len(candidates) - 1; i > 0; i-- {
		j := s.intN(i + 1)
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates, nil
}

func (s *Service) randomType() string {
	return battle.Types[s.intN(len(battle.Types))]
}
