package battle

import (
	"context"
	"errors"
	"time"

	"github.com/wordbattle/wordbattle/internal/domain/battle"
)

// DefaultSpawnInterval is the tick between pickup spawn rounds.
const DefaultSpawnInterval = 6 * time.Second

// RunSpawner periodically tops up the battle's pickups until the context
// is cancelled or a winner is declared. It blocks; run it on its own
// goroutine per active battle.
func (s *Service) RunSpawner(ctx context.Context, bid string, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSpawnInterval
	}
	logger := s.logger.With().Str("bid", bid).Logger()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := s.Snapshot(ctx, bid)
			if err != nil {
				if errors.Is(err, battle.ErrBattleNotFound) {
					return
				}
				logger.Warn().Err(err).Msg("spawner snapshot failed")
				continue
			}
			if snap.Winner != nil {
				logger.Info().Int("team", snap.Winner.Team).Msg("winner declared, spawner stopping")
				return
			}
			if err := s.SpawnPickups(ctx, bid); err != nil {
				logger.Warn().Err(err).Msg("pickup spawn failed")
			}
		}
	}
}
