package battle

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . GameCreator,BoardProvider

import (
	"context"
)

// GameCreator allocates one underlying game session for a battle team.
type GameCreator interface {
	CreateGame(ctx context.Context, pid string, data Data) (string, error)
}

// BoardProvider reads the derived board state of a game session, used to
// pick pickup spawn locations common to every team's board.
type BoardProvider interface {
	OpenCells(ctx context.Context, gid string) (map[[2]int]bool, error)
}
