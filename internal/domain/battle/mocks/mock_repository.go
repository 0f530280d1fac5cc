package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/wordbattle/wordbattle/internal/domain/battle"
)

// MockGameCreator is a mock implementation of battle.GameCreator
type MockGameCreator struct {
	mock.Mock
}

func (m *MockGameCreator) CreateGame(ctx context.Context, pid string, data battle.Data) (string, error) {
	args := m.Called(ctx, pid, data)
	return args.String(0), args.Error(1)
}

// MockBoardProvider is a mock implementation of battle.BoardProvider
type MockBoardProvider struct {
	mock.Mock
}

func (m *MockBoardProvider) OpenCells(ctx context.Context, gid string) (map[[2]int]bool, error) {
	args := m.Called(ctx, gid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[[2]int]bool), args.Error(1)
}
