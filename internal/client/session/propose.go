package session

import (
	"context"

	"github.com/wordbattle/wordbattle/internal/domain/event"
)

// Typed wrappers around Propose, one per user-originated event type.

func (s *Session) UpdateCell(ctx context.Context, p event.UpdateCellParams) (event.Event, error) {
	return s.Propose(ctx, event.TypeUpdateCell, p)
}

func (s *Session) UpdateCursor(ctx context.Context, p event.UpdateCursorParams) (event.Event, error) {
	return s.Propose(ctx, event.TypeUpdateCursor, p)
}

func (s *Session) AddPing(ctx context.Context, p event.AddPingParams) (event.Event, error) {
	return s.Propose(ctx, event.TypeAddPing, p)
}

func (s *Session) UpdateDisplayName(ctx context.Context, p event.UpdateDisplayNameParams) (event.Event, error) {
	return s.Propose(ctx, event.TypeUpdateDisplayName, p)
}

func (s *Session) UpdateColor(ctx context.Context, p event.UpdateColorParams) (event.Event, error) {
	return s.Propose(ctx, event.TypeUpdateColor, p)
}

func (s *Session) UpdateClock(ctx context.Context, p event.UpdateClockParams) (event.Event, error) {
	return s.Propose(ctx, event.TypeUpdateClock, p)
}

func (s *Session) Check(ctx context.Context, p event.ScopeParams) (event.Event, error) {
	return s.Propose(ctx, event.TypeCheck, p)
}

func (s *Session) Reveal(ctx context.Context, p event.ScopeParams) (event.Event, error) {
	return s.Propose(ctx, event.TypeReveal, p)
}

func (s *Session) Reset(ctx context.Context, p event.ResetParams) (event.Event, error) {
	return s.Propose(ctx, event.TypeReset, p)
}

func (s *Session) StartGame(ctx context.Context) (event.Event, error) {
	return s.Propose(ctx, event.TypeStartGame, event.StartGameParams{})
}

// Chat fans one message out into the session chat log and the team chat
// stream. Each half is an independent proposal with its own id.
func (s *Session) Chat(ctx context.Context, p event.ChatParams) ([]event.Event, error) {
	chat, err := s.Propose(ctx, event.TypeChat, p)
	if err != nil {
		return nil, err
	}
	team, err := s.Propose(ctx, event.TypeSendChatMessage, event.SendChatMessageParams{
		Message: p.Text,
		ID:      p.SenderID,
		Sender:  p.Sender,
	})
	if err != nil {
		return []event.Event{chat}, err
	}
	return []event.Event{chat, team}, nil
}
