package event

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNew(t *testing.T, typ Type, params any) Event {
	t.Helper()
	evt, err := New(typ, 100, params)
	require.NoError(t, err)
	return evt
}

func validCreateParams() CreateParams {
	return CreateParams{
		PID:     "p1",
		Version: 1,
		Game: GameSeed{
			Grid:     [][]SeedCell{{{Number: 1}}},
			Solution: [][]string{{"A"}},
		},
	}
}

func TestValidateAcceptsRegistryEvents(t *testing.T) {
	cases := []Event{
		mustNew(t, TypeCreate, validCreateParams()),
		mustNew(t, TypeUpdateCell, UpdateCellParams{Cell: Cell{R: 0, C: 0}, Value: "A", ID: "u1"}),
		mustNew(t, TypeUpdateCursor, UpdateCursorParams{Cell: Cell{R: 0, C: 0}, ID: "u1"}),
		mustNew(t, TypeAddPing, AddPingParams{Cell: Cell{R: 0, C: 0}, ID: "u1"}),
		mustNew(t, TypeUpdateDisplayName, UpdateDisplayNameParams{ID: "u1", DisplayName: "alice"}),
		mustNew(t, TypeUpdateColor, UpdateColorParams{ID: "u1", Color: "#ff0000"}),
		mustNew(t, TypeUpdateClock, UpdateClockParams{Action: ClockStart}),
		mustNew(t, TypeCheck, ScopeParams{Scope: []Cell{{R: 0, C: 0}}}),
		mustNew(t, TypeReveal, ScopeParams{Scope: []Cell{{R: 0, C: 0}}}),
		mustNew(t, TypeReset, ResetParams{Scope: []Cell{{R: 0, C: 0}}}),
		mustNew(t, TypeChat, ChatParams{Text: "gg", Sender: "alice", SenderID: "u1"}),
		mustNew(t, TypeSendChatMessage, SendChatMessageParams{Message: "gg", ID: "u1"}),
		mustNew(t, TypeStartGame, StartGameParams{}),
	}
	for _, evt := range cases {
		assert.NoError(t, Validate(evt), string(evt.Type))
	}
}

func TestValidateRejectsUnknownType(t *testing.T) {
	evt := mustNew(t, Type("teleport"), struct{}{})
	assert.ErrorIs(t, Validate(evt), ErrUnknownType)
	assert.False(t, KnownType("teleport"))
}

func TestValidateRejectsMissingID(t *testing.T) {
	evt := mustNew(t, TypeStartGame, StartGameParams{})
	evt.ID = ""
	assert.ErrorIs(t, Validate(evt), ErrInvalidParams)
}

func TestValidateRejectsBadParams(t *testing.T) {
	cases := map[string]Event{
		"updateCell without id": mustNew(t, TypeUpdateCell, UpdateCellParams{Cell: Cell{R: 0, C: 0}, Value: "A"}),
		"negative cell":         mustNew(t, TypeUpdateCursor, UpdateCursorParams{Cell: Cell{R: -1, C: 0}, ID: "u1"}),
		"empty scope":           mustNew(t, TypeCheck, ScopeParams{}),
		"unknown clock action":  mustNew(t, TypeUpdateClock, UpdateClockParams{Action: "rewind"}),
		"empty chat":            mustNew(t, TypeChat, ChatParams{SenderID: "u1"}),
		"oversized chat":        mustNew(t, TypeChat, ChatParams{Text: strings.Repeat("x", 1001), SenderID: "u1"}),
		"empty display name":    mustNew(t, TypeUpdateDisplayName, UpdateDisplayNameParams{ID: "u1"}),
	}
	for name, evt := range cases {
		assert.ErrorIs(t, Validate(evt), ErrInvalidParams, name)
	}
}

func TestValidateCreateConstraints(t *testing.T) {
	noPID := validCreateParams()
	noPID.PID = ""
	assert.ErrorIs(t, Validate(mustNew(t, TypeCreate, noPID)), ErrInvalidParams)

	emptyGrid := validCreateParams()
	emptyGrid.Game.Grid = nil
	assert.ErrorIs(t, Validate(mustNew(t, TypeCreate, emptyGrid)), ErrInvalidParams)

	mismatched := validCreateParams()
	mismatched.Game.Solution = [][]string{{"A", "B"}}
	assert.ErrorIs(t, Validate(mustNew(t, TypeCreate, mismatched)), ErrInvalidParams)
}
