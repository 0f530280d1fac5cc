package event

import (
	"encoding/json"
	"fmt"
)

const (
	maxChatLength        = 1000
	maxDisplayNameLength = 100
)

// Validate rejects malformed events at the ingress boundary so the fold
// never sees an unrecognized type or bad payload. It returns
// ErrUnknownType for types outside the registry and an error wrapping
// ErrInvalidParams when the payload does not decode or fails a
// constraint.
func Validate(evt Event) error {
	if evt.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidParams)
	}
	validator, ok := validators[evt.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, evt.Type)
	}
	return validator(evt.Params)
}

// KnownType reports whether typ is in the event registry.
func KnownType(typ Type) bool {
	_, ok := validators[typ]
	return ok
}

var validators = map[Type]func(json.RawMessage) error{
	TypeCreate:            validateCreate,
	TypeUpdateCell:        validateUpdateCell,
	TypeUpdateCursor:      validateCursorish,
	TypeAddPing:           validateCursorish,
	TypeUpdateDisplayName: validateDisplayName,
	TypeUpdateColor:       validateColor,
	TypeUpdateClock:       validateClock,
	TypeCheck:             validateScope,
	TypeReveal:            validateScope,
	TypeReset:             validateReset,
	TypeChat:              validateChat,
	TypeSendChatMessage:   validateSendChatMessage,
	TypeStartGame:         func(json.RawMessage) error { return nil },
}

func decode(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing params", ErrInvalidParams)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

func validateCreate(raw json.RawMessage) error {
	var p CreateParams
	if err := decode(raw, &p); err != nil {
		return err
	}
	if p.PID == "" {
		return fmt.Errorf("%w: create requires a pid", ErrInvalidParams)
	}
	if p.Version <= 0 {
		return fmt.Errorf("%w: create requires a positive version", ErrInvalidParams)
	}
	if len(p.Game.Grid) == 0 || len(p.Game.Grid[0]) == 0 {
		return fmt.Errorf("%w: create requires a non-empty grid", ErrInvalidParams)
	}
	if len(p.Game.Solution) != len(p.Game.Grid) {
		return fmt.Errorf("%w: solution dimensions do not match grid", ErrInvalidParams)
	}
	for i, row := range p.Game.Solution {
		if len(row) != len(p.Game.Grid[i]) {
			return fmt.Errorf("%w: solution dimensions do not match grid", ErrInvalidParams)
		}
	}
	return nil
}

func validateUpdateCell(raw json.RawMessage) error {
	var p UpdateCellParams
	if err := decode(raw, &p); err != nil {
		return err
	}
	if err := validCell(p.Cell); err != nil {
		return err
	}
	if p.ID == "" {
		return fmt.Errorf("%w: updateCell requires a user id", ErrInvalidParams)
	}
	return nil
}

func validateCursorish(raw json.RawMessage) error {
	var p UpdateCursorParams
	if err := decode(raw, &p); err != nil {
		return err
	}
	if err := validCell(p.Cell); err != nil {
		return err
	}
	if p.ID == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidParams)
	}
	return nil
}

func validateDisplayName(raw json.RawMessage) error {
	var p UpdateDisplayNameParams
	if err := decode(raw, &p); err != nil {
		return err
	}
	if p.ID == "" || p.DisplayName == "" {
		return fmt.Errorf("%w: updateDisplayName requires id and displayName", ErrInvalidParams)
	}
	if len(p.DisplayName) > maxDisplayNameLength {
		return fmt.Errorf("%w: display name too long", ErrInvalidParams)
	}
	return nil
}

func validateColor(raw json.RawMessage) error {
	var p UpdateColorParams
	if err := decode(raw, &p); err != nil {
		return err
	}
	if p.ID == "" || p.Color == "" {
		return fmt.Errorf("%w: updateColor requires id and color", ErrInvalidParams)
	}
	return nil
}

func validateClock(raw json.RawMessage) error {
	var p UpdateClockParams
	if err := decode(raw, &p); err != nil {
		return err
	}
	switch p.Action {
	case ClockStart, ClockPause, ClockResume, ClockStop:
		return nil
	default:
		return fmt.Errorf("%w: unknown clock action %q", ErrInvalidParams, p.Action)
	}
}

func validateScope(raw json.RawMessage) error {
	var p ScopeParams
	if err := decode(raw, &p); err != nil {
		return err
	}
	if len(p.Scope) == 0 {
		return fmt.Errorf("%w: scope must name at least one cell", ErrInvalidParams)
	}
	for _, cell := range p.Scope {
		if err := validCell(cell); err != nil {
			return err
		}
	}
	return nil
}

func validateReset(raw json.RawMessage) error {
	var p ResetParams
	if err := decode(raw, &p); err != nil {
		return err
	}
	if len(p.Scope) == 0 {
		return fmt.Errorf("%w: scope must name at least one cell", ErrInvalidParams)
	}
	for _, cell := range p.Scope {
		if err := validCell(cell); err != nil {
			return err
		}
	}
	return nil
}

func validateChat(raw json.RawMessage) error {
	var p ChatParams
	if err := decode(raw, &p); err != nil {
		return err
	}
	if p.Text == "" {
		return fmt.Errorf("%w: chat requires text", ErrInvalidParams)
	}
	if len(p.Text) > maxChatLength {
		return fmt.Errorf("%w: chat message too long", ErrInvalidParams)
	}
	if p.SenderID == "" {
		return fmt.Errorf("%w: chat requires a sender id", ErrInvalidParams)
	}
	return nil
}

func validateSendChatMessage(raw json.RawMessage) error {
	var p SendChatMessageParams
	if err := decode(raw, &p); err != nil {
		return err
	}
	if p.Message == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidParams)
	}
	if len(p.Message) > maxChatLength {
		return fmt.Errorf("%w: message too long", ErrInvalidParams)
	}
	if p.ID == "" {
		return fmt.Errorf("%w: message requires a sender id", ErrInvalidParams)
	}
	return nil
}

func validCell(cell Cell) error {
	if cell.R < 0 || cell.C < 0 {
		return fmt.Errorf("%w: cell coordinates must be non-negative", ErrInvalidParams)
	}
	return nil
}
