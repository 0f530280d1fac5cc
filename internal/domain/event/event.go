package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"

	"github.com/google/uuid"
)

// Type identifies the kind of a session event.
type Type string

const (
	TypeCreate            Type = "create"
	TypeUpdateCell        Type = "updateCell"
	TypeUpdateCursor      Type = "updateCursor"
	TypeAddPing           Type = "addPing"
	TypeUpdateDisplayName Type = "updateDisplayName"
	TypeUpdateColor       Type = "updateColor"
	TypeUpdateClock       Type = "updateClock"
	TypeCheck             Type = "check"
	TypeReveal            Type = "reveal"
	TypeReset             Type = "reset"
	TypeChat              Type = "chat"
	TypeSendChatMessage   Type = "sendChatMessage"
	TypeStartGame         Type = "startGame"
)

var (
	ErrUnknownType     = errors.New("unknown event type")
	ErrInvalidParams   = errors.New("invalid event params")
	ErrDuplicateCreate = errors.New("session already has a create event")
	ErrMissingCreate   = errors.New("session has no create event")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionNotReady = errors.New("session is not ready")
)

// Event is an immutable, uniquely identified, timestamped mutation record.
// ID is assigned client side at creation time and never reused. Timestamp
// is unix milliseconds; the server assigns it on append when zero.
type Event struct {
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Type      Type            `json:"type"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// NewID allocates a fresh event id.
func NewID() string {
	return uuid.NewString()
}

// New builds an event with a fresh id and the given payload.
func New(typ Type, timestamp int64, params any) (Event, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        NewID(),
		Timestamp: timestamp,
		Type:      typ,
		Params:    raw,
	}, nil
}

// Sort orders events ascending by timestamp. Timestamp ties are broken by
// id comparison so the order is deterministic regardless of arrival order.
// The create event, if present, always sorts first.
func Sort(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if (a.Type == TypeCreate) != (b.Type == TypeCreate) {
			return a.Type == TypeCreate
		}
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return a.ID < b.ID
	})
}

// Equal reports whether two events carry the same identity and payload.
func Equal(a, b Event) bool {
	return a.ID == b.ID && a.Timestamp == b.Timestamp && a.Type == b.Type &&
		bytes.Equal(a.Params, b.Params)
}
