package ws

import (
	"encoding/json"

	"github.com/wordbattle/wordbattle/internal/domain/event"
)

// Message names carried on the wire. Clients emit the request names; the
// server emits MsgGameEvent, MsgPathValue, and MsgAck.
const (
	MsgJoinGame      = "join_game"
	MsgLeaveGame     = "leave_game"
	MsgGameEvent     = "game_event"
	MsgSyncAllEvents = "sync_all_game_events"

	MsgBattleSnapshot     = "battle_snapshot"
	MsgBattleStart        = "battle_start"
	MsgBattleAddPlayer    = "battle_add_player"
	MsgBattleRemovePlayer = "battle_remove_player"
	MsgBattleSetWinner    = "battle_set_winner"
	MsgBattleCollect      = "battle_collect_pickup"
	MsgBattleGrant        = "battle_grant_powerup"
	MsgBattleUsePowerup   = "battle_use_powerup"

	MsgWatchPath   = "watch_path"
	MsgUnwatchPath = "unwatch_path"
	MsgPathValue   = "path_value"

	MsgAck = "ack"
)

// Frame is one websocket message. Ack is a sender-chosen correlation id;
// when nonzero the receiver answers with an ack frame whose ReplyTo echoes
// it. Error carries a failure message on ack frames.
type Frame struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Ack     uint64          `json:"ack,omitempty"`
	ReplyTo uint64          `json:"replyTo,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// EncodeFrame marshals a frame for the wire.
func EncodeFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// DecodeFrame parses a wire message.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}

// GamePayload addresses one game session.
type GamePayload struct {
	GID string `json:"gid"`
}

// GameEventPayload carries one event for a game session.
type GameEventPayload struct {
	GID   string      `json:"gid"`
	Event event.Event `json:"event"`
}

// BattlePayload addresses one battle, with the fields the addressed
// operation needs.
type BattlePayload struct {
	BID      string `json:"bid"`
	Team     int    `json:"team,omitempty"`
	PlayerID string `json:"playerId,omitempty"`
	Name     string `json:"name,omitempty"`
	Pickup   string `json:"pickup,omitempty"`
	Type     string `json:"type,omitempty"`
}

// PathPayload addresses one store path.
type PathPayload struct {
	Path string `json:"path"`
}

// PathValuePayload carries a store snapshot to a watching client. Value is
// null when the path holds nothing.
type PathValuePayload struct {
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
}
