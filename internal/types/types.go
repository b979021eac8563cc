package types

import "encoding/json"

// Event names as they appear on the wire.
const (
	EventCreateRoom         = "create-room"
	EventRoomCreated        = "room-created"
	EventPlayerAssigned     = "player-assigned"
	EventJoinRoom           = "join-room"
	EventJoinedRoom         = "joined-room"
	EventInvalidRoom        = "invalid-room"
	EventRoomFull           = "room-full"
	EventMove               = "move"
	EventRestartRequest     = "restart-request"
	EventStartGame          = "start-game"
	EventPlayerDisconnected = "player-disconnected"
	EventError              = "error"
)

// Error codes carried in ErrorPayload.Code.
const (
	CodeBadRequest        = "bad_request"
	CodeCreateFailed      = "create_failed"
	CodeJoinFailed        = "join_failed"
	CodeMoveSaveFailed    = "move_save_failed"
	CodeRestartFailed     = "restart_failed"
	CodeProtocolViolation = "protocol_violation"
	CodeAlreadySeated     = "already_seated"
)

// ClientMessage is one inbound frame. Data is decoded per event.
type ClientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ServerMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type CreateRoomPayload struct {
	Username string `json:"username"`
}

type JoinRoomPayload struct {
	Username string `json:"username"`
	RoomID   string `json:"roomId"`
}

// MovePayload is used in both directions; Room is only set client to server.
// Index is a pointer so a missing index is distinguishable from cell 0.
type MovePayload struct {
	Index  *int   `json:"index"`
	Symbol string `json:"symbol"`
	Room   string `json:"room,omitempty"`
}

type RoomCreatedPayload struct {
	RoomID string `json:"roomId"`
}

type JoinedRoomPayload struct {
	RoomID    string   `json:"roomId"`
	GameState []string `json:"gameState"`
}

// StartGamePayload carries the board the room (re)starts from.
type StartGamePayload struct {
	GameState []string `json:"gameState"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Decode unmarshals the frame data into v. An absent payload leaves v zeroed.
func (m ClientMessage) Decode(v any) error {
	if len(m.Data) == 0 || string(m.Data) == "null" {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}
