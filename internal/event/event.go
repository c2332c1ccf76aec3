package event

import "encoding/json"

// WsEvent is the envelope for every message exchanged over the socket.
// Payload stays raw so each handler decodes only the shape it expects.
type WsEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Whiteboard Event Types - same names in both directions
const (
	// EventBoardUpdate - full scene snapshot after a local edit burst
	EventBoardUpdate = "board:update"

	// EventBoardCursor - pointer position of a participant
	EventBoardCursor = "board:cursor"
)

// NewEvent wraps payload into a WsEvent envelope.
func NewEvent(name string, payload any) (WsEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return WsEvent{}, err
	}
	return WsEvent{Event: name, Payload: raw}, nil
}
