package model

import "encoding/json"

// BoardUpdate carries a full whiteboard scene snapshot. Snapshots are
// merged last-writer-wins on UpdatedAt, so a late arrival of an older
// snapshot never rolls the board back.
type BoardUpdate struct {
	ConversationID string          `json:"conversationId"`
	SenderID       string          `json:"senderId"`
	Scene          json.RawMessage `json:"scene"`
	UpdatedAt      int64           `json:"updatedAt"` // unix millis at the writer
}

// BoardCursor is a participant's pointer position. Cursors not refreshed
// within the eviction TTL are dropped from the remote-cursor map.
type BoardCursor struct {
	ConversationID string  `json:"conversationId"`
	UserID         string  `json:"userId"`
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	UpdatedAt      int64   `json:"updatedAt"`
}
