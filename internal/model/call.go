package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CallRecord is a finished call as persisted for history. The relay writes
// one record per call after the call:ended exchange; clients only read them
// back through the history API.
type CallRecord struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ConversationID string             `json:"conversationId" bson:"conversation_id"`
	CallerID       string             `json:"callerId" bson:"caller_id"`
	CalleeID       string             `json:"calleeId" bson:"callee_id"`
	CallType       string             `json:"callType" bson:"call_type"` // "audio" or "video"
	Outcome        string             `json:"outcome" bson:"outcome"`    // "completed", "rejected", "missed"
	Reason         string             `json:"reason,omitempty" bson:"reason,omitempty"`
	StartedAt      time.Time          `json:"startedAt" bson:"started_at"`
	EndedAt        *time.Time         `json:"endedAt,omitempty" bson:"ended_at,omitempty"`
	Duration       int                `json:"duration" bson:"duration"` // seconds, 0 if never connected
}

// Participant is one remote party of an active call as tracked by the
// client coordinator. The local user never appears in this list.
type Participant struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsMuted    bool   `json:"isMuted"`
	IsDeafened bool   `json:"isDeafened"`
}

// -----------------------------------------------------------------
// WebSocket Event Payloads - Client to Server
// -----------------------------------------------------------------

// CallInitiatePayload is sent by caller to start a call
type CallInitiatePayload struct {
	ConversationID string `json:"conversationId"`
	CallType       string `json:"callType"` // "audio" or "video"
}

// CallAcceptPayload is sent by callee to accept a pending offer
type CallAcceptPayload struct {
	ConversationID string `json:"conversationId"`
}

// CallRejectPayload is sent by callee to decline a pending offer
type CallRejectPayload struct {
	ConversationID string `json:"conversationId"`
	Reason         string `json:"reason,omitempty"`
}

// CallEndPayload is sent by either side to end or cancel a call
type CallEndPayload struct {
	ConversationID string `json:"conversationId"`
}

// MuteStatusPayload broadcasts the local mute flag to peers
type MuteStatusPayload struct {
	ConversationID string `json:"conversationId"`
	IsMuted        bool   `json:"isMuted"`
}

// -----------------------------------------------------------------
// WebSocket Event Payloads - Server to Client
// -----------------------------------------------------------------

// CallIncomingEvent is delivered to the callee
type CallIncomingEvent struct {
	ConversationID string `json:"conversationId"`
	CallerID       string `json:"callerId"`
	CallerName     string `json:"callerName,omitempty"`
	CallType       string `json:"callType"`
	Timeout        int    `json:"timeout"` // seconds until the offer expires
	Timestamp      int64  `json:"timestamp"`
}

// CallAcceptedEvent is delivered to the caller when the callee accepts.
// Room name and token are the media backend grant; this client hands them
// to the media layer untouched.
type CallAcceptedEvent struct {
	ConversationID string `json:"conversationId"`
	AccepterID     string `json:"accepterId"`
	AccepterName   string `json:"accepterName,omitempty"`
	RoomName       string `json:"roomName,omitempty"`
	Token          string `json:"token,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// CallRejectedEvent is delivered to the caller when the callee declines
type CallRejectedEvent struct {
	ConversationID string `json:"conversationId"`
	RejecterID     string `json:"rejecterId"`
	Reason         string `json:"reason,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// CallEndedEvent is delivered to the surviving party when a call ends
type CallEndedEvent struct {
	ConversationID string `json:"conversationId"`
	EndedBy        string `json:"endedBy"`
	Reason         string `json:"reason,omitempty"`
	Duration       int    `json:"duration,omitempty"` // seconds, if the relay knows it
	Timestamp      int64  `json:"timestamp"`
}

// CallParticipantEvent covers participant_joined and participant_left
type CallParticipantEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Name           string `json:"name,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// CallParticipantMutedEvent reflects a remote mute flag change
type CallParticipantMutedEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsMuted        bool   `json:"isMuted"`
	Timestamp      int64  `json:"timestamp"`
}

// CallErrorEvent is sent by the relay when it cannot route a command
type CallErrorEvent struct {
	ConversationID string `json:"conversationId,omitempty"`
	Code           string `json:"code,omitempty"`
	Error          string `json:"error"`
	Timestamp      int64  `json:"timestamp"`
}
