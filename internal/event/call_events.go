package event

// Call Event Types - Client to Server
const (
	// EventCallInitiate - Caller initiates a call on a conversation
	EventCallInitiate = "call:initiate"

	// EventCallAccept - Callee accepts the incoming call
	EventCallAccept = "call:accept"

	// EventCallReject - Callee rejects the incoming call
	EventCallReject = "call:reject"

	// EventCallEnd - Either party ends or cancels a call
	EventCallEnd = "call:end"

	// EventCallMuteStatus - Local mute flag changed, broadcast to peers
	EventCallMuteStatus = "call:mute_status"
)

// Call Event Types - Server to Client
const (
	// EventCallIncoming - Notify callee of incoming call
	EventCallIncoming = "call:incoming"

	// EventCallAccepted - Notify caller that callee accepted
	EventCallAccepted = "call:accepted"

	// EventCallRejected - Notify caller that callee rejected
	EventCallRejected = "call:rejected"

	// EventCallEnded - Notify other party that call ended
	EventCallEnded = "call:ended"

	// EventCallParticipantJoined - A participant joined the call
	EventCallParticipantJoined = "call:participant_joined"

	// EventCallParticipantLeft - A participant left the call
	EventCallParticipantLeft = "call:participant_left"

	// EventCallParticipantMuted - A participant changed their mute flag
	EventCallParticipantMuted = "call:participant_muted"

	// EventCallError - Call-related error from the relay
	EventCallError = "call:error"
)

// Call Types
const (
	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)

// Well-known reject reasons. Anything else is treated as a free-text
// message typed by the remote party and rendered verbatim.
const (
	ReasonBusy     = "busy"
	ReasonNoAnswer = "no_answer"
	ReasonDeclined = "declined"
)

// WellKnownReason reports whether reason is one of the canned reject
// reasons rather than a custom message.
func WellKnownReason(reason string) bool {
	switch reason {
	case ReasonBusy, ReasonNoAnswer, ReasonDeclined:
		return true
	default:
		return false
	}
}

// Call Configuration
const (
	// DefaultCallTimeoutSec is the ring timeout in seconds, symmetric for
	// caller (establishment) and callee (offer auto-reject).
	DefaultCallTimeoutSec = 30

	// MaxCallTimeoutSec is the maximum allowed ring timeout in seconds
	MaxCallTimeoutSec = 120
)
