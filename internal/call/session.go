package call

import (
	"time"

	"Tutorlink/internal/model"
)

// Status is the coordinator's single source of truth for call progress.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusInitiating Status = "initiating"
	StatusRinging    Status = "ringing"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusEnded      Status = "ended"
	StatusFailed     Status = "failed"
	StatusRejected   Status = "rejected"
	StatusBusy       Status = "busy"
	StatusNoAnswer   Status = "no_answer"
)

// Terminal reports whether s ends the current call attempt. Terminal
// statuses are transient feedback signals: the coordinator collapses them
// back to idle inside the same handler that produced them.
func (s Status) Terminal() bool {
	switch s {
	case StatusEnded, StatusFailed, StatusRejected, StatusBusy, StatusNoAnswer:
		return true
	default:
		return false
	}
}

// Session is the one mutable record of an in-progress or potential call.
// Owned exclusively by the Coordinator; everything else sees copies.
type Session struct {
	Status         Status
	ConversationID string
	CallType       string // audio or video
	CallerID       string
	CallerName     string
	Participants   []model.Participant
	StartTime      *time.Time // set once, at the connected transition
	IsMuted        bool
	IsDeafened     bool
}

// Offer is an unanswered incoming invitation. At most one exists, and only
// while the session is idle.
type Offer struct {
	ConversationID string
	CallerID       string
	CallerName     string
	CallType       string
	ReceivedAt     time.Time
}

// Snapshot is the immutable view handed to presentation-layer listeners on
// every transition.
type Snapshot struct {
	Status         Status
	ConversationID string
	CallType       string
	CallerID       string
	CallerName     string
	Participants   []model.Participant
	StartTime      *time.Time
	Elapsed        int // seconds while connected
	IsMuted        bool
	IsDeafened     bool
	Offer          *Offer
	Reason         string // reject/end reason accompanying a terminal status
}

func (s *Session) addParticipant(p model.Participant) {
	for i := range s.Participants {
		if s.Participants[i].ID == p.ID {
			s.Participants[i] = p
			return
		}
	}
	s.Participants = append(s.Participants, p)
}

func (s *Session) removeParticipant(id string) {
	out := s.Participants[:0]
	for _, p := range s.Participants {
		if p.ID != id {
			out = append(out, p)
		}
	}
	s.Participants = out
}

func (s *Session) setParticipantMuted(id string, muted bool) {
	for i := range s.Participants {
		if s.Participants[i].ID == id {
			s.Participants[i].IsMuted = muted
			return
		}
	}
}
