// Package notify renders call side effects for clients without a real
// audio or toast surface: every alert becomes a structured log line. The
// log stream is what an embedding UI would swap for a ringtone player and
// a toast widget.
package notify

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"Tutorlink/internal/call"
)

// LogAlerts implements call.Alerts on a zap logger.
type LogAlerts struct {
	logger  *zap.Logger
	ringing atomic.Bool
}

func NewLogAlerts(logger *zap.Logger) *LogAlerts {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogAlerts{logger: logger}
}

// Ringing reports whether the ringtone is currently playing.
func (a *LogAlerts) Ringing() bool { return a.ringing.Load() }

func (a *LogAlerts) RingtoneStart() {
	if a.ringing.Swap(true) {
		return
	}
	a.logger.Info("ringtone started")
}

func (a *LogAlerts) RingtoneStop() {
	if !a.ringing.Swap(false) {
		return
	}
	a.logger.Info("ringtone stopped")
}

func (a *LogAlerts) ToastAccepted(accepterName string) {
	a.logger.Info("call accepted", zap.String("by", accepterName))
}

func (a *LogAlerts) ToastRejected(reason string, wellKnown bool) {
	msg := "call declined"
	if wellKnown {
		switch reason {
		case "busy":
			msg = "the other party is busy"
		case "no_answer":
			msg = "no answer"
		}
		a.logger.Info(msg)
		return
	}
	// Free text typed by the remote party, shown verbatim.
	a.logger.Info(msg, zap.String("message", reason))
}

func (a *LogAlerts) ToastEnded(duration int) {
	a.logger.Info("call ended", zap.String("duration", formatDuration(duration)))
}

func (a *LogAlerts) ToastNoAnswer() {
	a.logger.Info("no answer")
}

func (a *LogAlerts) ToastMissed(callerName string) {
	a.logger.Info("missed call", zap.String("from", callerName))
}

func (a *LogAlerts) ToastFailed(message string) {
	a.logger.Warn("call failed", zap.String("message", message))
}

func (a *LogAlerts) ToastParticipantJoined(name string) {
	a.logger.Info("participant joined", zap.String("name", name))
}

func (a *LogAlerts) ToastParticipantLeft(name string) {
	a.logger.Info("participant left", zap.String("name", name))
}

// formatDuration renders seconds as m:ss for display.
func formatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

var _ call.Alerts = (*LogAlerts)(nil)
