package call

// Alerts receives the user-facing side effects of call transitions:
// ringtone playback and toast notifications. Implementations are best
// effort; the coordinator wraps every invocation so a panicking or slow
// actuator can never corrupt session state. Correctness never depends on
// anything in here.
type Alerts interface {
	// RingtoneStart fires exactly when an offer is created, RingtoneStop
	// exactly when it is cleared. Stop is also called on every full reset,
	// so implementations must tolerate stopping an idle ringtone.
	RingtoneStart()
	RingtoneStop()

	ToastAccepted(accepterName string)
	// ToastRejected renders well-known reasons (busy, no_answer, declined)
	// differently from free-text custom messages.
	ToastRejected(reason string, wellKnown bool)
	ToastEnded(duration int)
	ToastNoAnswer()
	ToastMissed(callerName string)
	ToastFailed(message string)
	ToastParticipantJoined(name string)
	ToastParticipantLeft(name string)
}

// NopAlerts ignores everything.
type NopAlerts struct{}

func (NopAlerts) RingtoneStart()                {}
func (NopAlerts) RingtoneStop()                 {}
func (NopAlerts) ToastAccepted(string)          {}
func (NopAlerts) ToastRejected(string, bool)    {}
func (NopAlerts) ToastEnded(int)                {}
func (NopAlerts) ToastNoAnswer()                {}
func (NopAlerts) ToastMissed(string)            {}
func (NopAlerts) ToastFailed(string)            {}
func (NopAlerts) ToastParticipantJoined(string) {}
func (NopAlerts) ToastParticipantLeft(string)   {}
