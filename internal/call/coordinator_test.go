package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"Tutorlink/internal/event"
	"Tutorlink/internal/model"
	"Tutorlink/internal/transport"
)

const (
	eventuallyWait = 2 * time.Second
	eventuallyTick = 5 * time.Millisecond
)

// fakeTransport records emitted events and lets tests deliver inbound ones
// straight into the registered handlers.
type fakeTransport struct {
	mu        sync.Mutex
	handlers  map[string]transport.Handler
	sent      []event.WsEvent
	failEmit  bool
	onConnect []func()
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]transport.Handler)}
}

func (f *fakeTransport) Emit(name string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEmit {
		return errors.New("socket closed")
	}
	ev, err := event.NewEvent(name, payload)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, ev)
	return nil
}

func (f *fakeTransport) On(name string, h transport.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h == nil {
		delete(f.handlers, name)
		return
	}
	f.handlers[name] = h
}

func (f *fakeTransport) Off(name string) { f.On(name, nil) }

func (f *fakeTransport) OnConnect(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConnect = append(f.onConnect, fn)
}

// deliver routes an inbound event into the coordinator synchronously.
func (f *fakeTransport) deliver(t *testing.T, name string, payload any) {
	t.Helper()
	ev, err := event.NewEvent(name, payload)
	require.NoError(t, err)
	f.mu.Lock()
	h := f.handlers[name]
	f.mu.Unlock()
	require.NotNil(t, h, "no handler registered for %s", name)
	h(ev)
}

func (f *fakeTransport) sentNamed(name string) []event.WsEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []event.WsEvent
	for _, ev := range f.sent {
		if ev.Event == name {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeTransport) countSent(name string) int { return len(f.sentNamed(name)) }

type fakeMediaSession struct {
	mu       sync.Mutex
	released int
}

func (s *fakeMediaSession) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
}

func (s *fakeMediaSession) releaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

type fakeMedia struct {
	mu      sync.Mutex
	joinErr error
	session *fakeMediaSession
}

func (m *fakeMedia) Join(ctx context.Context, grant RoomGrant, callType string) (MediaSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.joinErr != nil {
		return nil, m.joinErr
	}
	m.session = &fakeMediaSession{}
	return m.session, nil
}

// recordAlerts logs every actuator invocation as a string.
type recordAlerts struct {
	mu      sync.Mutex
	ringing bool
	calls   []string
}

func (a *recordAlerts) record(s string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, s)
}

func (a *recordAlerts) RingtoneStart() {
	a.mu.Lock()
	a.ringing = true
	a.mu.Unlock()
	a.record("ringtone_start")
}

func (a *recordAlerts) RingtoneStop() {
	a.mu.Lock()
	a.ringing = false
	a.mu.Unlock()
	a.record("ringtone_stop")
}

func (a *recordAlerts) ToastAccepted(name string) { a.record("accepted:" + name) }
func (a *recordAlerts) ToastRejected(reason string, wellKnown bool) {
	a.record(fmt.Sprintf("rejected:%s:%t", reason, wellKnown))
}
func (a *recordAlerts) ToastEnded(duration int)         { a.record(fmt.Sprintf("ended:%d", duration)) }
func (a *recordAlerts) ToastNoAnswer()                  { a.record("no_answer") }
func (a *recordAlerts) ToastMissed(callerName string)   { a.record("missed:" + callerName) }
func (a *recordAlerts) ToastFailed(message string)      { a.record("failed:" + message) }
func (a *recordAlerts) ToastParticipantJoined(n string) { a.record("joined:" + n) }
func (a *recordAlerts) ToastParticipantLeft(n string)   { a.record("left:" + n) }

func (a *recordAlerts) has(s string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.calls {
		if c == s {
			return true
		}
	}
	return false
}

func (a *recordAlerts) isRinging() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ringing
}

type fixture struct {
	tr     *fakeTransport
	media  *fakeMedia
	alerts *recordAlerts
	coord  *Coordinator
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	tr := newFakeTransport()
	media := &fakeMedia{}
	alerts := &recordAlerts{}
	coord := NewCoordinator(tr, media, alerts, "u-self", "Self", opts, zaptest.NewLogger(t))
	t.Cleanup(coord.Close)
	return &fixture{tr: tr, media: media, alerts: alerts, coord: coord}
}

func waitStatus(t *testing.T, c *Coordinator, want Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.Current().Status == want
	}, eventuallyWait, eventuallyTick, "waiting for status %s, have %s", want, c.Current().Status)
}

// connect drives a fixture all the way to a connected outbound call.
func (f *fixture) connect(t *testing.T, conversationID string) {
	t.Helper()
	require.NoError(t, f.coord.Initiate(conversationID, event.CallTypeVideo))
	f.tr.deliver(t, event.EventCallAccepted, model.CallAcceptedEvent{
		ConversationID: conversationID,
		AccepterID:     "u-peer",
		AccepterName:   "Peer",
		RoomName:       "room-1",
		Token:          "tok-1",
	})
	waitStatus(t, f.coord, StatusConnected)
}

func TestInitiateTransitionsToRinging(t *testing.T) {
	f := newFixture(t, Options{})

	require.NoError(t, f.coord.Initiate("conv-1", event.CallTypeAudio))

	snap := f.coord.Current()
	assert.Equal(t, StatusRinging, snap.Status)
	assert.Equal(t, "conv-1", snap.ConversationID)
	assert.Equal(t, 1, f.tr.countSent(event.EventCallInitiate))
}

func TestInitiateWhileBusyFails(t *testing.T) {
	f := newFixture(t, Options{})

	require.NoError(t, f.coord.Initiate("conv-1", event.CallTypeAudio))
	err := f.coord.Initiate("conv-2", event.CallTypeAudio)

	assert.ErrorIs(t, err, ErrAlreadyInCall)
	assert.Equal(t, "conv-1", f.coord.Current().ConversationID)
	assert.Equal(t, 1, f.tr.countSent(event.EventCallInitiate))
}

func TestInitiateRejectsBadCallType(t *testing.T) {
	f := newFixture(t, Options{})

	err := f.coord.Initiate("conv-1", "screenshare")

	assert.ErrorIs(t, err, ErrInvalidCallType)
	assert.Equal(t, StatusIdle, f.coord.Current().Status)
}

func TestInitiateEmitFailureResetsToIdle(t *testing.T) {
	f := newFixture(t, Options{})
	f.tr.failEmit = true

	err := f.coord.Initiate("conv-1", event.CallTypeAudio)

	require.Error(t, err)
	assert.Equal(t, StatusIdle, f.coord.Current().Status)
}

func TestCallerAcceptedConnectsAndTracksParticipant(t *testing.T) {
	f := newFixture(t, Options{})

	f.connect(t, "conv-1")

	snap := f.coord.Current()
	require.NotNil(t, snap.StartTime)
	require.Len(t, snap.Participants, 1)
	assert.Equal(t, "u-peer", snap.Participants[0].ID)
	assert.True(t, f.alerts.has("accepted:Peer"))
}

func TestRemoteEndReleasesEverything(t *testing.T) {
	f := newFixture(t, Options{})
	f.connect(t, "conv-1")

	f.tr.deliver(t, event.EventCallEnded, model.CallEndedEvent{
		ConversationID: "conv-1",
		EndedBy:        "u-peer",
		Duration:       42,
	})

	assert.Equal(t, StatusIdle, f.coord.Current().Status)
	assert.True(t, f.alerts.has("ended:42"))
	require.Eventually(t, func() bool {
		return f.media.session.releaseCount() > 0
	}, eventuallyWait, eventuallyTick)
}

func TestLocalEndReleasesMediaAndNotifies(t *testing.T) {
	f := newFixture(t, Options{})
	f.connect(t, "conv-1")

	f.coord.End()

	assert.Equal(t, StatusIdle, f.coord.Current().Status)
	assert.Equal(t, 1, f.tr.countSent(event.EventCallEnd))
	assert.Equal(t, 1, f.media.session.releaseCount())
}

func TestEndWhileIdleIsNoop(t *testing.T) {
	f := newFixture(t, Options{})

	f.coord.End()

	assert.Equal(t, StatusIdle, f.coord.Current().Status)
	assert.Equal(t, 0, f.tr.countSent(event.EventCallEnd))
}

func TestRemoteRejectMapsWellKnownReasons(t *testing.T) {
	cases := []struct {
		reason string
		toast  string
	}{
		{event.ReasonBusy, "rejected:busy:true"},
		{event.ReasonDeclined, "rejected:declined:true"},
		{"in a meeting, call later", "rejected:in a meeting, call later:false"},
	}
	for _, tc := range cases {
		t.Run(tc.reason, func(t *testing.T) {
			f := newFixture(t, Options{})
			require.NoError(t, f.coord.Initiate("conv-1", event.CallTypeAudio))

			f.tr.deliver(t, event.EventCallRejected, model.CallRejectedEvent{
				ConversationID: "conv-1",
				RejecterID:     "u-peer",
				Reason:         tc.reason,
			})

			assert.Equal(t, StatusIdle, f.coord.Current().Status)
			assert.True(t, f.alerts.has(tc.toast), "calls: %v", f.alerts.calls)
		})
	}
}

func TestIncomingCreatesOfferAndRings(t *testing.T) {
	f := newFixture(t, Options{})

	f.tr.deliver(t, event.EventCallIncoming, model.CallIncomingEvent{
		ConversationID: "conv-1",
		CallerID:       "u-peer",
		CallerName:     "Peer",
		CallType:       event.CallTypeVideo,
	})

	snap := f.coord.Current()
	assert.Equal(t, StatusIdle, snap.Status)
	require.NotNil(t, snap.Offer)
	assert.Equal(t, "u-peer", snap.Offer.CallerID)
	assert.True(t, f.alerts.isRinging())
}

func TestOwnCallEchoIsIgnored(t *testing.T) {
	f := newFixture(t, Options{})

	f.tr.deliver(t, event.EventCallIncoming, model.CallIncomingEvent{
		ConversationID: "conv-1",
		CallerID:       "u-self",
	})

	assert.Nil(t, f.coord.Current().Offer)
	assert.False(t, f.alerts.isRinging())
}

func TestIncomingWhileBusySendsBusyReject(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.coord.Initiate("conv-1", event.CallTypeAudio))

	f.tr.deliver(t, event.EventCallIncoming, model.CallIncomingEvent{
		ConversationID: "conv-2",
		CallerID:       "u-other",
	})

	rejects := f.tr.sentNamed(event.EventCallReject)
	require.Len(t, rejects, 1)
	var p model.CallRejectPayload
	require.NoError(t, transport.DecodePayload(rejects[0], &p))
	assert.Equal(t, "conv-2", p.ConversationID)
	assert.Equal(t, event.ReasonBusy, p.Reason)
	assert.Nil(t, f.coord.Current().Offer)
}

func TestDuplicateIncomingIsIgnored(t *testing.T) {
	f := newFixture(t, Options{})
	incoming := model.CallIncomingEvent{
		ConversationID: "conv-1",
		CallerID:       "u-peer",
		CallerName:     "Peer",
	}

	f.tr.deliver(t, event.EventCallIncoming, incoming)
	f.tr.deliver(t, event.EventCallIncoming, incoming)

	require.NotNil(t, f.coord.Current().Offer)
	assert.Equal(t, 0, f.tr.countSent(event.EventCallReject))

	// Resolve the offer, then redeliver within the dedup window. The
	// stale copy must not reopen it.
	f.coord.Reject("")
	f.tr.deliver(t, event.EventCallIncoming, incoming)

	assert.Nil(t, f.coord.Current().Offer)
	assert.Equal(t, 1, f.tr.countSent(event.EventCallReject))
}

func TestAcceptMovesToConnectingThenConnected(t *testing.T) {
	f := newFixture(t, Options{})
	f.tr.deliver(t, event.EventCallIncoming, model.CallIncomingEvent{
		ConversationID: "conv-1",
		CallerID:       "u-peer",
		CallerName:     "Peer",
		CallType:       event.CallTypeAudio,
	})

	f.coord.Accept()

	snap := f.coord.Current()
	assert.Equal(t, StatusConnecting, snap.Status)
	assert.Nil(t, snap.Offer)
	assert.False(t, f.alerts.isRinging())
	assert.Equal(t, 1, f.tr.countSent(event.EventCallAccept))

	// Relay confirms with the room grant addressed to us.
	f.tr.deliver(t, event.EventCallAccepted, model.CallAcceptedEvent{
		ConversationID: "conv-1",
		AccepterID:     "u-self",
		RoomName:       "room-1",
		Token:          "tok-1",
	})
	waitStatus(t, f.coord, StatusConnected)
}

func TestAcceptWithoutOfferIsNoop(t *testing.T) {
	f := newFixture(t, Options{})

	f.coord.Accept()

	assert.Equal(t, StatusIdle, f.coord.Current().Status)
	assert.Equal(t, 0, f.tr.countSent(event.EventCallAccept))
}

func TestRejectClearsOffer(t *testing.T) {
	f := newFixture(t, Options{})
	f.tr.deliver(t, event.EventCallIncoming, model.CallIncomingEvent{
		ConversationID: "conv-1",
		CallerID:       "u-peer",
	})

	f.coord.Reject("busy with homework")

	assert.Nil(t, f.coord.Current().Offer)
	assert.False(t, f.alerts.isRinging())
	rejects := f.tr.sentNamed(event.EventCallReject)
	require.Len(t, rejects, 1)
	var p model.CallRejectPayload
	require.NoError(t, transport.DecodePayload(rejects[0], &p))
	assert.Equal(t, "busy with homework", p.Reason)
}

func TestEndedCancelsPendingOffer(t *testing.T) {
	f := newFixture(t, Options{})
	f.tr.deliver(t, event.EventCallIncoming, model.CallIncomingEvent{
		ConversationID: "conv-1",
		CallerID:       "u-peer",
		CallerName:     "Peer",
	})

	f.tr.deliver(t, event.EventCallEnded, model.CallEndedEvent{
		ConversationID: "conv-1",
		EndedBy:        "u-peer",
	})

	assert.Nil(t, f.coord.Current().Offer)
	assert.False(t, f.alerts.isRinging())
	assert.True(t, f.alerts.has("missed:Peer"))
}

func TestEndedForUnknownConversationIsNoop(t *testing.T) {
	f := newFixture(t, Options{})
	f.connect(t, "conv-1")

	f.tr.deliver(t, event.EventCallEnded, model.CallEndedEvent{
		ConversationID: "conv-other",
		EndedBy:        "u-x",
	})

	assert.Equal(t, StatusConnected, f.coord.Current().Status)
}

func TestOfferTimeoutAutoRejects(t *testing.T) {
	f := newFixture(t, Options{RingTimeout: 30 * time.Millisecond})
	f.tr.deliver(t, event.EventCallIncoming, model.CallIncomingEvent{
		ConversationID: "conv-1",
		CallerID:       "u-peer",
	})

	require.Eventually(t, func() bool {
		return f.tr.countSent(event.EventCallReject) == 1
	}, eventuallyWait, eventuallyTick)

	var p model.CallRejectPayload
	require.NoError(t, transport.DecodePayload(f.tr.sentNamed(event.EventCallReject)[0], &p))
	assert.Equal(t, event.ReasonNoAnswer, p.Reason)
	assert.Nil(t, f.coord.Current().Offer)
	assert.False(t, f.alerts.isRinging())
}

func TestEstablishTimeoutGivesUp(t *testing.T) {
	f := newFixture(t, Options{RingTimeout: 30 * time.Millisecond})
	require.NoError(t, f.coord.Initiate("conv-1", event.CallTypeAudio))

	require.Eventually(t, func() bool {
		return f.alerts.has("no_answer")
	}, eventuallyWait, eventuallyTick)

	assert.Equal(t, StatusIdle, f.coord.Current().Status)
	assert.Equal(t, 1, f.tr.countSent(event.EventCallEnd))
}

func TestStaleTimerFireIsDiscarded(t *testing.T) {
	f := newFixture(t, Options{RingTimeout: 50 * time.Millisecond})
	f.connect(t, "conv-1")

	// Let the original establish deadline pass well behind us. The call
	// was answered first, so the fire must not tear the session down.
	time.Sleep(120 * time.Millisecond)

	assert.Equal(t, StatusConnected, f.coord.Current().Status)
	assert.False(t, f.alerts.has("no_answer"))
}

func TestMediaJoinFailureFailsTheCall(t *testing.T) {
	f := newFixture(t, Options{})
	f.media.joinErr = errors.New("permission denied")
	require.NoError(t, f.coord.Initiate("conv-1", event.CallTypeVideo))

	f.tr.deliver(t, event.EventCallAccepted, model.CallAcceptedEvent{
		ConversationID: "conv-1",
		AccepterID:     "u-peer",
		RoomName:       "room-1",
		Token:          "tok-1",
	})

	require.Eventually(t, func() bool {
		return f.alerts.has("failed:permission denied")
	}, eventuallyWait, eventuallyTick)
	assert.Equal(t, StatusIdle, f.coord.Current().Status)
	assert.Equal(t, 1, f.tr.countSent(event.EventCallEnd))
}

func TestDurationTicks(t *testing.T) {
	f := newFixture(t, Options{TickInterval: 10 * time.Millisecond})
	f.connect(t, "conv-1")

	require.Eventually(t, func() bool {
		return f.coord.Current().Elapsed >= 2
	}, eventuallyWait, eventuallyTick)
}

func TestToggleMuteBroadcastsWhileInCall(t *testing.T) {
	f := newFixture(t, Options{})
	f.connect(t, "conv-1")

	muted := f.coord.ToggleMute()

	assert.True(t, muted)
	require.Equal(t, 1, f.tr.countSent(event.EventCallMuteStatus))
	var p model.MuteStatusPayload
	require.NoError(t, transport.DecodePayload(f.tr.sentNamed(event.EventCallMuteStatus)[0], &p))
	assert.True(t, p.IsMuted)

	assert.False(t, f.coord.ToggleMute())
}

func TestParticipantRosterFollowsEvents(t *testing.T) {
	f := newFixture(t, Options{})
	f.connect(t, "conv-1")

	f.tr.deliver(t, event.EventCallParticipantJoined, model.CallParticipantEvent{
		ConversationID: "conv-1",
		UserID:         "u-third",
		Name:           "Third",
	})
	require.Len(t, f.coord.Current().Participants, 2)

	f.tr.deliver(t, event.EventCallParticipantMuted, model.CallParticipantMutedEvent{
		ConversationID: "conv-1",
		UserID:         "u-third",
		IsMuted:        true,
	})
	snap := f.coord.Current()
	for _, p := range snap.Participants {
		if p.ID == "u-third" {
			assert.True(t, p.IsMuted)
		}
	}

	f.tr.deliver(t, event.EventCallParticipantLeft, model.CallParticipantEvent{
		ConversationID: "conv-1",
		UserID:         "u-third",
		Name:           "Third",
	})
	require.Len(t, f.coord.Current().Participants, 1)
	assert.True(t, f.alerts.has("left:Third"))
}

func TestRelayErrorFailsOutboundCall(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.coord.Initiate("conv-1", event.CallTypeAudio))

	f.tr.deliver(t, event.EventCallError, model.CallErrorEvent{
		ConversationID: "conv-1",
		Code:           "callee_offline",
		Error:          "nobody is online to receive the call",
	})

	assert.Equal(t, StatusIdle, f.coord.Current().Status)
	assert.True(t, f.alerts.has("failed:nobody is online to receive the call"))
}

func TestRelayErrorWhileConnectedIsInformational(t *testing.T) {
	f := newFixture(t, Options{})
	f.connect(t, "conv-1")

	f.tr.deliver(t, event.EventCallError, model.CallErrorEvent{
		Code:  "unknown_call",
		Error: "no live call for this conversation",
	})

	assert.Equal(t, StatusConnected, f.coord.Current().Status)
}

type panickyAlerts struct{ NopAlerts }

func (panickyAlerts) RingtoneStart() { panic("speaker on fire") }

func TestAlertPanicDoesNotCorruptState(t *testing.T) {
	tr := newFakeTransport()
	coord := NewCoordinator(tr, &fakeMedia{}, panickyAlerts{}, "u-self", "Self", Options{}, zaptest.NewLogger(t))
	t.Cleanup(coord.Close)

	tr.deliver(t, event.EventCallIncoming, model.CallIncomingEvent{
		ConversationID: "conv-1",
		CallerID:       "u-peer",
	})

	require.NotNil(t, coord.Current().Offer)
}

func TestListenerReceivesTransitions(t *testing.T) {
	f := newFixture(t, Options{})

	var mu sync.Mutex
	var statuses []Status
	unsub := f.coord.Subscribe(func(s Snapshot) {
		mu.Lock()
		statuses = append(statuses, s.Status)
		mu.Unlock()
	})
	defer unsub()

	require.NoError(t, f.coord.Initiate("conv-1", event.CallTypeAudio))
	f.coord.End()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return containsStatus(statuses, StatusRinging) &&
			containsStatus(statuses, StatusEnded) &&
			statuses[len(statuses)-1] == StatusIdle
	}, eventuallyWait, eventuallyTick)
}

func containsStatus(ss []Status, want Status) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}
