// Package call implements the client side of call-session signaling: one
// state machine that owns the session record, the incoming-offer slot, the
// ring/establish timers and the duration ticker, and drives ringtone and
// toast side effects. The transport delivers events at-least-once and
// possibly reordered across reconnects; everything here is written to
// tolerate duplicates, stale timer fires and out-of-order teardown.
package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"Tutorlink/internal/event"
	"Tutorlink/internal/model"
	"Tutorlink/internal/transport"
)

var (
	ErrAlreadyInCall   = errors.New("already in a call")
	ErrInvalidCallType = errors.New("call type must be audio or video")
)

// Transport is the surface the coordinator needs from the realtime layer.
// *transport.Conn satisfies it; tests use an in-memory fake.
type Transport interface {
	Emit(name string, payload any) error
	On(name string, h transport.Handler)
	Off(name string)
	OnConnect(fn func())
}

// Options tunes the coordinator's timing. Zero values take defaults.
type Options struct {
	// RingTimeout bounds both the caller-side establishment wait and the
	// callee-side offer auto-reject. Clamped to MaxCallTimeoutSec.
	RingTimeout time.Duration

	// DedupWindow is how long a processed conversation ID shields against
	// redelivered incoming-call events.
	DedupWindow time.Duration

	// TickInterval is the elapsed-duration tick while connected.
	TickInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.RingTimeout <= 0 {
		o.RingTimeout = event.DefaultCallTimeoutSec * time.Second
	}
	if o.RingTimeout > event.MaxCallTimeoutSec*time.Second {
		o.RingTimeout = event.MaxCallTimeoutSec * time.Second
	}
	if o.DedupWindow <= 0 {
		o.DedupWindow = 5 * time.Second
	}
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	return o
}

// Coordinator owns the single Session record and the single Offer slot.
// All mutation happens under mu, whether triggered by a public command, an
// inbound transport event or a timer fire - so every decision point reads
// the live state, never a snapshot captured when a callback was installed.
type Coordinator struct {
	tr     Transport
	media  Media
	alerts Alerts
	logger *zap.Logger
	opts   Options

	selfID   string
	selfName string

	mu       sync.Mutex
	session  Session
	offer    *Offer
	elapsed  int
	mediaSes MediaSession
	timers   *timerSet
	dedup    *dedupGuard

	listenersMu  sync.Mutex
	listeners    map[int]func(Snapshot)
	nextListener int

	updates chan Snapshot

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewCoordinator wires the coordinator to tr and registers its event
// handlers immediately. Registration is repeated on every transport
// reconnect; On replaces rather than appends, so re-registration is
// idempotent. media and alerts may be nil.
func NewCoordinator(tr Transport, media Media, alerts Alerts, selfID, selfName string, opts Options, logger *zap.Logger) *Coordinator {
	if media == nil {
		media = NopMedia{}
	}
	if alerts == nil {
		alerts = NopAlerts{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		tr:        tr,
		media:     media,
		alerts:    alerts,
		logger:    logger,
		opts:      opts,
		selfID:    selfID,
		selfName:  selfName,
		session:   Session{Status: StatusIdle},
		timers:    newTimerSet(),
		dedup:     newDedupGuard(opts.DedupWindow),
		listeners: make(map[int]func(Snapshot)),
		updates:   make(chan Snapshot, 64),
		ctx:       ctx,
		cancel:    cancel,
	}

	c.register()
	tr.OnConnect(c.register)
	go c.fanOut()
	return c
}

func (c *Coordinator) register() {
	c.tr.On(event.EventCallIncoming, c.handleIncoming)
	c.tr.On(event.EventCallAccepted, c.handleAccepted)
	c.tr.On(event.EventCallRejected, c.handleRejected)
	c.tr.On(event.EventCallEnded, c.handleEnded)
	c.tr.On(event.EventCallParticipantJoined, c.handleParticipantJoined)
	c.tr.On(event.EventCallParticipantLeft, c.handleParticipantLeft)
	c.tr.On(event.EventCallParticipantMuted, c.handleParticipantMuted)
	c.tr.On(event.EventCallError, c.handleCallError)
}

// Subscribe registers a presentation-layer listener and returns its
// unsubscribe function. Listeners receive snapshots in transition order on
// a dedicated goroutine and must not block for long.
func (c *Coordinator) Subscribe(fn func(Snapshot)) func() {
	c.listenersMu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.listenersMu.Unlock()

	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

// Current returns the state as of now.
func (c *Coordinator) Current() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked("")
}

// Close ends any active call and stops the coordinator.
func (c *Coordinator) Close() {
	c.once.Do(func() {
		c.End()
		c.cancel()
		c.timers.reset()
	})
}

// -----------------------------------------------------------------
// Public Commands
// -----------------------------------------------------------------

// Initiate starts an outbound call. It fails with ErrAlreadyInCall unless
// the session is idle and no offer is pending; a second call is never
// silently queued.
func (c *Coordinator) Initiate(conversationID, callType string) error {
	if callType != event.CallTypeAudio && callType != event.CallTypeVideo {
		return ErrInvalidCallType
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Status != StatusIdle || c.offer != nil {
		return ErrAlreadyInCall
	}

	c.session = Session{
		Status:         StatusInitiating,
		ConversationID: conversationID,
		CallType:       callType,
		CallerID:       c.selfID,
		CallerName:     c.selfName,
	}
	c.publishLocked("")

	if err := c.tr.Emit(event.EventCallInitiate, model.CallInitiatePayload{
		ConversationID: conversationID,
		CallType:       callType,
	}); err != nil {
		c.logger.Warn("call initiate emit failed", zap.Error(err))
		c.finishLocked(StatusFailed, "signaling unavailable")
		return err
	}

	c.session.Status = StatusRinging
	c.timers.arm(timerEstablish, c.opts.RingTimeout, c.onEstablishTimeout)
	c.publishLocked("")

	c.logger.Info("call initiated",
		zap.String("conversation_id", conversationID),
		zap.String("call_type", callType),
	)
	return nil
}

// Accept answers the pending offer. Without an offer it logs and returns;
// the transport is notified before the local offer slot is cleared so the
// remote confirmation path and the local UI update never race on it.
func (c *Coordinator) Accept() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.offer == nil {
		c.logger.Warn("accept called with no pending offer")
		return
	}
	of := *c.offer

	c.timers.disarm(timerOffer)
	c.alert(func(a Alerts) { a.RingtoneStop() })

	if err := c.tr.Emit(event.EventCallAccept, model.CallAcceptPayload{
		ConversationID: of.ConversationID,
	}); err != nil {
		c.logger.Warn("call accept emit failed", zap.Error(err))
	}

	c.offer = nil
	c.dedup.remember(of.ConversationID)
	c.session = Session{
		Status:         StatusConnecting,
		ConversationID: of.ConversationID,
		CallType:       of.CallType,
		CallerID:       of.CallerID,
		CallerName:     of.CallerName,
		Participants: []model.Participant{
			{ID: of.CallerID, Name: of.CallerName},
		},
	}
	c.publishLocked("")

	c.logger.Info("call accepted", zap.String("conversation_id", of.ConversationID))
}

// Reject declines the pending offer. reason may be free text or one of
// the well-known values; it is forwarded verbatim.
func (c *Coordinator) Reject(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.offer == nil {
		c.logger.Warn("reject called with no pending offer")
		return
	}
	if reason == "" {
		reason = event.ReasonDeclined
	}
	c.rejectOfferLocked(reason)
}

// End terminates the active call. Safe from every state; in idle it is a
// no-op. Always leaves no armed timers and no held media.
func (c *Coordinator) End() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Status == StatusIdle {
		return
	}
	conv := c.session.ConversationID
	duration := c.elapsed

	if err := c.tr.Emit(event.EventCallEnd, model.CallEndPayload{ConversationID: conv}); err != nil {
		c.logger.Warn("call end emit failed", zap.Error(err))
	}
	c.alert(func(a Alerts) { a.ToastEnded(duration) })
	c.finishLocked(StatusEnded, "")

	c.logger.Info("call ended locally",
		zap.String("conversation_id", conv),
		zap.Int("duration", duration),
	)
}

// ToggleMute flips the local mute flag and broadcasts it so remote
// participants can reflect it. Returns the new state.
func (c *Coordinator) ToggleMute() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.session.IsMuted = !c.session.IsMuted
	if c.session.Status != StatusIdle {
		if err := c.tr.Emit(event.EventCallMuteStatus, model.MuteStatusPayload{
			ConversationID: c.session.ConversationID,
			IsMuted:        c.session.IsMuted,
		}); err != nil {
			c.logger.Warn("mute status emit failed", zap.Error(err))
		}
	}
	c.publishLocked("")
	return c.session.IsMuted
}

// ToggleDeafen flips the local deafen flag. Purely local.
func (c *Coordinator) ToggleDeafen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.session.IsDeafened = !c.session.IsDeafened
	c.publishLocked("")
	return c.session.IsDeafened
}

// -----------------------------------------------------------------
// Inbound Events
// -----------------------------------------------------------------

func (c *Coordinator) handleIncoming(ev event.WsEvent) {
	var payload model.CallIncomingEvent
	if err := transport.DecodePayload(ev, &payload); err != nil {
		c.logger.Warn("bad incoming-call payload", zap.Error(err))
		return
	}

	// My own call echoed back is never an offer.
	if payload.CallerID == c.selfID {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Busy: already in a call, or already showing a different offer.
	// Auto-decline so the remote caller gets an explicit busy signal.
	if c.session.Status != StatusIdle ||
		(c.offer != nil && c.offer.ConversationID != payload.ConversationID) {
		c.emitReject(payload.ConversationID, event.ReasonBusy)
		return
	}

	// Duplicate delivery: same offer already showing, or the conversation
	// was resolved within the dedup window.
	if c.offer != nil && c.offer.ConversationID == payload.ConversationID {
		return
	}
	if c.dedup.recentlySeen(payload.ConversationID) {
		return
	}
	c.dedup.remember(payload.ConversationID)

	c.offer = &Offer{
		ConversationID: payload.ConversationID,
		CallerID:       payload.CallerID,
		CallerName:     payload.CallerName,
		CallType:       payload.CallType,
		ReceivedAt:     time.Now(),
	}
	c.alert(func(a Alerts) { a.RingtoneStart() })
	c.timers.arm(timerOffer, c.opts.RingTimeout, c.onOfferTimeout)
	c.publishLocked("")

	c.logger.Info("incoming call",
		zap.String("conversation_id", payload.ConversationID),
		zap.String("caller_id", payload.CallerID),
	)
}

func (c *Coordinator) handleAccepted(ev event.WsEvent) {
	var payload model.CallAcceptedEvent
	if err := transport.DecodePayload(ev, &payload); err != nil {
		c.logger.Warn("bad call-accepted payload", zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.ConversationID != payload.ConversationID {
		return
	}
	grant := RoomGrant{RoomName: payload.RoomName, Token: payload.Token}

	switch c.session.Status {
	case StatusInitiating, StatusRinging:
		// Caller side: the callee picked up.
		c.timers.disarm(timerEstablish)
		c.session.Status = StatusConnecting
		c.session.addParticipant(model.Participant{
			ID:   payload.AccepterID,
			Name: payload.AccepterName,
		})
		c.alert(func(a Alerts) { a.ToastAccepted(payload.AccepterName) })
		c.publishLocked("")
		go c.joinMedia(payload.ConversationID, grant, c.session.CallType)

	case StatusConnecting:
		// Callee side: our own accept confirmed, carrying the room grant.
		if payload.AccepterID == c.selfID {
			go c.joinMedia(payload.ConversationID, grant, c.session.CallType)
		}
	}
}

func (c *Coordinator) handleRejected(ev event.WsEvent) {
	var payload model.CallRejectedEvent
	if err := transport.DecodePayload(ev, &payload); err != nil {
		c.logger.Warn("bad call-rejected payload", zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.ConversationID != payload.ConversationID {
		return
	}
	if c.session.Status != StatusInitiating && c.session.Status != StatusRinging {
		return
	}

	c.timers.disarm(timerEstablish)

	status := StatusRejected
	switch payload.Reason {
	case event.ReasonBusy:
		status = StatusBusy
	case event.ReasonNoAnswer:
		status = StatusNoAnswer
	}
	reason := payload.Reason
	if reason == "" {
		reason = event.ReasonDeclined
	}
	c.alert(func(a Alerts) { a.ToastRejected(reason, event.WellKnownReason(reason)) })
	c.finishLocked(status, reason)

	c.logger.Info("call rejected by remote",
		zap.String("conversation_id", payload.ConversationID),
		zap.String("reason", reason),
	)
}

func (c *Coordinator) handleEnded(ev event.WsEvent) {
	var payload model.CallEndedEvent
	if err := transport.DecodePayload(ev, &payload); err != nil {
		c.logger.Warn("bad call-ended payload", zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Cancel of an unanswered offer: caller hung up before we picked up.
	if c.offer != nil && c.offer.ConversationID == payload.ConversationID {
		callerName := c.offer.CallerName
		c.timers.disarm(timerOffer)
		c.alert(func(a Alerts) { a.RingtoneStop() })
		c.alert(func(a Alerts) { a.ToastMissed(callerName) })
		c.dedup.remember(payload.ConversationID)
		c.offer = nil
		c.publishLocked("")
		return
	}

	// A call-ended for a conversation we never materialized (invite and
	// cancel crossed on the wire, or a stale redelivery) is a no-op.
	if c.session.Status == StatusIdle || c.session.ConversationID != payload.ConversationID {
		return
	}

	duration := payload.Duration
	if duration == 0 {
		duration = c.elapsed
	}
	c.alert(func(a Alerts) { a.ToastEnded(duration) })
	c.finishLocked(StatusEnded, payload.Reason)

	c.logger.Info("call ended by remote",
		zap.String("conversation_id", payload.ConversationID),
		zap.String("ended_by", payload.EndedBy),
		zap.Int("duration", duration),
	)
}

func (c *Coordinator) handleParticipantJoined(ev event.WsEvent) {
	var payload model.CallParticipantEvent
	if err := transport.DecodePayload(ev, &payload); err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Status == StatusIdle || c.session.ConversationID != payload.ConversationID {
		return
	}
	if payload.UserID == c.selfID {
		return
	}
	c.session.addParticipant(model.Participant{ID: payload.UserID, Name: payload.Name})
	c.alert(func(a Alerts) { a.ToastParticipantJoined(payload.Name) })
	c.publishLocked("")
}

func (c *Coordinator) handleParticipantLeft(ev event.WsEvent) {
	var payload model.CallParticipantEvent
	if err := transport.DecodePayload(ev, &payload); err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Status == StatusIdle || c.session.ConversationID != payload.ConversationID {
		return
	}
	c.session.removeParticipant(payload.UserID)
	c.alert(func(a Alerts) { a.ToastParticipantLeft(payload.Name) })
	c.publishLocked("")
}

func (c *Coordinator) handleParticipantMuted(ev event.WsEvent) {
	var payload model.CallParticipantMutedEvent
	if err := transport.DecodePayload(ev, &payload); err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Status == StatusIdle || c.session.ConversationID != payload.ConversationID {
		return
	}
	c.session.setParticipantMuted(payload.UserID, payload.IsMuted)
	c.publishLocked("")
}

func (c *Coordinator) handleCallError(ev event.WsEvent) {
	var payload model.CallErrorEvent
	if err := transport.DecodePayload(ev, &payload); err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Only a routing failure for the call we are trying to place tears
	// anything down; everything else is informational.
	if c.session.Status != StatusInitiating && c.session.Status != StatusRinging {
		c.logger.Warn("relay error",
			zap.String("code", payload.Code),
			zap.String("error", payload.Error),
		)
		return
	}
	if payload.ConversationID != "" && payload.ConversationID != c.session.ConversationID {
		return
	}

	c.alert(func(a Alerts) { a.ToastFailed(payload.Error) })
	c.finishLocked(StatusFailed, payload.Error)

	c.logger.Warn("call failed at relay",
		zap.String("conversation_id", payload.ConversationID),
		zap.String("code", payload.Code),
	)
}

// -----------------------------------------------------------------
// Timers and Media
// -----------------------------------------------------------------

func (c *Coordinator) onEstablishTimeout(gen uint64) {
	if !c.timers.stillArmed(gen) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-validate against live state: the fire may have raced an accept.
	if c.session.Status != StatusInitiating && c.session.Status != StatusRinging {
		return
	}
	conv := c.session.ConversationID

	if err := c.tr.Emit(event.EventCallEnd, model.CallEndPayload{ConversationID: conv}); err != nil {
		c.logger.Warn("cancel emit failed", zap.Error(err))
	}
	c.alert(func(a Alerts) { a.ToastNoAnswer() })
	c.finishLocked(StatusNoAnswer, event.ReasonNoAnswer)

	c.logger.Info("call timed out with no answer", zap.String("conversation_id", conv))
}

func (c *Coordinator) onOfferTimeout(gen uint64) {
	if !c.timers.stillArmed(gen) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.offer == nil {
		return
	}
	conv := c.offer.ConversationID
	c.rejectOfferLocked(event.ReasonNoAnswer)

	c.logger.Info("offer timed out, auto-rejected", zap.String("conversation_id", conv))
}

func (c *Coordinator) onTick(gen uint64) {
	if !c.timers.stillArmed(gen) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Status != StatusConnected {
		return
	}
	c.elapsed++
	c.publishLocked("")
}

// joinMedia runs off the handler goroutine. Media acquisition is the one
// slow, fallible step; its outcome is validated against the live session
// so a call that moved on while we were joining just releases the media.
func (c *Coordinator) joinMedia(conversationID string, grant RoomGrant, callType string) {
	ms, err := c.media.Join(c.ctx, grant, callType)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Status != StatusConnecting || c.session.ConversationID != conversationID {
		if err == nil {
			ms.Release()
		}
		return
	}

	if err != nil {
		c.logger.Warn("media join failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		if emitErr := c.tr.Emit(event.EventCallEnd, model.CallEndPayload{ConversationID: conversationID}); emitErr != nil {
			c.logger.Warn("end emit failed", zap.Error(emitErr))
		}
		c.alert(func(a Alerts) { a.ToastFailed(err.Error()) })
		c.finishLocked(StatusFailed, err.Error())
		return
	}

	now := time.Now()
	c.mediaSes = ms
	c.session.StartTime = &now
	c.session.Status = StatusConnected
	c.elapsed = 0
	c.timers.armRepeat(timerTicker, c.opts.TickInterval, c.onTick)
	c.publishLocked("")

	c.logger.Info("call connected", zap.String("conversation_id", conversationID))
}

// -----------------------------------------------------------------
// State Helpers (all must be called with c.mu held)
// -----------------------------------------------------------------

// rejectOfferLocked declines the current offer with reason and clears it.
func (c *Coordinator) rejectOfferLocked(reason string) {
	conv := c.offer.ConversationID
	c.timers.disarm(timerOffer)
	c.alert(func(a Alerts) { a.RingtoneStop() })
	c.emitReject(conv, reason)
	c.dedup.remember(conv)
	c.offer = nil
	c.publishLocked("")
}

func (c *Coordinator) emitReject(conversationID, reason string) {
	if err := c.tr.Emit(event.EventCallReject, model.CallRejectPayload{
		ConversationID: conversationID,
		Reason:         reason,
	}); err != nil {
		c.logger.Warn("call reject emit failed", zap.Error(err))
	}
}

// finishLocked publishes the terminal status for user feedback, then
// performs the full reset. By the time the surrounding handler returns the
// session is idle with no armed timers, no ringtone and no held media.
func (c *Coordinator) finishLocked(status Status, reason string) {
	c.session.Status = status
	c.publishLocked(reason)
	c.resetLocked()
	c.publishLocked("")
}

// resetLocked is the unconditional return to the idle baseline.
func (c *Coordinator) resetLocked() {
	c.timers.reset()
	c.alert(func(a Alerts) { a.RingtoneStop() })
	if c.mediaSes != nil {
		ms := c.mediaSes
		c.mediaSes = nil
		c.release(ms)
	}
	c.session = Session{Status: StatusIdle}
	c.offer = nil
	c.elapsed = 0
}

func (c *Coordinator) release(ms MediaSession) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("media release panicked", zap.Any("panic", r))
		}
	}()
	ms.Release()
}

// alert invokes one best-effort actuator. Panics are swallowed: side
// effects never propagate into state transitions.
func (c *Coordinator) alert(fn func(Alerts)) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("alert actuator panicked", zap.Any("panic", r))
		}
	}()
	fn(c.alerts)
}

func (c *Coordinator) snapshotLocked(reason string) Snapshot {
	snap := Snapshot{
		Status:         c.session.Status,
		ConversationID: c.session.ConversationID,
		CallType:       c.session.CallType,
		CallerID:       c.session.CallerID,
		CallerName:     c.session.CallerName,
		StartTime:      c.session.StartTime,
		Elapsed:        c.elapsed,
		IsMuted:        c.session.IsMuted,
		IsDeafened:     c.session.IsDeafened,
		Reason:         reason,
	}
	if len(c.session.Participants) > 0 {
		snap.Participants = make([]model.Participant, len(c.session.Participants))
		copy(snap.Participants, c.session.Participants)
	}
	if c.offer != nil {
		of := *c.offer
		snap.Offer = &of
	}
	return snap
}

func (c *Coordinator) publishLocked(reason string) {
	select {
	case c.updates <- c.snapshotLocked(reason):
	default:
		c.logger.Debug("snapshot buffer full, dropping update")
	}
}

// fanOut delivers snapshots to listeners in transition order, off the
// coordinator lock so a listener may call back into public commands.
func (c *Coordinator) fanOut() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case snap := <-c.updates:
			c.listenersMu.Lock()
			fns := make([]func(Snapshot), 0, len(c.listeners))
			for _, fn := range c.listeners {
				fns = append(fns, fn)
			}
			c.listenersMu.Unlock()

			for _, fn := range fns {
				fn(snap)
			}
		}
	}
}
