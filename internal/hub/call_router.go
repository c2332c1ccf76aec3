package hub

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"Tutorlink/internal/event"
	"Tutorlink/internal/model"
	"Tutorlink/internal/transport"
)

// ConversationDirectory resolves who belongs to a conversation. Backed by
// the conversation collection; the router never caches the answer.
type ConversationDirectory interface {
	Members(ctx context.Context, conversationID string) ([]string, error)
}

// GrantMinter issues media room access tokens. One token per user per
// room; the relay never inspects tokens after minting.
type GrantMinter interface {
	Mint(roomName, userID string) (string, error)
}

// CallHistory persists finished calls. May be nil to disable history.
type CallHistory interface {
	Record(ctx context.Context, rec model.CallRecord) error
}

const (
	directoryTimeout = 2 * time.Second
	historyTimeout   = 5 * time.Second
)

// CallRouter rewrites call commands into peer notifications. Clients are
// authoritative for call state; the router keeps only the bookkeeping it
// needs to mint grants, address the teardown and write history records.
type CallRouter struct {
	hub       *Hub
	directory ConversationDirectory
	grants    GrantMinter
	history   CallHistory
	logger    *zap.Logger

	activeCalls   map[string]*activeCall
	activeCallsMu sync.RWMutex
}

type activeCall struct {
	conversationID string
	callerID       string
	callerName     string
	peerIDs        []string
	callType       string
	createdAt      time.Time
	acceptedBy     string
	acceptedAt     *time.Time
}

// NewCallRouter creates the router. The hub reference is completed by
// NewHub via setHub.
func NewCallRouter(directory ConversationDirectory, grants GrantMinter, history CallHistory, logger *zap.Logger) *CallRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallRouter{
		directory:   directory,
		grants:      grants,
		history:     history,
		logger:      logger,
		activeCalls: make(map[string]*activeCall),
	}
}

func (cr *CallRouter) setHub(h *Hub) { cr.hub = h }

// ActiveCount reports how many call attempts are currently live.
func (cr *CallRouter) ActiveCount() int {
	cr.activeCallsMu.RLock()
	defer cr.activeCallsMu.RUnlock()
	return len(cr.activeCalls)
}

// HandleCallEvent processes one call command from a client.
func (cr *CallRouter) HandleCallEvent(ev event.WsEvent, c *Client) {
	switch ev.Event {
	case event.EventCallInitiate:
		cr.handleInitiate(ev, c)
	case event.EventCallAccept:
		cr.handleAccept(ev, c)
	case event.EventCallReject:
		cr.handleReject(ev, c)
	case event.EventCallEnd:
		cr.handleEnd(ev, c)
	case event.EventCallMuteStatus:
		cr.handleMuteStatus(ev, c)
	default:
		cr.logger.Warn("unknown call event", zap.String("event", ev.Event))
	}
}

func (cr *CallRouter) handleInitiate(ev event.WsEvent, c *Client) {
	var payload model.CallInitiatePayload
	if err := transport.DecodePayload(ev, &payload); err != nil {
		cr.sendCallError(c, "", "invalid_payload", "failed to parse call initiate request")
		return
	}
	if payload.ConversationID == "" {
		cr.sendCallError(c, "", "invalid_conversation_id", "conversationId is required")
		return
	}
	if payload.CallType != event.CallTypeAudio && payload.CallType != event.CallTypeVideo {
		cr.sendCallError(c, payload.ConversationID, "invalid_call_type", "callType must be 'audio' or 'video'")
		return
	}

	peers, err := cr.peersOf(payload.ConversationID, c.userID)
	if err != nil {
		cr.logger.Warn("conversation lookup failed",
			zap.String("conversation_id", payload.ConversationID),
			zap.Error(err),
		)
		cr.sendCallError(c, payload.ConversationID, "conversation_not_found", "conversation could not be resolved")
		return
	}
	if len(peers) == 0 {
		cr.sendCallError(c, payload.ConversationID, "no_participants", "nobody else in this conversation")
		return
	}

	cr.activeCallsMu.Lock()
	// A redelivered initiate for a live attempt is dropped; the callee
	// side guards against duplicate ring events anyway.
	if _, exists := cr.activeCalls[payload.ConversationID]; exists {
		cr.activeCallsMu.Unlock()
		return
	}
	cr.activeCalls[payload.ConversationID] = &activeCall{
		conversationID: payload.ConversationID,
		callerID:       c.userID,
		callerName:     c.displayName,
		peerIDs:        peers,
		callType:       payload.CallType,
		createdAt:      time.Now(),
	}
	cr.activeCallsMu.Unlock()

	incoming, err := event.NewEvent(event.EventCallIncoming, model.CallIncomingEvent{
		ConversationID: payload.ConversationID,
		CallerID:       c.userID,
		CallerName:     c.displayName,
		CallType:       payload.CallType,
		Timeout:        event.DefaultCallTimeoutSec,
		Timestamp:      time.Now().UnixMilli(),
	})
	if err != nil {
		cr.logger.Error("marshal incoming event", zap.Error(err))
		return
	}

	delivered := 0
	for _, peer := range peers {
		delivered += cr.hub.SendToUser(peer, incoming)
	}
	if delivered == 0 {
		cr.sendCallError(c, payload.ConversationID, "callee_offline", "nobody is online to receive the call")
	}

	cr.logger.Info("call initiated",
		zap.String("conversation_id", payload.ConversationID),
		zap.String("caller_id", c.userID),
		zap.Int("delivered", delivered),
	)
}

func (cr *CallRouter) handleAccept(ev event.WsEvent, c *Client) {
	var payload model.CallAcceptPayload
	if err := transport.DecodePayload(ev, &payload); err != nil {
		cr.sendCallError(c, "", "invalid_payload", "failed to parse call accept request")
		return
	}

	cr.activeCallsMu.Lock()
	ac, ok := cr.activeCalls[payload.ConversationID]
	if !ok {
		cr.activeCallsMu.Unlock()
		cr.sendCallError(c, payload.ConversationID, "unknown_call", "no live call for this conversation")
		return
	}
	if ac.acceptedBy != "" && ac.acceptedBy != c.userID {
		cr.activeCallsMu.Unlock()
		return
	}
	now := time.Now()
	ac.acceptedBy = c.userID
	ac.acceptedAt = &now
	members := append([]string{ac.callerID}, ac.peerIDs...)
	cr.activeCallsMu.Unlock()

	roomName := "call-" + payload.ConversationID
	for _, member := range members {
		token, err := cr.grants.Mint(roomName, member)
		if err != nil {
			cr.logger.Error("grant minting failed",
				zap.String("conversation_id", payload.ConversationID),
				zap.String("user_id", member),
				zap.Error(err),
			)
			continue
		}
		accepted, err := event.NewEvent(event.EventCallAccepted, model.CallAcceptedEvent{
			ConversationID: payload.ConversationID,
			AccepterID:     c.userID,
			AccepterName:   c.displayName,
			RoomName:       roomName,
			Token:          token,
			Timestamp:      now.UnixMilli(),
		})
		if err != nil {
			cr.logger.Error("marshal accepted event", zap.Error(err))
			return
		}
		cr.hub.SendToUser(member, accepted)
	}

	cr.logger.Info("call accepted",
		zap.String("conversation_id", payload.ConversationID),
		zap.String("accepter_id", c.userID),
	)
}

func (cr *CallRouter) handleReject(ev event.WsEvent, c *Client) {
	var payload model.CallRejectPayload
	if err := transport.DecodePayload(ev, &payload); err != nil {
		cr.sendCallError(c, "", "invalid_payload", "failed to parse call reject request")
		return
	}

	cr.activeCallsMu.Lock()
	ac, ok := cr.activeCalls[payload.ConversationID]
	if ok {
		delete(cr.activeCalls, payload.ConversationID)
	}
	cr.activeCallsMu.Unlock()
	if !ok {
		return
	}

	rejected, err := event.NewEvent(event.EventCallRejected, model.CallRejectedEvent{
		ConversationID: payload.ConversationID,
		RejecterID:     c.userID,
		Reason:         payload.Reason,
		Timestamp:      time.Now().UnixMilli(),
	})
	if err != nil {
		cr.logger.Error("marshal rejected event", zap.Error(err))
		return
	}
	cr.hub.SendToUser(ac.callerID, rejected)

	outcome := "rejected"
	if payload.Reason == event.ReasonNoAnswer {
		outcome = "missed"
	}
	cr.persist(ac, outcome, payload.Reason, 0, nil)

	cr.logger.Info("call rejected",
		zap.String("conversation_id", payload.ConversationID),
		zap.String("rejecter_id", c.userID),
		zap.String("reason", payload.Reason),
	)
}

func (cr *CallRouter) handleEnd(ev event.WsEvent, c *Client) {
	var payload model.CallEndPayload
	if err := transport.DecodePayload(ev, &payload); err != nil {
		cr.sendCallError(c, "", "invalid_payload", "failed to parse call end request")
		return
	}

	cr.activeCallsMu.Lock()
	ac, ok := cr.activeCalls[payload.ConversationID]
	if ok {
		delete(cr.activeCalls, payload.ConversationID)
	}
	cr.activeCallsMu.Unlock()
	if !ok {
		// End for an unknown conversation is not an error; the client may
		// be cleaning up after a relay restart.
		return
	}

	now := time.Now()
	duration := 0
	outcome := "missed" // caller hung up before anyone answered
	var endedAt *time.Time
	if ac.acceptedAt != nil {
		duration = int(now.Sub(*ac.acceptedAt) / time.Second)
		outcome = "completed"
		endedAt = &now
	}

	ended, err := event.NewEvent(event.EventCallEnded, model.CallEndedEvent{
		ConversationID: payload.ConversationID,
		EndedBy:        c.userID,
		Duration:       duration,
		Timestamp:      now.UnixMilli(),
	})
	if err != nil {
		cr.logger.Error("marshal ended event", zap.Error(err))
		return
	}
	for _, member := range append([]string{ac.callerID}, ac.peerIDs...) {
		if member == c.userID {
			continue
		}
		cr.hub.SendToUser(member, ended)
	}

	cr.persist(ac, outcome, "", duration, endedAt)

	cr.logger.Info("call ended",
		zap.String("conversation_id", payload.ConversationID),
		zap.String("ended_by", c.userID),
		zap.Int("duration", duration),
	)
}

func (cr *CallRouter) handleMuteStatus(ev event.WsEvent, c *Client) {
	var payload model.MuteStatusPayload
	if err := transport.DecodePayload(ev, &payload); err != nil {
		return
	}

	cr.activeCallsMu.RLock()
	ac, ok := cr.activeCalls[payload.ConversationID]
	cr.activeCallsMu.RUnlock()
	if !ok {
		return
	}

	muted, err := event.NewEvent(event.EventCallParticipantMuted, model.CallParticipantMutedEvent{
		ConversationID: payload.ConversationID,
		UserID:         c.userID,
		IsMuted:        payload.IsMuted,
		Timestamp:      time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}
	for _, member := range append([]string{ac.callerID}, ac.peerIDs...) {
		if member == c.userID {
			continue
		}
		cr.hub.SendToUser(member, muted)
	}
}

// RelayBoardEvent forwards a whiteboard event untouched to the other
// conversation members.
func (cr *CallRouter) RelayBoardEvent(ev event.WsEvent, c *Client) {
	var scope struct {
		ConversationID string `json:"conversationId"`
	}
	if err := transport.DecodePayload(ev, &scope); err != nil || scope.ConversationID == "" {
		return
	}

	peers, err := cr.peersOf(scope.ConversationID, c.userID)
	if err != nil {
		cr.logger.Warn("board relay lookup failed",
			zap.String("conversation_id", scope.ConversationID),
			zap.Error(err),
		)
		return
	}
	for _, peer := range peers {
		cr.hub.SendToUser(peer, ev)
	}
}

// peersOf returns the conversation members excluding exclude.
func (cr *CallRouter) peersOf(conversationID, exclude string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), directoryTimeout)
	defer cancel()

	members, err := cr.directory.Members(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	peers := make([]string, 0, len(members))
	for _, m := range members {
		if m != exclude {
			peers = append(peers, m)
		}
	}
	return peers, nil
}

func (cr *CallRouter) persist(ac *activeCall, outcome, reason string, duration int, endedAt *time.Time) {
	if cr.history == nil {
		return
	}
	calleeID := ""
	if len(ac.peerIDs) > 0 {
		calleeID = ac.peerIDs[0]
	}
	rec := model.CallRecord{
		ConversationID: ac.conversationID,
		CallerID:       ac.callerID,
		CalleeID:       calleeID,
		CallType:       ac.callType,
		Outcome:        outcome,
		Reason:         reason,
		StartedAt:      ac.createdAt,
		EndedAt:        endedAt,
		Duration:       duration,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		defer cancel()
		if err := cr.history.Record(ctx, rec); err != nil {
			cr.logger.Error("call history write failed",
				zap.String("conversation_id", rec.ConversationID),
				zap.Error(err),
			)
		}
	}()
}

func (cr *CallRouter) sendCallError(c *Client, conversationID, code, message string) {
	errEv, err := event.NewEvent(event.EventCallError, model.CallErrorEvent{
		ConversationID: conversationID,
		Code:           code,
		Error:          message,
		Timestamp:      time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}
	c.SafeSend(errEv, sendTimeout)
}
