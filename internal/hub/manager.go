package hub

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"Tutorlink/internal/event"
)

const (
	shardCount = 64 // tune: 16/64/128 depending on load
)

type inboundMessage struct {
	event  event.WsEvent
	client *Client
}

type userBucket struct {
	sync.RWMutex
	users map[string]map[string]*Client // userID -> clientID -> client
}

// Hub is the signaling relay. It does not own call state; clients are
// authoritative for their own sessions. The hub resolves conversation
// membership, forwards rewritten events to the right users and hands
// call commands to the CallRouter for grants and history.
type Hub struct {
	shards     [shardCount]*userBucket
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage
	calls      *CallRouter
	logger     *zap.Logger
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewHub(calls *CallRouter, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		register:   make(chan *Client, 1024),
		unregister: make(chan *Client, 1024),
		inbound:    make(chan inboundMessage, 4096), // buffer for burst handling
		calls:      calls,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}

	for i := 0; i < shardCount; i++ {
		h.shards[i] = &userBucket{
			users: make(map[string]map[string]*Client),
		}
	}
	calls.setHub(h)

	go h.run()

	for i := 0; i < workerPoolSize; i++ {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			for {
				select {
				case <-h.ctx.Done():
					return
				case in, ok := <-h.inbound:
					if !ok {
						return
					}
					h.handleEvent(in.event, in.client)
				}
			}
		}()
	}

	return h
}

func (h *Hub) handleEvent(ev event.WsEvent, c *Client) {
	switch {
	case strings.HasPrefix(ev.Event, "call:"):
		h.calls.HandleCallEvent(ev, c)
	case ev.Event == event.EventBoardUpdate, ev.Event == event.EventBoardCursor:
		h.calls.RelayBoardEvent(ev, c)
	default:
		h.logger.Warn("unknown event type", zap.String("event", ev.Event))
	}
}

// SendToUser delivers ev to every live client of userID. Returns the
// number of clients reached.
func (h *Hub) SendToUser(userID string, ev event.WsEvent) int {
	b := h.shards[getShard(userID)]

	b.RLock()
	conns, ok := b.users[userID]
	if !ok || len(conns) == 0 {
		b.RUnlock()
		return 0
	}
	clients := make([]*Client, 0, len(conns))
	for _, c := range conns {
		clients = append(clients, c)
	}
	b.RUnlock()

	delivered := 0
	for _, c := range clients {
		if c.SafeSend(ev, sendTimeout) {
			delivered++
			continue
		}
		h.logger.Warn("egress full", zap.String("client_id", c.ID), zap.String("user_id", userID))
		if kickOnFull {
			select {
			case h.unregister <- c:
			case <-time.After(unregisterTimeout):
			}
		}
	}
	return delivered
}

// UserOnline reports whether userID has at least one live client.
func (h *Hub) UserOnline(userID string) bool {
	b := h.shards[getShard(userID)]
	b.RLock()
	defer b.RUnlock()
	return len(b.users[userID]) > 0
}

func getShard(userID string) uint32 {
	if userID == "" {
		return 0
	}
	s := sha1.Sum([]byte(userID))
	return binary.BigEndian.Uint32(s[:4]) % shardCount
}

func (h *Hub) addClient(c *Client) {
	b := h.shards[getShard(c.userID)]
	b.Lock()
	defer b.Unlock()

	conns, ok := b.users[c.userID]
	if !ok {
		conns = make(map[string]*Client)
		b.users[c.userID] = conns
	}
	conns[c.ID] = c
}

func (h *Hub) removeClient(c *Client) {
	b := h.shards[getShard(c.userID)]
	b.Lock()
	defer b.Unlock()

	if conns, ok := b.users[c.userID]; ok {
		delete(conns, c.ID)
		if len(conns) == 0 {
			delete(b.users, c.userID)
		}
		c.Close()
	}
}

func (h *Hub) run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

func (h *Hub) Stop() {
	h.cancel()

	for _, shard := range h.shards {
		shard.RLock()
		for _, conns := range shard.users {
			for _, client := range conns {
				client.Close()
			}
		}
		shard.RUnlock()
	}

	close(h.inbound)
	h.wg.Wait()
}

// Stats is a point-in-time view for the monitor endpoint.
type Stats struct {
	Users       int `json:"users"`
	Clients     int `json:"clients"`
	ActiveCalls int `json:"activeCalls"`
}

func (h *Hub) Snapshot() Stats {
	st := Stats{ActiveCalls: h.calls.ActiveCount()}
	for _, shard := range h.shards {
		shard.RLock()
		st.Users += len(shard.users)
		for _, conns := range shard.users {
			st.Clients += len(conns)
		}
		shard.RUnlock()
	}
	return st
}

var websocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	switch origin {
	case "", "http://localhost:4200":
		return true
	case "https://www.tutorlink.app":
		return true
	default:
		return false
	}
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID, displayName string) {
	conn, err := websocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	RegisterClient(userID, displayName, conn, h)
}
