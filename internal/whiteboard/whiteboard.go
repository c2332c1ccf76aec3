// Package whiteboard keeps a shared drawing scene in sync across the
// participants of a conversation. Local edit bursts are debounced into one
// full-scene broadcast; remote scenes merge by last-writer-wins on the
// update timestamp, so the protocol stays correct over an at-least-once,
// reordering transport. Cursors are ephemeral and evicted when idle.
package whiteboard

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/bep/debounce"
	"go.uber.org/zap"

	"Tutorlink/internal/event"
	"Tutorlink/internal/model"
	"Tutorlink/internal/transport"
)

var (
	// debounceInterval batches rapid local edits into one broadcast.
	debounceInterval = 200 * time.Millisecond

	// cursorTTL is how long a remote cursor survives without movement.
	cursorTTL = 5 * time.Second

	// cursorSweepInterval drives the eviction pass.
	cursorSweepInterval = time.Second
)

// Transport is the slice of the realtime layer the synchronizer uses.
type Transport interface {
	Emit(name string, payload any) error
	On(name string, h transport.Handler)
	OnConnect(fn func())
}

// Cursor is a participant's pointer position as last seen.
type Cursor struct {
	UserID string
	X      float64
	Y      float64
	SeenAt time.Time
}

// Synchronizer owns one conversation's scene replica.
type Synchronizer struct {
	tr     Transport
	logger *zap.Logger

	selfID         string
	conversationID string

	mu        sync.Mutex
	scene     json.RawMessage
	updatedAt int64 // unix millis of the winning write
	cursors   map[string]Cursor

	debounced func(func())

	onScene  func(scene json.RawMessage)
	onCursor func(Cursor)

	done chan struct{}
	once sync.Once
}

// New wires a synchronizer for one conversation. onScene fires whenever a
// remote scene wins the merge; onCursor on every remote cursor move.
// Either callback may be nil.
func New(tr Transport, selfID, conversationID string, onScene func(json.RawMessage), onCursor func(Cursor), logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Synchronizer{
		tr:             tr,
		logger:         logger,
		selfID:         selfID,
		conversationID: conversationID,
		cursors:        make(map[string]Cursor),
		debounced:      debounce.New(debounceInterval),
		onScene:        onScene,
		onCursor:       onCursor,
		done:           make(chan struct{}),
	}

	tr.On(event.EventBoardUpdate, s.handleUpdate)
	tr.On(event.EventBoardCursor, s.handleCursor)
	// After a reconnect the relay has no memory of us; push the full
	// scene so late joiners and resumed peers converge.
	tr.OnConnect(s.Flush)

	go s.sweepCursors()
	return s
}

// SetScene records a local edit and schedules a debounced broadcast. The
// scene bytes are kept as-is; this package never interprets them.
func (s *Synchronizer) SetScene(scene json.RawMessage) {
	s.mu.Lock()
	s.scene = scene
	s.updatedAt = time.Now().UnixMilli()
	s.mu.Unlock()

	s.debounced(s.Flush)
}

// Flush broadcasts the current scene immediately, skipping the debounce.
func (s *Synchronizer) Flush() {
	s.mu.Lock()
	scene := s.scene
	updatedAt := s.updatedAt
	s.mu.Unlock()

	if scene == nil {
		return
	}
	if err := s.tr.Emit(event.EventBoardUpdate, model.BoardUpdate{
		ConversationID: s.conversationID,
		SenderID:       s.selfID,
		Scene:          scene,
		UpdatedAt:      updatedAt,
	}); err != nil {
		s.logger.Warn("board update emit failed", zap.Error(err))
	}
}

// MoveCursor broadcasts the local pointer position. Not debounced; the
// caller is expected to sample, not stream raw mouse events.
func (s *Synchronizer) MoveCursor(x, y float64) {
	if err := s.tr.Emit(event.EventBoardCursor, model.BoardCursor{
		ConversationID: s.conversationID,
		UserID:         s.selfID,
		X:              x,
		Y:              y,
		UpdatedAt:      time.Now().UnixMilli(),
	}); err != nil {
		s.logger.Warn("board cursor emit failed", zap.Error(err))
	}
}

// Scene returns the current replica and its timestamp.
func (s *Synchronizer) Scene() (json.RawMessage, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scene, s.updatedAt
}

// Cursors returns the live remote cursors.
func (s *Synchronizer) Cursors() []Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Cursor, 0, len(s.cursors))
	for _, c := range s.cursors {
		out = append(out, c)
	}
	return out
}

// Close stops the cursor sweeper. A final Flush is the caller's choice.
func (s *Synchronizer) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Synchronizer) handleUpdate(ev event.WsEvent) {
	var payload model.BoardUpdate
	if err := transport.DecodePayload(ev, &payload); err != nil {
		s.logger.Warn("bad board update payload", zap.Error(err))
		return
	}
	if payload.ConversationID != s.conversationID || payload.SenderID == s.selfID {
		return
	}

	s.mu.Lock()
	// Last writer wins. An older or concurrent-but-losing scene is
	// dropped wholesale rather than merged element by element.
	if payload.UpdatedAt <= s.updatedAt {
		s.mu.Unlock()
		return
	}
	s.scene = payload.Scene
	s.updatedAt = payload.UpdatedAt
	cb := s.onScene
	s.mu.Unlock()

	if cb != nil {
		cb(payload.Scene)
	}
}

func (s *Synchronizer) handleCursor(ev event.WsEvent) {
	var payload model.BoardCursor
	if err := transport.DecodePayload(ev, &payload); err != nil {
		return
	}
	if payload.ConversationID != s.conversationID || payload.UserID == s.selfID {
		return
	}

	cur := Cursor{
		UserID: payload.UserID,
		X:      payload.X,
		Y:      payload.Y,
		SeenAt: time.Now(),
	}

	s.mu.Lock()
	s.cursors[payload.UserID] = cur
	cb := s.onCursor
	s.mu.Unlock()

	if cb != nil {
		cb(cur)
	}
}

func (s *Synchronizer) sweepCursors() {
	ticker := time.NewTicker(cursorSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for id, c := range s.cursors {
				if now.Sub(c.SeenAt) > cursorTTL {
					delete(s.cursors, id)
				}
			}
			s.mu.Unlock()
		}
	}
}
