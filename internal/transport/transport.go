package transport

import (
	"Tutorlink/internal/event"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// tuning parameters
	writeWait        = 10 * time.Second    // time allowed to write a message to the peer
	pongWait         = 20 * time.Second    // time allowed to read the next pong message from the peer
	pingInterval     = (pongWait * 9) / 10 // send pings to peer with this period
	maxMessageSize   = 64 * 1024           // max inbound message size (64KB)
	sendBufSize      = 256                 // outbound buffer size
	sendTimeout      = 2 * time.Second     // timeout for enqueuing outbound messages
	initialBackoff   = 500 * time.Millisecond
	maxBackoff       = 15 * time.Second
	handshakeTimeout = 10 * time.Second
)

var ErrClosed = errors.New("transport closed")

// Handler processes one inbound event. Handlers run on the dispatch
// goroutine, one at a time, so they may mutate shared state without
// additional locking as long as nothing else does.
type Handler func(ev event.WsEvent)

// Conn is a reconnecting, authenticated client connection to the signaling
// relay. Handlers are held in a registry owned by Conn, so a reconnect
// never loses or duplicates a subscription: dispatch always reads the
// registry live, and On performs deregister-then-register atomically.
type Conn struct {
	url    string
	userID string
	connID string
	logger *zap.Logger

	handlersMu sync.RWMutex
	handlers   map[string]Handler
	onConnect  []func()

	egress chan event.WsEvent

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// Dial creates a Conn for the given relay endpoint and starts the connect
// loop. It returns immediately; events emitted before the socket is up are
// buffered in the egress channel and flushed on connect.
func Dial(rawURL, userID string, logger *zap.Logger) (*Conn, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		url:      rawURL,
		userID:   userID,
		connID:   uuid.New().String(),
		logger:   logger,
		handlers: make(map[string]Handler),
		egress:   make(chan event.WsEvent, sendBufSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	go c.connectLoop()
	return c, nil
}

// On registers the handler for a named event, replacing any previous one.
func (c *Conn) On(name string, h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	if h == nil {
		delete(c.handlers, name)
		return
	}
	c.handlers[name] = h
}

// Off removes the handler for a named event. Removing an unregistered
// handler is a no-op.
func (c *Conn) Off(name string) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	delete(c.handlers, name)
}

// OnConnect registers fn to run after every successful (re)connect. The
// first run happens as soon as the initial dial succeeds.
func (c *Conn) OnConnect(fn func()) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

// Emit enqueues a named event for delivery. Fire-and-forget: delivery is
// at-least-once across reconnects at best, never guaranteed.
func (c *Conn) Emit(name string, payload any) error {
	ev, err := event.NewEvent(name, payload)
	if err != nil {
		return err
	}

	select {
	case c.egress <- ev:
		return nil
	case <-time.After(sendTimeout):
		c.logger.Warn("egress full, dropping event", zap.String("event", name))
		return errors.New("egress buffer full")
	case <-c.ctx.Done():
		return ErrClosed
	}
}

// Close tears the connection down. Idempotent.
func (c *Conn) Close() {
	c.once.Do(func() {
		c.cancel()
	})
}

// connectLoop dials the relay and runs the pumps, redialing with
// exponential backoff until Close.
func (c *Conn) connectLoop() {
	backoff := initialBackoff

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		conn, err := c.dial()
		if err != nil {
			c.logger.Warn("dial failed, retrying",
				zap.String("url", c.url),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			select {
			case <-time.After(backoff):
			case <-c.ctx.Done():
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = initialBackoff
		c.logger.Info("connected", zap.String("conn_id", c.connID))
		c.fireOnConnect()
		c.runPumps(conn)
	}
}

func (c *Conn) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	u, err := url.Parse(c.url)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("userId", c.userID)
	u.RawQuery = q.Encode()

	conn, _, err := dialer.DialContext(c.ctx, u.String(), nil)
	return conn, err
}

func (c *Conn) fireOnConnect() {
	c.handlersMu.RLock()
	fns := make([]func(), len(c.onConnect))
	copy(fns, c.onConnect)
	c.handlersMu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

// runPumps owns conn until it dies, then returns so connectLoop redials.
func (c *Conn) runPumps(conn *websocket.Conn) {
	done := make(chan struct{})

	go c.writePump(conn, done)
	c.readPump(conn)
	close(done)
	_ = conn.Close()
}

func (c *Conn) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(int64(maxMessageSize))
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var ev event.WsEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
			) {
				c.logger.Info("connection closed", zap.Error(err))
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.logger.Warn("read timed out, reconnecting")
				return
			}
			c.logger.Warn("read error, reconnecting", zap.Error(err))
			return
		}
		c.dispatch(ev)
	}
}

func (c *Conn) writePump(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = conn.Close()
			return
		case ev := <-c.egress:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				c.logger.Warn("write failed", zap.String("event", ev.Event), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("ping failed", zap.Error(err))
				return
			}
		}
	}
}

// dispatch looks the handler up at delivery time, not registration time,
// so late re-registration and removal both take effect immediately.
func (c *Conn) dispatch(ev event.WsEvent) {
	c.handlersMu.RLock()
	h, ok := c.handlers[ev.Event]
	c.handlersMu.RUnlock()

	if !ok {
		c.logger.Debug("no handler for event", zap.String("event", ev.Event))
		return
	}
	h(ev)
}

// DecodePayload unmarshals an event payload into v.
func DecodePayload(ev event.WsEvent, v any) error {
	return json.Unmarshal(ev.Payload, v)
}
