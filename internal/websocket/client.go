package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"relaydesk/internal/events"
	"relaydesk/internal/services"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// State is the lifecycle of a single connection.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// TypingLimit caps typing events per connection per minute.
var TypingLimit = 60

// typingLimiter is a per-connection token bucket refilled once a minute.
type typingLimiter struct {
	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

func newTypingLimiter() *typingLimiter {
	return &typingLimiter{tokens: TypingLimit, lastRefill: time.Now()}
}

func (rl *typingLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if time.Since(rl.lastRefill) >= time.Minute {
		rl.tokens = TypingLimit
		rl.lastRefill = time.Now()
	}
	if rl.tokens <= 0 {
		return false
	}
	rl.tokens--
	return true
}

// ClientMessage is the client-to-server wire shape.
type ClientMessage struct {
	Event          string `json:"event"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Client is one realtime connection.
type Client struct {
	ID      string
	Subject services.Subject

	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	rooms      map[string]struct{} // guarded by hub.mu
	state      atomic.Int32
	closeOnce  sync.Once
	typing     *typingLimiter
	authorizer Authorizer
	idle       time.Duration
	log        *Logger
}

func newClient(hub *Hub, conn *websocket.Conn, authorizer Authorizer, idle time.Duration, log *Logger) *Client {
	return &Client{
		ID:         uuid.NewString(),
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		rooms:      make(map[string]struct{}),
		typing:     newTypingLimiter(),
		authorizer: authorizer,
		idle:       idle,
		log:        log,
	}
}

func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

// enqueue reports false when the send buffer is full.
func (c *Client) enqueue(frame []byte) bool {
	if c.State() == StateClosed {
		return true
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		close(c.send)
	})
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
		c.log.Info("disconnected", c.Subject.UserID, c.ID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.idle))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.idle))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Error("unexpected_close", c.Subject.UserID, c.ID, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.idle))
		c.handleMessage(ctx, bytes.TrimSpace(raw))
	}
}

func (c *Client) handleMessage(ctx context.Context, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Warn("malformed_message", c.Subject.UserID, c.ID, zap.Error(err))
		return
	}

	switch msg.Event {
	case events.ClientJoinConversation:
		c.handleJoin(ctx, msg)
	case events.ClientLeaveConversation:
		if id, err := uuid.Parse(msg.ConversationID); err == nil {
			c.hub.Leave(c, events.ConversationRoom(id))
		}
	case events.ClientTypingStart:
		c.handleTyping(msg, events.RealtimeUserTyping)
	case events.ClientTypingStop:
		c.handleTyping(msg, events.RealtimeUserStoppedTyping)
	default:
		c.log.Warn("unknown_event", c.Subject.UserID, c.ID, zap.String("type", msg.Event))
	}
}

func (c *Client) handleJoin(ctx context.Context, msg ClientMessage) {
	id, err := uuid.Parse(msg.ConversationID)
	if err != nil {
		c.log.Warn("join_invalid_id", c.Subject.UserID, c.ID, zap.String("conversation_id", msg.ConversationID))
		return
	}
	ok, err := c.authorizer.CanJoin(ctx, c.Subject, id)
	if err != nil {
		c.log.Error("join_check_failed", c.Subject.UserID, c.ID, err, zap.String("conversation_id", id.String()))
		return
	}
	if !ok {
		c.log.Warn("join_denied", c.Subject.UserID, c.ID, zap.String("conversation_id", id.String()))
		return
	}
	c.hub.Join(c, events.ConversationRoom(id))
}

// handleTyping relays to the other members of a room the client has joined.
func (c *Client) handleTyping(msg ClientMessage, event string) {
	id, err := uuid.Parse(msg.ConversationID)
	if err != nil {
		return
	}
	room := events.ConversationRoom(id)
	if !c.hub.InRoom(c, room) {
		return
	}
	if !c.typing.Allow() {
		c.log.Warn("rate_limit_exceeded", c.Subject.UserID, c.ID, zap.String("type", msg.Event))
		return
	}
	c.hub.PublishExcept(room, event, events.TypingPayload{
		ConversationID: id.String(),
		UserID:         c.Subject.UserID,
	}, c)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.idle * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
