package websocket

import (
	"encoding/json"
	"errors"
	"sync"

	"relaydesk/internal/events"

	"go.uber.org/zap"
)

var ErrHubClosed = errors.New("realtime hub is shut down")

// Frame is the server-to-client wire shape.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub tracks open connections and the rooms they belong to. It is built
// once at startup and handed to whatever needs to publish.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	closed  bool
	log     *Logger
}

func NewHub(log *Logger) *Hub {
	if log == nil {
		log = NewLogger(nil)
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
		log:     log,
	}
}

// Register adds an authenticated client and joins it to its personal room.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	h.clients[c] = struct{}{}
	h.joinLocked(c, events.UserRoom(c.Subject.UserID))
	return nil
}

// Unregister removes c from every room and closes its send buffer. Safe to
// call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	delete(h.clients, c)
	h.mu.Unlock()

	c.closeSend()
}

func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	h.joinLocked(c, room)
}

// Leave is a no-op for rooms the client is not in.
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) joinLocked(c *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(c *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

// Publish delivers event to every connection in room.
func (h *Hub) Publish(room, event string, payload any) {
	h.PublishExcept(room, event, payload, nil)
}

// PublishExcept delivers event to every connection in room but except.
func (h *Hub) PublishExcept(room, event string, payload any, except *Client) {
	frame, err := json.Marshal(Frame{Event: event, Data: payload})
	if err != nil {
		h.log.Error("publish_encode_failed", "", "", err, zap.String("room", room), zap.String("type", event))
		return
	}

	var overflowed []*Client
	h.mu.RLock()
	for c := range h.rooms[room] {
		if c == except {
			continue
		}
		if !c.enqueue(frame) {
			overflowed = append(overflowed, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range overflowed {
		h.log.Warn("send_buffer_overflow", c.Subject.UserID, c.ID, zap.String("room", room))
		h.Unregister(c)
	}
}

// Shutdown disconnects every client and refuses new registrations.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.Unregister(c)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) InRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}
