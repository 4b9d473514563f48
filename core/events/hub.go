// Package events fans library changes out to the websocket clients of the
// user that owns them.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"nendo/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Type names an event.
type Type string

const (
	TypePing Type = "ping"
	TypePong Type = "pong"

	TypeTrackAdded        Type = "track_added"
	TypeTrackRemoved      Type = "track_removed"
	TypeCollectionChanged Type = "collection_changed"
	TypeCollectionRemoved Type = "collection_removed"
	TypePluginRun         Type = "plugin_run"
)

const (
	sendBuffer   = 64
	readLimit    = 4096
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// Event is one change notification.
type Event struct {
	Type         Type      `json:"type"`
	UserID       uuid.UUID `json:"user_id"`
	TrackID      string    `json:"track_id,omitempty"`
	CollectionID string    `json:"collection_id,omitempty"`
	Plugin       string    `json:"plugin,omitempty"`
	Result       string    `json:"result,omitempty"`
	Timestamp    int64     `json:"timestamp"`
}

// Client is one websocket connection of a user.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	UserID uuid.UUID
}

// NewClient wraps conn for user. Register it before starting the pumps.
func NewClient(hub *Hub, conn *websocket.Conn, user uuid.UUID) *Client {
	return &Client{hub: hub, conn: conn, send: make(chan []byte, sendBuffer), UserID: user}
}

// Hub keeps the connected clients per user and delivers events to them.
type Hub struct {
	users map[uuid.UUID]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan Event

	mu       sync.RWMutex
	done     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a hub. Run must be started before clients register.
func NewHub() *Hub {
	return &Hub{
		users:      make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Event, 256),
		done:       make(chan struct{}),
	}
}

// Run is the hub main loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.registerClient(c)
		case c := <-h.unregister:
			h.mu.Lock()
			h.removeClient(c)
			h.mu.Unlock()
		case evt := <-h.broadcast:
			h.deliver(evt)
		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop ends Run and closes every client. Safe to call twice.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) registerClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.users[c.UserID] == nil {
		h.users[c.UserID] = make(map[*Client]bool)
	}
	h.users[c.UserID][c] = true
	logger.Debug("[Events] Client registered", logger.String("user", c.UserID.String()))
}

// removeClient needs h.mu held.
func (h *Hub) removeClient(c *Client) {
	clients, ok := h.users[c.UserID]
	if !ok || !clients[c] {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.users, c.UserID)
	}
	logger.Debug("[Events] Client unregistered", logger.String("user", c.UserID.String()))
}

func (h *Hub) deliver(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		logger.Warn("[Events] Could not encode event", logger.ErrorField(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.users[evt.UserID] {
		select {
		case c.send <- data:
		default:
			// slow consumer
			h.removeClient(c)
		}
	}
}

// sendTo queues data for one registered client.
func (h *Hub) sendTo(c *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.users[c.UserID][c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (h *Hub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.users {
		for c := range clients {
			close(c.send)
		}
	}
	h.users = make(map[uuid.UUID]map[*Client]bool)
}

// Register adds a client. It returns false when the hub is stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister drops a client.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Publish queues evt for the clients of evt.UserID. A nil hub or a full
// queue drops the event.
func (h *Hub) Publish(evt Event) {
	if h == nil {
		return
	}
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}
	select {
	case h.broadcast <- evt:
	default:
		logger.Warn("[Events] Queue full, dropping event", logger.String("type", string(evt.Type)))
	}
}

// ClientCount returns the number of connections of user.
func (h *Hub) ClientCount(user uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[user])
}

// ReadPump consumes client frames until the connection closes, answering
// pings. Clients only ever send pings.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn("[Events] Websocket read error", logger.ErrorField(err), logger.String("user", c.UserID.String()))
			}
			return
		}
		var evt Event
		if err := json.Unmarshal(message, &evt); err != nil {
			logger.Warn("[Events] Invalid client message", logger.ErrorField(err))
			continue
		}
		if evt.Type != TypePing {
			continue
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		data, err := json.Marshal(Event{Type: TypePong, UserID: c.UserID, Timestamp: time.Now().UnixMilli()})
		if err != nil {
			continue
		}
		c.hub.sendTo(c, data)
	}
}

// WritePump writes queued events and keepalive pings until the send
// channel is closed.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
