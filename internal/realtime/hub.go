// Package realtime pushes "refresh" notifications to browsers over websockets. A
// client subscribes to topics when it connects; after a mutation the API publishes
// the changed table and row id to every topic that should refetch.
package realtime

import (
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bandyab/bandyab/internal/telemetry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

// Shared topics. Per-profile topics are built with ProfileTopic and MessagesTopic.
const (
	TopicEvents = "events"
	TopicBlog   = "blog"
	TopicAdmin  = "admin"
)

// ProfileTopic carries changes to one profile's memberships and events
func ProfileTopic(profileID string) string { return "profile:" + profileID }

// MessagesTopic carries changes to one profile's contact threads
func MessagesTopic(profileID string) string { return "messages:" + profileID }

// Message is the frame written to subscribers
type Message struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
	Table string `json:"table,omitempty"`
	ID    string `json:"id,omitempty"`
}

type client struct {
	conn   *websocket.Conn
	send   chan Message
	topics []string
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub tracks subscribers per topic
type Hub struct {
	mu       sync.RWMutex
	topics   map[string]map[*client]struct{}
	upgrader websocket.Upgrader
}

// NewHub creates a hub accepting websocket upgrades from the given origins.
// An empty list or "*" accepts any origin.
func NewHub(allowedOrigins []string) *Hub {
	h := &Hub{topics: make(map[string]map[*client]struct{})}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
				return true
			}
			return slices.Contains(allowedOrigins, origin)
		},
	}
	return h
}

// Subscribers returns how many connections listen on topic
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Refresh tells every subscriber of the given topics to refetch table. A client whose
// buffer is full is dropped rather than blocking the publisher.
func (h *Hub) Refresh(table, id string, topics ...string) {
	var slow []*client

	h.mu.RLock()
	for _, topic := range topics {
		for c := range h.topics[topic] {
			select {
			case c.send <- Message{Type: "refresh", Topic: topic, Table: table, ID: id}:
			default:
				slow = append(slow, c)
			}
		}
	}
	h.mu.RUnlock()

	telemetry.RealtimeMessagesTotal.WithLabelValues(table).Inc()
	for _, c := range slow {
		slog.Warn("dropping slow realtime client", "topics", c.topics)
		h.unregister(c)
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	for _, topic := range c.topics {
		if h.topics[topic] == nil {
			h.topics[topic] = make(map[*client]struct{})
		}
		h.topics[topic][c] = struct{}{}
	}
	h.mu.Unlock()
	telemetry.RealtimeConnections.Inc()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	removed := false
	for _, topic := range c.topics {
		if subs, ok := h.topics[topic]; ok {
			if _, ok := subs[c]; ok {
				removed = true
				delete(subs, c)
			}
			if len(subs) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	h.mu.Unlock()

	if removed {
		telemetry.RealtimeConnections.Dec()
	}
	c.close()
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make(map[*client]struct{})
	for _, subs := range h.topics {
		for c := range subs {
			clients[c] = struct{}{}
		}
	}
	h.mu.RUnlock()

	for c := range clients {
		h.unregister(c)
	}
}

// Serve upgrades the request and streams messages for topics until the client goes away.
// Topic authorization is the caller's job.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, topics []string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan Message, sendBuffer), topics: topics}
	// The writer starts after registration, so a client that has read the welcome
	// frame receives every later refresh.
	c.send <- Message{Type: "connected"}
	h.register(c)

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards client frames and keeps the read deadline alive on pongs
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}

// writePump is the only goroutine writing to the connection
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				h.unregister(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}
