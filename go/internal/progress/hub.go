// Package progress streams delivery events to admin dashboards over websockets.
package progress

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/newsletter/go/internal/delivery"
)

// Config holds websocket connection settings
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  512,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
	}
}

// Hub fans delivery events out to connected dashboards. A dashboard may follow a
// single issue or every issue.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
	config   Config
	events   chan delivery.Event
}

type client struct {
	id      string
	issueID uuid.UUID // uuid.Nil follows every issue
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
}

var _ delivery.EventSink = (*Hub)(nil)

func NewHub(config Config) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
		events: make(chan delivery.Event, 1000),
	}
}

// Publish queues an event for broadcast. It never blocks the delivery worker; events
// are dropped when the hub falls behind.
func (h *Hub) Publish(event delivery.Event) {
	select {
	case h.events <- event:
	default:
		log.Warn().
			Str("newsletter_issue_id", event.IssueID.String()).
			Msg("progress channel full, dropping event")
	}
}

// Start broadcasts queued events until ctx is cancelled.
func (h *Hub) Start(ctx context.Context) error {
	log.Info().Msg("progress hub started")
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			log.Info().Msg("progress hub shutting down")
			return nil
		case event := <-h.events:
			h.broadcast(event)
		}
	}
}

// ServeHTTP upgrades the request. The optional issue_id query parameter restricts
// the feed to one issue.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var issueID uuid.UUID
	if raw := r.URL.Query().Get("issue_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid issue_id format", http.StatusBadRequest)
			return
		}
		issueID = id
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}

	c := &client{
		id:      uuid.NewString(),
		issueID: issueID,
		conn:    conn,
		send:    make(chan []byte, h.config.SendBuffer),
		hub:     h,
	}
	h.register(c)

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of connected dashboards.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeStats reports connection counts as JSON.
func (h *Hub) ServeStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]int{"connections": h.ClientCount()}); err != nil {
		log.Error().Err(err).Msg("failed to write progress stats")
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}

	log.Debug().
		Str("connection_id", c.id).
		Int("total_connections", len(h.clients)).
		Msg("progress client registered")
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)

	log.Debug().Str("connection_id", c.id).Msg("progress client unregistered")
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.unregister(c)
	}
}

func (h *Hub) broadcast(event delivery.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal delivery event")
		return
	}

	// unregister closes send under the write lock, so sends happen under the read lock
	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		if c.issueID != uuid.Nil && c.issueID != event.IssueID {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Warn().Str("connection_id", c.id).Msg("progress client too slow, disconnecting")
		h.unregister(c)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("connection_id", c.id).Msg("failed to write progress event")
				c.hub.unregister(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.unregister(c)
				return
			}
		}
	}
}

// readPump only services control frames; dashboards do not send commands.
func (c *client) readPump() {
	defer c.hub.unregister(c)

	c.conn.SetReadLimit(c.hub.config.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("connection_id", c.id).Msg("unexpected progress client close")
			}
			return
		}
	}
}
