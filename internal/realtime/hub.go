// Package realtime is the WebSocket channel between the extension and
// Guardian.
//
// Each inbound text frame is a router message. Its response is written back
// on the same connection, tagged with the message's requestId, whenever it
// completes; asynchronous analyses therefore answer out of order. The hub
// also pushes approval events (pending_added, pending_resolved,
// pending_expired, settings_updated) to every connected client.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbd888/guardian/internal/logging"
	"github.com/mbd888/guardian/internal/metrics"
	"github.com/mbd888/guardian/internal/router"
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

// TypeSubscribe is handled by the hub itself and never reaches the router.
const TypeSubscribe router.RequestType = "SUBSCRIBE"

// Event is a server-pushed notification.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Subscription filters the events a client receives. An empty EventTypes
// means all events.
type Subscription struct {
	EventTypes []string `json:"eventTypes"`
}

// Dispatcher routes one inbound message; satisfied by *router.Router.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *router.Message, reply func(router.Response)) bool
}

// Client represents a WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	sub    Subscription
	closed bool
}

// trySend queues b without blocking. It reports false when the client is
// closed or its buffer is full.
func (c *Client) trySend(b []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// close stops further sends; writePump then sends a close frame.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// MaxClients is the maximum number of concurrent WebSocket connections.
const MaxClients = 64

// Hub manages all WebSocket connections
type Hub struct {
	dispatcher     Dispatcher
	clients        map[*Client]bool
	broadcast      chan *Event
	register       chan *Client
	unregister     chan *Client
	mu             sync.RWMutex
	logger         *slog.Logger
	done           chan struct{} // closed when Run exits; prevents upgrade race
	maxClients     int
	allowedOrigins []string
	upgrader       websocket.Upgrader
	now            func() time.Time

	// Stats
	totalEvents   atomic.Int64
	totalClients  atomic.Int64
	peakClients   atomic.Int64
	totalMessages atomic.Int64
}

// Option configures a Hub.
type Option func(*Hub)

// WithAllowedOrigins admits browser origins beyond same-host and extension
// pages. "*" admits any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Hub) { h.allowedOrigins = origins }
}

// WithMaxClients overrides MaxClients.
func WithMaxClients(n int) Option {
	return func(h *Hub) { h.maxClients = n }
}

// NewHub creates a new WebSocket hub
func NewHub(dispatcher Dispatcher, logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		dispatcher: dispatcher,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // Allow non-browser clients
	}
	if strings.HasPrefix(origin, "chrome-extension://") || strings.HasPrefix(origin, "moz-extension://") {
		return true
	}
	host := r.Host
	if origin == "http://"+host || origin == "https://"+host {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("realtime hub shutting down, closing client connections")
			h.mu.Lock()
			for client := range h.clients {
				client.close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.totalClients.Add(1)
			if current := int64(len(h.clients)); current > h.peakClients.Load() {
				h.peakClients.Store(current)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Info("client connected", "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Info("client disconnected", "total", n)

		case event := <-h.broadcast:
			h.totalEvents.Add(1)
			payload := h.serialize(event)
			h.mu.RLock()
			var slow []*Client
			for client := range h.clients {
				if h.shouldSend(client, event) && !client.trySend(payload) {
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()
			// Remove slow clients under write lock
			if len(slow) > 0 {
				h.mu.Lock()
				for _, client := range slow {
					if _, ok := h.clients[client]; ok {
						client.close()
						delete(h.clients, client)
					}
				}
				n := len(h.clients)
				h.mu.Unlock()
				metrics.ActiveWebSocketClients.Set(float64(n))
				h.logger.Warn("dropped slow websocket clients", "count", len(slow))
			}
		}
	}
}

// shouldSend checks if event matches client's subscription
func (h *Hub) shouldSend(client *Client, event *Event) bool {
	client.mu.RLock()
	sub := client.sub
	client.mu.RUnlock()

	if len(sub.EventTypes) == 0 {
		return true
	}
	for _, t := range sub.EventTypes {
		if t == event.Type {
			return true
		}
	}
	return false
}

func (h *Hub) serialize(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

// Broadcast sends an event to all matching clients
func (h *Hub) Broadcast(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast channel full, dropping event", "type", event.Type)
	}
}

// Publish implements router.Publisher.
func (h *Hub) Publish(eventType string, data any) {
	h.Broadcast(&Event{
		Type:      eventType,
		Timestamp: h.now().UTC(),
		Data:      data,
	})
}

// Stats returns hub statistics
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]any{
		"connectedClients": len(h.clients),
		"totalEvents":      h.totalEvents.Load(),
		"totalClients":     h.totalClients.Load(),
		"peakClients":      h.peakClients.Load(),
		"totalMessages":    h.totalMessages.Load(),
	}
}

// HandleWebSocket upgrades HTTP to WebSocket
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Reject upgrades after the hub has stopped to prevent orphaned connections.
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	// Enforce connection limit
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	// Start goroutines for reading and writing
	go client.writePump()
	go client.readPump()
}

// readPump reads request frames and dispatches them.
func (c *Client) readPump() {
	// The upgrade request's context ends when the handler returns, so each
	// connection gets its own.
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			break
		}
		c.hub.totalMessages.Add(1)
		c.handleFrame(ctx, frame)
	}
}

func (c *Client) handleFrame(ctx context.Context, frame []byte) {
	var msg router.Message
	if err := json.Unmarshal(frame, &msg); err != nil || msg.Type == "" {
		c.reply(router.Response{
			"success": false,
			"error":   "frame is not a message",
			"code":    router.CodeValidation,
		})
		return
	}

	if msg.Type == TypeSubscribe {
		var sub Subscription
		if len(msg.Payload) > 0 {
			_ = json.Unmarshal(msg.Payload, &sub)
		}
		c.mu.Lock()
		c.sub = sub
		c.mu.Unlock()
		resp := router.Response{"success": true, "eventTypes": sub.EventTypes}
		if msg.RequestID != "" {
			resp["requestId"] = msg.RequestID
		}
		c.reply(resp)
		return
	}

	ctx = logging.WithRequestID(ctx, msg.RequestID)
	c.hub.dispatcher.Dispatch(ctx, &msg, c.reply)
}

// reply queues a response. A reply for a client that has gone away is
// discarded.
func (c *Client) reply(resp router.Response) {
	if !c.trySend(c.hub.serialize(resp)) {
		c.hub.logger.Debug("websocket reply discarded", "request_id", resp["requestId"])
	}
}

// writePump writes messages to WebSocket
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
