// Package realtime pushes script events to WebSocket subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Corphon/AdScriptStudio/internal/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 64
	cleanupPeriod  = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Event is the message pushed to subscribers of a script.
type Event struct {
	Type      string      `json:"type"`
	ScriptID  string      `json:"script_id"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type envelope struct {
	scriptID string
	payload  []byte
}

// Hub tracks connections per script id and fans events out to them.
type Hub struct {
	mutex       sync.RWMutex
	connections map[string]map[*Client]struct{}
	broadcast   chan envelope
	stopped     chan struct{}
	stopOnce    sync.Once
	pingTimeout time.Duration
	metrics     *utils.MetricsCollector
	logger      *utils.Logger
}

// NewHub creates a hub. Call Run to start delivering events.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]map[*Client]struct{}),
		broadcast:   make(chan envelope, 256),
		stopped:     make(chan struct{}),
		pingTimeout: pongWait * 2,
		metrics:     utils.GetMetricsCollector(),
		logger:      utils.GetLogger(),
	}
}

// Run delivers published events until ctx ends, then closes every connection.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(cleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-h.broadcast:
			h.deliver(msg)
		case <-ticker.C:
			h.cleanupExpired()
		case <-ctx.Done():
			h.shutdown()
			return nil
		}
	}
}

// Publish queues an event for the subscribers of scriptID. It never blocks.
func (h *Hub) Publish(scriptID, eventType string, payload interface{}) {
	data, err := json.Marshal(Event{Type: eventType, ScriptID: scriptID, Data: payload, Timestamp: time.Now().UTC()})
	if err != nil {
		h.logger.Errorf("Failed to encode %s event: %v", eventType, err)
		return
	}
	select {
	case <-h.stopped:
	case h.broadcast <- envelope{scriptID: scriptID, payload: data}:
	default:
		h.logger.Warn("Event queue full, event dropped", map[string]interface{}{"script_id": scriptID, "type": eventType})
	}
}

// ServeWS upgrades the request and streams events for scriptID until the
// client disconnects or the hub stops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, scriptID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", map[string]interface{}{"error": err})
		return
	}

	client := newClient(conn, scriptID)
	if !h.register(client) {
		client.close()
		return
	}
	defer h.unregister(client)

	go client.writePump()
	client.sendJSON(Event{Type: "connected", ScriptID: scriptID, Timestamp: time.Now().UTC()})
	client.readPump()
}

func (h *Hub) register(client *Client) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	select {
	case <-h.stopped:
		return false
	default:
	}
	if h.connections[client.scriptID] == nil {
		h.connections[client.scriptID] = make(map[*Client]struct{})
	}
	h.connections[client.scriptID][client] = struct{}{}
	h.metrics.IncGauge(utils.MetricWSConnections)
	h.logger.Debugf("WebSocket client connected to script %s", client.scriptID)
	return true
}

func (h *Hub) unregister(client *Client) {
	h.mutex.Lock()
	if clients, ok := h.connections[client.scriptID]; ok {
		if _, present := clients[client]; present {
			delete(clients, client)
			h.metrics.DecGauge(utils.MetricWSConnections)
		}
		if len(clients) == 0 {
			delete(h.connections, client.scriptID)
		}
	}
	h.mutex.Unlock()
	client.close()
}

func (h *Hub) deliver(msg envelope) {
	h.mutex.RLock()
	targets := make([]*Client, 0, len(h.connections[msg.scriptID]))
	for client := range h.connections[msg.scriptID] {
		targets = append(targets, client)
	}
	h.mutex.RUnlock()

	for _, client := range targets {
		if !client.enqueue(msg.payload) {
			h.logger.Warnf("Slow WebSocket client on script %s dropped", msg.scriptID)
			h.unregister(client)
		}
	}
}

func (h *Hub) cleanupExpired() {
	h.mutex.RLock()
	var expired []*Client
	for _, clients := range h.connections {
		for client := range clients {
			if client.isExpired(h.pingTimeout) {
				expired = append(expired, client)
			}
		}
	}
	h.mutex.RUnlock()

	for _, client := range expired {
		h.unregister(client)
	}
}

func (h *Hub) shutdown() {
	h.stopOnce.Do(func() { close(h.stopped) })

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for _, clients := range h.connections {
		for client := range clients {
			client.close()
		}
	}
	h.connections = make(map[string]map[*Client]struct{})
	h.metrics.SetGauge(utils.MetricWSConnections, 0)
}

// ClientCount returns the number of subscribers of scriptID.
func (h *Hub) ClientCount(scriptID string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.connections[scriptID])
}

// Status summarizes open connections per script.
func (h *Hub) Status() map[string]interface{} {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	scripts := make(map[string]int, len(h.connections))
	total := 0
	for scriptID, clients := range h.connections {
		scripts[scriptID] = len(clients)
		total += len(clients)
	}
	return map[string]interface{}{
		"total_scripts":     len(h.connections),
		"total_connections": total,
		"scripts":           scripts,
	}
}

// Client is one WebSocket subscriber.
type Client struct {
	conn      *websocket.Conn
	scriptID  string
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	lastSeen  atomic.Int64
}

func newClient(conn *websocket.Conn, scriptID string) *Client {
	c := &Client{
		conn:     conn,
		scriptID: scriptID,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
	c.touch()
	return c
}

func (c *Client) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *Client) isExpired(timeout time.Duration) bool {
	return time.Since(time.Unix(0, c.lastSeen.Load())) > timeout
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// enqueue reports false when the client's buffer is full.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return true
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) sendJSON(v interface{}) {
	if data, err := json.Marshal(v); err == nil {
		c.enqueue(data)
	}
}

func (c *Client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.touch()
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &msg) == nil && msg.Type == "ping" {
			c.sendJSON(Event{Type: "pong", ScriptID: c.scriptID, Timestamp: time.Now().UTC()})
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
