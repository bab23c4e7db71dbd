package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// conn is one subscriber connection. gorilla/websocket allows a single
// concurrent writer, so every write goes through writeMu.
type conn struct {
	ws      *websocket.Conn
	jobID   int // 0 subscribes to all jobs
	writeMu sync.Mutex
}

func (c *conn) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(messageType, data)
}

// JobHub fans job lifecycle events out to WebSocket clients
type JobHub struct {
	clients map[*conn]bool
	mu      sync.RWMutex
}

// NewJobHub creates a new job event hub
func NewJobHub() *JobHub {
	return &JobHub{
		clients: make(map[*conn]bool),
	}
}

func (h *JobHub) register(c *conn) {
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()
	log.Printf("[WS] Client registered (job filter: %d, total: %d)", c.jobID, total)
}

func (h *JobHub) unregister(c *conn) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		log.Printf("[WS] Client unregistered")
	}
}

// ClientCount returns the number of connected clients
func (h *JobHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastJobEvent sends msg to every client watching its job
func (h *JobHub) BroadcastJobEvent(msg *JobEventMessage) {
	h.mu.RLock()
	targets := make([]*conn, 0, len(h.clients))
	for c := range h.clients {
		if c.jobID == 0 || c.jobID == msg.Job.ID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[WS] Error marshaling job event: %v", err)
		return
	}

	for _, c := range targets {
		if err := c.write(websocket.TextMessage, data); err != nil {
			log.Printf("[WS] Error sending to client: %v", err)
			h.unregister(c)
			c.ws.Close()
		}
	}
}
