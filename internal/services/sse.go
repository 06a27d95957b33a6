package services

import (
	"sync"
	"time"
)

// UserEvent is a real-time update addressed to one user
type UserEvent struct {
	ID     string      `json:"id"`
	UserID string      `json:"user_id"`
	Type   string      `json:"type"`
	Data   interface{} `json:"data,omitempty"`
	At     time.Time   `json:"at"`
}

type sseClient struct {
	userID string
	ch     chan UserEvent
}

// SSEHub manages SSE client connections and routes events to their users
type SSEHub struct {
	clients map[string]*sseClient
	mu      sync.RWMutex
}

func NewSSEHub() *SSEHub {
	return &SSEHub{
		clients: make(map[string]*sseClient),
	}
}

// Subscribe registers a connection for userID and returns its event channel
func (h *SSEHub) Subscribe(clientID, userID string) <-chan UserEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.clients[clientID]; ok {
		close(old.ch)
	}
	ch := make(chan UserEvent, 100)
	h.clients[clientID] = &sseClient{userID: userID, ch: ch}
	return ch
}

// Unsubscribe removes a client from the hub
func (h *SSEHub) Unsubscribe(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.clients[clientID]; ok {
		close(c.ch)
		delete(h.clients, clientID)
	}
}

// Publish delivers event to every connection of event.UserID. Slow clients
// miss events rather than block the publisher.
func (h *SSEHub) Publish(event UserEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		if c.userID != event.UserID {
			continue
		}
		select {
		case c.ch <- event:
		default:
		}
	}
}

func (h *SSEHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var globalSSEHub *SSEHub
var sseHubOnce sync.Once

// GetSSEHub returns the global SSE hub singleton
func GetSSEHub() *SSEHub {
	sseHubOnce.Do(func() {
		globalSSEHub = NewSSEHub()
	})
	return globalSSEHub
}
