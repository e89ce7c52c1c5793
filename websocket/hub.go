package websocket

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"ariaview/metrics"
)

// Hub interface defines the methods for managing viewer connections
type Hub interface {
	Run(ctx context.Context)
	RegisterClient(client *Client) bool
	UnregisterClient(client *Client)
	ClientCount() int
}

// hub tracks the connected viewers. Updates do not pass through it: each
// client reads the snapshot feed on its own.
type hub struct {
	// Registered clients
	clients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	mu sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub() Hub {
	return &hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main event loop. When ctx is cancelled every
// remaining client is stopped.
func (h *hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			metrics.Viewers.Set(float64(count))
			log.WithField("viewer", client.id).Infof("Viewer connected (%d online)", count)

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client]
			delete(h.clients, client)
			count := len(h.clients)
			h.mu.Unlock()
			if ok {
				client.stop()
				metrics.Viewers.Set(float64(count))
				log.WithField("viewer", client.id).Infof("Viewer disconnected (%d online)", count)
			}

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.stop()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.Viewers.Set(0)
			return
		}
	}
}

// RegisterClient registers a new client with the hub. It returns false once
// the hub has stopped.
func (h *hub) RegisterClient(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// UnregisterClient unregisters a client from the hub
func (h *hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
