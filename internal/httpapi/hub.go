package httpapi

import (
	"atlasforge/internal/domain"
)

// client is a single progress subscriber. Slow clients are dropped rather
// than allowed to stall the broadcast loop.
type client struct {
	hub  *Hub
	send chan domain.ProgressEvent
}

// Hub fans progress events out to all subscribed clients (SSE streams). It
// implements forge.ProgressSink.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan domain.ProgressEvent
	register   chan *client
	unregister chan *client
}

// NewHub creates a new Hub with initialised channels and client map.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan domain.ProgressEvent, 64),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run starts the Hub's main event loop. It should be launched as a
// goroutine and runs until the process exits.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case event := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- event:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
		}
	}
}

// Publish implements forge.ProgressSink. Events are dropped if the
// broadcast queue is full; progress is a snapshot stream, not a log.
func (h *Hub) Publish(event domain.ProgressEvent) {
	select {
	case h.broadcast <- event:
	default:
	}
}

// subscribe registers a new client and returns it. The caller must call
// unsubscribe when done.
func (h *Hub) subscribe() *client {
	c := &client{hub: h, send: make(chan domain.ProgressEvent, 16)}
	h.register <- c
	return c
}

func (h *Hub) unsubscribe(c *client) {
	h.unregister <- c
}
