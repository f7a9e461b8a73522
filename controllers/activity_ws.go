package controller

import (
	"log"
	"sync"

	"github.com/gofiber/websocket/v2"

	"leadpilot/models"
)

// FeedHub fans activity events out to connected websocket clients. A slow
// client just misses events; the hub never blocks an emit.
type FeedHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan models.ActivityEvent
	logger  *log.Logger
}

func NewFeedHub(logger *log.Logger) *FeedHub {
	return &FeedHub{
		clients: make(map[*websocket.Conn]chan models.ActivityEvent),
		logger:  logger,
	}
}

// Broadcast queues an event for every connected client.
func (h *FeedHub) Broadcast(ev models.ActivityEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}

// HandleFeedWS streams feed events to one websocket client until it
// disconnects.
func (h *FeedHub) HandleFeedWS(c *websocket.Conn) {
	defer c.Close()

	events := make(chan models.ActivityEvent, 16)
	h.mu.Lock()
	h.clients[c] = events
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-events:
			if err := c.WriteJSON(ev); err != nil {
				h.logger.Printf("Error writing feed event: %v", err)
				return
			}
		case <-done:
			return
		}
	}
}
