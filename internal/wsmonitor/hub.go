// Package wsmonitor fans eventbus traffic out to local UI/CLI clients over
// gorilla/websocket: a register/unregister/broadcast hub across two
// logical streams (event, patch) matching eventbus.Bus's two publish
// methods. Each frame is written to every client in turn under the hub
// lock, so a slow client delays the others; there is no per-client queue.
// A client whose write fails is logged, closed and dropped.
package wsmonitor

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"svcorb/internal/eventbus"
)

// Hub bridges one eventbus.Subscriber to any number of websocket clients.
type Hub struct {
	bus *eventbus.Bus

	mu      sync.RWMutex
	clients map[*websocket.Conn]bool
}

// NewHub returns a Hub that will fan bus's events and patches out to
// registered clients once Run starts.
func NewHub(bus *eventbus.Bus) *Hub {
	return &Hub{bus: bus, clients: make(map[*websocket.Conn]bool)}
}

// Register adds a client connection to the fan-out set.
func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
	log.Printf("wsmonitor: client connected, total: %d", len(h.clients))
}

// Unregister removes and closes a client connection.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	log.Printf("wsmonitor: client disconnected, total: %d", len(h.clients))
}

type frame struct {
	Stream string      `json:"stream"` // "event" | "patch"
	Data   interface{} `json:"data"`
}

// Run subscribes to bus and blocks, broadcasting every event/patch to all
// registered clients until ctxDone is closed.
func (h *Hub) Run(ctxDone <-chan struct{}) {
	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub.ID)

	for {
		select {
		case <-ctxDone:
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			h.broadcast(frame{Stream: "event", Data: ev})
		case p, ok := <-sub.Patches:
			if !ok {
				return
			}
			h.broadcast(frame{Stream: "patch", Data: p})
		}
	}
}

func (h *Hub) broadcast(f frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if err := client.WriteJSON(f); err != nil {
			log.Printf("wsmonitor: write error: %v", err)
			client.Close()
			delete(h.clients, client)
		}
	}
}
