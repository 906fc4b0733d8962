package main

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flowctl/workflowrouter/internal/observability"
	"github.com/flowctl/workflowrouter/internal/submission"
)

const maxStreamConnections = 200

// StreamHub manages WebSocket connections and pushes submission state
// transitions to them as the router detects changes. Single broadcaster
// pattern: one loop fans out to all clients, clients never tick.
type StreamHub struct {
	// clients maps connection to the routeId filter it subscribed with
	// ("" means all routes).
	clients    map[*websocket.Conn]string
	register   chan streamRegistration
	unregister chan *websocket.Conn
	updates    chan *submission.Submission
	mu         sync.RWMutex
}

type streamRegistration struct {
	conn    *websocket.Conn
	routeID string
}

func NewStreamHub() *StreamHub {
	return &StreamHub{
		clients:    make(map[*websocket.Conn]string),
		register:   make(chan streamRegistration),
		unregister: make(chan *websocket.Conn),
		updates:    make(chan *submission.Submission, 256),
	}
}

// SubmissionUpdated implements the router's TransitionListener. Drops
// the update if the hub's buffer is full — the stream is observational,
// never control flow, and the store keeps the truth.
func (h *StreamHub) SubmissionUpdated(sub *submission.Submission) {
	select {
	case h.updates <- sub:
	default:
		log.Printf("StreamHub: update buffer full, dropping broadcast for %s", sub.SubmissionID)
	}
}

// Run starts the hub's main loop.
func (h *StreamHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case reg := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxStreamConnections {
				h.mu.Unlock()
				reg.conn.Close()
				log.Printf("StreamHub: connection rejected: max connections (%d) reached", maxStreamConnections)
				continue
			}
			h.clients[reg.conn] = reg.routeID
			total := len(h.clients)
			h.mu.Unlock()
			observability.StreamClients.Set(float64(total))
			log.Printf("StreamHub: client registered (route filter %q). Total: %d", reg.routeID, total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			observability.StreamClients.Set(float64(total))
			log.Printf("StreamHub: client unregistered. Total: %d", total)

		case sub := <-h.updates:
			h.broadcast(sub)
		}
	}
}

func (h *StreamHub) broadcast(sub *submission.Submission) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn, routeID := range h.clients {
		if routeID != "" && routeID != sub.RouteID {
			continue
		}
		// Write deadline prevents one dead connection stalling the loop.
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(sub); err != nil {
			log.Printf("StreamHub: write error: %v", err)
			go h.Unregister(conn)
		}
	}
}

func (h *StreamHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	log.Printf("StreamHub: shutting down with %d clients", len(h.clients))
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]string)
}

// Register adds a new client connection with an optional routeId filter.
func (h *StreamHub) Register(conn *websocket.Conn, routeID string) {
	h.register <- streamRegistration{conn: conn, routeID: routeID}
}

// Unregister removes a client connection.
func (h *StreamHub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// ClientCount returns the number of connected clients.
func (h *StreamHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
