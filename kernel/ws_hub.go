package main

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rewindlabs/rewind/kernel/model"
	"github.com/rewindlabs/rewind/kernel/observability"
)

const (
	maxWSConnections = 200
	wsWriteTimeout   = 5 * time.Second
	wsPingInterval   = 30 * time.Second
)

// ClientHub manages WebSocket connections and fans kernel envelopes out
// to every connected client. Single broadcaster pattern prevents N
// duplicate tickers.
type ClientHub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	outbound   chan model.Envelope
	mu         sync.RWMutex
}

func NewClientHub() *ClientHub {
	return &ClientHub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		outbound:   make(chan model.Envelope, 64),
	}
}

// Run starts the hub's main loop.
func (h *ClientHub) Run(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case conn := <-h.register:
			h.mu.Lock()
			// Connection cap to prevent overload
			if len(h.clients) >= maxWSConnections {
				h.mu.Unlock()
				conn.Close()
				log.Printf("WebSocket connection rejected: max connections (%d) reached", maxWSConnections)
				continue
			}
			h.clients[conn] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			observability.ConnectedClients.Set(float64(total))
			log.Printf("WebSocket client registered. Total: %d", total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			observability.ConnectedClients.Set(float64(total))
			log.Printf("WebSocket client unregistered. Total: %d", total)

		case envelope := <-h.outbound:
			h.broadcastAll(envelope)

		case <-ticker.C:
			h.broadcastAll(model.NewEnvelope(model.MsgPing, nil))
		}
	}
}

// Broadcast queues an envelope for every connected client. Drops the
// envelope rather than blocking the caller when the hub is saturated.
func (h *ClientHub) Broadcast(envelope model.Envelope) {
	select {
	case h.outbound <- envelope:
	default:
		log.Printf("WebSocket broadcast dropped: outbound queue full (%s)", envelope.Type)
	}
}

func (h *ClientHub) broadcastAll(envelope model.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.clients {
		// Write deadline prevents blocking on dead connections
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(envelope); err != nil {
			log.Printf("WebSocket write error: %v", err)
			// Unregister happens off the read path to avoid a deadlock
			go h.Unregister(conn)
		}
	}
}

// shutdown gracefully closes all client connections.
func (h *ClientHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	log.Printf("Shutting down WebSocket hub with %d clients", len(h.clients))

	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
	observability.ConnectedClients.Set(0)
}

// Register adds a new client connection.
func (h *ClientHub) Register(conn *websocket.Conn) {
	h.register <- conn
}

// Unregister removes a client connection.
func (h *ClientHub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// ClientCount returns the number of connected clients.
func (h *ClientHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
