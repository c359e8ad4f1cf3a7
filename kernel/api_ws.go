package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rewindlabs/rewind/kernel/model"
)

const wsReadTimeout = 60 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Clients connect from app origins; auth is out of scope here
		return true
	},
}

// clientMessage is the inbound frame from a connected client.
type clientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// handleClientStream upgrades to WebSocket and registers with the hub.
// The read pump detects disconnects and accepts client commands.
func (a *API) handleClientStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	a.wsHub.Register(conn)
	defer a.wsHub.Unregister(conn)

	log.Println("Client WebSocket connected")

	// Dead-client detection: any frame (pong included) extends the deadline
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Malformed client message dropped: %v", err)
			continue
		}

		switch msg.Type {
		case "identify":
			// Single-user system: acknowledge and move on
			log.Printf("Client identified")

		case "voice_command":
			var cmd model.VoiceCommand
			if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
				log.Printf("Malformed voice command dropped: %v", err)
				continue
			}
			if err := a.orch.HandleVoiceCommand(r.Context(), cmd); err != nil {
				log.Printf("Voice command failed: %v", err)
			}

		default:
			log.Printf("Unknown client message type %q dropped", msg.Type)
		}
	}
}
