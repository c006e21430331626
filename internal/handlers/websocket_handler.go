package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fleetsync/server/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now - can be restricted in production
		return true
	},
}

// WebSocketHandler handles WebSocket connections for state change hints
type WebSocketHandler struct {
	hub *services.NotificationHub
}

// NewWebSocketHandler creates a new WebSocketHandler
func NewWebSocketHandler(hub *services.NotificationHub) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
	}
}

// HandleConnection upgrades HTTP to WebSocket and manages the connection.
// Clients subscribe to topics ("fleet", "device:<uuid>", "rollout:<id>")
// after connecting; query parameters can pre-subscribe in one step.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	clientID := uuid.New().String()
	client := h.hub.NewClient(clientID, conn)

	h.hub.Register(client)

	if deviceUUID := r.URL.Query().Get("device"); deviceUUID != "" {
		h.hub.Subscribe(client, services.DeviceTopic(deviceUUID))
	}
	if rolloutID := r.URL.Query().Get("rollout"); rolloutID != "" {
		h.hub.Subscribe(client, services.RolloutTopic(rolloutID))
	}

	// Start the write pump in a goroutine
	go client.WritePump()

	// Run the read pump (blocks until connection closes)
	client.ReadPump(h.handleMessage)
}

// handleMessage processes incoming WebSocket messages
func (h *WebSocketHandler) handleMessage(client *services.WSClient, messageType int, data []byte) {
	if messageType != websocket.TextMessage {
		return
	}

	var msg services.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Invalid WebSocket message: %v", err)
		return
	}

	switch msg.Type {
	case services.WSTypeSubscribe:
		if topic, ok := messageTopic(msg); ok {
			h.hub.Subscribe(client, topic)
		}

	case services.WSTypeUnsubscribe:
		if topic, ok := messageTopic(msg); ok {
			h.hub.Unsubscribe(client, topic)
		}

	case services.WSTypePing:
		// Respond with pong
		response := services.WSMessage{
			Type:    services.WSTypePong,
			Payload: nil,
		}
		if data, err := json.Marshal(response); err == nil {
			client.Send <- data
		}

	default:
		log.Printf("Unknown WebSocket message type: %s", msg.Type)
	}
}

func messageTopic(msg services.WSMessage) (string, bool) {
	if topic, ok := msg.Payload.(string); ok {
		return topic, true
	}
	if payload, ok := msg.Payload.(map[string]interface{}); ok {
		if topic, ok := payload["topic"].(string); ok {
			return topic, true
		}
	}
	return "", false
}
