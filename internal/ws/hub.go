package ws

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

const routingKey = "ws_events.conversations"

// Hub tracks connected users and conversation rooms. A user may hold several
// connections (one per device); presence is derived from connection counts.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*websocket.Conn]ConnInfo
	rooms   map[string]map[*websocket.Conn]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*websocket.Conn]ConnInfo),
		rooms:   make(map[string]map[*websocket.Conn]bool),
	}
}

// AddClient registers a connection for a user. Reports whether this is the
// user's first connection, i.e. the user just came online.
func (h *Hub) AddClient(userID string, conn *websocket.Conn, info ConnInfo) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.clients[userID]
	if !ok {
		conns = make(map[*websocket.Conn]ConnInfo)
		h.clients[userID] = conns
	}
	conns[conn] = info
	return len(conns) == 1
}

// RemoveClient drops a connection and leaves every room it joined. Reports
// whether the user went offline.
func (h *Hub) RemoveClient(userID string, conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.clients[userID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.clients, userID)
		}
	}
	for conversationID, room := range h.rooms {
		delete(room, conn)
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	_, stillOnline := h.clients[userID]
	return !stillOnline
}

// JoinRoom subscribes a connection to a conversation room.
func (h *Hub) JoinRoom(conversationID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[conversationID]; !ok {
		h.rooms[conversationID] = make(map[*websocket.Conn]bool)
	}
	h.rooms[conversationID][conn] = true
}

// LeaveRoom unsubscribes a connection from a conversation room.
func (h *Hub) LeaveRoom(conversationID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[conversationID]; ok {
		delete(room, conn)
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
}

// OnlineUsers returns the ids of all users with at least one connection.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.clients))
	for userID := range h.clients {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

// BroadcastOnlineUsers pushes the full presence snapshot to every connection.
func (h *Hub) BroadcastOnlineUsers() {
	snapshot := h.OnlineUsers()
	envelope, err := models.NewEnvelope(models.EventOnlineUsers, snapshot)
	if err != nil {
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0)
	for _, userConns := range h.clients {
		for conn := range userConns {
			conns = append(conns, conn)
		}
	}
	h.mu.RUnlock()

	observability.IncWSEvent(models.EventOnlineUsers)
	for _, conn := range conns {
		h.write(conn, envelope)
	}
}

// SendToUsers delivers an envelope to every connection of the given users.
func (h *Hub) SendToUsers(userIDs []string, envelope models.Envelope) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0)
	for _, userID := range userIDs {
		for conn := range h.clients[userID] {
			conns = append(conns, conn)
		}
	}
	h.mu.RUnlock()

	observability.IncWSEvent(envelope.Event)
	for _, conn := range conns {
		h.write(conn, envelope)
	}
}

// BroadcastNewMessage fans an accepted message out to every participant,
// whether or not they have joined the conversation room. Participants who are
// offline simply miss the push and reconcile on their next connect.
func (h *Hub) BroadcastNewMessage(participantIDs []string, event models.NewMessageEvent) {
	envelope, err := models.NewEnvelope(models.EventNewMessage, event)
	if err != nil {
		return
	}
	h.SendToUsers(participantIDs, envelope)
}

// BroadcastReadMessage notifies participants that someone caught up.
func (h *Hub) BroadcastReadMessage(participantIDs []string, event models.ReadMessageEvent) {
	envelope, err := models.NewEnvelope(models.EventReadMessage, event)
	if err != nil {
		return
	}
	h.SendToUsers(participantIDs, envelope)
}

// BroadcastNewGroup tells the members of a freshly created group about it.
func (h *Hub) BroadcastNewGroup(participantIDs []string, conversation models.Conversation) {
	envelope, err := models.NewEnvelope(models.EventNewGroup, conversation)
	if err != nil {
		return
	}
	h.SendToUsers(participantIDs, envelope)
}

// RelayTyping forwards a typing signal to the conversation room, excluding
// every connection that belongs to the sender.
func (h *Hub) RelayTyping(event models.TypingEvent) {
	envelope, err := models.NewEnvelope(models.EventUserTyping, event)
	if err != nil {
		return
	}

	h.mu.RLock()
	senderConns := h.clients[event.UserID]
	conns := make([]*websocket.Conn, 0)
	for conn := range h.rooms[event.ConversationID] {
		if _, own := senderConns[conn]; own {
			continue
		}
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	observability.IncWSEvent(models.EventUserTyping)
	for _, conn := range conns {
		h.write(conn, envelope)
	}
}

func (h *Hub) write(conn *websocket.Conn, envelope models.Envelope) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Printf("websocket write error: %v", err)
		conn.Close()
		if info, userID, ok := h.findConn(conn); ok {
			h.RemoveClient(userID, conn)
			h.publishWSError(info, err)
		}
	}
}

func (h *Hub) findConn(conn *websocket.Conn) (ConnInfo, string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for userID, conns := range h.clients {
		if info, ok := conns[conn]; ok {
			return info, userID, true
		}
	}
	return ConnInfo{}, "", false
}

func (h *Hub) publishWSError(info ConnInfo, err error) {
	observability.IncWSEvent("ws_error")
	_ = observability.PublishEvent(context.Background(), routingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       "ws_error",
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      err.Error(),
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	})
}
