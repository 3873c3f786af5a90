package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/repositories"
	"chat-sync/internal/sessions"
)

// Handler upgrades websocket connections and runs their read loop.
type Handler struct {
	hub      *Hub
	sessions sessions.Store
	convRepo repositories.ConversationRepository
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, store sessions.Store, convRepo repositories.ConversationRepository) *Handler {
	return &Handler{hub: hub, sessions: store, convRepo: convRepo}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates, upgrades and registers the connection, then serves
// client events until the connection closes.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-sync/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	userID, err := h.sessions.Validate(ctx, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}

	h.hub.AddClient(userID, conn, info)
	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	h.publishLifecycle(ctx, info, "ws_connect", "")

	// Every (dis)connect re-broadcasts the full snapshot; clients replace
	// their presence set wholesale rather than applying diffs.
	h.hub.BroadcastOnlineUsers()

	// The gin context is pooled and must not outlive Handle; the read loop
	// only gets the captured ctx.
	go h.readLoop(ctx, conn, info)
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, info ConnInfo) {
	var closeReason string
	defer func() {
		wentOffline := h.hub.RemoveClient(info.UserID, conn)
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		h.publishLifecycle(ctx, info, "ws_disconnect", closeReason)
		if wentOffline {
			h.hub.BroadcastOnlineUsers()
		}
		conn.Close()
	}()

	for {
		var envelope models.Envelope
		if err := conn.ReadJSON(&envelope); err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
			}
			return
		}
		h.dispatch(conn, info, envelope)
	}
}

func (h *Handler) dispatch(conn *websocket.Conn, info ConnInfo, envelope models.Envelope) {
	switch envelope.Event {
	case models.EventTyping:
		var event models.TypingEvent
		if err := json.Unmarshal(envelope.Data, &event); err != nil {
			log.Printf("ws typing event malformed user=%s: %v", info.UserID, err)
			return
		}
		// The sender id is always the authenticated user, never trusted from
		// the payload.
		event.UserID = info.UserID
		h.hub.RelayTyping(event)

	case models.EventJoinConversation:
		var event models.JoinEvent
		if err := json.Unmarshal(envelope.Data, &event); err != nil {
			return
		}
		member, err := h.convRepo.IsParticipant(context.Background(), event.ConversationID, info.UserID)
		if err != nil || !member {
			log.Printf("ws join rejected user=%s conversation=%s", info.UserID, event.ConversationID)
			return
		}
		h.hub.JoinRoom(event.ConversationID, conn)

	case models.EventLeaveConversation:
		var event models.JoinEvent
		if err := json.Unmarshal(envelope.Data, &event); err != nil {
			return
		}
		h.hub.LeaveRoom(event.ConversationID, conn)

	default:
		log.Printf("ws unknown event %q from user=%s", envelope.Event, info.UserID)
	}
}

func (h *Handler) publishLifecycle(ctx context.Context, info ConnInfo, name, reason string) {
	_ = observability.PublishEvent(ctx, routingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: name,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       name,
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	})
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}
