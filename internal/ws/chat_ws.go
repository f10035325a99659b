package ws

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"mentor-chat/internal/logging"
	"mentor-chat/internal/observability"
)

// ChatWebSocketHandler handles conversation websocket connections.
type ChatWebSocketHandler struct {
	hub    *Hub
	logger *zap.Logger
}

// NewChatWebSocketHandler constructs a ChatWebSocketHandler.
func NewChatWebSocketHandler(hub *Hub, logger *zap.Logger) *ChatWebSocketHandler {
	return &ChatWebSocketHandler{hub: hub, logger: logging.OrNop(logger)}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades GET /ws/chats/:user_a/:user_b?user_id= and joins the pair's room.
// Inbound frames are read only to notice disconnects; messages are created over REST.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	userA, errA := strconv.Atoi(c.Param("user_a"))
	userB, errB := strconv.Atoi(c.Param("user_b"))
	if errA != nil || errB != nil || userA <= 0 || userB <= 0 || userA == userB {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid participants"})
		return
	}
	userID, err := strconv.Atoi(c.Query("user_id"))
	if err != nil || (userID != userA && userID != userB) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this conversation"})
		return
	}

	ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
	ctx, span := otel.Tracer("mentor-chat/ws").Start(ctx, "ws.handshake")
	span.SetAttributes(attribute.Int("chat.user_id", userID), attribute.String("chat.room", RoomKey(userA, userB)))
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		Room:        RoomKey(userA, userB),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	p := h.hub.addPeer(conn, info)

	// the request context ends when Handle returns
	eventCtx := context.WithoutCancel(ctx)
	observability.IncWSActive(observability.SideServer)
	observability.IncWSEvent(observability.SideServer, "ws_connect")
	_ = observability.PublishEvent(eventCtx, routingKey, lifecycleEvent("ws_connect", info, ""))
	h.logger.Info("websocket connected", zap.String("conn_id", info.ConnID), zap.String("room", info.Room), zap.Int("user_id", userID))

	go h.readLoop(eventCtx, p)
}

func (h *ChatWebSocketHandler) readLoop(ctx context.Context, p *peer) {
	var closeReason string
	defer func() {
		p.conn.Close()
		h.hub.removePeer(p)
		observability.DecWSActive(observability.SideServer)
		observability.IncWSEvent(observability.SideServer, "ws_disconnect")
		_ = observability.PublishEvent(ctx, routingKey, lifecycleEvent("ws_disconnect", p.info, closeReason))
		h.logger.Info("websocket disconnected", zap.String("conn_id", p.info.ConnID), zap.String("reason", closeReason))
	}()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent(observability.SideServer, "ws_error")
				_ = observability.PublishEvent(ctx, routingKey, lifecycleEvent("ws_error", p.info, closeReason))
			}
			return
		}
		h.logger.Debug("ignoring inbound frame", zap.String("conn_id", p.info.ConnID), zap.Int("bytes", len(data)))
	}
}
