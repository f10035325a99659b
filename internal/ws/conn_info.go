package ws

import (
	"time"

	"github.com/google/uuid"

	"mentor-chat/internal/observability"
)

// routingKey is used for every websocket lifecycle event.
const routingKey = "ws_events.chats"

type ConnInfo struct {
	ConnID      string
	UserID      int
	Room        string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func newConnID() string {
	return uuid.NewString()
}

// lifecycleEvent builds the envelope for ws_connect, ws_disconnect and ws_error.
func lifecycleEvent(name string, info ConnInfo, reason string) observability.EventEnvelope {
	var duration int64
	if name != "ws_connect" {
		duration = time.Since(info.ConnectedAt).Milliseconds()
	}
	return observability.EventEnvelope{
		EventType: "ws_events",
		EventName: name,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        "chat",
				"room":        info.Room,
				"event":       name,
				"conn_id":     info.ConnID,
				"duration_ms": duration,
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id": info.UserID,
				"ip":      info.IP,
			},
		},
		Headers: observability.BuildHeaders(info.RequestID, info.TraceID),
	}
}
