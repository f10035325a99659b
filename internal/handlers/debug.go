package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mentor-chat/internal/telemetry"
	"mentor-chat/internal/ws"
)

type roomCounter interface {
	RoomSize(room string) int
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRoutes, emitter *telemetry.AuditEmitter, rooms roomCounter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), telemetry.AuditTest, requestIDFromContext(c), nil, gin.H{"text": "audit test"})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/rooms/:user_a/:user_b", func(c *gin.Context) {
		a, errA := strconv.Atoi(c.Param("user_a"))
		b, errB := strconv.Atoi(c.Param("user_b"))
		if errA != nil || errB != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid participants"})
			return
		}
		room := ws.RoomKey(a, b)
		c.JSON(http.StatusOK, gin.H{"room": room, "connections": rooms.RoomSize(room)})
	})
}
