package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mentor-chat/internal/logging"
	"mentor-chat/internal/models"
	"mentor-chat/internal/repositories"
	"mentor-chat/internal/telemetry"
)

// Broadcaster pushes a created message to the participants' sockets.
type Broadcaster interface {
	BroadcastMessage(msg models.Message) int
}

// MessageHandler serves the conversation REST endpoints.
type MessageHandler struct {
	messageRepo repositories.MessageRepository
	hub         Broadcaster
	audit       *telemetry.AuditEmitter
	logger      *zap.Logger
}

// NewMessageHandler builds a MessageHandler. hub and audit may be nil.
func NewMessageHandler(messageRepo repositories.MessageRepository, hub Broadcaster, audit *telemetry.AuditEmitter, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{
		messageRepo: messageRepo,
		hub:         hub,
		audit:       audit,
		logger:      logging.OrNop(logger),
	}
}

// Register mounts the endpoints on r.
func (h *MessageHandler) Register(r gin.IRoutes) {
	r.GET("/conversations", h.GetConversation)
	r.POST("/conversations/read", h.MarkConversationRead)
	r.POST("/messages", h.PostMessage)
}

// GetConversation returns every message between participantA and participantB.
func (h *MessageHandler) GetConversation(c *gin.Context) {
	a, errA := strconv.Atoi(c.Query("participantA"))
	b, errB := strconv.Atoi(c.Query("participantB"))
	if errA != nil || errB != nil || a <= 0 || b <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "participantA and participantB must be positive ids"})
		return
	}
	if a == b {
		c.JSON(http.StatusBadRequest, gin.H{"error": "participants must differ"})
		return
	}

	msgs, err := h.messageRepo.ListConversation(c.Request.Context(), a, b)
	if err != nil {
		h.logger.Error("list conversation", zap.Int("participant_a", a), zap.Int("participant_b", b), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage stores a message and pushes it to both participants.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	var req models.CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req.Content = strings.TrimSpace(req.Content)
	role, err := models.ParseRole(string(req.SenderType))
	switch {
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": "sender_type must be student or mentor"})
		return
	case req.Content == "":
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	case req.SenderID <= 0 || req.ReceiverID <= 0:
		c.JSON(http.StatusBadRequest, gin.H{"error": "sender_id and receiver_id are required"})
		return
	case req.SenderID == req.ReceiverID:
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot message yourself"})
		return
	}
	req.SenderType = role

	msg, err := h.messageRepo.CreateMessage(c.Request.Context(), req)
	if errors.Is(err, repositories.ErrInvalidMessage) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("create message", zap.Int("sender_id", req.SenderID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not send message"})
		return
	}

	if h.hub != nil {
		delivered := h.hub.BroadcastMessage(msg)
		h.logger.Debug("message pushed", zap.Int("message_id", msg.ID), zap.Int("sockets", delivered))
	}
	h.audit.Emit(c.Request.Context(), telemetry.AuditMessageCreated, requestIDFromContext(c), &msg.SenderID, gin.H{
		"message_id":  msg.ID,
		"sender_type": msg.SenderType,
		"receiver_id": msg.ReceiverID,
	})

	c.JSON(http.StatusCreated, msg)
}

type markReadRequest struct {
	ReaderID      int `json:"reader_id" binding:"required"`
	CounterpartID int `json:"counterpart_id" binding:"required"`
}

// MarkConversationRead flags the counterpart's messages to the reader as read.
func (h *MessageHandler) MarkConversationRead(c *gin.Context) {
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ReaderID <= 0 || req.CounterpartID <= 0 || req.ReaderID == req.CounterpartID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid participants"})
		return
	}

	updated, err := h.messageRepo.MarkConversationRead(c.Request.Context(), req.ReaderID, req.CounterpartID)
	if err != nil {
		h.logger.Error("mark conversation read", zap.Int("reader_id", req.ReaderID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark messages as read"})
		return
	}
	if updated > 0 {
		h.audit.Emit(c.Request.Context(), telemetry.AuditConversationRead, requestIDFromContext(c), &req.ReaderID, gin.H{
			"counterpart_id": req.CounterpartID,
			"updated":        updated,
		})
	}

	c.Status(http.StatusNoContent)
}
