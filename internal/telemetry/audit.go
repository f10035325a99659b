package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mentor-chat/internal/logging"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// Audit event types emitted by the dev server.
const (
	AuditMessageCreated   = "message_created"
	AuditConversationRead = "conversation_read"
	AuditTest             = "audit_test"
)

type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	logger      *zap.Logger
}

type AuditEnvelope struct {
	SchemaVersion int    `json:"schema_version"`
	EventType     string `json:"event_type"`
	OccurredAt    string `json:"occurred_at"`
	Service       string `json:"service"`
	Environment   string `json:"environment"`
	RequestID     string `json:"request_id"`
	UserID        *int   `json:"user_id,omitempty"`
	Payload       any    `json:"payload"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, logger *zap.Logger) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		logger:      logging.OrNop(logger),
	}
}

// Emit publishes one audit event. Failures are logged, never returned.
func (e *AuditEmitter) Emit(ctx context.Context, eventType, requestID string, userID *int, payload any) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     eventType,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload:       payload,
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		e.logger.Warn("audit publish failed", zap.String("event_type", eventType), zap.String("request_id", requestID), zap.Error(err))
	}
}
