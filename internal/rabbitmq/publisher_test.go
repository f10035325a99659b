package rabbitmq

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"

	"mentor-chat/internal/observability"
	"mentor-chat/internal/telemetry"
)

func TestNewPublisherFallsBackToNoop(t *testing.T) {
	p := NewPublisher("", "mentorchat.events", nil)

	assert.Equal(t, "noop", PublisherMode(p))
	assert.Equal(t, "empty amqp url", PublisherNoopReason(p))
	assert.NoError(t, p.Publish(context.Background(), "ws_events.chats", observability.EventEnvelope{EventName: "ws_connect"}))
	assert.NoError(t, p.Publish(context.Background(), "audit.messages", telemetry.AuditEnvelope{EventType: "message_created"}))
	assert.NoError(t, p.Close())
}

func TestAMQPHeadersCopyEnvelopeHeaders(t *testing.T) {
	table := amqpHeaders(observability.EventEnvelope{Headers: observability.BuildHeaders("req-1", "trace-1")})
	assert.Equal(t, amqp.Table{"x-request-id": "req-1", "trace_id": "trace-1"}, table)

	assert.Nil(t, amqpHeaders("plain"))
}
