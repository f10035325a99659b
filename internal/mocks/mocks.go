package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"mentor-chat/internal/models"
	"mentor-chat/internal/rabbitmq"
	"mentor-chat/internal/repositories"
	"mentor-chat/internal/ws"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, req models.CreateMessageRequest) (models.Message, error) {
	args := m.Called(ctx, req)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListConversation(ctx context.Context, a, b int) ([]models.Message, error) {
	args := m.Called(ctx, a, b)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) MarkConversationRead(ctx context.Context, readerID, counterpartID int) (int64, error) {
	args := m.Called(ctx, readerID, counterpartID)
	var n int64
	if val := args.Get(0); val != nil {
		n = val.(int64)
	}
	return n, args.Error(1)
}

// MessageAPIMock stands in for the REST client.
type MessageAPIMock struct {
	mock.Mock
}

func (m *MessageAPIMock) ListConversation(ctx context.Context, a, b int) ([]models.Message, error) {
	args := m.Called(ctx, a, b)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageAPIMock) CreateMessage(ctx context.Context, req models.CreateMessageRequest) (models.Message, error) {
	args := m.Called(ctx, req)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageAPIMock) MarkConversationRead(ctx context.Context, readerID, counterpartID int) error {
	args := m.Called(ctx, readerID, counterpartID)
	return args.Error(0)
}

// DialerMock records dials. Tests grab the push callback from the fourth
// argument through Run.
type DialerMock struct {
	mock.Mock
}

func (m *DialerMock) Dial(ctx context.Context, localID, remoteID int, onMessage func(models.Message)) (ws.Connection, error) {
	args := m.Called(ctx, localID, remoteID, onMessage)
	var conn ws.Connection
	if val := args.Get(0); val != nil {
		conn = val.(ws.Connection)
	}
	return conn, args.Error(1)
}

type ConnectionMock struct {
	mock.Mock
}

func (m *ConnectionMock) Send(req models.CreateMessageRequest) error {
	args := m.Called(req)
	return args.Error(0)
}

func (m *ConnectionMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// BroadcasterMock stands in for the websocket hub.
type BroadcasterMock struct {
	mock.Mock
}

func (m *BroadcasterMock) BroadcastMessage(msg models.Message) int {
	args := m.Called(msg)
	return args.Int(0)
}

// PublisherMock records events meant for the AMQP exchange.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// Published returns the events published under routingKey, oldest first.
func (m *PublisherMock) Published(routingKey string) []any {
	var out []any
	for _, call := range m.Calls {
		if call.Method == "Publish" && call.Arguments.String(1) == routingKey {
			out = append(out, call.Arguments.Get(2))
		}
	}
	return out
}

var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ ws.Dialer = (*DialerMock)(nil)
var _ ws.Connection = (*ConnectionMock)(nil)
var _ rabbitmq.Publisher = (*PublisherMock)(nil)
var _ interface {
	ListConversation(context.Context, int, int) ([]models.Message, error)
	CreateMessage(context.Context, models.CreateMessageRequest) (models.Message, error)
	MarkConversationRead(context.Context, int, int) error
} = (*MessageAPIMock)(nil)
var _ interface {
	BroadcastMessage(models.Message) int
} = (*BroadcasterMock)(nil)
