package repositories

import (
	"context"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	"mentor-chat/internal/models"
)

var ErrInvalidMessage = errors.New("invalid message")

// MessageRepository stores student/mentor messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, req models.CreateMessageRequest) (models.Message, error)
	ListConversation(ctx context.Context, a, b int) ([]models.Message, error)
	MarkConversationRead(ctx context.Context, readerID, counterpartID int) (int64, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, sender_type, sender_id, receiver_id, content, created_at, is_read`

// CreateMessage stores a message and returns it with its id and timestamp.
func (r *MessageRepo) CreateMessage(ctx context.Context, req models.CreateMessageRequest) (models.Message, error) {
	if strings.TrimSpace(req.Content) == "" || !req.SenderType.Valid() || req.SenderID <= 0 || req.ReceiverID <= 0 || req.SenderID == req.ReceiverID {
		return models.Message{}, ErrInvalidMessage
	}
	var msg models.Message
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (sender_type, sender_id, receiver_id, content) VALUES ($1, $2, $3, $4) RETURNING `+messageColumns,
		req.SenderType, req.SenderID, req.ReceiverID, req.Content).
		StructScan(&msg)
	return msg, err
}

// ListConversation returns the messages between a and b in both directions, oldest first.
func (r *MessageRepo) ListConversation(ctx context.Context, a, b int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + `
        FROM messages
        WHERE (sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1)
        ORDER BY created_at ASC, id ASC`
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, query, a, b)
	return msgs, err
}

// MarkConversationRead flags every unread message from counterpartID to readerID as read.
func (r *MessageRepo) MarkConversationRead(ctx context.Context, readerID, counterpartID int) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET is_read = TRUE WHERE receiver_id=$1 AND sender_id=$2 AND is_read = FALSE`,
		readerID, counterpartID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
