package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Message represents one message between a student and a mentor.
type Message struct {
	ID         int       `db:"id" json:"id"`
	SenderType Role      `db:"sender_type" json:"sender_type"`
	SenderID   int       `db:"sender_id" json:"sender_id"`
	ReceiverID int       `db:"receiver_id" json:"receiver_id"`
	Content    string    `db:"content" json:"content"`
	Timestamp  Timestamp `db:"created_at" json:"timestamp"`
	IsRead     bool      `db:"is_read" json:"is_read"`
}

// InConversation reports whether the message was exchanged between a and b, in either direction.
func (m Message) InConversation(a, b int) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// CreateMessageRequest is the body of POST /messages and the outbound socket frame.
type CreateMessageRequest struct {
	Content    string `json:"content"`
	SenderType Role   `json:"sender_type"`
	SenderID   int    `json:"sender_id"`
	ReceiverID int    `json:"receiver_id"`
}

// ChatEvent is pushed through websockets.
type ChatEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"`
}

// ChatEventMessage is the only event type carried by conversation sockets.
const ChatEventMessage = "message"

// Timestamp is an ISO-8601 instant. It decodes RFC 3339 as well as zone-less
// values, which are read as UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// ParseTimestamp parses any of the accepted ISO-8601 layouts.
func ParseTimestamp(value string) (Timestamp, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return Timestamp{Time: t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("invalid timestamp %q", value)
}

// MarshalJSON encodes the timestamp as RFC 3339 in UTC.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`null`), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON accepts null or a string in one of the accepted layouts.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Timestamp{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := ParseTimestamp(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Scan lets sqlx read timestamptz columns into a Timestamp.
func (t *Timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = Timestamp{}
		return nil
	case time.Time:
		*t = Timestamp{Time: v}
		return nil
	case string:
		parsed, err := ParseTimestamp(v)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	case []byte:
		parsed, err := ParseTimestamp(string(v))
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Timestamp", src)
	}
}
