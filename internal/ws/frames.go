package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"mentor-chat/internal/models"
)

var (
	ErrMalformedFrame    = errors.New("malformed frame")
	ErrUnsupportedFrame  = errors.New("unsupported frame type")
	ErrIncompleteMessage = errors.New("frame message lacks id or timestamp")
)

func orderedPair(a, b int) (int, int) {
	if a > b {
		return b, a
	}
	return a, b
}

// RoomKey names the room shared by a and b. It does not depend on argument order.
func RoomKey(a, b int) string {
	lo, hi := orderedPair(a, b)
	return fmt.Sprintf("%d:%d", lo, hi)
}

// ChatPath is the websocket route of the conversation between a and b, lower id first.
func ChatPath(a, b int) string {
	lo, hi := orderedPair(a, b)
	return fmt.Sprintf("/ws/chats/%d/%d", lo, hi)
}

// ChatURL joins base with ChatPath and identifies the dialing side through user_id.
func ChatURL(base string, localID, remoteID int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse websocket base url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("websocket base url must use ws or wss, got %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + ChatPath(localID, remoteID)
	q := u.Query()
	q.Set("user_id", strconv.Itoa(localID))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DecodeFrame extracts the message carried by a server push frame.
func DecodeFrame(data []byte) (models.Message, error) {
	var event models.ChatEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if event.Type != models.ChatEventMessage {
		return models.Message{}, fmt.Errorf("%w: %q", ErrUnsupportedFrame, event.Type)
	}
	if event.Message == nil || event.Message.ID == 0 || event.Message.Timestamp.IsZero() {
		return models.Message{}, ErrIncompleteMessage
	}
	return *event.Message, nil
}

// EncodeMessageEvent builds the push frame for msg.
func EncodeMessageEvent(msg models.Message) ([]byte, error) {
	return json.Marshal(models.ChatEvent{Type: models.ChatEventMessage, Message: &msg})
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrMalformedFrame):
		return "malformed"
	case errors.Is(err, ErrUnsupportedFrame):
		return "unsupported_type"
	case errors.Is(err, ErrIncompleteMessage):
		return "incomplete"
	default:
		return "unknown"
	}
}
