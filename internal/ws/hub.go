package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mentor-chat/internal/logging"
	"mentor-chat/internal/models"
	"mentor-chat/internal/observability"
)

type peer struct {
	conn    *websocket.Conn
	info    ConnInfo
	writeMu sync.Mutex
}

func (p *peer) write(payload []byte, timeout time.Duration) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if timeout > 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return p.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub maintains the conversation rooms of the dev server. A room holds every
// socket opened by either participant of one pair.
type Hub struct {
	rooms        map[string]map[*peer]struct{}
	mu           sync.RWMutex
	writeTimeout time.Duration
	logger       *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		rooms:        make(map[string]map[*peer]struct{}),
		writeTimeout: 5 * time.Second,
		logger:       logging.OrNop(logger),
	}
}

func (h *Hub) addPeer(conn *websocket.Conn, info ConnInfo) *peer {
	p := &peer{conn: conn, info: info}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[info.Room]; !ok {
		h.rooms[info.Room] = make(map[*peer]struct{})
	}
	h.rooms[info.Room][p] = struct{}{}
	return p
}

func (h *Hub) removePeer(p *peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers, ok := h.rooms[p.info.Room]
	if !ok {
		return false
	}
	if _, ok := peers[p]; !ok {
		return false
	}
	delete(peers, p)
	if len(peers) == 0 {
		delete(h.rooms, p.info.Room)
	}
	return true
}

func (h *Hub) peers(room string) []*peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*peer, 0, len(h.rooms[room]))
	for p := range h.rooms[room] {
		out = append(out, p)
	}
	return out
}

// RoomSize returns the number of sockets in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// BroadcastMessage pushes msg to both participants' sockets and returns the
// number of sockets written. Sockets that fail a write are dropped.
func (h *Hub) BroadcastMessage(msg models.Message) int {
	room := RoomKey(msg.SenderID, msg.ReceiverID)
	payload, err := EncodeMessageEvent(msg)
	if err != nil {
		h.logger.Error("encode push frame", zap.Int("message_id", msg.ID), zap.Error(err))
		return 0
	}

	sent := 0
	for _, p := range h.peers(room) {
		if err := p.write(payload, h.writeTimeout); err != nil {
			h.logger.Warn("websocket write error", zap.String("conn_id", p.info.ConnID), zap.Error(err))
			p.conn.Close()
			if h.removePeer(p) {
				h.publishWSError(p.info, err)
			}
			continue
		}
		sent++
	}
	return sent
}

func (h *Hub) publishWSError(info ConnInfo, err error) {
	observability.IncWSEvent(observability.SideServer, "ws_error")
	_ = observability.PublishEvent(context.Background(), routingKey, lifecycleEvent("ws_error", info, err.Error()))
}
