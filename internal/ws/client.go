package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"mentor-chat/internal/logging"
	"mentor-chat/internal/models"
	"mentor-chat/internal/observability"
)

// ErrConnectionClosed is returned by Send after Close.
var ErrConnectionClosed = errors.New("websocket connection closed")

// Dialer opens the push channel of one conversation.
type Dialer interface {
	Dial(ctx context.Context, localID, remoteID int, onMessage func(models.Message)) (Connection, error)
}

// Connection is an open conversation socket. onMessage runs on the
// connection's reader goroutine and must not call Close.
type Connection interface {
	Send(req models.CreateMessageRequest) error
	Close() error
}

// Client dials conversation sockets with gorilla/websocket.
type Client struct {
	baseURL      string
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	logger       *zap.Logger
}

type ClientOption func(*Client)

func WithHandshakeTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.dialer.HandshakeTimeout = d }
}

func WithWriteTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.writeTimeout = d }
}

func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = logging.OrNop(l) }
}

// NewClient returns a Client for the ws(s) base URL of the chat server.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		writeTimeout: 5 * time.Second,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Dialer = (*Client)(nil)

// Dial connects to the room shared by localID and remoteID. The connection
// is not retried: callers fall back to REST when Dial fails or the socket drops.
func (c *Client) Dial(ctx context.Context, localID, remoteID int, onMessage func(models.Message)) (Connection, error) {
	target, err := ChatURL(c.baseURL, localID, remoteID)
	if err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer("mentor-chat/ws").Start(ctx, "ws.dial",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int("chat.local_id", localID),
			attribute.Int("chat.remote_id", remoteID),
		))
	defer span.End()

	requestID := uuid.NewString()
	header := http.Header{}
	header.Set(observability.RequestIDHeader, requestID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(header))

	conn, resp, err := c.dialer.DialContext(ctx, target, header)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		observability.IncWSEvent(observability.SideClient, "ws_dial_error")
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      localID,
		Room:        RoomKey(localID, remoteID),
		RequestID:   requestID,
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	cc := &clientConn{
		conn:         conn,
		info:         info,
		writeTimeout: c.writeTimeout,
		logger:       c.logger.With(zap.String("conn_id", info.ConnID), zap.String("room", info.Room)),
		done:         make(chan struct{}),
	}

	observability.IncWSActive(observability.SideClient)
	observability.IncWSEvent(observability.SideClient, "ws_connect")
	cc.logger.Debug("websocket connected", zap.String("url", target))

	go cc.readLoop(onMessage)
	return cc, nil
}

type clientConn struct {
	conn         *websocket.Conn
	info         ConnInfo
	writeTimeout time.Duration
	logger       *zap.Logger

	writeMu   sync.Mutex
	deliverMu sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

func (c *clientConn) readLoop(onMessage func(models.Message)) {
	defer func() {
		close(c.done)
		observability.DecWSActive(observability.SideClient)
		observability.IncWSEvent(observability.SideClient, "ws_disconnect")
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("websocket closed by server", zap.Error(err))
			} else {
				observability.IncWSEvent(observability.SideClient, "ws_error")
				c.logger.Warn("websocket read failed, conversation continues over REST",
					zap.Error(err),
					zap.Duration("uptime", time.Since(c.info.ConnectedAt)))
			}
			return
		}

		msg, err := DecodeFrame(data)
		if err != nil {
			observability.IncFrameDropped(dropReason(err))
			c.logger.Debug("dropping websocket frame", zap.Error(err))
			continue
		}
		if !c.deliver(onMessage, msg) {
			return
		}
	}
}

// deliver hands msg to onMessage unless Close has started.
func (c *clientConn) deliver(onMessage func(models.Message), msg models.Message) bool {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	if c.closed.Load() {
		return false
	}
	if onMessage != nil {
		onMessage(msg)
	}
	return true
}

// Send writes req as a raw JSON frame.
func (c *clientConn) Send(req models.CreateMessageRequest) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close sends a normal closure and closes the socket. It waits for an
// in-flight onMessage call to return but not for the reader goroutine.
func (c *clientConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		deadline := time.Now().Add(time.Second)
		if c.writeTimeout > 0 {
			deadline = time.Now().Add(c.writeTimeout)
		}
		c.writeMu.Lock()
		err := c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.logger.Debug("close frame not sent", zap.Error(err))
		}

		c.closeErr = c.conn.Close()

		// wait for a running delivery
		c.deliverMu.Lock()
		c.deliverMu.Unlock()

		c.logger.Debug("websocket closed", zap.Duration("uptime", time.Since(c.info.ConnectedAt)))
	})
	return c.closeErr
}
