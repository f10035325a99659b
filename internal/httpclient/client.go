// Package httpclient talks to the chat REST API: conversation history,
// message creation and read receipts.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
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

const (
	OpListConversation = "list_conversation"
	OpCreateMessage    = "create_message"
	OpMarkRead         = "mark_read"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Operation, e.StatusCode, e.Message)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// Client is a REST client for the chat API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = logging.OrNop(l) }
}

// New returns a Client rooted at baseURL, e.g. http://localhost:8083.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type conversationResponse struct {
	Messages []models.Message `json:"messages"`
}

// ListConversation returns every message exchanged between a and b.
func (c *Client) ListConversation(ctx context.Context, a, b int) ([]models.Message, error) {
	query := url.Values{}
	query.Set("participantA", strconv.Itoa(a))
	query.Set("participantB", strconv.Itoa(b))

	var resp conversationResponse
	if err := c.do(ctx, OpListConversation, http.MethodGet, "/conversations", query, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Messages == nil {
		return []models.Message{}, nil
	}
	return resp.Messages, nil
}

// CreateMessage persists a message and returns it with its server id and timestamp.
func (c *Client) CreateMessage(ctx context.Context, req models.CreateMessageRequest) (models.Message, error) {
	var msg models.Message
	if err := c.do(ctx, OpCreateMessage, http.MethodPost, "/messages", nil, req, &msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

type markReadRequest struct {
	ReaderID      int `json:"reader_id"`
	CounterpartID int `json:"counterpart_id"`
}

// MarkConversationRead marks every message from counterpartID to readerID as read.
func (c *Client) MarkConversationRead(ctx context.Context, readerID, counterpartID int) error {
	body := markReadRequest{ReaderID: readerID, CounterpartID: counterpartID}
	return c.do(ctx, OpMarkRead, http.MethodPost, "/conversations/read", nil, body, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) (err error) {
	started := time.Now()
	ctx, span := otel.Tracer("mentor-chat/httpclient").Start(ctx, "rest."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.method", method), attribute.String("http.route", path)))
	defer func() {
		observability.ObserveClientRequest(op, started, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, op+" failed")
		}
		span.End()
	}()

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(observability.RequestIDHeader, uuid.NewString())
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeStatusError(op, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	c.logger.Debug("rest call", zap.String("operation", op), zap.Int("status", resp.StatusCode), zap.Duration("took", time.Since(started)))
	return nil
}

func decodeStatusError(op string, resp *http.Response) error {
	se := &StatusError{Operation: op, StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		se.Message = body.Error
	} else {
		se.Message = strings.TrimSpace(string(raw))
	}
	return se
}
