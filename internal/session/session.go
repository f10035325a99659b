// Package session drives one open conversation: it loads history over REST,
// merges pushed messages from the websocket and posts new messages.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"mentor-chat/internal/logging"
	"mentor-chat/internal/models"
	"mentor-chat/internal/observability"
	"mentor-chat/internal/store"
	"mentor-chat/internal/ws"
)

var (
	ErrNotOpen            = errors.New("conversation is not open")
	ErrSendFailed         = errors.New("message could not be sent")
	ErrHistoryUnavailable = errors.New("conversation history unavailable")
	ErrInvalidCounterpart = errors.New("invalid counterpart")
	// ErrSuperseded is returned by Open when Close or another Open ran
	// before the history arrived.
	ErrSuperseded = errors.New("conversation open superseded")
)

var tracer = otel.Tracer("mentor-chat/session")

type State int

const (
	Closed State = iota
	Loading
	Open
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Loading:
		return "loading"
	case Open:
		return "open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MessageAPI is the REST surface the session needs.
type MessageAPI interface {
	ListConversation(ctx context.Context, a, b int) ([]models.Message, error)
	CreateMessage(ctx context.Context, req models.CreateMessageRequest) (models.Message, error)
	MarkConversationRead(ctx context.Context, readerID, counterpartID int) error
}

// Tracker receives focus changes and pushed messages. Its callbacks must not
// call back into the session.
type Tracker interface {
	Focus(counterpart int)
	Blur(counterpart int)
	Observe(msg models.Message) bool
}

type nopTracker struct{}

func (nopTracker) Focus(int)                   {}
func (nopTracker) Blur(int)                    {}
func (nopTracker) Observe(models.Message) bool { return false }

// Session is the conversation between the local user and one counterpart at
// a time. It is safe for concurrent use.
type Session struct {
	user       models.CurrentUser
	api        MessageAPI
	dialer     ws.Dialer
	tracker    Tracker
	logger     *zap.Logger
	socketEcho bool
	onChange   func()

	mu          sync.Mutex
	state       State
	counterpart int
	focused     int
	gen         uint64
	store       *store.MessageStore
	conn        ws.Connection
	cancel      context.CancelFunc
}

type Option func(*Session)

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = logging.OrNop(l) }
}

// WithSocketEcho also writes each sent message to the websocket after the
// REST call succeeded.
func WithSocketEcho(enabled bool) Option {
	return func(s *Session) { s.socketEcho = enabled }
}

// WithChangeHandler registers fn to run after every visible change: state,
// counterpart or message list. fn runs outside the session lock and should
// read what it needs through Messages and State.
func WithChangeHandler(fn func()) Option {
	return func(s *Session) { s.onChange = fn }
}

// New creates a closed session. A nil dialer keeps every conversation
// REST-only and a nil tracker disables unread bookkeeping.
func New(user models.CurrentUser, api MessageAPI, dialer ws.Dialer, tracker Tracker, opts ...Option) *Session {
	s := &Session{
		user:    user,
		api:     api,
		dialer:  dialer,
		tracker: tracker,
		logger:  zap.NewNop(),
		store:   store.NewMessageStore(),
	}
	if s.tracker == nil {
		s.tracker = nopTracker{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open switches the session to counterpart. History is loaded first; the
// websocket is dialed only after it is in place. A dial failure leaves the
// conversation open over REST only.
func (s *Session) Open(ctx context.Context, counterpart int) error {
	if counterpart <= 0 || counterpart == s.user.ID {
		return fmt.Errorf("%w: %d", ErrInvalidCounterpart, counterpart)
	}

	ctx, span := tracer.Start(ctx, "session.open")
	span.SetAttributes(attribute.Int("chat.user_id", s.user.ID), attribute.Int("chat.counterpart_id", counterpart))
	defer span.End()

	s.mu.Lock()
	release := s.teardownLocked()
	s.gen++
	gen := s.gen
	fetchCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.counterpart = counterpart
	s.store = store.NewMessageStore()
	s.setStateLocked(Loading)
	s.mu.Unlock()
	release()
	s.notify()

	log := s.logger.With(zap.Int("counterpart_id", counterpart))

	msgs, err := s.api.ListConversation(fetchCtx, s.user.ID, counterpart)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		log.Debug("discarding superseded history")
		return ErrSuperseded
	}
	if err != nil {
		s.cancel = nil
		s.setStateLocked(Closed)
		s.mu.Unlock()
		cancel()
		s.notify()

		span.RecordError(err)
		span.SetStatus(codes.Error, "history unavailable")
		log.Warn("conversation history unavailable", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrHistoryUnavailable, err)
	}
	s.store.ReplaceAll(msgs)
	s.setStateLocked(Open)
	s.focused = counterpart
	s.tracker.Focus(counterpart)
	s.mu.Unlock()
	s.notify()
	log.Debug("conversation history loaded", zap.Int("messages", len(msgs)))

	if !s.attach(fetchCtx, gen, counterpart, log) {
		return nil
	}

	if err := s.api.MarkConversationRead(fetchCtx, s.user.ID, counterpart); err != nil {
		log.Warn("mark conversation read failed", zap.Error(err))
	}
	return nil
}

// attach dials the push channel for generation gen. It reports false when the
// session moved on meanwhile.
func (s *Session) attach(ctx context.Context, gen uint64, counterpart int, log *zap.Logger) bool {
	if s.dialer == nil {
		return true
	}

	conn, err := s.dialer.Dial(ctx, s.user.ID, counterpart, s.pushHandler(gen))

	s.mu.Lock()
	stale := s.gen != gen
	if err == nil && !stale {
		s.conn = conn
	}
	s.mu.Unlock()

	switch {
	case stale:
		if err == nil && conn != nil {
			if cerr := conn.Close(); cerr != nil {
				log.Debug("closing superseded connection", zap.Error(cerr))
			}
		}
		return false
	case err != nil:
		log.Warn("push channel unavailable, conversation continues over REST", zap.Error(err))
	}
	return true
}

func (s *Session) pushHandler(gen uint64) func(models.Message) {
	return func(msg models.Message) {
		s.mu.Lock()
		if s.gen != gen || s.state != Open || !msg.InConversation(s.user.ID, s.counterpart) {
			s.mu.Unlock()
			return
		}
		added := s.store.Insert(msg)
		s.mu.Unlock()

		s.tracker.Observe(msg)
		if added {
			s.notify()
		}
	}
}

// Close leaves the current conversation. It cancels a pending history fetch
// or dial and closes the websocket before returning. Calling it again is a
// no-op.
func (s *Session) Close() {
	s.mu.Lock()
	wasClosed := s.state == Closed && s.conn == nil && s.cancel == nil
	s.gen++
	release := s.teardownLocked()
	s.store = store.NewMessageStore()
	s.mu.Unlock()

	release()
	if !wasClosed {
		s.notify()
	}
}

// teardownLocked detaches the current conversation and returns the work
// that must run after the lock is released.
func (s *Session) teardownLocked() func() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.focused != 0 {
		s.tracker.Blur(s.focused)
		s.focused = 0
	}
	s.setStateLocked(Closed)

	conn := s.conn
	s.conn = nil
	if conn == nil {
		return func() {}
	}
	return func() {
		if err := conn.Close(); err != nil {
			s.logger.Debug("websocket close", zap.Error(err))
		}
	}
}

// Send posts text to the open conversation. Blank text is ignored. On
// failure the returned error wraps ErrSendFailed and nothing is inserted.
func (s *Session) Send(ctx context.Context, text string) error {
	content := strings.TrimSpace(text)
	if content == "" {
		return nil
	}

	s.mu.Lock()
	if s.state != Open {
		s.mu.Unlock()
		return ErrNotOpen
	}
	gen, counterpart := s.gen, s.counterpart
	s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "session.send")
	span.SetAttributes(attribute.Int("chat.counterpart_id", counterpart))
	defer span.End()

	req := models.CreateMessageRequest{
		Content:    content,
		SenderType: s.user.Role,
		SenderID:   s.user.ID,
		ReceiverID: counterpart,
	}
	msg, err := s.api.CreateMessage(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		s.logger.Warn("send failed", zap.Int("counterpart_id", counterpart), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	s.mu.Lock()
	var (
		added bool
		conn  ws.Connection
	)
	if s.gen == gen && s.state == Open {
		added = s.store.Insert(msg)
		conn = s.conn
	}
	s.mu.Unlock()
	if added {
		s.notify()
	}

	if s.socketEcho && conn != nil {
		if err := conn.Send(req); err != nil {
			s.logger.Warn("socket echo failed", zap.Int("counterpart_id", counterpart), zap.Error(err))
		}
	}
	return nil
}

// Reconcile refetches the open conversation and merges anything the
// websocket missed. It returns the number of messages added.
func (s *Session) Reconcile(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.state != Open {
		s.mu.Unlock()
		return 0, ErrNotOpen
	}
	gen, counterpart := s.gen, s.counterpart
	s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "session.reconcile")
	defer span.End()

	msgs, err := s.api.ListConversation(ctx, s.user.ID, counterpart)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("reconcile with %d: %w", counterpart, err)
	}

	s.mu.Lock()
	if s.gen != gen || s.state != Open {
		s.mu.Unlock()
		return 0, nil
	}
	added := s.store.Merge(msgs)
	s.mu.Unlock()

	if added > 0 {
		s.logger.Debug("reconcile merged missed messages", zap.Int("counterpart_id", counterpart), zap.Int("added", added))
		s.notify()
	}
	return added, nil
}

// Messages returns the ordered messages of the current conversation.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	st := s.store
	s.mu.Unlock()
	return st.Snapshot()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Counterpart returns the counterpart of the current or last conversation.
func (s *Session) Counterpart() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counterpart
}

// Live reports whether the open conversation has a websocket attached.
func (s *Session) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Open && s.conn != nil
}

func (s *Session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	observability.IncSessionTransition(s.state.String(), next.String())
	s.state = next
}

func (s *Session) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}
