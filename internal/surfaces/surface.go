// Package surfaces binds the conversation session to the three screens that
// show conversations: the generic chat, the mentor's mentee list and the
// student's mentor list.
package surfaces

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"mentor-chat/internal/logging"
	"mentor-chat/internal/models"
	"mentor-chat/internal/session"
	"mentor-chat/internal/unread"
	"mentor-chat/internal/ws"
)

var (
	ErrUnknownCounterpart = errors.New("counterpart is not on this roster")
	ErrRoleMismatch       = errors.New("surface is not available for this role")
)

type Kind string

const (
	KindChat            Kind = "chat"
	KindMenteeMessaging Kind = "mentees"
	KindMentorMessaging Kind = "mentors"
)

// ParseKind maps a configured surface name onto a Kind.
func ParseKind(value string) (Kind, error) {
	switch Kind(value) {
	case KindChat, KindMenteeMessaging, KindMentorMessaging:
		return Kind(value), nil
	default:
		return "", fmt.Errorf("unknown surface %q", value)
	}
}

// Deps are the collaborators shared by every surface of one client.
type Deps struct {
	User         models.CurrentUser
	API          session.MessageAPI
	Dialer       ws.Dialer
	Tracker      *unread.Tracker
	Counterparts []int
	SocketEcho   bool
	Logger       *zap.Logger
	// OnChange runs after the open conversation changed. It must not block.
	OnChange func()
}

// Contact is one roster entry.
type Contact struct {
	ID     int
	Unread int
	Active bool
}

// Surface is one screen's binding to a conversation session.
type Surface struct {
	kind         Kind
	user         models.CurrentUser
	api          session.MessageAPI
	tracker      *unread.Tracker
	session      *session.Session
	counterparts []int
	restricted   bool
	logger       *zap.Logger
}

const markReadTimeout = 3 * time.Second

func newSurface(kind Kind, d Deps, restricted bool) *Surface {
	logger := logging.OrNop(d.Logger).With(zap.String("surface", string(kind)))
	tracker := d.Tracker
	if tracker == nil {
		tracker = unread.NewTracker(d.User, logger)
	}

	sess := session.New(d.User, d.API, d.Dialer, tracker,
		session.WithLogger(logger),
		session.WithSocketEcho(d.SocketEcho),
		session.WithChangeHandler(d.OnChange),
	)
	return &Surface{
		kind:         kind,
		user:         d.User,
		api:          d.API,
		tracker:      tracker,
		session:      sess,
		counterparts: slices.Clone(d.Counterparts),
		restricted:   restricted,
		logger:       logger,
	}
}

// NewChat builds the generic chat surface. Any counterpart id may be opened.
func NewChat(d Deps) (*Surface, error) {
	if err := d.User.Validate(); err != nil {
		return nil, err
	}
	return newSurface(KindChat, d, false), nil
}

// NewMenteeMessaging builds the mentor-side surface listing the mentor's mentees.
func NewMenteeMessaging(d Deps) (*Surface, error) {
	if err := d.User.Validate(); err != nil {
		return nil, err
	}
	if d.User.Role != models.RoleMentor {
		return nil, fmt.Errorf("%w: %s cannot message mentees", ErrRoleMismatch, d.User.Role)
	}
	return newSurface(KindMenteeMessaging, d, true), nil
}

// NewMentorMessaging builds the student-side surface listing the student's mentors.
func NewMentorMessaging(d Deps) (*Surface, error) {
	if err := d.User.Validate(); err != nil {
		return nil, err
	}
	if d.User.Role != models.RoleStudent {
		return nil, fmt.Errorf("%w: %s cannot message mentors", ErrRoleMismatch, d.User.Role)
	}
	return newSurface(KindMentorMessaging, d, true), nil
}

// New builds the surface named by kind.
func New(kind Kind, d Deps) (*Surface, error) {
	switch kind {
	case KindChat:
		return NewChat(d)
	case KindMenteeMessaging:
		return NewMenteeMessaging(d)
	case KindMentorMessaging:
		return NewMentorMessaging(d)
	default:
		return nil, fmt.Errorf("unknown surface %q", kind)
	}
}

func (s *Surface) Kind() Kind { return s.kind }

func (s *Surface) User() models.CurrentUser { return s.user }

// OpenConversation shows the conversation with counterpart. History failures
// are logged and leave the conversation closed without an error; only an
// unusable counterpart is reported.
func (s *Surface) OpenConversation(ctx context.Context, counterpart int) error {
	if s.restricted && !slices.Contains(s.counterparts, counterpart) {
		return fmt.Errorf("%w: %d", ErrUnknownCounterpart, counterpart)
	}
	err := s.session.Open(ctx, counterpart)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrHistoryUnavailable), errors.Is(err, session.ErrSuperseded):
		s.logger.Debug("open conversation", zap.Int("counterpart_id", counterpart), zap.Error(err))
		return nil
	default:
		return err
	}
}

// CloseConversation leaves the open conversation and marks what was shown as read.
func (s *Surface) CloseConversation() {
	wasOpen := s.session.State() == session.Open
	counterpart := s.session.Counterpart()
	s.session.Close()
	if !wasOpen {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), markReadTimeout)
	defer cancel()
	if err := s.api.MarkConversationRead(ctx, s.user.ID, counterpart); err != nil {
		s.logger.Warn("mark conversation read failed", zap.Int("counterpart_id", counterpart), zap.Error(err))
	}
}

// SendMessage posts text to the open conversation. Blank text is ignored.
func (s *Surface) SendMessage(ctx context.Context, text string) error {
	return s.session.Send(ctx, text)
}

func (s *Surface) Messages() []models.Message {
	return s.session.Messages()
}

func (s *Surface) UnreadCount(counterpart int) int {
	return s.tracker.Count(counterpart)
}

func (s *Surface) TotalUnread() int {
	return s.tracker.Total()
}

func (s *Surface) State() session.State {
	return s.session.State()
}

func (s *Surface) Counterpart() int {
	return s.session.Counterpart()
}

// Live reports whether pushes are arriving for the open conversation.
func (s *Surface) Live() bool {
	return s.session.Live()
}

// Roster lists the configured counterparts with their unread counts. On the
// generic chat surface, counterparts with unread messages that are not
// configured are listed as well.
func (s *Surface) Roster() []Contact {
	active := 0
	if s.session.State() != session.Closed {
		active = s.session.Counterpart()
	}

	ids := slices.Clone(s.counterparts)
	if !s.restricted {
		for cp := range s.tracker.Counts() {
			if !slices.Contains(ids, cp) {
				ids = append(ids, cp)
			}
		}
		if active != 0 && !slices.Contains(ids, active) {
			ids = append(ids, active)
		}
		slices.Sort(ids[len(s.counterparts):])
	}

	out := make([]Contact, 0, len(ids))
	for _, id := range ids {
		out = append(out, Contact{ID: id, Unread: s.tracker.Count(id), Active: id == active})
	}
	return out
}

// LoadUnread computes the unread counts of every roster counterpart.
func (s *Surface) LoadUnread(ctx context.Context) error {
	return s.tracker.Load(ctx, s.api, s.counterparts)
}

// Reconcile refetches the open conversation and marks it read. A closed
// surface has nothing to do.
func (s *Surface) Reconcile(ctx context.Context) (int, error) {
	added, err := s.session.Reconcile(ctx)
	if errors.Is(err, session.ErrNotOpen) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if added > 0 {
		if err := s.api.MarkConversationRead(ctx, s.user.ID, s.session.Counterpart()); err != nil {
			s.logger.Warn("mark conversation read failed", zap.Error(err))
		}
	}
	return added, nil
}
