package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mentor-chat/internal/mocks"
	"mentor-chat/internal/models"
	"mentor-chat/internal/unread"
)

var (
	student = models.CurrentUser{ID: 1, Role: models.RoleStudent}
	t0      = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
)

func msg(id int, sec int, from, to int) models.Message {
	role := models.RoleStudent
	if from != student.ID {
		role = models.RoleMentor
	}
	return models.Message{
		ID: id, SenderType: role, SenderID: from, ReceiverID: to,
		Content: "m", Timestamp: models.NewTimestamp(t0.Add(time.Duration(sec) * time.Second)),
	}
}

func ids(msgs []models.Message) []int {
	out := make([]int, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

type fixture struct {
	api     *mocks.MessageAPIMock
	dialer  *mocks.DialerMock
	conn    *mocks.ConnectionMock
	tracker *unread.Tracker
	push    func(models.Message)
	changes atomic.Int32
}

func newFixture() *fixture {
	return &fixture{
		api:     &mocks.MessageAPIMock{},
		dialer:  &mocks.DialerMock{},
		conn:    &mocks.ConnectionMock{},
		tracker: unread.NewTracker(student, nil),
	}
}

func (f *fixture) session(opts ...Option) *Session {
	opts = append([]Option{WithChangeHandler(func() { f.changes.Add(1) })}, opts...)
	return New(student, f.api, f.dialer, f.tracker, opts...)
}

// expectOpen wires a successful open of the conversation with counterpart.
func (f *fixture) expectOpen(counterpart int, history []models.Message) {
	f.api.On("ListConversation", mock.Anything, student.ID, counterpart).Return(history, nil).Once()
	f.dialer.On("Dial", mock.Anything, student.ID, counterpart, mock.Anything).
		Run(func(args mock.Arguments) { f.push = args.Get(3).(func(models.Message)) }).
		Return(f.conn, nil).Once()
	f.api.On("MarkConversationRead", mock.Anything, student.ID, counterpart).Return(nil).Once()
}

func TestOpenLoadsHistoryThenDials(t *testing.T) {
	f := newFixture()
	f.expectOpen(2, []models.Message{msg(2, 2, 2, 1), msg(1, 1, 1, 2)})
	s := f.session()

	require.NoError(t, s.Open(context.Background(), 2))

	assert.Equal(t, Open, s.State())
	assert.Equal(t, 2, s.Counterpart())
	assert.True(t, s.Live())
	assert.Equal(t, []int{1, 2}, ids(s.Messages()))
	assert.True(t, f.tracker.Focused(2))
	assert.Positive(t, f.changes.Load())
	f.api.AssertExpectations(t)
	f.dialer.AssertExpectations(t)
}

func TestOpenResetsUnreadCount(t *testing.T) {
	f := newFixture()
	f.tracker.Observe(msg(7, 0, 2, 1))
	f.tracker.Observe(msg(8, 1, 2, 1))
	require.Equal(t, 2, f.tracker.Count(2))
	f.expectOpen(2, nil)

	require.NoError(t, f.session().Open(context.Background(), 2))

	assert.Zero(t, f.tracker.Count(2))
}

func TestOpenRejectsInvalidCounterpart(t *testing.T) {
	f := newFixture()
	s := f.session()

	assert.ErrorIs(t, s.Open(context.Background(), 0), ErrInvalidCounterpart)
	assert.ErrorIs(t, s.Open(context.Background(), student.ID), ErrInvalidCounterpart)
	f.api.AssertNotCalled(t, "ListConversation", mock.Anything, mock.Anything, mock.Anything)
}

func TestHistoryFailureLeavesSessionClosed(t *testing.T) {
	f := newFixture()
	boom := errors.New("boom")
	f.api.On("ListConversation", mock.Anything, 1, 2).Return(nil, boom).Once()
	s := f.session()

	err := s.Open(context.Background(), 2)

	assert.ErrorIs(t, err, ErrHistoryUnavailable)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Closed, s.State())
	assert.Empty(t, s.Messages())
	assert.False(t, f.tracker.Focused(2))
	f.dialer.AssertNotCalled(t, "Dial", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDialFailureDegradesToRESTOnly(t *testing.T) {
	f := newFixture()
	f.api.On("ListConversation", mock.Anything, 1, 2).Return([]models.Message{msg(1, 1, 2, 1)}, nil).Once()
	f.dialer.On("Dial", mock.Anything, 1, 2, mock.Anything).Return(nil, errors.New("refused")).Once()
	f.api.On("MarkConversationRead", mock.Anything, 1, 2).Return(nil).Once()
	f.api.On("CreateMessage", mock.Anything, mock.Anything).Return(msg(2, 2, 1, 2), nil).Once()
	s := f.session(WithSocketEcho(true))

	require.NoError(t, s.Open(context.Background(), 2))
	assert.Equal(t, Open, s.State())
	assert.False(t, s.Live())

	require.NoError(t, s.Send(context.Background(), "still here"))
	assert.Equal(t, []int{1, 2}, ids(s.Messages()))
	f.conn.AssertNotCalled(t, "Send", mock.Anything)
}

func TestMarkReadFailureIsNotFatal(t *testing.T) {
	f := newFixture()
	f.api.On("ListConversation", mock.Anything, 1, 2).Return(nil, nil).Once()
	f.dialer.On("Dial", mock.Anything, 1, 2, mock.Anything).Return(f.conn, nil).Once()
	f.api.On("MarkConversationRead", mock.Anything, 1, 2).Return(errors.New("500")).Once()

	s := f.session()
	require.NoError(t, s.Open(context.Background(), 2))
	assert.Equal(t, Open, s.State())
}

func TestRESTHistoryAndPushesMerge(t *testing.T) {
	f := newFixture()
	f.expectOpen(2, []models.Message{msg(1, 1, 1, 2), msg(2, 2, 2, 1)})
	s := f.session()
	require.NoError(t, s.Open(context.Background(), 2))

	f.push(msg(3, 3, 2, 1))
	f.push(msg(2, 2, 2, 1))

	assert.Equal(t, []int{1, 2, 3}, ids(s.Messages()))
	assert.Zero(t, f.tracker.Count(2))
}

func TestPushesFromOtherConversationsAreIgnored(t *testing.T) {
	f := newFixture()
	f.expectOpen(2, nil)
	s := f.session()
	require.NoError(t, s.Open(context.Background(), 2))

	f.push(msg(9, 1, 3, 1))

	assert.Empty(t, s.Messages())
}

func TestBlankSendMakesNoRequest(t *testing.T) {
	f := newFixture()
	f.expectOpen(2, nil)
	s := f.session()
	require.NoError(t, s.Open(context.Background(), 2))

	assert.NoError(t, s.Send(context.Background(), ""))
	assert.NoError(t, s.Send(context.Background(), "  \n\t "))

	f.api.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
	assert.Empty(t, s.Messages())
}

func TestSendDedupsAgainstPushedEcho(t *testing.T) {
	f := newFixture()
	f.expectOpen(2, nil)
	created := msg(5, 5, 1, 2)
	f.api.On("CreateMessage", mock.Anything, models.CreateMessageRequest{
		Content: "hello", SenderType: models.RoleStudent, SenderID: 1, ReceiverID: 2,
	}).Return(created, nil).Once()
	s := f.session()
	require.NoError(t, s.Open(context.Background(), 2))

	f.push(created)
	require.NoError(t, s.Send(context.Background(), "  hello "))
	f.push(created)

	assert.Equal(t, []int{5}, ids(s.Messages()))
	assert.Zero(t, f.tracker.Total())
}

func TestSendFailureIsReported(t *testing.T) {
	f := newFixture()
	f.expectOpen(2, nil)
	f.api.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("503")).Once()
	s := f.session()
	require.NoError(t, s.Open(context.Background(), 2))

	err := s.Send(context.Background(), "hello")

	assert.ErrorIs(t, err, ErrSendFailed)
	assert.Empty(t, s.Messages())
	assert.Equal(t, Open, s.State())
}

func TestSendRequiresOpenConversation(t *testing.T) {
	f := newFixture()
	s := f.session()

	assert.ErrorIs(t, s.Send(context.Background(), "hello"), ErrNotOpen)
	f.api.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestSocketEchoFollowsRESTSuccess(t *testing.T) {
	f := newFixture()
	f.expectOpen(2, nil)
	req := models.CreateMessageRequest{Content: "hi", SenderType: models.RoleStudent, SenderID: 1, ReceiverID: 2}
	f.api.On("CreateMessage", mock.Anything, req).Return(msg(4, 4, 1, 2), nil).Once()
	f.conn.On("Send", req).Return(errors.New("write: broken pipe")).Once()
	s := f.session(WithSocketEcho(true))
	require.NoError(t, s.Open(context.Background(), 2))

	require.NoError(t, s.Send(context.Background(), "hi"))

	f.conn.AssertExpectations(t)
	assert.Equal(t, []int{4}, ids(s.Messages()))
}

func TestCloseTearsDownOnceAndIgnoresLatePushes(t *testing.T) {
	f := newFixture()
	f.expectOpen(2, []models.Message{msg(1, 1, 1, 2)})
	f.conn.On("Close").Return(nil).Once()
	s := f.session()
	require.NoError(t, s.Open(context.Background(), 2))

	s.Close()
	s.Close()
	f.push(msg(2, 2, 2, 1))

	f.conn.AssertNumberOfCalls(t, "Close", 1)
	assert.Equal(t, Closed, s.State())
	assert.Empty(t, s.Messages())
	assert.False(t, f.tracker.Focused(2))
	assert.Zero(t, f.tracker.Count(2))
}

func TestSwitchingConversationsClosesThePreviousOne(t *testing.T) {
	f := newFixture()
	f.expectOpen(2, []models.Message{msg(1, 1, 1, 2)})
	f.conn.On("Close").Return(nil).Once()
	s := f.session()
	require.NoError(t, s.Open(context.Background(), 2))
	oldPush := f.push

	second := &mocks.ConnectionMock{}
	f.api.On("ListConversation", mock.Anything, 1, 3).Return([]models.Message{msg(10, 1, 3, 1)}, nil).Once()
	f.dialer.On("Dial", mock.Anything, 1, 3, mock.Anything).Return(second, nil).Once()
	f.api.On("MarkConversationRead", mock.Anything, 1, 3).Return(nil).Once()
	require.NoError(t, s.Open(context.Background(), 3))

	oldPush(msg(2, 2, 2, 1))

	f.conn.AssertNumberOfCalls(t, "Close", 1)
	assert.Equal(t, 3, s.Counterpart())
	assert.Equal(t, []int{10}, ids(s.Messages()))
	assert.False(t, f.tracker.Focused(2))
	assert.True(t, f.tracker.Focused(3))
}

func TestStaleHistoryDoesNotRepopulate(t *testing.T) {
	f := newFixture()
	started := make(chan struct{})
	release := make(chan struct{})
	f.api.On("ListConversation", mock.Anything, 1, 2).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return([]models.Message{msg(1, 1, 2, 1)}, nil).Once()
	s := f.session()

	result := make(chan error, 1)
	go func() { result <- s.Open(context.Background(), 2) }()

	<-started
	assert.Equal(t, Loading, s.State())
	s.Close()
	close(release)

	assert.ErrorIs(t, <-result, ErrSuperseded)
	assert.Equal(t, Closed, s.State())
	assert.Empty(t, s.Messages())
	f.dialer.AssertNotCalled(t, "Dial", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStaleDialIsClosedImmediately(t *testing.T) {
	f := newFixture()
	started := make(chan struct{})
	release := make(chan struct{})
	f.api.On("ListConversation", mock.Anything, 1, 2).Return(nil, nil).Once()
	f.dialer.On("Dial", mock.Anything, 1, 2, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(f.conn, nil).Once()
	f.conn.On("Close").Return(nil).Once()
	s := f.session()

	done := make(chan error, 1)
	go func() { done <- s.Open(context.Background(), 2) }()

	<-started
	s.Close()
	close(release)

	require.NoError(t, <-done)
	f.conn.AssertNumberOfCalls(t, "Close", 1)
	assert.False(t, s.Live())
	f.api.AssertNotCalled(t, "MarkConversationRead", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcileMergesMissedMessages(t *testing.T) {
	f := newFixture()
	f.expectOpen(2, []models.Message{msg(1, 1, 1, 2)})
	f.api.On("ListConversation", mock.Anything, 1, 2).
		Return([]models.Message{msg(1, 1, 1, 2), msg(2, 2, 2, 1), msg(3, 3, 2, 1)}, nil).Once()
	s := f.session()
	require.NoError(t, s.Open(context.Background(), 2))

	added, err := s.Reconcile(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, []int{1, 2, 3}, ids(s.Messages()))
}

func TestReconcileRequiresOpenConversation(t *testing.T) {
	f := newFixture()
	_, err := f.session().Reconcile(context.Background())
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestNilDialerStaysRESTOnly(t *testing.T) {
	api := &mocks.MessageAPIMock{}
	api.On("ListConversation", mock.Anything, 1, 2).Return([]models.Message{msg(1, 1, 2, 1)}, nil).Once()
	api.On("MarkConversationRead", mock.Anything, 1, 2).Return(nil).Once()
	s := New(student, api, nil, nil)

	require.NoError(t, s.Open(context.Background(), 2))

	assert.Equal(t, Open, s.State())
	assert.False(t, s.Live())
	api.AssertExpectations(t)
}
