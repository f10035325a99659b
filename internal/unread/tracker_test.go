package unread

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mentor-chat/internal/mocks"
	"mentor-chat/internal/models"
)

var student = models.CurrentUser{ID: 1, Role: models.RoleStudent}

func fromMentor(id, mentorID int, read bool) models.Message {
	return models.Message{
		ID: id, SenderType: models.RoleMentor, SenderID: mentorID, ReceiverID: student.ID,
		Content: "ping", Timestamp: models.NewTimestamp(time.Unix(int64(id), 0)), IsRead: read,
	}
}

func TestObserveIgnoresOwnMessages(t *testing.T) {
	tr := NewTracker(student, nil)

	changed := tr.Observe(models.Message{ID: 1, SenderType: models.RoleStudent, SenderID: 1, ReceiverID: 2})

	assert.False(t, changed)
	assert.Zero(t, tr.Total())
}

func TestObserveIgnoresMessagesForOthers(t *testing.T) {
	tr := NewTracker(student, nil)

	assert.False(t, tr.Observe(models.Message{ID: 1, SenderType: models.RoleMentor, SenderID: 2, ReceiverID: 9}))
	assert.Zero(t, tr.Total())
}

func TestObserveCountsIncomingMessages(t *testing.T) {
	tr := NewTracker(student, nil)

	assert.True(t, tr.Observe(fromMentor(1, 2, false)))
	assert.True(t, tr.Observe(fromMentor(2, 2, false)))
	assert.True(t, tr.Observe(fromMentor(3, 5, false)))

	assert.Equal(t, 2, tr.Count(2))
	assert.Equal(t, 1, tr.Count(5))
	assert.Equal(t, 3, tr.Total())
	assert.Equal(t, map[int]int{2: 2, 5: 1}, tr.Counts())
}

func TestFocusResetsAndPinsToZero(t *testing.T) {
	tr := NewTracker(student, nil)
	tr.Observe(fromMentor(1, 2, false))
	tr.Observe(fromMentor(2, 2, false))

	tr.Focus(2)
	assert.Zero(t, tr.Count(2))
	assert.True(t, tr.Focused(2))

	assert.False(t, tr.Observe(fromMentor(3, 2, false)))
	assert.Zero(t, tr.Count(2))

	tr.Blur(2)
	assert.False(t, tr.Focused(2))
	assert.True(t, tr.Observe(fromMentor(4, 2, false)))
	assert.Equal(t, 1, tr.Count(2))
}

func TestFocusIsReferenceCounted(t *testing.T) {
	tr := NewTracker(student, nil)

	tr.Focus(2)
	tr.Focus(2)
	tr.Blur(2)
	assert.True(t, tr.Focused(2))
	tr.Blur(2)
	assert.False(t, tr.Focused(2))
	tr.Blur(2)
	assert.False(t, tr.Focused(2))
}

func TestLoadCountsUnreadFromCounterpart(t *testing.T) {
	api := &mocks.MessageAPIMock{}
	api.On("ListConversation", mock.Anything, 1, 2).Return([]models.Message{
		fromMentor(1, 2, true),
		fromMentor(2, 2, false),
		fromMentor(3, 2, false),
		{ID: 4, SenderType: models.RoleStudent, SenderID: 1, ReceiverID: 2},
	}, nil)
	api.On("ListConversation", mock.Anything, 1, 3).Return([]models.Message{}, nil)

	tr := NewTracker(student, nil)
	require.NoError(t, tr.Load(context.Background(), api, []int{2, 3}))

	assert.Equal(t, 2, tr.Count(2))
	assert.Zero(t, tr.Count(3))
	api.AssertExpectations(t)
}

func TestLoadKeepsGoingAfterFailures(t *testing.T) {
	api := &mocks.MessageAPIMock{}
	boom := errors.New("boom")
	api.On("ListConversation", mock.Anything, 1, 2).Return(nil, boom)
	api.On("ListConversation", mock.Anything, 1, 3).Return([]models.Message{fromMentor(1, 3, false)}, nil)

	tr := NewTracker(student, nil)
	err := tr.Load(context.Background(), api, []int{2, 3})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, tr.Count(3))
}

func TestLoadLeavesFocusedCounterpartAtZero(t *testing.T) {
	api := &mocks.MessageAPIMock{}
	api.On("ListConversation", mock.Anything, 1, 2).Return([]models.Message{fromMentor(1, 2, false)}, nil)

	tr := NewTracker(student, nil)
	tr.Focus(2)
	require.NoError(t, tr.Load(context.Background(), api, []int{2}))

	assert.Zero(t, tr.Count(2))
}

func TestLoadStopsOnCancelledContext(t *testing.T) {
	api := &mocks.MessageAPIMock{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewTracker(student, nil).Load(ctx, api, []int{2, 3})

	assert.ErrorIs(t, err, context.Canceled)
	api.AssertNotCalled(t, "ListConversation", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubscribeReceivesChanges(t *testing.T) {
	tr := NewTracker(student, nil)
	type change struct{ cp, count int }
	var got []change
	cancel := tr.Subscribe(func(cp, count int) { got = append(got, change{cp, count}) })

	tr.Observe(fromMentor(1, 2, false))
	tr.Focus(2)
	tr.Focus(2)
	cancel()
	tr.Blur(2)
	tr.Blur(2)
	tr.Observe(fromMentor(2, 2, false))

	assert.Equal(t, []change{{2, 1}, {2, 0}}, got)
}

func TestMentorSideCountsStudentMessages(t *testing.T) {
	mentor := models.CurrentUser{ID: 2, Role: models.RoleMentor}
	tr := NewTracker(mentor, nil)

	assert.False(t, tr.Observe(fromMentor(1, 2, false)))
	assert.True(t, tr.Observe(models.Message{ID: 2, SenderType: models.RoleStudent, SenderID: 1, ReceiverID: 2}))
	assert.Equal(t, 1, tr.Count(1))
}
