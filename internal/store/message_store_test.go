package store

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentor-chat/internal/models"
)

var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func msgAt(id int, offset time.Duration) models.Message {
	return models.Message{
		ID:         id,
		SenderType: models.RoleStudent,
		SenderID:   1,
		ReceiverID: 2,
		Content:    "hello",
		Timestamp:  models.NewTimestamp(base.Add(offset)),
	}
}

func ids(msgs []models.Message) []int {
	out := make([]int, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func requireSorted(t *testing.T, msgs []models.Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		require.False(t, msgs[i].Timestamp.Before(msgs[i-1].Timestamp.Time),
			"message %d at %s sorted after %d at %s", msgs[i].ID, msgs[i].Timestamp, msgs[i-1].ID, msgs[i-1].Timestamp)
	}
}

func TestInsertIsIdempotent(t *testing.T) {
	s := NewMessageStore()
	m := msgAt(7, time.Minute)

	assert.True(t, s.Insert(m))
	assert.False(t, s.Insert(m))
	assert.Equal(t, 1, s.Len())
}

func TestInsertKeepsSameIDWithDifferentTimestamp(t *testing.T) {
	s := NewMessageStore()

	s.Insert(msgAt(4, time.Minute))
	s.Insert(msgAt(4, 2*time.Minute))

	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Contains(4, base.Add(time.Minute)))
	assert.True(t, s.Contains(4, base.Add(2*time.Minute)))
}

func TestDedupIgnoresTimezoneRepresentation(t *testing.T) {
	s := NewMessageStore()
	utc := msgAt(5, time.Minute)
	shifted := utc
	shifted.Timestamp = models.NewTimestamp(utc.Timestamp.In(time.FixedZone("UTC+2", 2*60*60)))

	require.True(t, s.Insert(utc))
	assert.False(t, s.Insert(shifted))
}

func TestReplaceAllSortsAndDedups(t *testing.T) {
	s := NewMessageStore()
	s.Insert(msgAt(99, time.Hour))

	s.ReplaceAll([]models.Message{
		msgAt(3, 3*time.Second),
		msgAt(1, time.Second),
		msgAt(2, 2*time.Second),
		msgAt(1, time.Second),
	})

	assert.Equal(t, []int{1, 2, 3}, ids(s.Snapshot()))
	assert.False(t, s.Contains(99, base.Add(time.Hour)))
}

func TestInsertKeepsArrivalOrderForEqualTimestamps(t *testing.T) {
	s := NewMessageStore()
	s.Insert(msgAt(10, time.Second))
	s.Insert(msgAt(11, time.Second))
	s.Insert(msgAt(9, 0))

	assert.Equal(t, []int{9, 10, 11}, ids(s.Snapshot()))
}

func TestMergeCountsOnlyNewMessages(t *testing.T) {
	s := NewMessageStore()
	s.ReplaceAll([]models.Message{msgAt(1, 0), msgAt(2, time.Second)})

	added := s.Merge([]models.Message{msgAt(2, time.Second), msgAt(3, 2*time.Second), msgAt(0, -time.Second)})

	assert.Equal(t, 2, added)
	assert.Equal(t, []int{0, 1, 2, 3}, ids(s.Snapshot()))
}

func TestOrderHoldsForArbitraryMutationSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	s := NewMessageStore()

	for round := 0; round < 200; round++ {
		switch rng.Intn(3) {
		case 0:
			s.Insert(msgAt(rng.Intn(50), time.Duration(rng.Intn(600))*time.Second))
		case 1:
			batch := make([]models.Message, rng.Intn(8))
			for i := range batch {
				batch[i] = msgAt(rng.Intn(50), time.Duration(rng.Intn(600))*time.Second)
			}
			s.Merge(batch)
		default:
			batch := make([]models.Message, rng.Intn(8))
			for i := range batch {
				batch[i] = msgAt(rng.Intn(50), time.Duration(rng.Intn(600))*time.Second)
			}
			s.ReplaceAll(batch)
		}

		snap := s.Snapshot()
		requireSorted(t, snap)
		seen := map[dedupKey]bool{}
		for _, m := range snap {
			k := keyOf(m)
			require.False(t, seen[k], "duplicate %v", k)
			seen[k] = true
		}
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewMessageStore()
	s.Insert(msgAt(1, 0))

	snap := s.Snapshot()
	snap[0].Content = "changed"

	assert.Equal(t, "hello", s.Snapshot()[0].Content)
}

func TestZeroValueStoreAcceptsInserts(t *testing.T) {
	var s MessageStore
	assert.True(t, s.Insert(msgAt(1, 0)))
	assert.Equal(t, 1, s.Len())
}
