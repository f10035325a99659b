// Package store keeps the messages of the conversation currently on screen.
package store

import (
	"sort"
	"sync"
	"time"

	"mentor-chat/internal/models"
)

// dedupKey identifies a message across REST history and socket pushes.
type dedupKey struct {
	id int
	at int64
}

func keyOf(msg models.Message) dedupKey {
	return dedupKey{id: msg.ID, at: msg.Timestamp.UnixNano()}
}

// MessageStore is an ordered, deduplicated list of messages.
//
// Every mutation leaves the list sorted ascending by timestamp (stable, so
// messages sharing a timestamp keep arrival order) and free of duplicate
// (id, timestamp) pairs. Readers only ever see a fully sorted snapshot.
type MessageStore struct {
	mu       sync.RWMutex
	messages []models.Message
	seen     map[dedupKey]struct{}
}

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{seen: make(map[dedupKey]struct{})}
}

// ReplaceAll swaps the contents for msgs, used once per conversation open.
func (s *MessageStore) ReplaceAll(msgs []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = make([]models.Message, 0, len(msgs))
	s.seen = make(map[dedupKey]struct{}, len(msgs))
	for _, msg := range msgs {
		s.appendLocked(msg)
	}
	s.sortLocked()
}

// Insert adds msg unless a message with the same id and timestamp is present.
// It reports whether the store changed.
func (s *MessageStore) Insert(msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.appendLocked(msg) {
		return false
	}
	s.sortLocked()
	return true
}

// Merge inserts every message of msgs with Insert semantics and returns how
// many were new.
func (s *MessageStore) Merge(msgs []models.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, msg := range msgs {
		if s.appendLocked(msg) {
			added++
		}
	}
	if added > 0 {
		s.sortLocked()
	}
	return added
}

// Contains reports whether the (id, timestamp) pair is stored.
func (s *MessageStore) Contains(id int, ts time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[dedupKey{id: id, at: ts.UnixNano()}]
	return ok
}

// Len returns the number of stored messages.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Snapshot returns a copy of the ordered messages.
func (s *MessageStore) Snapshot() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *MessageStore) appendLocked(msg models.Message) bool {
	if s.seen == nil {
		s.seen = make(map[dedupKey]struct{})
	}
	key := keyOf(msg)
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	s.messages = append(s.messages, msg)
	return true
}

func (s *MessageStore) sortLocked() {
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].Timestamp.Before(s.messages[j].Timestamp.Time)
	})
}
