// Package unread counts unread messages per counterpart for the local user.
package unread

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"mentor-chat/internal/logging"
	"mentor-chat/internal/models"
	"mentor-chat/internal/observability"
)

// HistoryFetcher returns the full conversation between a and b.
type HistoryFetcher interface {
	ListConversation(ctx context.Context, a, b int) ([]models.Message, error)
}

// Listener is told the new count whenever a counterpart's count changes.
type Listener func(counterpart, count int)

// Tracker holds unread counts for one local user. It is shared by every
// surface of the client and safe for concurrent use.
type Tracker struct {
	user   models.CurrentUser
	logger *zap.Logger

	mu        sync.Mutex
	counts    map[int]int
	focused   map[int]int
	listeners map[int]Listener
	nextID    int
}

// NewTracker creates a tracker for user with every count at zero.
func NewTracker(user models.CurrentUser, logger *zap.Logger) *Tracker {
	return &Tracker{
		user:      user,
		logger:    logging.OrNop(logger),
		counts:    make(map[int]int),
		focused:   make(map[int]int),
		listeners: make(map[int]Listener),
	}
}

// Load recomputes the counts of counterparts from their conversation history.
// A message counts when the counterpart sent it and it is not read yet.
// Failures are logged and joined; the other counterparts still load.
func (t *Tracker) Load(ctx context.Context, fetcher HistoryFetcher, counterparts []int) error {
	var errs []error
	for _, cp := range counterparts {
		if err := ctx.Err(); err != nil {
			return err
		}
		msgs, err := fetcher.ListConversation(ctx, t.user.ID, cp)
		if err != nil {
			t.logger.Warn("unread count unavailable", zap.Int("counterpart_id", cp), zap.Error(err))
			errs = append(errs, fmt.Errorf("counterpart %d: %w", cp, err))
			continue
		}
		t.set(cp, t.countUnread(cp, msgs))
	}
	return errors.Join(errs...)
}

func (t *Tracker) countUnread(cp int, msgs []models.Message) int {
	from := t.user.Role.Counterpart()
	n := 0
	for _, m := range msgs {
		if m.SenderType == from && m.SenderID == cp && m.ReceiverID == t.user.ID && !m.IsRead {
			n++
		}
	}
	return n
}

func (t *Tracker) set(cp, count int) {
	t.mu.Lock()
	if t.focused[cp] > 0 {
		count = 0
	}
	changed := t.counts[cp] != count
	t.counts[cp] = count
	listeners := t.listenersLocked()
	t.mu.Unlock()

	if changed {
		notify(listeners, cp, count)
	}
}

// Observe applies a pushed message. It reports whether a count changed.
// Messages sent by the local role, addressed to someone else, or belonging
// to a focused conversation are ignored.
func (t *Tracker) Observe(msg models.Message) bool {
	if msg.SenderType == t.user.Role || msg.ReceiverID != t.user.ID {
		return false
	}

	t.mu.Lock()
	if t.focused[msg.SenderID] > 0 {
		t.mu.Unlock()
		return false
	}
	t.counts[msg.SenderID]++
	count := t.counts[msg.SenderID]
	listeners := t.listenersLocked()
	t.mu.Unlock()

	observability.IncUnread()
	notify(listeners, msg.SenderID, count)
	return true
}

// Focus resets cp to zero and keeps it there until the matching Blur.
func (t *Tracker) Focus(cp int) {
	t.mu.Lock()
	t.focused[cp]++
	changed := t.counts[cp] != 0
	t.counts[cp] = 0
	listeners := t.listenersLocked()
	t.mu.Unlock()

	if changed {
		notify(listeners, cp, 0)
	}
}

// Blur releases one Focus of cp.
func (t *Tracker) Blur(cp int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.focused[cp] <= 1 {
		delete(t.focused, cp)
		return
	}
	t.focused[cp]--
}

// Focused reports whether a conversation with cp is open somewhere.
func (t *Tracker) Focused(cp int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.focused[cp] > 0
}

func (t *Tracker) Count(cp int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[cp]
}

// Counts returns a copy of the non-zero counts.
func (t *Tracker) Counts() map[int]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int]int, len(t.counts))
	for cp, n := range t.counts {
		if n > 0 {
			out[cp] = n
		}
	}
	return out
}

func (t *Tracker) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0
	for _, n := range t.counts {
		total += n
	}
	return total
}

// Subscribe registers fn and returns a function that removes it. Listeners
// run outside the tracker's lock, on the goroutine that changed the count.
func (t *Tracker) Subscribe(fn Listener) (cancel func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.listeners, id)
			t.mu.Unlock()
		})
	}
}

func (t *Tracker) listenersLocked() []Listener {
	if len(t.listeners) == 0 {
		return nil
	}
	ids := make([]int, 0, len(t.listeners))
	for id := range t.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.listeners[id])
	}
	return out
}

func notify(listeners []Listener, cp, count int) {
	for _, fn := range listeners {
		fn(cp, count)
	}
}
