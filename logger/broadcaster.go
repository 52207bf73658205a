package logger

import (
	"sync"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	// DefaultHistorySize is the number of entries replayed to new subscribers.
	DefaultHistorySize = 200

	subscriberBuffer = 64
)

// Broadcaster fans LogEntry values out to subscribers.
//
// It keeps a bounded history that is replayed to every new subscriber, so a UI
// attaching mid-routine still sees the earlier milestones. Publishing never
// blocks: a subscriber whose buffer is full misses the entry.
type Broadcaster struct {
	mu          sync.RWMutex // guards history and channel close vs. send
	history     []LogEntry
	maxHistory  int
	subscribers *xsync.MapOf[string, chan LogEntry]
	closed      bool
}

// NewBroadcaster creates a Broadcaster keeping up to maxHistory entries.
// A non-positive maxHistory selects DefaultHistorySize.
func NewBroadcaster(maxHistory int) *Broadcaster {
	if maxHistory <= 0 {
		maxHistory = DefaultHistorySize
	}

	return &Broadcaster{
		maxHistory:  maxHistory,
		subscribers: xsync.NewMapOf[string, chan LogEntry](),
	}
}

// Publish records e in the history and delivers it to every subscriber.
func (b *Broadcaster) Publish(e LogEntry) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.history = append(b.history, e)
	if over := len(b.history) - b.maxHistory; over > 0 {
		b.history = append(b.history[:0:0], b.history[over:]...)
	}
	b.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()

	b.subscribers.Range(func(_ string, ch chan LogEntry) bool {
		select {
		case ch <- e:
		default:
		}

		return true
	})
}

// Sink returns b.Publish as a Sink.
func (b *Broadcaster) Sink() Sink {
	return b.Publish
}

// Subscribe registers a new subscriber and returns its id and channel.
// The current history is queued on the channel before any new entry.
func (b *Broadcaster) Subscribe() (string, <-chan LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan LogEntry, len(b.history)+subscriberBuffer)
	for _, e := range b.history {
		ch <- e
	}

	if b.closed {
		close(ch)
		return id, ch
	}

	b.subscribers.Store(id, ch)

	return id, ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers.LoadAndDelete(id); ok {
		close(ch)
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	return b.subscribers.Size()
}

// History returns a copy of the retained entries, oldest first.
func (b *Broadcaster) History() []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]LogEntry, len(b.history))
	copy(out, b.history)

	return out
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.subscribers.Range(func(id string, ch chan LogEntry) bool {
		close(ch)
		b.subscribers.Delete(id)

		return true
	})
}
