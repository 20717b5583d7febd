package stream

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Subscriber is one consumer of the feed. Delivery is credit based: each
// event spends one credit and the consumer grants more as it drains C.
// Events are dropped, never queued, when credits run out, the filter
// rejects them or the buffer is full.
type Subscriber struct {
	id      string
	ch      chan *Event
	credits atomic.Int64
	dropped atomic.Int64
	closed  atomic.Bool

	// life orders Close after in-flight sends.
	life sync.RWMutex

	mu     sync.RWMutex
	topics map[string]struct{}

	filter func(*Event) bool
}

// NewSubscriber creates a subscriber with the given buffer size and
// initial credits.
func NewSubscriber(id string, bufferSize int, initialCredits int64) *Subscriber {
	s := &Subscriber{
		id:     id,
		ch:     make(chan *Event, bufferSize),
		topics: make(map[string]struct{}),
	}
	s.credits.Store(initialCredits)
	return s
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the event channel. It is closed when the subscriber is removed
// or the broker shuts down.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// AddCredits grants n more deliveries.
func (s *Subscriber) AddCredits(n int64) { s.credits.Add(n) }

// Credits returns the remaining deliveries.
func (s *Subscriber) Credits() int64 { return s.credits.Load() }

// Dropped returns how many events this subscriber missed.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// SetFilter sets an optional predicate. Call it before the subscriber is
// attached to topics.
func (s *Subscriber) SetFilter(fn func(*Event) bool) { s.filter = fn }

// Topics returns the subscribed topic names, sorted.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// send delivers evt without blocking and reports whether it was queued.
func (s *Subscriber) send(evt *Event) bool {
	s.life.RLock()
	defer s.life.RUnlock()
	if s.closed.Load() {
		return false
	}
	if s.filter != nil && !s.filter(evt) {
		return false
	}
	if !s.spend() {
		s.dropped.Add(1)
		return false
	}

	select {
	case s.ch <- evt:
		return true
	default:
		s.credits.Add(1)
		s.dropped.Add(1)
		return false
	}
}

// spend takes one credit if any remain.
func (s *Subscriber) spend() bool {
	for {
		n := s.credits.Load()
		if n <= 0 {
			return false
		}
		if s.credits.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// Close closes the event channel. Safe to call more than once.
func (s *Subscriber) Close() {
	s.life.Lock()
	defer s.life.Unlock()
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
