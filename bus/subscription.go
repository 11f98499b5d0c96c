package bus

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/teranos/factwire/fact"
)

// Subscription is one consumer's view of the bus. Read facts from C();
// the channel is closed by Unsubscribe or Bus.Stop.
type Subscription struct {
	ID string

	mu     sync.Mutex
	ring   []*fact.Fact
	head   int
	size   int
	closed bool
	filter func(*fact.Fact) bool

	wake    chan struct{}
	quit    chan struct{}
	out     chan *fact.Fact
	dropped atomic.Uint64
}

// SubscribeOption configures a subscription
type SubscribeOption func(*Subscription)

// WithFilter only buffers facts for which keep returns true
func WithFilter(keep func(*fact.Fact) bool) SubscribeOption {
	return func(s *Subscription) { s.filter = keep }
}

// WithEntityPrefix only buffers facts whose "entity_type:entity_id" starts
// with prefix. The empty prefix matches everything.
func WithEntityPrefix(prefix string) SubscribeOption {
	return func(s *Subscription) { s.SetEntityPrefix(prefix) }
}

func newSubscription(capacity int, opts ...SubscribeOption) *Subscription {
	s := &Subscription{
		ID:   uuid.NewString(),
		ring: make([]*fact.Fact, capacity),
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		out:  make(chan *fact.Fact),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.pump()
	return s
}

// C delivers facts in admission order
func (s *Subscription) C() <-chan *fact.Fact {
	return s.out
}

// Dropped counts facts discarded because the ring was full
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Buffered is the number of facts waiting in the ring
func (s *Subscription) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// SetEntityPrefix replaces the subscription's filter with an entity prefix
// match. Facts already buffered are not re-filtered.
func (s *Subscription) SetEntityPrefix(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prefix == "" {
		s.filter = nil
		return
	}
	s.filter = func(f *fact.Fact) bool {
		return strings.HasPrefix(f.EntityRef(), prefix)
	}
}

// offer buffers f, discarding the oldest entry when full
func (s *Subscription) offer(f *fact.Fact) {
	s.mu.Lock()
	if s.closed || (s.filter != nil && !s.filter(f)) {
		s.mu.Unlock()
		return
	}
	capacity := len(s.ring)
	if s.size == capacity {
		s.ring[s.head] = nil
		s.head = (s.head + 1) % capacity
		s.size--
		s.dropped.Add(1)
	}
	s.ring[(s.head+s.size)%capacity] = f
	s.size++
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) next() (*fact.Fact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.size == 0 || s.closed {
		return nil, false
	}
	f := s.ring[s.head]
	s.ring[s.head] = nil
	s.head = (s.head + 1) % len(s.ring)
	s.size--
	return f, true
}

// pump moves facts from the ring to the unbuffered output channel. Each
// receiver gets its own copy.
func (s *Subscription) pump() {
	defer close(s.out)
	for {
		f, ok := s.next()
		if !ok {
			select {
			case <-s.quit:
				return
			case <-s.wake:
				continue
			}
		}
		select {
		case s.out <- f.Clone():
		case <-s.quit:
			return
		}
	}
}

// close marks the subscription closed, discards buffered entries and stops
// the pump. It reports whether this call did the closing.
func (s *Subscription) close() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	for i := range s.ring {
		s.ring[i] = nil
	}
	s.size = 0
	s.mu.Unlock()

	close(s.quit)
	return true
}
