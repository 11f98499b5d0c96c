// Package bus fans admitted facts out to live subscribers.
//
// Publish appends to an unbounded FIFO and returns immediately. A single
// dispatcher drains it and offers each fact to every subscription, so all
// subscribers see global admission order. Each subscription buffers into
// its own ring; when the ring is full the oldest entry is discarded and
// the subscription's dropped counter goes up. A slow subscriber therefore
// never stalls the dispatcher, the producers, or other subscribers.
package bus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/factwire/fact"
)

// DefaultBufferSize is the per-subscription ring capacity
const DefaultBufferSize = 256

// Bus is safe for concurrent use.
type Bus struct {
	bufferSize int
	logger     *zap.SugaredLogger

	qmu     sync.Mutex
	queue   []*fact.Fact
	signal  chan struct{}
	stopped bool

	smu  sync.RWMutex
	subs map[string]*Subscription

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	exited    chan struct{}
	started   bool
}

// Option configures a Bus
type Option func(*Bus)

// WithBufferSize sets the per-subscription ring capacity
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithLogger sets the bus logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates a bus. Call Start to begin delivery.
func New(opts ...Option) *Bus {
	b := &Bus{
		bufferSize: DefaultBufferSize,
		logger:     zap.NewNop().Sugar(),
		signal:     make(chan struct{}, 1),
		subs:       make(map[string]*Subscription),
		done:       make(chan struct{}),
		exited:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start launches the dispatcher. Facts published before Start are
// delivered once it runs.
func (b *Bus) Start() {
	b.startOnce.Do(func() {
		b.qmu.Lock()
		b.started = true
		b.qmu.Unlock()
		go b.dispatch()
	})
}

// Stop ends delivery and closes every subscription. Queued facts that
// have not been dispatched are discarded. Publish after Stop is a no-op.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		b.qmu.Lock()
		b.stopped = true
		b.queue = nil
		started := b.started
		b.qmu.Unlock()

		close(b.done)
		if started {
			<-b.exited
		}

		b.smu.Lock()
		subs := b.subs
		b.subs = make(map[string]*Subscription)
		b.smu.Unlock()

		for _, s := range subs {
			s.close()
		}
		b.logger.Infow("Bus stopped", "subscribers_closed", len(subs))
	})
}

// Publish enqueues f for delivery. It never blocks on subscribers.
func (b *Bus) Publish(f *fact.Fact) {
	if f == nil {
		return
	}
	b.qmu.Lock()
	if b.stopped {
		b.qmu.Unlock()
		return
	}
	b.queue = append(b.queue, f.Clone())
	b.qmu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// Pending is the number of facts waiting for the dispatcher
func (b *Bus) Pending() int {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	return len(b.queue)
}

func (b *Bus) dispatch() {
	defer close(b.exited)
	for {
		select {
		case <-b.done:
			return
		case <-b.signal:
		}

		for {
			b.qmu.Lock()
			batch := b.queue
			b.queue = nil
			b.qmu.Unlock()
			if len(batch) == 0 {
				break
			}

			b.smu.RLock()
			subs := make([]*Subscription, 0, len(b.subs))
			for _, s := range b.subs {
				subs = append(subs, s)
			}
			b.smu.RUnlock()

			for _, f := range batch {
				select {
				case <-b.done:
					return
				default:
				}
				for _, s := range subs {
					s.offer(f)
				}
			}
		}
	}
}

// Subscribe registers a new subscription. It receives facts published after
// this call returns.
func (b *Bus) Subscribe(opts ...SubscribeOption) *Subscription {
	s := newSubscription(b.bufferSize, opts...)

	b.qmu.Lock()
	stopped := b.stopped
	b.qmu.Unlock()
	if stopped {
		s.close()
		return s
	}

	b.smu.Lock()
	b.subs[s.ID] = s
	b.smu.Unlock()

	b.logger.Debugw("Subscriber added", "subscriber_id", s.ID, "buffer_size", b.bufferSize)
	return s
}

// Unsubscribe removes s and closes its channel. It is idempotent and safe
// to call while a publish is being dispatched; entries still buffered for s
// are discarded.
func (b *Bus) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	b.smu.Lock()
	delete(b.subs, s.ID)
	b.smu.Unlock()

	if s.close() {
		b.logger.Debugw("Subscriber removed", "subscriber_id", s.ID, "dropped", s.Dropped())
	}
}

// Subscribers is the number of live subscriptions
func (b *Bus) Subscribers() int {
	b.smu.RLock()
	defer b.smu.RUnlock()
	return len(b.subs)
}
