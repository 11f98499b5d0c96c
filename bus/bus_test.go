package bus

import (
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/factwire/fact"
)

func testFact(entityID string, seq uint64) *fact.Fact {
	f := fact.Candidate{EntityType: "drug", EntityID: entityID, Field: "tier", Value: int(seq), Source: "test"}.Fact()
	f.Sequence = seq
	return f
}

func recv(t *testing.T, s *Subscription) *fact.Fact {
	t.Helper()
	select {
	case f, ok := <-s.C():
		require.True(t, ok, "subscription closed")
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fact")
		return nil
	}
}

// drain reads until the channel stays quiet for 100ms
func drain(s *Subscription) []*fact.Fact {
	var out []*fact.Fact
	for {
		select {
		case f, ok := <-s.C():
			if !ok {
				return out
			}
			out = append(out, f)
		case <-time.After(100 * time.Millisecond):
			return out
		}
	}
}

func newTestBus(t *testing.T, opts ...Option) *Bus {
	b := New(append([]Option{WithLogger(zaptest.NewLogger(t).Sugar())}, opts...)...)
	b.Start()
	t.Cleanup(b.Stop)
	return b
}

func TestPublish_OrderAcrossSubscribers(t *testing.T) {
	b := newTestBus(t)
	a, c := b.Subscribe(), b.Subscribe()
	assert.NotEqual(t, a.ID, c.ID)
	assert.Equal(t, 2, b.Subscribers())

	for i := 1; i <= 20; i++ {
		b.Publish(testFact("ozempic", uint64(i)))
	}
	for _, s := range []*Subscription{a, c} {
		for i := 1; i <= 20; i++ {
			assert.Equal(t, uint64(i), recv(t, s).Sequence)
		}
	}
}

func TestPublish_ReceiversGetCopies(t *testing.T) {
	b := newTestBus(t)
	a, c := b.Subscribe(), b.Subscribe()
	b.Publish(testFact("ozempic", 1))

	fa := recv(t, a)
	fa.Value = "mutated"
	assert.Equal(t, 1, recv(t, c).Value)
}

func TestSlowSubscriber_DropsOldest(t *testing.T) {
	b := newTestBus(t, WithBufferSize(4))
	slow := b.Subscribe()
	fast := b.Subscribe()

	const total = 10
	for i := 1; i <= total; i++ {
		b.Publish(testFact("ozempic", uint64(i)))
	}

	// The fast subscriber is unaffected
	for i := 1; i <= total; i++ {
		assert.Equal(t, uint64(i), recv(t, fast).Sequence)
	}

	assert.Eventually(t, func() bool { return slow.Dropped() >= 5 }, 2*time.Second, 5*time.Millisecond)

	got := drain(slow)
	require.NotEmpty(t, got)
	assert.Equal(t, uint64(total), uint64(len(got))+slow.Dropped())
	assert.Equal(t, uint64(total), got[len(got)-1].Sequence, "newest entries survive")
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].Sequence, got[i].Sequence)
	}
	assert.Zero(t, fast.Dropped())
}

func TestStalledSubscriber_BufferBound(t *testing.T) {
	const n = 8
	b := newTestBus(t, WithBufferSize(n))
	stalled := b.Subscribe() // never read
	witness := b.Subscribe()

	for i := 1; i <= n; i++ {
		b.Publish(testFact("ozempic", uint64(i)))
	}
	for i := 1; i <= n; i++ {
		recv(t, witness)
	}
	assert.Never(t, func() bool { return stalled.Dropped() > 0 }, 200*time.Millisecond, 5*time.Millisecond,
		"a full buffer of %d must not drop", n)

	// The pump may hold one fact while blocked on send, so N+2 is the first
	// count guaranteed to overflow
	for i := n + 1; i <= n+2; i++ {
		b.Publish(testFact("ozempic", uint64(i)))
	}
	for i := n + 1; i <= n+2; i++ {
		recv(t, witness)
	}
	assert.Eventually(t, func() bool { return stalled.Dropped() >= 1 }, 2*time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, stalled.Dropped(), uint64(2))
	assert.Zero(t, witness.Dropped())
}

func TestUnsubscribe_ClosesAndIsIdempotent(t *testing.T) {
	b := newTestBus(t)
	s := b.Subscribe()
	b.Publish(testFact("ozempic", 1))

	b.Unsubscribe(s)
	b.Unsubscribe(s)
	b.Unsubscribe(nil)
	assert.Equal(t, 0, b.Subscribers())

	// Channel closes; at most the in-flight entry may still arrive
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-s.C():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after Unsubscribe")
		}
	}
}

func TestUnsubscribe_DuringPublishStorm(t *testing.T) {
	baseline := runtime.NumGoroutine()
	b := New()
	b.Start()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(1); ; i++ {
			select {
			case <-stop:
				return
			default:
				b.Publish(testFact(fmt.Sprintf("d%d", i%7), i))
				if i%64 == 0 {
					time.Sleep(time.Millisecond)
				}
			}
		}
	}()

	for i := 0; i < 50; i++ {
		s := b.Subscribe()
		if i%2 == 0 {
			// read a little before leaving
			select {
			case <-s.C():
			case <-time.After(10 * time.Millisecond):
			}
		}
		b.Unsubscribe(s)
	}
	close(stop)
	wg.Wait()
	b.Stop()

	assert.Equal(t, 0, b.Subscribers())
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline+1
	}, 2*time.Second, 10*time.Millisecond, "pumps and dispatcher exit")
}

func TestPublishBeforeStart(t *testing.T) {
	b := New()
	t.Cleanup(b.Stop)
	s := b.Subscribe()
	b.Publish(testFact("ozempic", 1))
	assert.Equal(t, 1, b.Pending())

	b.Start()
	assert.Equal(t, uint64(1), recv(t, s).Sequence)
}

func TestStop(t *testing.T) {
	b := New()
	b.Start()
	s := b.Subscribe()
	b.Stop()
	b.Stop()

	_, ok := <-s.C()
	assert.False(t, ok, "Stop closes subscriptions")

	b.Publish(testFact("ozempic", 1))
	assert.Zero(t, b.Pending())

	late := b.Subscribe()
	_, ok = <-late.C()
	assert.False(t, ok, "subscribing after Stop yields a closed subscription")
}

func TestStopWithoutStart(t *testing.T) {
	b := New()
	s := b.Subscribe()
	b.Stop()
	_, ok := <-s.C()
	assert.False(t, ok)
}

func TestEntityPrefix(t *testing.T) {
	b := newTestBus(t)
	s := b.Subscribe(WithEntityPrefix("drug:ozem"))

	b.Publish(testFact("wegovy", 1))
	b.Publish(testFact("ozempic", 2))
	assert.Equal(t, uint64(2), recv(t, s).Sequence)

	s.SetEntityPrefix("")
	b.Publish(testFact("wegovy", 3))
	assert.Equal(t, uint64(3), recv(t, s).Sequence)
}

func TestWithFilter(t *testing.T) {
	b := newTestBus(t)
	s := b.Subscribe(WithFilter(func(f *fact.Fact) bool { return f.Sequence%2 == 0 }))
	for i := 1; i <= 4; i++ {
		b.Publish(testFact("ozempic", uint64(i)))
	}
	assert.Equal(t, uint64(2), recv(t, s).Sequence)
	assert.Equal(t, uint64(4), recv(t, s).Sequence)
}
