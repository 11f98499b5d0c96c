package natsbridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/factwire/bus"
	"github.com/teranos/factwire/errors"
	"github.com/teranos/factwire/fact"
)

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	failNext bool
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext {
		p.failNext = false
		return errors.New("no responders")
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subjects)
}

func TestSubject(t *testing.T) {
	f := &fact.Fact{EntityType: "coverage", EntityID: "ozempic:aetna comm.v2", Field: "formulary_tier"}
	assert.Equal(t, "facts.coverage.ozempic:aetna_comm_v2.formulary_tier", Subject("facts", f))

	f = &fact.Fact{EntityType: "drug", EntityID: "a*b>c", Field: ""}
	assert.Equal(t, "x.drug.a_b_c._", Subject("x", f))
}

func TestBridge_Run(t *testing.T) {
	b := bus.New()
	b.Start()
	defer b.Stop()

	pub := &recordingPublisher{failNext: true}
	bridge := New(pub, "", zaptest.NewLogger(t).Sugar())
	sub := b.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		bridge.Run(ctx, sub)
		close(done)
	}()

	for i := 1; i <= 3; i++ {
		f := fact.Candidate{EntityType: "drug", EntityID: "ozempic", Field: "copay", Value: i * 10, Source: "t"}.Fact()
		f.Sequence = uint64(i)
		b.Publish(f)
	}

	assert.Eventually(t, func() bool { return pub.count() == 2 }, 2*time.Second, 5*time.Millisecond)
	st := bridge.Stats()
	assert.Equal(t, uint64(2), st.Published)
	assert.Equal(t, uint64(1), st.Failed, "failure is counted and the loop continues")

	pub.mu.Lock()
	assert.Equal(t, "facts.drug.ozempic.copay", pub.subjects[0])
	var decoded fact.Fact
	require.NoError(t, json.Unmarshal(pub.payloads[1], &decoded))
	assert.Equal(t, uint64(3), decoded.Sequence)
	pub.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return on cancel")
	}
}

func TestBridge_StopsWhenSubscriptionCloses(t *testing.T) {
	b := bus.New()
	b.Start()
	sub := b.Subscribe()

	done := make(chan struct{})
	go func() {
		New(&recordingPublisher{}, "facts", nil).Run(context.Background(), sub)
		close(done)
	}()

	b.Unsubscribe(sub)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after unsubscribe")
	}
	b.Stop()
}
