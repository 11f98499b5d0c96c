package producer

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/factwire/errors"
	"github.com/teranos/factwire/fact"
	"github.com/teranos/factwire/ingest"
)

// fakePort admits a candidate whenever its value differs from the last one
// seen for the key, which is enough to exercise producers without the
// whole pipeline.
type fakePort struct {
	mu      sync.Mutex
	current map[fact.Key]any
	seen    []fact.Candidate
}

func newFakePort() *fakePort {
	return &fakePort{current: make(map[fact.Key]any)}
}

func (p *fakePort) Submit(_ context.Context, c fact.Candidate) (ingest.AdmissionResult, error) {
	if err := c.Validate(); err != nil {
		return ingest.AdmissionResult{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, c)
	if prev, ok := p.current[c.Key()]; ok && fact.Equal(prev, c.Value) {
		return ingest.AdmissionResult{Reason: "no change"}, nil
	}
	p.current[c.Key()] = c.Value
	return ingest.AdmissionResult{Admitted: true, Fact: c.Fact()}, nil
}

func (p *fakePort) submitted() []fact.Candidate {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]fact.Candidate, len(p.seen))
	copy(out, p.seen)
	return out
}

func price(id string, v any) fact.Candidate {
	return fact.Candidate{EntityType: "price", EntityID: id, Field: "goodrx_low", Value: v, Source: "test"}
}

func TestSubmitAll(t *testing.T) {
	port := newFakePort()
	batch := []fact.Candidate{
		price("ozempic", 842.0),
		price("ozempic", 842.0), // no change
		{EntityType: "price", Field: "nadac", Value: 1, Source: "test"}, // missing entity_id
		price("humira", 1250.0),
	}

	admitted, err := SubmitAll(context.Background(), port.Submit, batch)
	assert.Equal(t, 2, admitted)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
	assert.Len(t, port.submitted(), 3, "invalid candidate rejected before reaching the store")
}

func TestSubmitAll_StopsOnCancel(t *testing.T) {
	port := newFakePort()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	admitted, err := SubmitAll(ctx, port.Submit, []fact.Candidate{price("a", 1)})
	assert.Zero(t, admitted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, port.submitted())
}

func TestWithDefaults(t *testing.T) {
	in := []fact.Candidate{
		{EntityType: "drug", EntityID: "x", Field: "f", Value: 1},
		{EntityType: "drug", EntityID: "y", Field: "f", Value: 1, Source: "own", SourceURL: "https://own"},
	}
	out := withDefaults(in, "feed", "https://feed")
	assert.Equal(t, "feed", out[0].Source)
	assert.Equal(t, "https://feed", out[0].SourceURL)
	assert.Equal(t, "own", out[1].Source)
	assert.Equal(t, "https://own", out[1].SourceURL)
}

func TestFanout(t *testing.T) {
	ok := PollFunc{ProducerName: "goodrx", Fn: func(ctx context.Context, submit SubmitFunc) (int, error) {
		return SubmitAll(ctx, submit, []fact.Candidate{price("eliquis", 485.5)})
	}}
	broken := PollFunc{ProducerName: "costplus", Fn: func(context.Context, SubmitFunc) (int, error) {
		return 0, errors.New("503")
	}}
	also := PollFunc{ProducerName: "amazon_pharmacy", Fn: func(ctx context.Context, submit SubmitFunc) (int, error) {
		return SubmitAll(ctx, submit, []fact.Candidate{price("xarelto", 512)})
	}}

	f := Fanout{FanoutName: "Price Hunter", Members: []Producer{ok, broken, also}}
	assert.Equal(t, "Price Hunter", f.Name())
	n, err := f.Poll(context.Background(), newFakePort().Submit)
	assert.Equal(t, 2, n, "a failing member does not stop the others")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "costplus")
}

func TestAgentBind(t *testing.T) {
	specs := DefaultAgents()
	require.Len(t, specs, 5)

	byName := map[string]AgentSpec{}
	for _, s := range specs {
		byName[s.Name] = s
	}
	assert.Equal(t, "1h0m0s", byName["PA Criteria Watcher"].Interval.String())
	assert.Equal(t, "5m0s", byName["Price Hunter"].Interval.String())
	assert.Equal(t, "30m0s", byName["Shortage Stalker"].Interval.String())
	assert.Equal(t, "1h0m0s", byName["Label Ninja"].Interval.String())
	assert.Equal(t, "24h0m0s", byName["Medicaid Spider"].Interval.String())

	cat := DefaultCatalog()
	for _, s := range specs {
		for _, id := range s.Sources {
			_, ok := cat.Get(id)
			assert.True(t, ok, "%s references unknown source %s", s.Name, id)
		}
	}

	assert.True(t, byName["Price Hunter"].Covers("goodrx"))
	assert.False(t, byName["Price Hunter"].Covers("fda_labels"))

	idle, sched := byName["Price Hunter"].Bind(nil)
	assert.Equal(t, "Price Hunter", idle.Name())
	assert.True(t, idle.(Idler).Idle())
	assert.Equal(t, byName["Price Hunter"].Interval, sched.Interval)
	n, err := idle.Poll(context.Background(), newFakePort().Submit)
	assert.NoError(t, err)
	assert.Zero(t, n)

	delegate := PollFunc{ProducerName: "inner", Fn: func(ctx context.Context, submit SubmitFunc) (int, error) {
		return SubmitAll(ctx, submit, []fact.Candidate{price("eliquis", 485.5)})
	}}
	bound, _ := byName["Price Hunter"].Bind(delegate)
	assert.Equal(t, "Price Hunter", bound.Name())
	assert.False(t, bound.(Idler).Idle())
	n, err = bound.Poll(context.Background(), newFakePort().Submit)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}
