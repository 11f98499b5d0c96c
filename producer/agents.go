package producer

import (
	"context"
	"time"

	"github.com/teranos/factwire/errors"
)

// AgentSpec names a long-running watcher and how often it checks
type AgentSpec struct {
	Name        string
	Description string
	Interval    time.Duration
	Sources     []string // Catalog ids the agent covers
}

// DefaultAgents returns the standing watcher agents
func DefaultAgents() []AgentSpec {
	return []AgentSpec{
		{
			Name:        "PA Criteria Watcher",
			Description: "Prior authorization criteria across payer policies",
			Interval:    time.Hour,
			Sources:     []string{"aetna_portal", "bcbs_portal", "uhc_portal", "cigna_portal", "humana_portal"},
		},
		{
			Name:        "Price Hunter",
			Description: "Cash prices across discount platforms",
			Interval:    5 * time.Minute,
			Sources:     []string{"goodrx", "costplus", "amazon_pharmacy"},
		},
		{
			Name:        "Shortage Stalker",
			Description: "Shortage alerts from FDA and wholesalers",
			Interval:    30 * time.Minute,
		},
		{
			Name:        "Label Ninja",
			Description: "New and updated drug labels",
			Interval:    time.Hour,
			Sources:     []string{"fda_labels"},
		},
		{
			Name:        "Medicaid Spider",
			Description: "State Medicaid formularies",
			Interval:    24 * time.Hour,
			Sources:     []string{"medicaid_tx", "medicaid_ca", "medicaid_ny", "medicaid_fl"},
		},
	}
}

// Covers reports whether source is one of the agent's catalog ids
func (a AgentSpec) Covers(source string) bool {
	for _, id := range a.Sources {
		if id == source {
			return true
		}
	}
	return false
}

// Bind returns a producer that runs delegate under the agent's name, and
// the agent's schedule. With a nil delegate the agent is idle: the
// scheduler lists it in stats but does not poll it.
func (a AgentSpec) Bind(delegate Producer) (Producer, Schedule) {
	return &agentProducer{name: a.Name, delegate: delegate}, Schedule{
		Interval: a.Interval,
		Jitter:   a.Interval / 20,
	}
}

type agentProducer struct {
	name     string
	delegate Producer
}

func (p *agentProducer) Name() string { return p.name }

func (p *agentProducer) Idle() bool { return p.delegate == nil }

func (p *agentProducer) Poll(ctx context.Context, submit SubmitFunc) (int, error) {
	if p.delegate == nil {
		return 0, nil
	}
	return p.delegate.Poll(ctx, submit)
}

// Fanout polls several producers in turn under one name. A failing member
// does not stop the rest; errors are combined.
type Fanout struct {
	FanoutName string
	Members    []Producer
}

func (f Fanout) Name() string { return f.FanoutName }

func (f Fanout) Poll(ctx context.Context, submit SubmitFunc) (int, error) {
	total := 0
	var errs error
	for _, m := range f.Members {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := m.Poll(ctx, submit)
		total += n
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "%s", m.Name()))
		}
	}
	return total, errs
}
