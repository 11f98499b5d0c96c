// Package ingest is the single entry point for candidate facts. Submit runs
// validator, store and bus in that order: score outside any lock, then decide,
// admit and enqueue on the bus under the key lock. The bus only appends to
// its queue there; fan-out to subscribers happens on its dispatcher.
package ingest

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/teranos/factwire/errors"
	"github.com/teranos/factwire/fact"
	"github.com/teranos/factwire/fact/store"
	"github.com/teranos/factwire/logger"
	"github.com/teranos/factwire/validator"
)

// Publisher receives admitted facts while store locks are held. It must only
// enqueue and never block; *bus.Bus qualifies.
type Publisher interface {
	Publish(f *fact.Fact)
}

// Observer is told about every submission outcome. Used for metrics.
type Observer interface {
	Observe(result AdmissionResult, d validator.Decision, err error)
}

// AdmissionResult is what a producer learns about its submission
type AdmissionResult struct {
	Admitted            bool            `json:"admitted"`
	Importance          fact.Importance `json:"importance"`
	Confidence          float64         `json:"confidence"`
	RequiresHumanReview bool            `json:"requires_human_review"`
	Reason              string          `json:"reason"`
	Fact                *fact.Fact      `json:"fact,omitempty"`
}

// Stats counts submission outcomes since start
type Stats struct {
	Submitted       uint64 `json:"submitted"`
	Admitted        uint64 `json:"admitted"`
	NoChange        uint64 `json:"no_change"`
	Invalid         uint64 `json:"invalid"`
	ScorerFallbacks uint64 `json:"scorer_fallbacks"`
}

// Port is safe for concurrent use. It holds no lock of its own; the only
// contention is per key inside the store.
type Port struct {
	store     *store.Store
	validator *validator.Validator
	publisher Publisher
	observer  Observer
	logger    *zap.SugaredLogger

	submitted atomic.Uint64
	admitted  atomic.Uint64
	noChange  atomic.Uint64
	invalid   atomic.Uint64
	fallbacks atomic.Uint64
}

// Option configures a Port
type Option func(*Port)

// WithLogger sets the port logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(p *Port) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithObserver registers an outcome observer
func WithObserver(o Observer) Option {
	return func(p *Port) { p.observer = o }
}

// NewPort wires a port. publisher may be nil when nothing listens.
func NewPort(s *store.Store, v *validator.Validator, publisher Publisher, opts ...Option) *Port {
	p := &Port{
		store:     s,
		validator: v,
		publisher: publisher,
		logger:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// publish runs as the store's commit hook, so the bus receives facts in
// sequence order
func (p *Port) publish(f *fact.Fact) {
	if p.publisher != nil {
		p.publisher.Publish(f)
	}
}

// Submit validates and, if warranted, admits c.
//
// A candidate equal to the current value is not an error: the result has
// Admitted false and Reason "no change". Malformed candidates return
// errors.ErrInvalidRequest and rule violations errors.ErrInvalidValue.
//
// Cancelling ctx can cut the scorer wait short (confidence then falls back
// to the rules) but never abandons an admission that has been decided.
func (p *Port) Submit(ctx context.Context, c fact.Candidate) (AdmissionResult, error) {
	p.submitted.Add(1)
	log := logger.FromContext(ctx, p.logger)

	if err := c.Validate(); err != nil {
		p.invalid.Add(1)
		res := AdmissionResult{Reason: "invalid request"}
		p.observe(res, validator.Decision{Reason: res.Reason}, err)
		return res, err
	}
	cand := c.Fact()
	key := cand.Key()

	// Snapshot for scoring; the decision below re-reads under the lock
	snapshot, err := p.store.CurrentValue(key.EntityType, key.EntityID, key.Field)
	if err != nil && !errors.IsNotFoundError(err) {
		return AdmissionResult{}, errors.Wrapf(err, "read current %s", key)
	}
	assessment := p.validator.Score(ctx, cand, snapshot)

	// The mutation itself ignores cancellation
	mctx := context.WithoutCancel(ctx)

	var decision validator.Decision
	admitted, err := p.store.Commit(mctx, key, func(current *fact.Fact) (*fact.Fact, error) {
		out, d, derr := p.validator.Decide(cand, current, assessment)
		decision = d
		return out, derr
	}, p.publish)
	if decision.ScorerErr != nil && decision.Admitted {
		p.fallbacks.Add(1)
	}

	switch {
	case err == nil:
	case errors.IsNoChange(err):
		p.noChange.Add(1)
		res := AdmissionResult{Reason: validator.ReasonNoChange}
		p.observe(res, decision, nil)
		log.Debugw("Candidate unchanged", logger.FieldFactKey, key.String(), logger.FieldSource, c.Source)
		return res, nil
	case errors.IsInvalidValue(err), errors.IsInvalidRequestError(err):
		p.invalid.Add(1)
		res := AdmissionResult{Reason: decision.Reason}
		p.observe(res, decision, err)
		log.Infow("Candidate rejected",
			logger.FieldFactKey, key.String(),
			logger.FieldSource, c.Source,
			logger.FieldError, err)
		return res, err
	default:
		return AdmissionResult{}, errors.Wrapf(err, "apply %s", key)
	}

	p.admitted.Add(1)

	res := AdmissionResult{
		Admitted:            true,
		Importance:          admitted.Importance,
		Confidence:          admitted.Confidence,
		RequiresHumanReview: admitted.RequiresHumanReview,
		Reason:              decision.Reason,
		Fact:                admitted,
	}
	p.observe(res, decision, nil)

	log.Infow("Fact admitted",
		append(logger.FactFields(admitted.ID, key.EntityType, key.EntityID, key.Field),
			logger.FieldSequence, admitted.Sequence,
			logger.FieldImportance, int(admitted.Importance),
			logger.FieldConfidence, admitted.Confidence,
			logger.FieldSource, admitted.Source,
			"requires_human_review", admitted.RequiresHumanReview)...)
	return res, nil
}

func (p *Port) observe(res AdmissionResult, d validator.Decision, err error) {
	if p.observer != nil {
		p.observer.Observe(res, d, err)
	}
}

// Stats returns submission counters
func (p *Port) Stats() Stats {
	return Stats{
		Submitted:       p.submitted.Load(),
		Admitted:        p.admitted.Load(),
		NoChange:        p.noChange.Load(),
		Invalid:         p.invalid.Load(),
		ScorerFallbacks: p.fallbacks.Load(),
	}
}
