// Package validator decides whether a candidate becomes a fact and with
// what confidence and importance.
//
// Validation is split in two so the expensive part never runs under a lock:
// Score does the scorer I/O against a snapshot of the current fact, and
// Decide is a pure function the store runs under the key lock against the
// authoritative current fact. If the current value moved in between,
// Decide recomputes identity and importance and reuses the scorer result.
package validator

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/factwire/errors"
	"github.com/teranos/factwire/fact"
	"github.com/teranos/factwire/internal/util"
)

const (
	DefaultEscalationThreshold = 8
	DefaultScorerTimeout       = 2 * time.Second
	DefaultRuleWeight          = 0.4
	DefaultScorerWeight        = 0.6

	// ReviewDiscount is applied to the confidence of escalated facts
	ReviewDiscount = 0.95

	ReasonAutoValidated = "auto-validated"
	ReasonPendingReview = "pending human verification"
	ReasonNoChange      = "no change"
	ReasonInvalidValue  = "invalid value"
)

// Assessment is the lock-free part of validation
type Assessment struct {
	RuleConfidence   float64
	RuleErr          error
	ScorerConfidence float64
	ScorerErr        error
	Scored           bool
	ScorerLatency    time.Duration
}

// Decision explains the outcome for one candidate
type Decision struct {
	Admitted            bool
	Reason              string
	RuleConfidence      float64
	ScorerConfidence    float64
	ScorerErr           error
	Importance          fact.Importance
	Confidence          float64
	RequiresHumanReview bool
	ReducedConfidence   bool
}

// Validator is stateless apart from its configuration and safe for
// concurrent use.
type Validator struct {
	scorer       Scorer
	threshold    atomic.Int32
	timeout      time.Duration
	ruleWeight   float64
	scorerWeight float64
	logger       *zap.SugaredLogger
}

// Option configures a Validator
type Option func(*Validator)

// WithEscalationThreshold sets the importance at or above which facts
// require human review. 11 disables escalation.
func WithEscalationThreshold(n int) Option {
	return func(v *Validator) { v.threshold.Store(int32(n)) }
}

// WithScorerTimeout bounds each scorer call
func WithScorerTimeout(d time.Duration) Option {
	return func(v *Validator) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithWeights sets the rule and scorer weights. Zero for both keeps the defaults.
func WithWeights(rule, scorer float64) Option {
	return func(v *Validator) {
		if rule == 0 && scorer == 0 {
			return
		}
		v.ruleWeight, v.scorerWeight = rule, scorer
	}
}

// WithLogger sets the validator logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(v *Validator) {
		if l != nil {
			v.logger = l
		}
	}
}

// New creates a validator. A nil scorer means rule-only confidence.
func New(scorer Scorer, opts ...Option) *Validator {
	v := &Validator{
		scorer:       scorer,
		timeout:      DefaultScorerTimeout,
		ruleWeight:   DefaultRuleWeight,
		scorerWeight: DefaultScorerWeight,
		logger:       zap.NewNop().Sugar(),
	}
	v.threshold.Store(DefaultEscalationThreshold)
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// EscalationThreshold returns the current review threshold
func (v *Validator) EscalationThreshold() int {
	return int(v.threshold.Load())
}

// SetEscalationThreshold changes the review threshold at runtime
func (v *Validator) SetEscalationThreshold(n int) {
	old := v.threshold.Swap(int32(n))
	if int(old) != n {
		v.logger.Infow("Escalation threshold changed", "old", old, "new", n)
	}
}

// Score runs the sanity rules and the scorer. It never fails: scorer
// errors and timeouts are recorded in the assessment for Decide to fall
// back on. Candidates that are rejected outright (equal to current, or
// failing a rule) are not sent to the scorer.
func (v *Validator) Score(ctx context.Context, cand, current *fact.Fact) Assessment {
	var a Assessment
	a.RuleConfidence, a.RuleErr = checkRules(cand)
	if a.RuleErr != nil {
		return a
	}
	if current != nil && fact.Equal(cand.Value, current.Value) {
		return a
	}

	if v.scorer == nil {
		a.ScorerErr = errors.Wrap(errors.ErrScorerUnavailable, "no scorer configured")
		return a
	}

	sctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	start := time.Now()
	score, err := v.callScorer(sctx, cand.Clone(), current.Clone())
	a.ScorerLatency = time.Since(start)
	if err != nil {
		a.ScorerErr = errors.WithSecondaryError(errors.Wrap(errors.ErrScorerUnavailable, "scorer failed"), err)
		v.logger.Warnw("Scorer unavailable, using rule confidence",
			"entity", cand.EntityRef(),
			"field", cand.Field,
			"error", err,
			"duration_ms", a.ScorerLatency.Milliseconds())
		return a
	}
	a.Scored = true
	a.ScorerConfidence = util.ClampUnit(score)
	return a
}

type scoreResult struct {
	score float64
	err   error
}

// callScorer waits for the scorer or for ctx, whichever comes first. A
// scorer that ignores ctx keeps running on its own goroutine; its late
// result lands in the buffered channel and is dropped.
func (v *Validator) callScorer(ctx context.Context, cand, current *fact.Fact) (float64, error) {
	done := make(chan scoreResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- scoreResult{err: errors.Newf("scorer panicked: %v", r)}
			}
		}()
		score, err := v.scorer.Score(ctx, cand, current)
		done <- scoreResult{score: score, err: err}
	}()

	select {
	case res := <-done:
		return res.score, res.err
	case <-ctx.Done():
		return 0, errors.Wrap(ctx.Err(), "scorer did not answer in time")
	}
}

// Decide makes the final admission decision against current, which must
// be the authoritative current fact. It does no I/O. The returned fact
// carries confidence, importance and review flags; the store stamps the rest.
func (v *Validator) Decide(cand, current *fact.Fact, a Assessment) (*fact.Fact, Decision, error) {
	d := Decision{
		RuleConfidence:   a.RuleConfidence,
		ScorerConfidence: a.ScorerConfidence,
		ScorerErr:        a.ScorerErr,
	}

	var previous any
	if current != nil {
		previous = current.Value
		if fact.Equal(cand.Value, current.Value) {
			d.Reason = ReasonNoChange
			return nil, d, errors.Wrapf(errors.ErrNoChange, "%s", cand.Key())
		}
	}
	if a.RuleErr != nil {
		d.Reason = ReasonInvalidValue
		return nil, d, a.RuleErr
	}

	if a.Scored {
		d.Confidence = v.ruleWeight*a.RuleConfidence + v.scorerWeight*a.ScorerConfidence
	} else {
		// Scorer was down, timed out, absent or skipped because the value
		// looked unchanged at scoring time
		d.Confidence = a.RuleConfidence
		d.ReducedConfidence = true
	}

	d.Importance = ScoreImportance(cand.Field, previous, cand.Value)
	if int(d.Importance) >= v.EscalationThreshold() {
		d.RequiresHumanReview = true
		d.Confidence *= ReviewDiscount
		d.Reason = ReasonPendingReview
	} else {
		d.Reason = ReasonAutoValidated
	}
	d.Confidence = util.ClampUnit(d.Confidence)
	d.Admitted = true

	out := cand.Clone()
	out.PreviousValue = fact.DeepCopy(previous)
	out.Confidence = d.Confidence
	out.Importance = d.Importance
	out.RequiresHumanReview = d.RequiresHumanReview
	out.ReducedConfidence = d.ReducedConfidence
	return out, d, nil
}

// Validate is Score followed by Decide against the same current fact
func (v *Validator) Validate(ctx context.Context, cand, current *fact.Fact) (*fact.Fact, Decision, error) {
	return v.Decide(cand, current, v.Score(ctx, cand, current))
}
