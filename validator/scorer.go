package validator

import (
	"context"

	"github.com/teranos/factwire/fact"
)

// Scorer judges how plausible a candidate is given the current fact
// (nil on first observation). Scores are clamped to [0,1]. Implementations
// may do I/O; they are called without any store lock held.
type Scorer interface {
	Score(ctx context.Context, candidate *fact.Fact, current *fact.Fact) (float64, error)
}

// ScorerFunc adapts a function to Scorer
type ScorerFunc func(ctx context.Context, candidate *fact.Fact, current *fact.Fact) (float64, error)

// Score calls fn
func (fn ScorerFunc) Score(ctx context.Context, candidate *fact.Fact, current *fact.Fact) (float64, error) {
	return fn(ctx, candidate, current)
}

// DefaultStaticConfidence is what StaticScorer returns without configuration
const DefaultStaticConfidence = 0.92

// StaticScorer always returns confidence c
func StaticScorer(c float64) Scorer {
	return ScorerFunc(func(context.Context, *fact.Fact, *fact.Fact) (float64, error) {
		return c, nil
	})
}
