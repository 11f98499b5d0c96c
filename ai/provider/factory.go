// Package provider selects the plausibility scorer named in configuration.
package provider

import (
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/factwire/ai/openai"
	"github.com/teranos/factwire/ai/tracker"
	"github.com/teranos/factwire/am"
	"github.com/teranos/factwire/errors"
	"github.com/teranos/factwire/validator"
)

// Provider names a scorer implementation
type Provider string

const (
	// ProviderStatic returns a fixed confidence
	ProviderStatic Provider = "static"
	// ProviderOpenAI asks an OpenAI-compatible chat endpoint
	ProviderOpenAI Provider = "openai"
	// ProviderNone disables scoring; every admission is rule-only
	ProviderNone Provider = "none"
)

// NewScorer builds the scorer for cfg.Scorer.Provider. ProviderNone yields
// a nil scorer. db is optional and enables scorer usage tracking.
func NewScorer(cfg *am.Config, db *sql.DB, log *zap.SugaredLogger) (validator.Scorer, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	switch Provider(cfg.Scorer.Provider) {
	case "", ProviderStatic:
		conf := cfg.Scorer.StaticConfidence
		if conf == 0 {
			conf = validator.DefaultStaticConfidence
		}
		return validator.StaticScorer(conf), nil

	case ProviderNone:
		return nil, nil

	case ProviderOpenAI:
		oc := cfg.Scorer.OpenAI
		var usage *tracker.UsageTracker
		if db != nil {
			usage = tracker.NewUsageTracker(db)
		}
		scorer, err := openai.New(openai.Config{
			APIKey:            oc.APIKey,
			Model:             oc.Model,
			BaseURL:           oc.BaseURL,
			MaxRetries:        oc.MaxRetries,
			RetryDelay:        500 * time.Millisecond,
			RequestsPerMinute: oc.RequestsPerMinute,
			Tracker:           usage,
			Logger:            log,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create openai scorer")
		}
		return scorer, nil
	}

	return nil, errors.Newf("unknown scorer provider %q", cfg.Scorer.Provider)
}
