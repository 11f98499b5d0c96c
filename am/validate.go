package am

import (
	"net/url"

	"github.com/teranos/factwire/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be in 1..65535 (0 for default), got %d", c.Server.Port)
	}
	if c.Server.MaxClients < 0 {
		return errors.Newf("server.max_clients must be >= 0, got %d", c.Server.MaxClients)
	}
	if c.Server.RateLimitPerMinute < 0 {
		return errors.Newf("server.rate_limit_per_minute must be >= 0, got %d", c.Server.RateLimitPerMinute)
	}

	// Zero means "use default" for shards and buffer size
	if c.Store.Shards < 0 {
		return errors.Newf("store.shards must be >= 0, got %d", c.Store.Shards)
	}
	if c.Bus.BufferSize < 0 {
		return errors.Newf("bus.buffer_size must be >= 0, got %d", c.Bus.BufferSize)
	}

	if c.Validator.EscalationThreshold < 0 || c.Validator.EscalationThreshold > 11 {
		return errors.Newf("validator.escalation_threshold must be in 1..11 (0 for default, 11 disables review), got %d", c.Validator.EscalationThreshold)
	}
	if c.Validator.ScorerTimeoutMS < 0 {
		return errors.Newf("validator.scorer_timeout_ms must be >= 0, got %d", c.Validator.ScorerTimeoutMS)
	}
	if c.Validator.RuleWeight < 0 || c.Validator.ScorerWeight < 0 {
		return errors.New("validator weights must be >= 0")
	}
	if sum := c.Validator.RuleWeight + c.Validator.ScorerWeight; sum != 0 && (sum < 0.999 || sum > 1.001) {
		return errors.Newf("validator.rule_weight + validator.scorer_weight must equal 1, got %.3f", sum)
	}

	switch c.Scorer.Provider {
	case "", "static", "none":
	case "openai":
		if c.Scorer.OpenAI.APIKey == "" {
			return errors.WithHint(
				errors.New("scorer.openai.api_key is required when scorer.provider = \"openai\""),
				"set OPENAI_API_KEY or FACTWIRE_SCORER_OPENAI_API_KEY",
			)
		}
	default:
		return errors.Newf("scorer.provider must be one of static, openai, none; got %q", c.Scorer.Provider)
	}
	if c.Scorer.StaticConfidence < 0 || c.Scorer.StaticConfidence > 1 {
		return errors.Newf("scorer.static_confidence must be in [0,1], got %f", c.Scorer.StaticConfidence)
	}

	for i, feed := range c.Producers.HTTPFeeds {
		if feed.Name == "" {
			return errors.Newf("producers.http_feeds[%d].name cannot be empty", i)
		}
		u, err := url.Parse(feed.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return errors.Newf("producers.http_feeds[%d].url must be an http(s) URL, got %q", i, feed.URL)
		}
		if feed.IntervalSeconds <= 0 {
			return errors.Newf("producers.http_feeds[%d].interval_seconds must be > 0, got %d", i, feed.IntervalSeconds)
		}
	}

	return nil
}
