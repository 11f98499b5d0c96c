// Package tracker records plausibility scorer calls in the scorer_usage
// table so cost and failure rates can be inspected after the fact.
package tracker

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/factwire/errors"
)

// ScorerUsage is one scorer call
type ScorerUsage struct {
	FactKey          string    `json:"fact_key"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	RequestTimestamp time.Time `json:"request_timestamp"`
	Latency          time.Duration `json:"-"`
	Attempts         int      `json:"attempts"`
	PromptTokens     *int     `json:"prompt_tokens,omitempty"`
	CompletionTokens *int     `json:"completion_tokens,omitempty"`
	Confidence       *float64 `json:"confidence,omitempty"`
	Success          bool     `json:"success"`
	ErrorMessage     *string  `json:"error_message,omitempty"`
}

// UsageStats aggregates calls since a point in time
type UsageStats struct {
	TotalRequests      int     `json:"total_requests"`
	SuccessfulRequests int     `json:"successful_requests"`
	SuccessRate        float64 `json:"success_rate"`
	TotalTokens        int     `json:"total_tokens"`
	AvgLatencyMS       float64 `json:"avg_latency_ms"`
	UniqueModels       int     `json:"unique_models"`
}

// UsageTracker writes to scorer_usage. Safe for concurrent use.
type UsageTracker struct {
	db *sql.DB
}

// NewUsageTracker creates a tracker over a migrated database
func NewUsageTracker(db *sql.DB) *UsageTracker {
	return &UsageTracker{db: db}
}

const insertUsageSQL = `
	INSERT INTO scorer_usage (
		fact_key, provider, model, request_timestamp, latency_ms, attempts,
		prompt_tokens, completion_tokens, confidence, success, error_message
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// TrackUsage records one call
func (t *UsageTracker) TrackUsage(ctx context.Context, u *ScorerUsage) error {
	attempts := u.Attempts
	if attempts < 1 {
		attempts = 1
	}
	_, err := t.db.ExecContext(ctx, insertUsageSQL,
		u.FactKey, u.Provider, u.Model, u.RequestTimestamp.UTC(), u.Latency.Milliseconds(), attempts,
		u.PromptTokens, u.CompletionTokens, u.Confidence, u.Success, u.ErrorMessage,
	)
	if err != nil {
		return errors.Wrap(err, "failed to record scorer usage")
	}
	return nil
}

const usageStatsSQL = `
	SELECT
		COUNT(*) as total_requests,
		COUNT(CASE WHEN success = 1 THEN 1 END) as successful_requests,
		COALESCE(SUM(COALESCE(prompt_tokens, 0) + COALESCE(completion_tokens, 0)), 0) as total_tokens,
		COALESCE(AVG(latency_ms), 0) as avg_latency_ms,
		COUNT(DISTINCT model) as unique_models
	FROM scorer_usage
	WHERE request_timestamp >= ?`

// GetUsageStats returns usage statistics since the given time
func (t *UsageTracker) GetUsageStats(ctx context.Context, since time.Time) (*UsageStats, error) {
	var stats UsageStats
	err := t.db.QueryRowContext(ctx, usageStatsSQL, since.UTC()).Scan(
		&stats.TotalRequests, &stats.SuccessfulRequests,
		&stats.TotalTokens, &stats.AvgLatencyMS, &stats.UniqueModels,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query scorer usage")
	}
	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.SuccessfulRequests) / float64(stats.TotalRequests)
	}
	return &stats, nil
}
