// Package openai scores candidate facts for plausibility with an
// OpenAI-compatible chat completion endpoint.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/factwire/ai/tracker"
	"github.com/teranos/factwire/errors"
	"github.com/teranos/factwire/fact"
	"github.com/teranos/factwire/internal/util"
)

const (
	// DefaultModel should match scorer.openai.model in am/defaults.go
	DefaultModel = "gpt-4o-mini"

	DefaultMaxRetries = 2
	DefaultRetryDelay = 500 * time.Millisecond
	// DefaultRequestTimeout bounds one HTTP attempt. The validator's own
	// scorer timeout is usually tighter and wins.
	DefaultRequestTimeout = 30 * time.Second

	providerName = "openai"
)

const systemPrompt = `You check updates to a pharmaceutical knowledge base for plausibility.
Given the previous value and the proposed new value of one field, judge how likely the new value is correct.
Respond with a JSON object only: {"confidence": <number between 0 and 1>, "reason": "<short reason>"}.`

// Config configures the scorer
type Config struct {
	APIKey            string
	Model             string
	BaseURL           string // Empty = api.openai.com
	MaxRetries        int
	RetryDelay        time.Duration
	RequestTimeout    time.Duration
	RequestsPerMinute int // 0 = unlimited
	Tracker           *tracker.UsageTracker
	Logger            *zap.SugaredLogger
	HTTPClient        *http.Client
}

// Scorer implements validator.Scorer
type Scorer struct {
	client         *openai.Client
	model          string
	maxRetries     int
	retryDelay     time.Duration
	requestTimeout time.Duration
	limiter        *rate.Limiter
	tracker        *tracker.UsageTracker
	logger         *zap.SugaredLogger

	// in-flight usage writes
	tracking sync.WaitGroup
}

// New creates a scorer. An API key is required.
func New(cfg Config) (*Scorer, error) {
	if cfg.APIKey == "" {
		return nil, errors.WithHint(
			errors.New("OpenAI API key is required"),
			"set OPENAI_API_KEY or scorer.openai.api_key",
		)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}

	return &Scorer{
		client:         openai.NewClientWithConfig(clientConfig),
		model:          cfg.Model,
		maxRetries:     cfg.MaxRetries,
		retryDelay:     cfg.RetryDelay,
		requestTimeout: cfg.RequestTimeout,
		limiter:        rate.NewLimiter(limit, 1),
		tracker:        cfg.Tracker,
		logger:         cfg.Logger.Named("openai"),
	}, nil
}

var errBadResponse = errors.New("unusable scorer response")

const trackTimeout = 5 * time.Second

type verdict struct {
	Confidence *float64 `json:"confidence"`
	Reason     string   `json:"reason"`
}

// Score asks the model for a plausibility confidence. Rate limit waits and
// retries all count against ctx, so a validator deadline cuts them short.
func (s *Scorer) Score(ctx context.Context, candidate, current *fact.Fact) (float64, error) {
	start := time.Now()
	usage := &tracker.ScorerUsage{
		FactKey:          candidate.Key().String(),
		Provider:         providerName,
		Model:            s.model,
		RequestTimestamp: start,
	}

	conf, err := s.score(ctx, candidate, current, usage)

	usage.Latency = time.Since(start)
	usage.Success = err == nil
	if err == nil {
		usage.Confidence = util.Ptr(conf)
	} else {
		usage.ErrorMessage = util.Ptr(err.Error())
	}
	s.track(usage)

	return conf, err
}

func (s *Scorer) score(ctx context.Context, candidate, current *fact.Fact, usage *tracker.ScorerUsage) (float64, error) {
	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(candidate, current)},
		},
		Temperature:    0,
		MaxTokens:      100,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, util.CalculateBackoff(s.retryDelay, attempt)); err != nil {
				return 0, errors.Wrapf(err, "scorer gave up after %d attempts: %v", attempt, lastErr)
			}
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return 0, errors.Wrap(err, "scorer rate limit wait")
		}
		usage.Attempts = attempt + 1

		conf, err := s.complete(ctx, req, usage)
		if err == nil {
			return conf, nil
		}
		lastErr = err
		if !retryable(err) || ctx.Err() != nil {
			break
		}
		s.logger.Debugw("Scorer attempt failed, retrying",
			"attempt", attempt+1,
			"error", err)
	}
	return 0, errors.Wrapf(lastErr, "scorer failed after %d attempts", usage.Attempts)
}

func (s *Scorer) complete(ctx context.Context, req openai.ChatCompletionRequest, usage *tracker.ScorerUsage) (float64, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(attemptCtx, req)
	if err != nil {
		return 0, err
	}
	usage.PromptTokens = util.Ptr(resp.Usage.PromptTokens)
	usage.CompletionTokens = util.Ptr(resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return 0, errors.Wrap(errBadResponse, "no choices in response")
	}
	return parseConfidence(resp.Choices[0].Message.Content)
}

// track records usage off the caller's path so a slow insert never eats
// into the validator's scoring deadline
func (s *Scorer) track(usage *tracker.ScorerUsage) {
	if s.tracker == nil {
		return
	}
	s.tracking.Add(1)
	go func() {
		defer s.tracking.Done()
		ctx, cancel := context.WithTimeout(context.Background(), trackTimeout)
		defer cancel()
		if err := s.tracker.TrackUsage(ctx, usage); err != nil {
			s.logger.Warnw("Failed to track scorer usage", "error", err)
		}
	}()
}

// Flush waits for pending usage writes. Call it before closing the
// tracker's database.
func (s *Scorer) Flush() {
	s.tracking.Wait()
}

func buildPrompt(candidate, current *fact.Fact) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Entity: %s %s\n", candidate.EntityType, candidate.EntityID)
	fmt.Fprintf(&b, "Field: %s\n", candidate.Field)
	if current != nil {
		fmt.Fprintf(&b, "Previous value: %s (source: %s)\n", render(current.Value), current.Source)
	} else {
		b.WriteString("Previous value: none (first observation)\n")
	}
	fmt.Fprintf(&b, "Proposed value: %s\n", render(candidate.Value))
	fmt.Fprintf(&b, "Source: %s", candidate.Source)
	if candidate.SourceURL != "" {
		fmt.Fprintf(&b, " (%s)", candidate.SourceURL)
	}
	return b.String()
}

func render(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// parseConfidence accepts the requested JSON object, or a bare number for
// models that ignore the response format.
func parseConfidence(content string) (float64, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var v verdict
	if err := json.Unmarshal([]byte(content), &v); err == nil && v.Confidence != nil {
		return *v.Confidence, nil
	}
	if f, err := strconv.ParseFloat(content, 64); err == nil {
		return f, nil
	}
	return 0, errors.WithDetail(errors.Wrap(errBadResponse, "unparseable"), content)
}

func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	// Malformed replies are not retried; transport errors are
	return !errors.Is(err, errBadResponse)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
