package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/factwire/ai/tracker"
	"github.com/teranos/factwire/errors"
	"github.com/teranos/factwire/fact"
	testutil "github.com/teranos/factwire/internal/testing"
)

func completion(content string) string {
	body, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   DefaultModel,
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 40, "completion_tokens": 6, "total_tokens": 46},
	})
	return string(body)
}

func tierChange() (*fact.Fact, *fact.Fact) {
	current := &fact.Fact{EntityType: "coverage", EntityID: "ozempic:aetna_comm", Field: "formulary_tier", Value: 3, Source: "aetna_portal"}
	cand := &fact.Fact{EntityType: "coverage", EntityID: "ozempic:aetna_comm", Field: "formulary_tier", Value: 2, Source: "Aetna Provider Portal"}
	return cand, current
}

func newTestScorer(t *testing.T, url string, cfg Config) *Scorer {
	t.Helper()
	cfg.APIKey = "sk-test"
	cfg.BaseURL = url + "/v1"
	cfg.RetryDelay = 5 * time.Millisecond
	cfg.Logger = zaptest.NewLogger(t).Sugar()
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func TestScore_ParsesConfidence(t *testing.T) {
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completion(`{"confidence": 0.83, "reason": "tier moves are common"}`))
	}))
	defer srv.Close()

	s := newTestScorer(t, srv.URL, Config{})
	cand, current := tierChange()

	conf, err := s.Score(context.Background(), cand, current)
	require.NoError(t, err)
	assert.InDelta(t, 0.83, conf, 1e-9)

	assert.Equal(t, DefaultModel, gotReq["model"])
	msgs := gotReq["messages"].([]any)
	require.Len(t, msgs, 2)
	user := msgs[1].(map[string]any)["content"].(string)
	assert.Contains(t, user, "Previous value: 3")
	assert.Contains(t, user, "Proposed value: 2")
	assert.Contains(t, user, "formulary_tier")
}

func TestScore_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error": {"message": "overloaded", "type": "server_error"}}`)
			return
		}
		fmt.Fprint(w, completion("0.7"))
	}))
	defer srv.Close()

	db := testutil.CreateTestDB(t)
	s := newTestScorer(t, srv.URL, Config{MaxRetries: 2, Tracker: tracker.NewUsageTracker(db)})
	cand, current := tierChange()

	conf, err := s.Score(context.Background(), cand, current)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, conf, 1e-9)
	assert.Equal(t, int32(3), calls.Load())

	s.Flush()
	var attempts int
	var success bool
	require.NoError(t, db.QueryRow(`SELECT attempts, success FROM scorer_usage`).Scan(&attempts, &success))
	assert.Equal(t, 3, attempts)
	assert.True(t, success)
}

func TestScore_SlowUsageWriteDoesNotDelayScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completion("0.8"))
	}))
	defer srv.Close()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectExec("INSERT INTO scorer_usage").
		WillDelayFor(500 * time.Millisecond).
		WillReturnResult(sqlmock.NewResult(1, 1))

	s := newTestScorer(t, srv.URL, Config{Tracker: tracker.NewUsageTracker(db)})
	cand, current := tierChange()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	start := time.Now()
	conf, err := s.Score(ctx, cand, current)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, conf, 1e-9)
	assert.Less(t, time.Since(start), 300*time.Millisecond)
	assert.NoError(t, ctx.Err(), "score returned inside the caller's deadline")

	s.Flush()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScore_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "bad key", "type": "invalid_request_error"}}`)
	}))
	defer srv.Close()

	s := newTestScorer(t, srv.URL, Config{MaxRetries: 3})
	cand, current := tierChange()

	_, err := s.Score(context.Background(), cand, current)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestScore_UnparseableResponse(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, completion("looks fine to me"))
	}))
	defer srv.Close()

	db := testutil.CreateTestDB(t)
	s := newTestScorer(t, srv.URL, Config{MaxRetries: 2, Tracker: tracker.NewUsageTracker(db)})
	cand, current := tierChange()

	_, err := s.Score(context.Background(), cand, current)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errBadResponse))
	assert.Equal(t, int32(1), calls.Load())

	s.Flush()
	var success bool
	var msg string
	require.NoError(t, db.QueryRow(`SELECT success, error_message FROM scorer_usage`).Scan(&success, &msg))
	assert.False(t, success)
	assert.Contains(t, msg, "unparseable")
}

func TestScore_HonoursContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	s := newTestScorer(t, srv.URL, Config{MaxRetries: 5})
	cand, current := tierChange()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := s.Score(ctx, cand, current)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestParseConfidence(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{`{"confidence": 0.9}`, 0.9, false},
		{"```json\n{\"confidence\": 0.4, \"reason\": \"x\"}\n```", 0.4, false},
		{"0.65", 0.65, false},
		{`{"reason": "no number"}`, 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := parseConfidence(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.InDelta(t, tt.want, got, 1e-9)
	}
}

func TestBuildPrompt_FirstObservation(t *testing.T) {
	cand, _ := tierChange()
	cand.SourceURL = "https://aetna.example/formulary"
	p := buildPrompt(cand, nil)
	assert.Contains(t, p, "first observation")
	assert.Contains(t, p, "https://aetna.example/formulary")
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.NotEmpty(t, errors.GetAllHints(err))
}
