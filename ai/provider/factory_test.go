package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/factwire/ai/openai"
	"github.com/teranos/factwire/am"
	"github.com/teranos/factwire/fact"
	testutil "github.com/teranos/factwire/internal/testing"
	"github.com/teranos/factwire/validator"
)

func TestNewScorer(t *testing.T) {
	t.Run("static default", func(t *testing.T) {
		s, err := NewScorer(&am.Config{}, nil, nil)
		require.NoError(t, err)
		conf, err := s.Score(context.Background(), &fact.Fact{}, nil)
		require.NoError(t, err)
		assert.InDelta(t, validator.DefaultStaticConfidence, conf, 1e-9)
	})

	t.Run("static configured", func(t *testing.T) {
		cfg := &am.Config{Scorer: am.ScorerConfig{Provider: "static", StaticConfidence: 0.5}}
		s, err := NewScorer(cfg, nil, nil)
		require.NoError(t, err)
		conf, _ := s.Score(context.Background(), &fact.Fact{}, nil)
		assert.InDelta(t, 0.5, conf, 1e-9)
	})

	t.Run("none", func(t *testing.T) {
		s, err := NewScorer(&am.Config{Scorer: am.ScorerConfig{Provider: "none"}}, nil, nil)
		require.NoError(t, err)
		assert.Nil(t, s)
	})

	t.Run("openai", func(t *testing.T) {
		cfg := &am.Config{Scorer: am.ScorerConfig{Provider: "openai", OpenAI: am.OpenAIConfig{APIKey: "sk-x"}}}
		s, err := NewScorer(cfg, testutil.CreateTestDB(t), nil)
		require.NoError(t, err)
		assert.IsType(t, &openai.Scorer{}, s)
	})

	t.Run("openai without key", func(t *testing.T) {
		_, err := NewScorer(&am.Config{Scorer: am.ScorerConfig{Provider: "openai"}}, nil, nil)
		assert.Error(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := NewScorer(&am.Config{Scorer: am.ScorerConfig{Provider: "oracle"}}, nil, nil)
		assert.Error(t, err)
	})
}
