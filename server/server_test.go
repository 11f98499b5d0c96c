package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/factwire/am"
	"github.com/teranos/factwire/engine"
)

func testConfig(t *testing.T) *am.Config {
	t.Helper()
	v := viper.New()
	am.SetDefaults(v)
	cfg, err := am.LoadWithViper(v)
	require.NoError(t, err)
	cfg.Database.Journal = false
	cfg.Producers.CatalogEnabled = false
	return cfg
}

type testEnv struct {
	engine *engine.Engine
	server *Server
	http   *httptest.Server
}

func newTestEnv(t *testing.T, mutate ...func(*am.Config)) *testEnv {
	t.Helper()
	cfg := testConfig(t)
	for _, m := range mutate {
		m(cfg)
	}
	log := zaptest.NewLogger(t).Sugar()

	e, err := engine.New(cfg, engine.WithLogger(log))
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	s := New(e, cfg, WithLogger(log))
	ts := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		ts.Close()
		e.Stop()
	})
	return &testEnv{engine: e, server: s, http: ts}
}

func (env *testEnv) post(t *testing.T, body string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(env.http.URL+"/api/facts", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (env *testEnv) get(t *testing.T, path string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(env.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func tierBody(value int) string {
	b, _ := json.Marshal(map[string]interface{}{
		"entity_type": "coverage",
		"entity_id":   "ozempic:aetna_comm",
		"field":       "formulary_tier",
		"value":       value,
		"source":      "Aetna Provider Portal",
	})
	return string(b)
}

func TestSubmitFact_StatusCodes(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.post(t, tierBody(3))
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, true, body["admitted"])

	status, body = env.post(t, tierBody(3))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["admitted"])
	assert.Equal(t, "no change", body["reason"])

	status, body = env.post(t, tierBody(2))
	assert.Equal(t, http.StatusCreated, status)
	assert.EqualValues(t, 8, body["importance"])
	assert.Equal(t, true, body["requires_human_review"])
	fact, ok := body["fact"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 3, fact["previous_value"])
	assert.EqualValues(t, 2, fact["value"])
}

func TestSubmitFact_Rejections(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.post(t, `{"entity_type":"price","entity_id":"ozempic","field":"nadac","value":-5,"source":"CMS"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, false, body["admitted"])
	assert.Contains(t, body["error"], "negative")

	status, body = env.post(t, `{"entity_type":"price","entity_id":"ozempic","value":5,"source":"CMS"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"], "field")

	status, body = env.post(t, `{not json`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"], "Invalid request body")

	assert.Equal(t, 0, env.engine.Store.Stats().TotalFacts)
}

func TestQueries(t *testing.T) {
	env := newTestEnv(t)
	env.post(t, tierBody(3))
	env.post(t, `{"entity_type":"coverage","entity_id":"ozempic:aetna_comm","field":"pa_required","value":true,"source":"Aetna"}`)

	var facts FactsResponse
	assert.Equal(t, http.StatusOK, env.get(t, "/api/facts/coverage/ozempic:aetna_comm", &facts))
	require.Equal(t, 2, facts.Count)
	assert.Equal(t, "formulary_tier", facts.Facts[0].Field)
	assert.Equal(t, "pa_required", facts.Facts[1].Field)

	var empty FactsResponse
	assert.Equal(t, http.StatusOK, env.get(t, "/api/facts/coverage/unknown", &empty))
	assert.Equal(t, 0, empty.Count)
	assert.NotNil(t, empty.Facts)

	var one map[string]interface{}
	assert.Equal(t, http.StatusOK, env.get(t, "/api/facts/coverage/ozempic:aetna_comm/pa_required", &one))
	assert.Equal(t, true, one["value"])

	var missing map[string]string
	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/facts/coverage/ozempic:aetna_comm/copay", &missing))
	assert.NotEmpty(t, missing["error"])
}

func TestRecentChanges(t *testing.T) {
	env := newTestEnv(t)
	for v := 1; v <= 60; v++ {
		body := `{"entity_type":"price","entity_id":"drug` + itoa(v) + `","field":"nadac","value":` + itoa(v) + `,"source":"CMS"}`
		status, _ := env.post(t, body)
		require.Equal(t, http.StatusCreated, status)
	}

	var recent RecentResponse
	assert.Equal(t, http.StatusOK, env.get(t, "/api/updates/recent?hours=1&min_importance=1", &recent))
	assert.Equal(t, 60, recent.Count)
	assert.Equal(t, 1, recent.Hours)
	assert.Len(t, recent.Updates, recentUpdatesLimit)
	// Newest first
	assert.Equal(t, "drug60", recent.Updates[0].EntityID)

	assert.Equal(t, http.StatusOK, env.get(t, "/api/updates/recent", &recent))
	assert.Equal(t, defaultRecentHours, recent.Hours)

	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/updates/recent?hours=169", nil))
	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/updates/recent?hours=abc", nil))
	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/updates/recent?min_importance=11", nil))
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestStatusHealthMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.post(t, tierBody(3))

	var status map[string]interface{}
	assert.Equal(t, http.StatusOK, env.get(t, "/api/status", &status))
	assert.Equal(t, "online", status["status"])
	assert.Equal(t, "running", status["server_state"])
	assert.EqualValues(t, 0, status["websocket_clients"])
	kg, ok := status["knowledge_graph"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 1, kg["total_facts"])
	assert.Contains(t, status, "version")

	var health map[string]string
	assert.Equal(t, http.StatusOK, env.get(t, "/health", &health))
	assert.Equal(t, "ok", health["status"])

	resp, err := http.Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "factwire_submissions_total")
}

func TestRequestIDHeaderAccepted(t *testing.T) {
	env := newTestEnv(t)
	req, err := http.NewRequest(http.MethodPost, env.http.URL+"/api/facts", bytes.NewBufferString(tierBody(1)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", "req-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *am.Config) { c.Server.RateLimitPerMinute = 2 })
	assert.Equal(t, http.StatusOK, env.get(t, "/health", nil))
	assert.Equal(t, http.StatusOK, env.get(t, "/health", nil))
	assert.Equal(t, http.StatusTooManyRequests, env.get(t, "/health", nil))
}

func TestShutdownIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.server.Shutdown(context.Background()))
	assert.Equal(t, ServerStateStopped, env.server.State())
	require.NoError(t, env.server.Shutdown(context.Background()))
}
