package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"

	"github.com/teranos/factwire/am"
	"github.com/teranos/factwire/engine"
	"github.com/teranos/factwire/fact"
	"github.com/teranos/factwire/server"
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

// startServer runs an engine behind httptest and returns its URL
func startServer(t *testing.T) (string, *engine.Engine) {
	t.Helper()
	cfg := testConfig(t)
	log := zaptest.NewLogger(t).Sugar()
	e, err := engine.New(cfg, engine.WithLogger(log))
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	srv := server.New(e, cfg, server.WithLogger(log))
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		ts.Close()
		e.Stop()
	})
	return ts.URL, e
}

func testCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	return cmd
}

func setSubmitFlags(t *testing.T, serverURL, value string) {
	t.Helper()
	old := submitFlags
	t.Cleanup(func() { submitFlags = old })
	submitFlags.entityType = "coverage"
	submitFlags.entityID = "ozempic:aetna_comm"
	submitFlags.field = "formulary_tier"
	submitFlags.value = value
	submitFlags.source = "Aetna Provider Portal"
	submitFlags.server = serverURL
}

func TestBuildCandidate(t *testing.T) {
	setSubmitFlags(t, "", "2")
	submitFlags.effectiveDate = "2024-03-01"

	c, err := buildCandidate()
	require.NoError(t, err)
	assert.Equal(t, json.Number("2"), c.Value)
	require.NotNil(t, c.EffectiveDate)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *c.EffectiveDate)

	submitFlags.value = "Preferred Brand"
	c, err = buildCandidate()
	require.NoError(t, err)
	assert.Equal(t, "Preferred Brand", c.Value)

	submitFlags.effectiveDate = "soon"
	_, err = buildCandidate()
	assert.Error(t, err)

	submitFlags.effectiveDate = ""
	submitFlags.source = ""
	_, err = buildCandidate()
	assert.Error(t, err)
}

func TestRunSubmit_AgainstServer(t *testing.T) {
	url, e := startServer(t)

	setSubmitFlags(t, url, "3")
	require.NoError(t, runSubmit(testCmd(), nil))
	setSubmitFlags(t, url, "3")
	require.NoError(t, runSubmit(testCmd(), nil), "no change is not an error")
	setSubmitFlags(t, url, "2")
	require.NoError(t, runSubmit(testCmd(), nil))

	f, err := e.Store.CurrentValue("coverage", "ozempic:aetna_comm", "formulary_tier")
	require.NoError(t, err)
	assert.True(t, fact.Equal(2, f.Value))
	assert.Equal(t, 2, e.Store.Stats().HistoryLen)
}

func TestRunSubmit_Rejected(t *testing.T) {
	url, _ := startServer(t)
	setSubmitFlags(t, url, "-3")
	submitFlags.entityType = "price"
	submitFlags.field = "nadac"

	err := runSubmit(testCmd(), nil)
	require.Error(t, err)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "negative")
}

func TestRunRecentAndStatus(t *testing.T) {
	url, _ := startServer(t)
	setSubmitFlags(t, url, "3")
	require.NoError(t, runSubmit(testCmd(), nil))

	recentFlags.server = url
	recentFlags.hours = 24
	recentFlags.minImportance = "high"
	t.Cleanup(func() { recentFlags.server = "" })
	require.NoError(t, runRecent(testCmd(), nil))

	recentFlags.minImportance = "eleven"
	assert.Error(t, runRecent(testCmd(), nil))

	recentFlags.minImportance = "3"
	recentFlags.hours = 500
	assert.Error(t, runRecent(testCmd(), nil), "server rejects hours > 168")

	statusFlags.server = url
	t.Cleanup(func() { statusFlags.server = "" })
	require.NoError(t, runStatus(testCmd(), nil))
}

func TestAPIClient_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := newAPIClient(url).do(context.Background(), "GET", "/api/status", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request to")
}

func TestRecentTable(t *testing.T) {
	updated := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	data := recentTable([]*fact.Fact{{
		EntityType:          "coverage",
		EntityID:            "ozempic:aetna_comm",
		Field:               "formulary_tier",
		Value:               2,
		PreviousValue:       3,
		Importance:          fact.Major,
		Confidence:          0.867,
		Source:              "Aetna",
		UpdatedAt:           updated,
		RequiresHumanReview: true,
	}})
	require.Len(t, data, 2)
	row := data[1]
	assert.Equal(t, "coverage:ozempic:aetna_comm", row[1])
	assert.Equal(t, "3 → 2", row[3])
	assert.Equal(t, "8 MAJOR (review)", row[4])
	assert.Equal(t, "0.87", row[5])
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "-", formatValue(nil))
	assert.Equal(t, "Tier 2", formatValue("Tier 2"))
	assert.Equal(t, `{"tier":2}`, formatValue(map[string]int{"tier": 2}))
	assert.Equal(t, "true", formatValue(true))
}

func TestRenderConfig(t *testing.T) {
	cfg := testConfig(t)

	out, err := renderConfig(cfg, "json")
	require.NoError(t, err)
	var asJSON map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &asJSON))
	assert.Contains(t, asJSON, "validator")

	out, err = renderConfig(cfg, "toml")
	require.NoError(t, err)
	var asTOML map[string]interface{}
	require.NoError(t, toml.Unmarshal([]byte(out), &asTOML))
	assert.Contains(t, asTOML, "bus")

	out, err = renderConfig(cfg, "yaml")
	require.NoError(t, err)
	var asYAML map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(out), &asYAML))
	assert.Contains(t, asYAML, "scorer")

	_, err = renderConfig(cfg, "ini")
	assert.Error(t, err)
}

func TestRunAmSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	configFile = path
	t.Cleanup(func() { configFile = "" })

	cmd := testCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, runAmSet(cmd, []string{"validator.escalation_threshold", "9"}))
	assert.Contains(t, out.String(), "validator.escalation_threshold = 9")

	err := runAmSet(cmd, []string{"validator.escalation_threshold", "42"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")

	_, statErr := os.Stat(path + ".back1")
	assert.NoError(t, statErr)
	data, readErr := os.ReadFile(path + ".back1")
	require.NoError(t, readErr)
	assert.True(t, strings.Contains(string(data), "escalation_threshold = 9"))
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	VersionCmd.SetOut(&out)
	t.Cleanup(func() { VersionCmd.SetOut(nil) })
	require.NoError(t, runVersion(VersionCmd, nil))
	assert.Contains(t, out.String(), "Platform:")

	out.Reset()
	versionJSON = true
	t.Cleanup(func() { versionJSON = false })
	require.NoError(t, runVersion(VersionCmd, nil))
	var info map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Contains(t, info, "go_version")
}
