package am

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "factwire.db")
	v.SetDefault("database.journal", true)

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})
	v.SetDefault("server.max_clients", 1000)
	v.SetDefault("server.rate_limit_per_minute", 600)

	// Store and bus
	v.SetDefault("store.shards", 64)
	v.SetDefault("bus.buffer_size", 256)

	// Validator: weights and threshold mirror the canonical admission policy
	v.SetDefault("validator.escalation_threshold", 8)
	v.SetDefault("validator.scorer_timeout_ms", 2000)
	v.SetDefault("validator.rule_weight", 0.4)
	v.SetDefault("validator.scorer_weight", 0.6)

	// Scorer
	v.SetDefault("scorer.provider", "static")
	v.SetDefault("scorer.static_confidence", 0.92)
	v.SetDefault("scorer.openai.model", "gpt-4o-mini")
	v.SetDefault("scorer.openai.max_retries", 2)
	v.SetDefault("scorer.openai.requests_per_minute", 60)

	// Producers
	v.SetDefault("producers.catalog_enabled", true)
	v.SetDefault("producers.file_feed_dir", "")
	v.SetDefault("producers.allow_private_ip", false)

	// NATS bridge (disabled without a URL)
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "facts")
	v.SetDefault("nats.stream", "FACTS")
}

// BindSensitiveEnvVars explicitly binds secrets and common overrides
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("scorer.openai.api_key", "FACTWIRE_SCORER_OPENAI_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("database.path", "FACTWIRE_DATABASE_PATH", "DB_PATH")
	v.BindEnv("nats.url", "FACTWIRE_NATS_URL", "NATS_URL")
}

// GetServerPort returns the configured server port, or DefaultServerPort
func GetServerPort() int {
	cfg, err := Load()
	if err != nil || cfg.Server.Port <= 0 {
		return DefaultServerPort
	}
	return cfg.Server.Port
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "factwire.db"
	}
	return c.Database.Path
}

// GetServerAllowedOrigins returns the allowed CORS origins
func (c *Config) GetServerAllowedOrigins() []string {
	if len(c.Server.AllowedOrigins) == 0 {
		return []string{"http://localhost", "http://127.0.0.1"}
	}
	return c.Server.AllowedOrigins
}

// ScorerTimeout returns the scorer timeout as a duration (default 2s)
func (c *Config) ScorerTimeout() time.Duration {
	if c.Validator.ScorerTimeoutMS <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.Validator.ScorerTimeoutMS) * time.Millisecond
}

// String returns a short summary of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Server: {Port: %d}, Scorer: %s, Bus: {BufferSize: %d}}",
		c.Database.Path, c.Server.Port, c.Scorer.Provider, c.Bus.BufferSize)
}
