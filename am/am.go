// Package am is factwire's configuration ("I am"): TOML files, environment
// variables and defaults merged through viper.
package am

// Config represents the complete factwire configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database" json:"database" toml:"database" yaml:"database"`
	Server    ServerConfig    `mapstructure:"server" json:"server" toml:"server" yaml:"server"`
	Store     StoreConfig     `mapstructure:"store" json:"store" toml:"store" yaml:"store"`
	Bus       BusConfig       `mapstructure:"bus" json:"bus" toml:"bus" yaml:"bus"`
	Validator ValidatorConfig `mapstructure:"validator" json:"validator" toml:"validator" yaml:"validator"`
	Scorer    ScorerConfig    `mapstructure:"scorer" json:"scorer" toml:"scorer" yaml:"scorer"`
	Producers ProducersConfig `mapstructure:"producers" json:"producers" toml:"producers" yaml:"producers"`
	Nats      NatsConfig      `mapstructure:"nats" json:"nats" toml:"nats" yaml:"nats"`
}

// DatabaseConfig configures the SQLite fact journal
type DatabaseConfig struct {
	Path    string `mapstructure:"path" json:"path" toml:"path" yaml:"path"`
	Journal bool   `mapstructure:"journal" json:"journal" toml:"journal" yaml:"journal"` // Persist admitted facts and rehydrate on start
}

// ServerConfig configures the HTTP/WebSocket server
type ServerConfig struct {
	Port               int      `mapstructure:"port" json:"port" toml:"port" yaml:"port"`
	AllowedOrigins     []string `mapstructure:"allowed_origins" json:"allowed_origins" toml:"allowed_origins" yaml:"allowed_origins"`
	MaxClients         int      `mapstructure:"max_clients" json:"max_clients" toml:"max_clients" yaml:"max_clients"`
	RateLimitPerMinute int      `mapstructure:"rate_limit_per_minute" json:"rate_limit_per_minute" toml:"rate_limit_per_minute" yaml:"rate_limit_per_minute"` // Per-IP request limit, 0 = unlimited
}

// StoreConfig configures the in-memory fact store
type StoreConfig struct {
	Shards int `mapstructure:"shards" json:"shards" toml:"shards" yaml:"shards"` // Lock shards for the current-value table
}

// BusConfig configures the change bus
type BusConfig struct {
	BufferSize int `mapstructure:"buffer_size" json:"buffer_size" toml:"buffer_size" yaml:"buffer_size"` // Per-subscriber ring capacity before drop-oldest
}

// ValidatorConfig configures the admission pipeline
type ValidatorConfig struct {
	EscalationThreshold int     `mapstructure:"escalation_threshold" json:"escalation_threshold" toml:"escalation_threshold" yaml:"escalation_threshold"` // Importance at or above which review is required
	ScorerTimeoutMS     int     `mapstructure:"scorer_timeout_ms" json:"scorer_timeout_ms" toml:"scorer_timeout_ms" yaml:"scorer_timeout_ms"`
	RuleWeight          float64 `mapstructure:"rule_weight" json:"rule_weight" toml:"rule_weight" yaml:"rule_weight"`
	ScorerWeight        float64 `mapstructure:"scorer_weight" json:"scorer_weight" toml:"scorer_weight" yaml:"scorer_weight"`
}

// ScorerConfig selects and configures the plausibility scorer
type ScorerConfig struct {
	Provider         string       `mapstructure:"provider" json:"provider" toml:"provider" yaml:"provider"` // static | openai | none
	StaticConfidence float64      `mapstructure:"static_confidence" json:"static_confidence" toml:"static_confidence" yaml:"static_confidence"`
	OpenAI           OpenAIConfig `mapstructure:"openai" json:"openai" toml:"openai" yaml:"openai"`
}

// OpenAIConfig configures the OpenAI-compatible scorer
type OpenAIConfig struct {
	APIKey            string `mapstructure:"api_key" json:"-" toml:"-" yaml:"-"`
	Model             string `mapstructure:"model" json:"model" toml:"model" yaml:"model"`
	BaseURL           string `mapstructure:"base_url" json:"base_url" toml:"base_url" yaml:"base_url"` // Empty = api.openai.com
	MaxRetries        int    `mapstructure:"max_retries" json:"max_retries" toml:"max_retries" yaml:"max_retries"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute" json:"requests_per_minute" toml:"requests_per_minute" yaml:"requests_per_minute"`
}

// ProducersConfig configures the built-in producers
type ProducersConfig struct {
	CatalogEnabled bool             `mapstructure:"catalog_enabled" json:"catalog_enabled" toml:"catalog_enabled" yaml:"catalog_enabled"`
	FileFeedDir    string           `mapstructure:"file_feed_dir" json:"file_feed_dir" toml:"file_feed_dir" yaml:"file_feed_dir"` // Empty = no file feed
	HTTPFeeds      []HTTPFeedConfig `mapstructure:"http_feeds" json:"http_feeds" toml:"http_feeds" yaml:"http_feeds"`
	AllowPrivateIP bool             `mapstructure:"allow_private_ip" json:"allow_private_ip" toml:"allow_private_ip" yaml:"allow_private_ip"` // Permit feeds on private networks
}

// HTTPFeedConfig configures one polled JSON feed
type HTTPFeedConfig struct {
	Name            string `mapstructure:"name" json:"name" toml:"name" yaml:"name"`
	URL             string `mapstructure:"url" json:"url" toml:"url" yaml:"url"`
	IntervalSeconds int    `mapstructure:"interval_seconds" json:"interval_seconds" toml:"interval_seconds" yaml:"interval_seconds"`
	RatePerMinute   int    `mapstructure:"rate_per_minute" json:"rate_per_minute" toml:"rate_per_minute" yaml:"rate_per_minute"`
}

// NatsConfig configures the optional JetStream bridge
type NatsConfig struct {
	URL           string `mapstructure:"url" json:"url" toml:"url" yaml:"url"` // Empty = bridge disabled
	SubjectPrefix string `mapstructure:"subject_prefix" json:"subject_prefix" toml:"subject_prefix" yaml:"subject_prefix"`
	Stream        string `mapstructure:"stream" json:"stream" toml:"stream" yaml:"stream"`
}

// Server port constants
const (
	DefaultServerPort = 8787
)

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)
