package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the cockpit daemon
type Config struct {
	User          UserConfig          `mapstructure:"user"`
	Integrations  IntegrationsConfig  `mapstructure:"integrations"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Poller        PollerConfig        `mapstructure:"poller"`
	Events        EventsConfig        `mapstructure:"events"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	HTTP          HTTPConfig          `mapstructure:"http"`
}

// UserConfig identifies the operator on the external services
type UserConfig struct {
	ReviewerID string `mapstructure:"reviewer_id"`
}

// IntegrationsConfig holds per-provider connection settings
type IntegrationsConfig struct {
	Git        GitConfig        `mapstructure:"git"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Tickets    TicketsConfig    `mapstructure:"tickets"`
}

// GitConfig holds code hosting provider settings
type GitConfig struct {
	Provider     string          `mapstructure:"provider"`
	BaseURL      string          `mapstructure:"base_url"`
	TokenEnv     string          `mapstructure:"token_env"`
	Repositories []string        `mapstructure:"repositories"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`
}

// MonitoringConfig holds monitoring provider settings
type MonitoringConfig struct {
	Provider string   `mapstructure:"provider"`
	BaseURL  string   `mapstructure:"base_url"`
	TokenEnv string   `mapstructure:"token_env"`
	Services []string `mapstructure:"services"`
}

// TicketsConfig holds work tracker settings
type TicketsConfig struct {
	Provider string `mapstructure:"provider"`
	BaseURL  string `mapstructure:"base_url"`
	Username string `mapstructure:"username"`
	TokenEnv string `mapstructure:"token_env"`
	Project  string `mapstructure:"project"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

// CacheConfig holds two-tier cache configuration
type CacheConfig struct {
	MemoryMaxSize int           `mapstructure:"memory_max_size"`
	Retention     time.Duration `mapstructure:"retention"`
	Redis         RedisConfig   `mapstructure:"redis"`
	TTL           TTLConfig     `mapstructure:"ttl"`
}

// RedisConfig holds the durable tier connection configuration. An empty
// address disables the durable tier; the cache runs memory-only.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TTLConfig holds per-category cache lifetimes
type TTLConfig struct {
	PullRequests time.Duration `mapstructure:"pull_requests"`
	Incidents    time.Duration `mapstructure:"incidents"`
	Tickets      time.Duration `mapstructure:"tickets"`
	Analysis     time.Duration `mapstructure:"analysis"`
}

// PollerConfig holds background refresh configuration
type PollerConfig struct {
	PrInterval       time.Duration `mapstructure:"pr_interval"`
	IncidentInterval time.Duration `mapstructure:"incident_interval"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"`
	ShutdownGrace    time.Duration `mapstructure:"shutdown_grace"`
	StaleAfter       time.Duration `mapstructure:"stale_after"`
}

// EventsConfig holds event bus configuration
type EventsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// GitToken resolves the code hosting API token from the environment
func (c *GitConfig) GitToken() string {
	return os.Getenv(c.TokenEnv)
}

// MonitoringToken resolves the monitoring API token from the environment
func (c *MonitoringConfig) MonitoringToken() string {
	return os.Getenv(c.TokenEnv)
}

// TicketsToken resolves the work tracker API token from the environment
func (c *TicketsConfig) TicketsToken() string {
	return os.Getenv(c.TokenEnv)
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not fatal; defaults plus env vars can
		// be a complete configuration.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Integration defaults
	v.SetDefault("integrations.git.provider", "github")
	v.SetDefault("integrations.git.base_url", "https://api.github.com")
	v.SetDefault("integrations.git.token_env", "COCKPIT_GIT_TOKEN")
	v.SetDefault("integrations.git.rate_limit.requests_per_minute", 300)
	v.SetDefault("integrations.git.rate_limit.burst", 10)
	v.SetDefault("integrations.monitoring.provider", "grafana")
	v.SetDefault("integrations.monitoring.token_env", "COCKPIT_MONITORING_TOKEN")
	v.SetDefault("integrations.tickets.provider", "jira")
	v.SetDefault("integrations.tickets.token_env", "COCKPIT_TICKETS_TOKEN")

	// Cache defaults
	v.SetDefault("cache.memory_max_size", 100)
	v.SetDefault("cache.retention", "72h")
	v.SetDefault("cache.redis.address", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.ttl.pull_requests", "2m")
	v.SetDefault("cache.ttl.incidents", "30s")
	v.SetDefault("cache.ttl.tickets", "5m")
	v.SetDefault("cache.ttl.analysis", "1h")

	// Poller defaults
	v.SetDefault("poller.pr_interval", "2m")
	v.SetDefault("poller.incident_interval", "30s")
	v.SetDefault("poller.fetch_timeout", "15s")
	v.SetDefault("poller.shutdown_grace", "5s")
	v.SetDefault("poller.stale_after", "48h")

	// Events defaults
	v.SetDefault("events.buffer_size", 64)

	// Observability defaults
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")

	// HTTP defaults
	v.SetDefault("http.port", 8687)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Integrations.Git.Repositories) == 0 {
		return fmt.Errorf("at least one repository is required")
	}

	if c.Integrations.Monitoring.BaseURL == "" {
		return fmt.Errorf("monitoring base URL is required")
	}

	if c.Integrations.Tickets.BaseURL == "" {
		return fmt.Errorf("tickets base URL is required")
	}

	if c.Cache.MemoryMaxSize <= 0 {
		return fmt.Errorf("cache memory max size must be > 0")
	}

	if c.Poller.PrInterval <= 0 || c.Poller.IncidentInterval <= 0 {
		return fmt.Errorf("poller intervals must be > 0")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Observability.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Observability.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Observability.Logging.Format)
	}

	return nil
}
