// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/sheriff-roster-crawler/internal/sites"
)

// Blob backends for the CSV feed.
const (
	BackendGCS    = "gcs"
	BackendLocal  = "local"
	BackendMemory = "memory"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Logging LoggingConfig          `mapstructure:"logging"`
	Crawler CrawlerConfig          `mapstructure:"crawler"`
	HTTP    HTTPConfig             `mapstructure:"http"`
	Sources []string               `mapstructure:"sources"`
	Sites   map[string]sites.Entry `mapstructure:"sites"`
	Sink    SinkConfig             `mapstructure:"sink"`
	PubSub  PubSubConfig           `mapstructure:"pubsub"`
	Metrics MetricsConfig          `mapstructure:"metrics"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlerConfig governs dispatch and politeness.
type CrawlerConfig struct {
	UserAgent         string      `mapstructure:"user_agent"`
	IgnoreRobots      bool        `mapstructure:"ignore_robots"`
	SourceConcurrency int         `mapstructure:"source_concurrency"`
	DetailConcurrency int         `mapstructure:"detail_concurrency"`
	RequestsPerSecond float64     `mapstructure:"requests_per_second"`
	Burst             int         `mapstructure:"burst"`
	HostLimits        []HostLimit `mapstructure:"host_limits"`
}

// HostLimit overrides the request rate for one host. It is a list entry
// rather than a map key because Viper splits keys on dots.
type HostLimit struct {
	Host string  `mapstructure:"host"`
	RPS  float64 `mapstructure:"rps"`
}

// HTTPConfig configures request timeouts and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// SinkConfig selects where harvested bookings go.
type SinkConfig struct {
	Backend      string         `mapstructure:"backend"`
	GCSBucket    string         `mapstructure:"gcs_bucket"`
	LocalDir     string         `mapstructure:"local_dir"`
	PathTemplate string         `mapstructure:"path_template"`
	FeedName     string         `mapstructure:"feed_name"`
	Postgres     PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig enables the optional per-booking table sink when DSN is set.
type PostgresConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
	Migrate                bool   `mapstructure:"migrate"`
}

// MaxConnLifetime is the pool connection lifetime; zero keeps the driver default.
func (p PostgresConfig) MaxConnLifetime() time.Duration {
	return time.Duration(p.MaxConnLifetimeSeconds) * time.Second
}

// PubSubConfig holds the run notification target. An empty topic disables it.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig controls the ops HTTP server. An empty address disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("crawler.user_agent", "sheriff-roster-crawler/0.1")
	v.SetDefault("crawler.ignore_robots", false)
	v.SetDefault("crawler.source_concurrency", 4)
	v.SetDefault("crawler.detail_concurrency", 8)
	v.SetDefault("crawler.requests_per_second", 2.0)
	v.SetDefault("crawler.burst", 1)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("sources", []string{})
	v.SetDefault("sink.backend", BackendLocal)
	v.SetDefault("sink.local_dir", "data")
	v.SetDefault("sink.path_template", "exports/{name}/{time}.csv")
	v.SetDefault("sink.feed_name", "bookings")
	v.SetDefault("sink.postgres.table", "bookings")
	v.SetDefault("sink.postgres.max_conns", 4)
	v.SetDefault("sink.postgres.min_conns", 0)
	v.SetDefault("sink.postgres.max_conn_lifetime_seconds", 0)
	v.SetDefault("metrics.addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.SourceConcurrency <= 0 {
		return fmt.Errorf("crawler.source_concurrency must be > 0")
	}
	if c.Crawler.DetailConcurrency <= 0 {
		return fmt.Errorf("crawler.detail_concurrency must be > 0")
	}
	if c.Crawler.RequestsPerSecond < 0 {
		return fmt.Errorf("crawler.requests_per_second must be >= 0")
	}
	for i, hl := range c.Crawler.HostLimits {
		if hl.Host == "" {
			return fmt.Errorf("crawler.host_limits[%d].host is required", i)
		}
		if hl.RPS < 0 {
			return fmt.Errorf("crawler.host_limits[%d].rps must be >= 0", i)
		}
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	switch c.Sink.Backend {
	case BackendGCS:
		if c.Sink.GCSBucket == "" {
			return fmt.Errorf("sink.gcs_bucket must be set when sink.backend is gcs")
		}
	case BackendLocal:
		if c.Sink.LocalDir == "" {
			return fmt.Errorf("sink.local_dir must be set when sink.backend is local")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("sink.backend must be one of gcs, local, memory; got %q", c.Sink.Backend)
	}
	if c.Sink.Postgres.MinConns < 0 || c.Sink.Postgres.MaxConnLifetimeSeconds < 0 {
		return fmt.Errorf("sink.postgres.min_conns and max_conn_lifetime_seconds must be >= 0")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// RequestTimeout is the per-request fetch timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// MaxAttempts is the total number of tries per request, first try included.
func (c Config) MaxAttempts() int {
	return c.HTTP.MaxRetries + 1
}

// HostRPS flattens HostLimits into a lower-cased host map.
func (c Config) HostRPS() map[string]float64 {
	out := make(map[string]float64, len(c.Crawler.HostLimits))
	for _, hl := range c.Crawler.HostLimits {
		out[strings.ToLower(hl.Host)] = hl.RPS
	}
	return out
}

// Registry builds the source registry: built-in sources with the configured
// site entries layered on top.
func (c Config) Registry() (*sites.Registry, error) {
	reg, err := sites.NewRegistry(sites.Merge(sites.Builtin(), c.Sites))
	if err != nil {
		return nil, fmt.Errorf("build site registry: %w", err)
	}
	return reg, nil
}
