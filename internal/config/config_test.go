package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.Logging.Development)
	assert.False(t, cfg.Crawler.IgnoreRobots)
	assert.Equal(t, 4, cfg.Crawler.SourceConcurrency)
	assert.Equal(t, 8, cfg.Crawler.DetailConcurrency)
	assert.Equal(t, BackendLocal, cfg.Sink.Backend)
	assert.Equal(t, "exports/{name}/{time}.csv", cfg.Sink.PathTemplate)
	assert.Equal(t, "bookings", cfg.Sink.FeedName)
	assert.Empty(t, cfg.Sources)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
	assert.Equal(t, 3, cfg.MaxAttempts())
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
logging:
  development: false
crawler:
  user_agent: roster-agent
  ignore_robots: true
  source_concurrency: 2
  detail_concurrency: 16
  requests_per_second: 0.5
  host_limits:
    - host: CCSheriff.net
      rps: 1.5
http:
  timeout_seconds: 45
  max_retries: 4
sources: [Caddo, Creek]
sites:
  Caddo:
    page_size: 50
  Tulsa:
    site: https://roster.tulsa.example
    key: inmate
sink:
  backend: gcs
  gcs_bucket: roster-exports
  postgres:
    dsn: postgres://localhost/roster
    min_conns: 1
    max_conn_lifetime_seconds: 900
pubsub:
  project_id: roster-project
  topic_name: roster-runs
metrics:
  addr: ":9090"
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, "roster-agent", cfg.Crawler.UserAgent)
	assert.True(t, cfg.Crawler.IgnoreRobots)
	assert.Equal(t, 16, cfg.Crawler.DetailConcurrency)
	assert.InDelta(t, 1.5, cfg.HostRPS()["ccsheriff.net"], 0.0001)
	assert.Equal(t, 45*time.Second, cfg.RequestTimeout())
	assert.Equal(t, 5, cfg.MaxAttempts())
	assert.Equal(t, []string{"Caddo", "Creek"}, cfg.Sources)
	assert.Equal(t, "roster-exports", cfg.Sink.GCSBucket)
	assert.Equal(t, "bookings", cfg.Sink.Postgres.Table)
	assert.Equal(t, int32(1), cfg.Sink.Postgres.MinConns)
	assert.Equal(t, 15*time.Minute, cfg.Sink.Postgres.MaxConnLifetime())
	assert.Equal(t, "roster-runs", cfg.PubSub.TopicName)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	caddo, err := reg.Lookup("Caddo")
	require.NoError(t, err)
	assert.Equal(t, 50, caddo.PageSize)
	tulsa, err := reg.Lookup("tulsa")
	require.NoError(t, err)
	assert.Equal(t, "inmate", tulsa.RecordKey)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CRAWLER_SINK_BACKEND", "memory")
	t.Setenv("CRAWLER_HTTP_MAX_RETRIES", "0")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Sink.Backend)
	assert.Equal(t, 1, cfg.MaxAttempts())
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Crawler: CrawlerConfig{SourceConcurrency: 1, DetailConcurrency: 1},
		HTTP:    HTTPConfig{TimeoutSeconds: 10},
		Sink:    SinkConfig{Backend: BackendMemory},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "source concurrency", mutate: func(c *Config) { c.Crawler.SourceConcurrency = 0 }, want: "crawler.source_concurrency"},
		{name: "detail concurrency", mutate: func(c *Config) { c.Crawler.DetailConcurrency = 0 }, want: "crawler.detail_concurrency"},
		{name: "negative rps", mutate: func(c *Config) { c.Crawler.RequestsPerSecond = -1 }, want: "crawler.requests_per_second"},
		{name: "host limit host", mutate: func(c *Config) { c.Crawler.HostLimits = []HostLimit{{RPS: 1}} }, want: "crawler.host_limits[0].host"},
		{name: "host limit rps", mutate: func(c *Config) { c.Crawler.HostLimits = []HostLimit{{Host: "a.example", RPS: -2}} }, want: "crawler.host_limits[0].rps"},
		{name: "timeout", mutate: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "http.timeout_seconds"},
		{name: "retries", mutate: func(c *Config) { c.HTTP.MaxRetries = -1 }, want: "http.max_retries"},
		{name: "gcs bucket", mutate: func(c *Config) { c.Sink.Backend = BackendGCS }, want: "sink.gcs_bucket"},
		{name: "local dir", mutate: func(c *Config) { c.Sink.Backend = BackendLocal }, want: "sink.local_dir"},
		{name: "unknown backend", mutate: func(c *Config) { c.Sink.Backend = "s3" }, want: "sink.backend"},
		{name: "postgres min conns", mutate: func(c *Config) { c.Sink.Postgres.MinConns = -1 }, want: "sink.postgres.min_conns"},
		{name: "postgres lifetime", mutate: func(c *Config) { c.Sink.Postgres.MaxConnLifetimeSeconds = -1 }, want: "max_conn_lifetime_seconds"},
		{name: "pubsub project", mutate: func(c *Config) { c.PubSub.TopicName = "runs" }, want: "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
