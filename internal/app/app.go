// Package app builds the harvester's object graph from configuration and runs
// one harvest end to end.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/sheriff-roster-crawler/internal/api"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/clock/system"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/config"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/crawler"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/sheriff-roster-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/hash/sha256"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/id/uuid"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/metrics"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/sheriff-roster-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/sheriff-roster-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/sink"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/sites"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/storage/gcs"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/storage/local"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/storage/memory"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/storage/postgres"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/worker"
)

// LocalTopic is the topic name used when no Pub/Sub topic is configured and
// summaries go to the in-memory publisher.
const LocalTopic = "roster-runs"

const closeTimeout = time.Minute

// ErrAllSourcesFailed is returned when no selected source finished cleanly.
var ErrAllSourcesFailed = errors.New("every source failed")

// Publisher is a closable crawler.Publisher.
type Publisher interface {
	crawler.Publisher
	Close() error
}

// Summary is published once per run.
type Summary struct {
	RunID     string             `json:"run_id"`
	Started   time.Time          `json:"started_at"`
	Finished  time.Time          `json:"finished_at"`
	Status    string             `json:"status"`
	Records   int                `json:"records"`
	Rejected  int                `json:"rejected"`
	Failed    []string           `json:"failed_sources,omitempty"`
	Sources   []worker.Stats     `json:"sources"`
	Artifacts []crawler.Artifact `json:"artifacts"`
	Error     string             `json:"error,omitempty"`
}

// Attributes are attached to the published message.
func (s Summary) Attributes() map[string]string {
	return map[string]string{"run_id": s.RunID, "status": s.Status}
}

// App holds the long-lived services shared by every run.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	registry  *sites.Registry
	fetcher   crawler.Fetcher
	limiter   crawler.RateLimiter
	retry     crawler.RetryPolicy
	clock     crawler.Clock
	ids       crawler.IDGenerator
	hasher    crawler.Hasher
	blobs     crawler.BlobStore
	publisher Publisher
	topic     string
	pool      *pgxpool.Pool
	closers   []func() error
}

// Option overrides a dependency, mainly for tests.
type Option func(*App)

// WithFetcher replaces the colly fetcher.
func WithFetcher(f crawler.Fetcher) Option { return func(a *App) { a.fetcher = f } }

// WithBlobStore replaces the configured blob backend.
func WithBlobStore(b crawler.BlobStore) Option { return func(a *App) { a.blobs = b } }

// WithPublisher replaces the configured publisher.
func WithPublisher(p Publisher, topic string) Option {
	return func(a *App) {
		a.publisher = p
		a.topic = topic
	}
}

// WithClock replaces the wall clock.
func WithClock(c crawler.Clock) Option { return func(a *App) { a.clock = c } }

// WithIDGenerator replaces the run ID generator.
func WithIDGenerator(g crawler.IDGenerator) Option { return func(a *App) { a.ids = g } }

// New creates an App. It fails fast when a configured backend cannot be
// reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		limiter: ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Crawler.RequestsPerSecond,
			DefaultBurst: cfg.Crawler.Burst,
			Hosts:        cfg.HostRPS(),
		}),
		retry: crawler.NewExponentialRetryPolicy(crawler.RetryConfig{
			MaxAttempts: cfg.MaxAttempts(),
			BaseDelay:   time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
		}),
		clock:  system.New(),
		ids:    uuid.New(),
		hasher: sha256.New(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.fetcher == nil {
		a.fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.Crawler.UserAgent,
			RespectRobots: !cfg.Crawler.IgnoreRobots,
			Timeout:       cfg.RequestTimeout(),
		}, logger)
	}
	if a.blobs == nil {
		if err := a.openBlobStore(ctx); err != nil {
			return nil, a.abort(err)
		}
	}
	if a.publisher == nil {
		if err := a.openPublisher(ctx); err != nil {
			return nil, a.abort(err)
		}
	}
	if cfg.Sink.Postgres.DSN != "" {
		if err := a.openPostgres(ctx); err != nil {
			return nil, a.abort(err)
		}
	}
	logger.Info("application services initialized",
		zap.String("sink_backend", cfg.Sink.Backend),
		zap.Bool("postgres", a.pool != nil),
		zap.String("topic", a.topic),
		zap.Int("registered_sources", len(registry.Sources())),
	)
	return a, nil
}

func (a *App) openBlobStore(ctx context.Context) error {
	switch a.cfg.Sink.Backend {
	case config.BackendGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Sink.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs sink: %w", err)
		}
		a.blobs = store
		a.closers = append(a.closers, store.Close)
	case config.BackendLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Sink.LocalDir})
		if err != nil {
			return fmt.Errorf("init local sink: %w", err)
		}
		a.blobs = store
	case config.BackendMemory:
		a.blobs = memory.NewBlobStore()
	default:
		return fmt.Errorf("unknown sink backend %q", a.cfg.Sink.Backend)
	}
	return nil
}

func (a *App) openPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" {
		a.publisher = memorypublisher.New()
		a.topic = LocalTopic
		return nil
	}
	p, err := pubsubpublisher.Open(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("init pubsub: %w", err)
	}
	a.publisher = p
	a.topic = a.cfg.PubSub.TopicName
	return nil
}

func (a *App) openPostgres(ctx context.Context) error {
	pg := a.cfg.Sink.Postgres
	pool, err := postgres.Connect(ctx, postgres.Config{
		DSN:             pg.DSN,
		MaxConns:        pg.MaxConns,
		MinConns:        pg.MinConns,
		MaxConnLifetime: pg.MaxConnLifetime(),
	})
	if err != nil {
		return err
	}
	a.pool = pool
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	if !pg.Migrate {
		return nil
	}
	runs, err := postgres.NewRunStoreWithPool(pool)
	if err != nil {
		return err
	}
	if err := runs.EnsureTables(ctx); err != nil {
		return err
	}
	bookings, err := postgres.NewBookingStoreWithPool(pool, pg.Table, "")
	if err != nil {
		return err
	}
	return bookings.EnsureTable(ctx)
}

func (a *App) abort(err error) error {
	if cerr := a.Close(); cerr != nil {
		a.logger.Warn("cleanup after failed init", zap.Error(cerr))
	}
	return err
}

// Registry exposes the source registry.
func (a *App) Registry() *sites.Registry {
	return a.registry
}

// Run harvests the named sources, or the configured ones, or every registered
// source, in that order of precedence. Source failures are recorded in the
// summary; the returned error is non-nil only when the run produced no usable
// output or its artifacts could not be written or announced.
func (a *App) Run(ctx context.Context, requested []string) (Summary, error) {
	sources, err := a.selectSources(requested)
	if err != nil {
		return Summary{}, err
	}
	runID, err := a.ids.NewID()
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{RunID: runID, Started: a.clock.Now()}
	logger := a.logger.With(zap.String("run_id", runID))

	out, err := a.buildSink(runID)
	if err != nil {
		return summary, err
	}

	t := &tracker{logger: logger}
	if a.pool != nil {
		runs, err := postgres.NewRunStoreWithPool(a.pool)
		if err != nil {
			return summary, err
		}
		t.runs = runs
	}
	t.start(ctx, runID, summary.Started, sources)

	opsCtx, stopOps := context.WithCancel(ctx)
	opsDone := a.serveOps(opsCtx, t)

	controller := crawler.NewController(a.registry, logger)
	w := worker.New(controller, a.fetcher, a.limiter, a.retry, out, a.clock,
		worker.Config{DetailConcurrency: a.cfg.Crawler.DetailConcurrency}, logger)
	d := dispatcher.New(t.wrap(w), a.cfg.Crawler.SourceConcurrency, logger)

	logger.Info("run started", zap.Strings("sources", sources))
	summary.Sources = d.Run(ctx, sources)

	// Flush even when ctx was canceled so a partial run still lands.
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()

	var errs []error
	artifacts, cerr := out.Close(closeCtx)
	summary.Artifacts = artifacts
	if cerr != nil {
		errs = append(errs, fmt.Errorf("close sinks: %w", cerr))
	}
	for _, s := range summary.Sources {
		summary.Records += s.Records
		summary.Rejected += s.Rejected
		if s.Error != "" {
			summary.Failed = append(summary.Failed, s.Source)
		}
	}
	if len(sources) > 0 && len(summary.Failed) == len(sources) {
		errs = append(errs, ErrAllSourcesFailed)
	}
	summary.Finished = a.clock.Now()
	summary.Status = string(postgres.RunSucceeded)
	if len(errs) > 0 {
		summary.Status = string(postgres.RunFailed)
		summary.Error = errors.Join(errs...).Error()
	}

	if id, perr := a.publisher.Publish(closeCtx, a.topic, summary); perr != nil {
		errs = append(errs, fmt.Errorf("publish summary: %w", perr))
	} else {
		logger.Info("run summary published", zap.String("topic", a.topic), zap.String("message_id", id))
	}

	var errMsg *string
	if summary.Error != "" {
		errMsg = &summary.Error
	}
	t.finish(closeCtx, summary.Finished, postgres.RunStatus(summary.Status), errMsg)

	stopOps()
	if opsDone != nil {
		if err := <-opsDone; err != nil {
			logger.Warn("ops server stopped with error", zap.Error(err))
		}
	}

	logger.Info("run finished",
		zap.String("status", summary.Status),
		zap.Int("records", summary.Records),
		zap.Int("rejected", summary.Rejected),
		zap.Strings("failed_sources", summary.Failed),
		zap.Duration("elapsed", summary.Finished.Sub(summary.Started)),
	)
	return summary, errors.Join(errs...)
}

func (a *App) selectSources(requested []string) ([]string, error) {
	if len(requested) == 0 {
		requested = a.cfg.Sources
	}
	if len(requested) == 0 {
		return a.registry.Sources(), nil
	}
	seen := make(map[string]struct{}, len(requested))
	out := make([]string, 0, len(requested))
	for _, name := range requested {
		site, err := a.registry.Lookup(name)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[site.Name]; dup {
			continue
		}
		seen[site.Name] = struct{}{}
		out = append(out, site.Name)
	}
	return out, nil
}

func (a *App) buildSink(runID string) (crawler.Sink, error) {
	feed, err := sink.NewCSV(a.blobs, a.hasher, a.clock, sink.CSVConfig{
		PathTemplate: a.cfg.Sink.PathTemplate,
		Name:         a.cfg.Sink.FeedName,
		RunID:        runID,
	})
	if err != nil {
		return nil, fmt.Errorf("init csv sink: %w", err)
	}
	sinks := []crawler.Sink{feed}
	if a.pool != nil {
		rows, err := postgres.NewBookingStoreWithPool(a.pool, a.cfg.Sink.Postgres.Table, runID)
		if err != nil {
			return nil, fmt.Errorf("init postgres sink: %w", err)
		}
		sinks = append(sinks, rows)
	}
	a.logger.Debug("sinks ready", zap.String("feed_path", feed.Path()), zap.Int("sinks", len(sinks)))
	return sink.NewFanout(sinks...), nil
}

func (a *App) serveOps(ctx context.Context, t *tracker) <-chan error {
	if a.cfg.Metrics.Addr == "" {
		return nil
	}
	done := make(chan error, 1)
	srv := api.NewServer(t, a.registry, a.logger)
	go func() { done <- srv.Serve(ctx, a.cfg.Metrics.Addr) }()
	return done
}

// Close releases backend clients. It is safe to call more than once.
func (a *App) Close() error {
	var errs []error
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
		a.publisher = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
