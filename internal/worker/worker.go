// Package worker harvests a single source: it pages through the roster,
// fetches details for identifier-only rows, coerces every record and hands
// valid bookings to the sink.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sheriff-roster-crawler/internal/booking"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/crawler"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/metrics"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/normalize"
)

// Config controls Worker behavior.
type Config struct {
	// DetailConcurrency bounds in-flight detail fetches per source.
	DetailConcurrency int
}

// Stats summarizes one source harvest.
type Stats struct {
	Source           string    `json:"source"`
	Pages            int       `json:"pages"`
	Details          int       `json:"details"`
	Records          int       `json:"records"`
	Rejected         int       `json:"rejected"`
	InvalidResponses int       `json:"invalid_responses"`
	FetchErrors      int       `json:"fetch_errors"`
	SinkErrors       int       `json:"sink_errors"`
	Started          time.Time `json:"started_at"`
	Finished         time.Time `json:"finished_at"`
	Error            string    `json:"error,omitempty"`
}

type counters struct {
	pages, details, records, rejected, invalid, fetchErrors, sinkErrors atomic.Int64
}

// Worker executes the crawl loop for one source at a time. A Worker is safe
// to use from several goroutines; each Run keeps its own state.
type Worker struct {
	controller *crawler.Controller
	fetcher    crawler.Fetcher
	limiter    crawler.RateLimiter
	retry      crawler.RetryPolicy
	sink       crawler.Sink
	clock      crawler.Clock
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Worker. limiter and retry may be nil.
func New(
	controller *crawler.Controller,
	fetcher crawler.Fetcher,
	limiter crawler.RateLimiter,
	retry crawler.RetryPolicy,
	sink crawler.Sink,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DetailConcurrency <= 0 {
		cfg.DetailConcurrency = 8
	}
	return &Worker{
		controller: controller,
		fetcher:    fetcher,
		limiter:    limiter,
		retry:      retry,
		sink:       sink,
		clock:      clock,
		cfg:        cfg,
		logger:     logger.Named("worker"),
	}
}

// Run harvests source. Query pages are fetched strictly in order; detail
// fetches fan out and complete in any order. The returned error is non-nil
// when pagination stopped early, but records already written stay written.
func (w *Worker) Run(ctx context.Context, source string) (Stats, error) {
	stats := Stats{Source: source, Started: w.clock.Now()}
	var c counters
	finish := func(err error) (Stats, error) {
		stats.Pages = int(c.pages.Load())
		stats.Details = int(c.details.Load())
		stats.Records = int(c.records.Load())
		stats.Rejected = int(c.rejected.Load())
		stats.InvalidResponses = int(c.invalid.Load())
		stats.FetchErrors = int(c.fetchErrors.Load())
		stats.SinkErrors = int(c.sinkErrors.Load())
		stats.Finished = w.clock.Now()
		if err != nil {
			stats.Error = err.Error()
		}
		return stats, err
	}

	cursor, err := w.controller.Start(source)
	if err != nil {
		return finish(err)
	}
	req, err := w.controller.BuildQuery(source, cursor)
	if err != nil {
		return finish(err)
	}
	source = req.Source
	stats.Source = source
	logger := w.logger.With(zap.String("source", source))
	logger.Info("harvest started", zap.Int("page_size", cursor.PageSize))

	var details errgroup.Group
	details.SetLimit(w.cfg.DetailConcurrency)

	var runErr error
	for {
		resp, err := w.fetch(ctx, req)
		if err != nil {
			c.fetchErrors.Add(1)
			runErr = fmt.Errorf("query page at offset %d: %w", req.Cursor.Offset, err)
			break
		}
		emissions, next, err := w.controller.OnQueryResponse(resp, source, req.Cursor)
		if err != nil {
			w.countInvalid(&c, source, crawler.KindQuery, err)
			runErr = fmt.Errorf("query page at offset %d: %w", req.Cursor.Offset, err)
			break
		}
		c.pages.Add(1)
		metrics.ObservePage(source)
		logger.Debug("page consumed",
			zap.Int("offset", req.Cursor.Offset),
			zap.Int("total", next.Total),
			zap.Int("emissions", len(emissions)),
		)

		for _, e := range emissions {
			switch e.Kind {
			case crawler.EmitRecord:
				w.emit(ctx, &c, source, e.Record)
			case crawler.EmitDetail:
				detail := e.Request
				c.details.Add(1)
				details.Go(func() error {
					w.runDetail(ctx, &c, source, detail)
					return nil
				})
			case crawler.EmitQuery:
				req = e.Request
			}
		}
		if next.Done {
			break
		}
		if ctx.Err() != nil {
			runErr = fmt.Errorf("harvest interrupted: %w", ctx.Err())
			break
		}
	}
	_ = details.Wait()

	stats, runErr = finish(runErr)
	fields := []zap.Field{
		zap.Int("pages", stats.Pages),
		zap.Int("records", stats.Records),
		zap.Int("rejected", stats.Rejected),
		zap.Int("invalid_responses", stats.InvalidResponses),
		zap.Int("fetch_errors", stats.FetchErrors),
	}
	if runErr != nil {
		logger.Error("harvest stopped early", append(fields, zap.Error(runErr))...)
	} else {
		logger.Info("harvest finished", fields...)
	}
	return stats, runErr
}

func (w *Worker) runDetail(ctx context.Context, c *counters, source string, req crawler.FetchRequest) {
	resp, err := w.fetch(ctx, req)
	if err != nil {
		c.fetchErrors.Add(1)
		w.logger.Warn("detail fetch failed",
			zap.String("source", source),
			zap.String("id", req.Identifier),
			zap.Error(err),
		)
		return
	}
	rec, err := w.controller.OnDetailResponse(resp, source)
	if err != nil {
		w.countInvalid(c, source, crawler.KindDetail, err)
		return
	}
	w.emit(ctx, c, source, rec)
}

func (w *Worker) emit(ctx context.Context, c *counters, source string, raw booking.RawRecord) {
	b, err := booking.Coerce(raw, source)
	if err != nil {
		c.rejected.Add(1)
		metrics.ObserveRecord(source, metrics.OutcomeRejected)
		var invalid *booking.RecordValidationError
		if errors.As(err, &invalid) {
			w.logger.Warn("record dropped",
				zap.String("source", source),
				zap.Strings("fields", invalid.FieldNames()),
				zap.Error(err),
			)
			return
		}
		w.logger.Warn("record dropped", zap.String("source", source), zap.Error(err))
		return
	}
	if err := w.sink.Write(ctx, b); err != nil {
		c.sinkErrors.Add(1)
		w.logger.Error("sink write failed",
			zap.String("source", source),
			zap.String("booking_id", b.BookingID),
			zap.Error(err),
		)
		return
	}
	c.records.Add(1)
	metrics.ObserveRecord(source, metrics.OutcomeEmitted)
}

func (w *Worker) countInvalid(c *counters, source string, kind crawler.RequestKind, err error) {
	c.invalid.Add(1)
	metrics.ObserveInvalidResponse(source, string(kind))
	var invalid *normalize.InvalidResponseError
	if errors.As(err, &invalid) {
		w.logger.Error("invalid response",
			zap.String("source", source),
			zap.String("kind", string(kind)),
			zap.String("url", invalid.URL),
			zap.String("reason", invalid.Reason),
		)
		return
	}
	w.logger.Error("invalid response", zap.String("source", source), zap.Error(err))
}

// fetch runs one request through the rate limiter and retry policy.
func (w *Worker) fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	for attempt := 1; ; attempt++ {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx, req.URL); err != nil {
				return crawler.FetchResponse{}, fmt.Errorf("wait for %s: %w", req.URL, err)
			}
		}
		start := time.Now()
		resp, err := w.fetcher.Fetch(ctx, req)
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.ObserveFetch(req.Source, string(req.Kind), status, len(resp.Body), time.Since(start))
		if err == nil {
			return resp, nil
		}
		if w.retry == nil || !w.retry.ShouldRetry(err, attempt) {
			return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", req.URL, err)
		}
		delay := w.retry.Backoff(attempt - 1)
		w.logger.Debug("retrying fetch",
			zap.String("url", req.URL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", req.URL, err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
