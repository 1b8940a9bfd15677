// Package dispatcher fans a harvest out across sources.
package dispatcher

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sheriff-roster-crawler/internal/metrics"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/worker"
)

// Source statuses reported to metrics.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Runner harvests one source.
type Runner interface {
	Run(ctx context.Context, source string) (worker.Stats, error)
}

// Dispatcher runs a Runner for every selected source concurrently.
type Dispatcher struct {
	runner      Runner
	concurrency int
	logger      *zap.Logger
}

// New creates a Dispatcher. concurrency bounds how many sources are harvested
// at once; zero or less means all of them.
func New(runner Runner, concurrency int, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		runner:      runner,
		concurrency: concurrency,
		logger:      logger.Named("dispatcher"),
	}
}

// Run harvests sources and blocks until every one has finished. A failing
// source is recorded in its Stats and never stops the others. Results are
// ordered by source name.
func (d *Dispatcher) Run(ctx context.Context, sources []string) []worker.Stats {
	var (
		mu      sync.Mutex
		results = make([]worker.Stats, 0, len(sources))
		g       errgroup.Group
	)
	if d.concurrency > 0 {
		g.SetLimit(d.concurrency)
	}
	for _, source := range sources {
		g.Go(func() error {
			metrics.IncActiveSources()
			defer metrics.DecActiveSources()

			stats, err := d.runner.Run(ctx, source)
			status := StatusSucceeded
			if err != nil {
				status = StatusFailed
				if stats.Error == "" {
					stats.Error = err.Error()
				}
				if stats.Source == "" {
					stats.Source = source
				}
				d.logger.Error("source failed", zap.String("source", source), zap.Error(err))
			}
			metrics.ObserveSource(status)

			mu.Lock()
			results = append(results, stats)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Source < results[j].Source })
	return results
}
