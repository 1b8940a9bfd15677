package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sheriff-roster-crawler/internal/api"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/dispatcher"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/storage/postgres"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/worker"
)

// tracker records per-source completion for the ops server and, when
// configured, the run tables.
type tracker struct {
	mu      sync.RWMutex
	current *api.Progress
	runs    runRecorder
	logger  *zap.Logger
}

type runRecorder interface {
	StartRun(ctx context.Context, runID string, startedAt time.Time) error
	RecordSource(ctx context.Context, runID string, stats postgres.SourceStats) error
	FinishRun(ctx context.Context, runID string, finishedAt time.Time, status postgres.RunStatus, errMsg *string) error
}

func (t *tracker) Progress() (api.Progress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return api.Progress{}, false
	}
	p := *t.current
	p.Sources = append([]string(nil), p.Sources...)
	p.Completed = append([]worker.Stats(nil), p.Completed...)
	return p, true
}

func (t *tracker) start(ctx context.Context, runID string, started time.Time, sources []string) {
	t.mu.Lock()
	t.current = &api.Progress{RunID: runID, Started: started, Sources: sources}
	t.mu.Unlock()
	if t.runs != nil {
		if err := t.runs.StartRun(ctx, runID, started); err != nil {
			t.logger.Warn("record run start failed", zap.Error(err))
		}
	}
}

func (t *tracker) finish(ctx context.Context, at time.Time, status postgres.RunStatus, errMsg *string) {
	t.mu.Lock()
	t.current.Finished = &at
	runID := t.current.RunID
	t.mu.Unlock()
	if t.runs != nil {
		if err := t.runs.FinishRun(ctx, runID, at, status, errMsg); err != nil {
			t.logger.Warn("record run finish failed", zap.Error(err))
		}
	}
}

// wrap decorates runner so each finished source is recorded.
func (t *tracker) wrap(runner dispatcher.Runner) dispatcher.Runner {
	return trackedRunner{next: runner, t: t}
}

type trackedRunner struct {
	next dispatcher.Runner
	t    *tracker
}

func (r trackedRunner) Run(ctx context.Context, source string) (worker.Stats, error) {
	stats, err := r.next.Run(ctx, source)
	if stats.Source == "" {
		stats.Source = source
	}
	if err != nil && stats.Error == "" {
		stats.Error = err.Error()
	}

	r.t.mu.Lock()
	r.t.current.Completed = append(r.t.current.Completed, stats)
	runID := r.t.current.RunID
	r.t.mu.Unlock()

	if r.t.runs != nil {
		var errMsg *string
		if stats.Error != "" {
			errMsg = &stats.Error
		}
		rec := postgres.SourceStats{
			Source:           stats.Source,
			Pages:            int64(stats.Pages),
			Details:          int64(stats.Details),
			Records:          int64(stats.Records),
			Rejected:         int64(stats.Rejected),
			InvalidResponses: int64(stats.InvalidResponses),
			FetchErrors:      int64(stats.FetchErrors),
			Error:            errMsg,
			FinishedAt:       stats.Finished,
		}
		if rerr := r.t.runs.RecordSource(context.WithoutCancel(ctx), runID, rec); rerr != nil {
			r.t.logger.Warn("record source stats failed", zap.String("source", stats.Source), zap.Error(rerr))
		}
	}
	return stats, err
}
