package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(3 * time.Minute)
	failure := "fetch page 0: status 503"

	mock.ExpectExec("INSERT INTO harvest_runs").
		WithArgs("run-1", started, RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO harvest_sources").
		WithArgs("run-1", "Caddo", int64(3), int64(250), int64(248), int64(2), int64(0), int64(1), &failure, finished).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE harvest_runs").
		WithArgs(finished, RunFailed, &failure, "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ctx := context.Background()
	require.NoError(t, store.StartRun(ctx, "run-1", started))
	require.NoError(t, store.RecordSource(ctx, "run-1", SourceStats{
		Source:      "Caddo",
		Pages:       3,
		Details:     250,
		Records:     248,
		Rejected:    2,
		FetchErrors: 1,
		Error:       &failure,
		FinishedAt:  finished,
	}))
	require.NoError(t, store.FinishRun(ctx, "run-1", finished, RunFailed, &failure))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreFinishUnknownRun(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE harvest_runs").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err = store.FinishRun(context.Background(), "missing", time.Now(), RunSucceeded, nil)
	require.ErrorContains(t, err, "missing")
}

func TestRunStoreEnsureTables(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS harvest_runs").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS harvest_sources").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureTables(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
