package db

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/stratalloc/pkg/walkforward"
)

var runColumns = []string{
	"id", "algorithm", "metric", "in_sample_days", "out_sample_days",
	"contracts_min", "contracts_max", "realtime", "status", "windows",
	"error", "started_at", "finished_at",
}

func TestRunCreate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRunRepository(NewWithPool(mock))
	run := &Run{
		Algorithm:     "gradient",
		Metric:        "sharpe",
		InSampleDays:  300,
		OutSampleDays: 11,
		ContractsMin:  1,
		ContractsMax:  10,
	}

	mock.ExpectExec("INSERT INTO optimization_runs").
		WithArgs(pgxmock.AnyArg(), "gradient", "sharpe", 300, 11, 1, 10, false, RunStatusRunning, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), run))
	assert.NotEqual(t, uuid.Nil, run.ID)
	assert.Equal(t, RunStatusRunning, run.Status)
	assert.False(t, run.StartedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunComplete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRunRepository(NewWithPool(mock))
	runID := uuid.New()
	w := walkforward.Window{Start: day(1), End: day(8)}
	windows := []walkforward.WindowResult{{
		Window:             w,
		Effective:          w.Effective(),
		Fitness:            1.25,
		OutOfSampleFitness: math.NaN(),
		Clusters:           3,
		Seed:               42,
	}}

	fitness := 1.25
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO window_results").
		WithArgs(runID, day(1), day(8), day(9), &fitness, (*float64)(nil), 3, false, int64(42)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE optimization_runs").
		WithArgs(runID, RunStatusCompleted, 1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Complete(context.Background(), runID, windows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunComplete_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runID := uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE optimization_runs").
		WithArgs(runID, RunStatusCompleted, 0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err = NewRunRepository(NewWithPool(mock)).Complete(context.Background(), runID, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunFail(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runID := uuid.New()
	mock.ExpectExec("UPDATE optimization_runs").
		WithArgs(runID, RunStatusFailed, "boom").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, NewRunRepository(NewWithPool(mock)).Fail(context.Background(), runID, errors.New("boom")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunGetAndList(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRunRepository(NewWithPool(mock))
	id := uuid.New()
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)

	mock.ExpectQuery("SELECT id, algorithm").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(runColumns).
			AddRow(id, "dynamic", "sortino", 300, 11, 1, 10, true, RunStatusCompleted, 27, (*string)(nil), started, &finished))

	run, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "dynamic", run.Algorithm)
	assert.Equal(t, 27, run.Windows)
	assert.True(t, run.Realtime)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, finished, *run.FinishedAt)

	mock.ExpectQuery("SELECT id, algorithm").
		WithArgs(5).
		WillReturnRows(pgxmock.NewRows(runColumns).
			AddRow(id, "dynamic", "sortino", 300, 11, 1, 10, true, RunStatusCompleted, 27, (*string)(nil), started, &finished).
			AddRow(uuid.New(), "random", "sharpe", 60, 14, 0, 5, false, RunStatusRunning, 0, (*string)(nil), started, (*time.Time)(nil)))

	runs, err := repo.ListRecent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Nil(t, runs[1].FinishedAt)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStatusCounts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRunRepository(NewWithPool(mock))

	mock.ExpectQuery("SELECT status, COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("COMPLETED", 4).
			AddRow("FAILED", 1))

	counts, err := repo.StatusCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"COMPLETED": 4, "FAILED": 1}, counts)

	mock.ExpectQuery("SELECT status, COUNT").WillReturnError(errors.New("boom"))
	_, err = repo.StatusCounts(context.Background())
	assert.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}
