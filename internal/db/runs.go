package db

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratalloc/pkg/walkforward"
)

// RunStatus represents the lifecycle state of an optimization run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// Run is one walk-forward optimization run
type Run struct {
	ID            uuid.UUID  `json:"id"`
	Algorithm     string     `json:"algorithm"`
	Metric        string     `json:"metric"`
	InSampleDays  int        `json:"in_sample_days"`
	OutSampleDays int        `json:"out_sample_days"`
	ContractsMin  int        `json:"contracts_min"`
	ContractsMax  int        `json:"contracts_max"`
	Realtime      bool       `json:"realtime"`
	Status        RunStatus  `json:"status"`
	Windows       int        `json:"windows"`
	Error         *string    `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// RunRepository handles run bookkeeping
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create records a run as started
func (r *RunRepository) Create(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO optimization_runs (
			id, algorithm, metric, in_sample_days, out_sample_days,
			contracts_min, contracts_max, realtime, status, started_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.Status = RunStatusRunning

	_, err := r.db.pool.Exec(ctx, query,
		run.ID,
		run.Algorithm,
		run.Metric,
		run.InSampleDays,
		run.OutSampleDays,
		run.ContractsMin,
		run.ContractsMax,
		run.Realtime,
		run.Status,
		run.StartedAt,
	)
	if err != nil {
		log.Error().
			Err(err).
			Str("run_id", run.ID.String()).
			Msg("Failed to create optimization run")
		return fmt.Errorf("failed to create optimization run: %w", err)
	}

	log.Debug().
		Str("run_id", run.ID.String()).
		Str("algorithm", run.Algorithm).
		Str("metric", run.Metric).
		Msg("Optimization run created")

	return nil
}

// Complete marks a run as finished and stores its window results
func (r *RunRepository) Complete(ctx context.Context, runID uuid.UUID, windows []walkforward.WindowResult) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, w := range windows {
		_, err := tx.Exec(ctx, `
			INSERT INTO window_results (
				run_id, window_start, window_end, effective_date,
				fitness, out_of_sample_fitness, clusters, cached, seed
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			runID,
			w.Window.Start,
			w.Window.End,
			w.Effective,
			nullableFloat(w.Fitness),
			nullableFloat(w.OutOfSampleFitness),
			w.Clusters,
			w.Cached,
			w.Seed,
		)
		if err != nil {
			return fmt.Errorf("failed to save window %s: %w", w.Window, err)
		}
	}

	tag, err := tx.Exec(ctx, `
		UPDATE optimization_runs
		SET status = $2, windows = $3, finished_at = NOW()
		WHERE id = $1
	`, runID, RunStatusCompleted, len(windows))
	if err != nil {
		return fmt.Errorf("failed to complete optimization run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("optimization run %s not found", runID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit optimization run: %w", err)
	}

	log.Info().
		Str("run_id", runID.String()).
		Int("windows", len(windows)).
		Msg("Optimization run completed")

	return nil
}

// Fail marks a run as failed
func (r *RunRepository) Fail(ctx context.Context, runID uuid.UUID, runErr error) error {
	msg := runErr.Error()
	_, err := r.db.pool.Exec(ctx, `
		UPDATE optimization_runs
		SET status = $2, error = $3, finished_at = NOW()
		WHERE id = $1
	`, runID, RunStatusFailed, msg)
	if err != nil {
		return fmt.Errorf("failed to mark optimization run failed: %w", err)
	}
	return nil
}

// Get retrieves a run by ID
func (r *RunRepository) Get(ctx context.Context, runID uuid.UUID) (*Run, error) {
	query := `
		SELECT id, algorithm, metric, in_sample_days, out_sample_days,
		       contracts_min, contracts_max, realtime, status, windows,
		       error, started_at, finished_at
		FROM optimization_runs
		WHERE id = $1
	`

	run, err := scanRun(r.db.pool.QueryRow(ctx, query, runID))
	if err != nil {
		return nil, fmt.Errorf("failed to get optimization run: %w", err)
	}
	return run, nil
}

// ListRecent returns the most recent runs, newest first
func (r *RunRepository) ListRecent(ctx context.Context, limit int) ([]*Run, error) {
	query := `
		SELECT id, algorithm, metric, in_sample_days, out_sample_days,
		       contracts_min, contracts_max, realtime, status, windows,
		       error, started_at, finished_at
		FROM optimization_runs
		ORDER BY started_at DESC
		LIMIT $1
	`

	rows, err := r.db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list optimization runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan optimization run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating optimization runs: %w", err)
	}
	return runs, nil
}

// StatusCounts returns the number of stored runs per status
func (r *RunRepository) StatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT status, COUNT(*)
		FROM optimization_runs
		GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count optimization runs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan run count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run counts: %w", err)
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	err := row.Scan(
		&run.ID,
		&run.Algorithm,
		&run.Metric,
		&run.InSampleDays,
		&run.OutSampleDays,
		&run.ContractsMin,
		&run.ContractsMax,
		&run.Realtime,
		&run.Status,
		&run.Windows,
		&run.Error,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// nullableFloat maps NaN and infinities to SQL NULL
func nullableFloat(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
