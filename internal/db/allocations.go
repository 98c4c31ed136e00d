package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratalloc/pkg/allocation"
)

// AllocationRepository persists allocation schedules
type AllocationRepository struct {
	db *DB
}

// NewAllocationRepository creates a new allocation repository
func NewAllocationRepository(db *DB) *AllocationRepository {
	return &AllocationRepository{db: db}
}

// AllocationRow is one stored allocation entry
type AllocationRow struct {
	Strategy      string    `json:"strategy"`
	EffectiveDate time.Time `json:"effective_date"`
	Quantity      float64   `json:"quantity"`
	RunID         uuid.UUID `json:"run_id"`
}

const upsertAllocationQuery = `
	INSERT INTO allocations (strategy, effective_date, quantity, run_id, updated_at)
	VALUES ($1, $2, $3, $4, NOW())
	ON CONFLICT (strategy, effective_date) DO UPDATE SET
		quantity = EXCLUDED.quantity,
		run_id = EXCLUDED.run_id,
		updated_at = EXCLUDED.updated_at
`

// SaveTable upserts every entry of table in one transaction. Either the
// whole schedule is stored or none of it is.
func (r *AllocationRepository) SaveTable(ctx context.Context, runID uuid.UUID, table *allocation.Table) error {
	if r.db == nil || r.db.pool == nil {
		return fmt.Errorf("database connection not available")
	}

	entries := table.Snapshot()

	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // Rollback on error - commit overrides if successful

	for _, e := range entries {
		if _, err := tx.Exec(ctx, upsertAllocationQuery, e.Strategy, e.Date, e.Quantity, runID); err != nil {
			return fmt.Errorf("failed to save allocation %s@%s: %w", e.Strategy, e.Date.Format("2006-01-02"), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit allocations: %w", err)
	}

	log.Info().
		Str("run_id", runID.String()).
		Int("entries", len(entries)).
		Int("strategies", table.Len()).
		Msg("Allocation table saved")

	return nil
}

// LoadTable rebuilds the stored schedule
func (r *AllocationRepository) LoadTable(ctx context.Context) (*allocation.Table, error) {
	rows, err := r.List(ctx, "")
	if err != nil {
		return nil, err
	}

	table := allocation.NewTable()
	for _, row := range rows {
		table.Add(row.EffectiveDate, row.Strategy, row.Quantity)
	}
	table.SortByDate()
	return table, nil
}

// List returns stored entries ordered by strategy and date, optionally
// restricted to one strategy.
func (r *AllocationRepository) List(ctx context.Context, strategy string) ([]AllocationRow, error) {
	if r.db == nil || r.db.pool == nil {
		return nil, fmt.Errorf("database connection not available")
	}

	query := `
		SELECT strategy, effective_date, quantity, run_id
		FROM allocations
		WHERE ($1 = '' OR strategy = $1)
		ORDER BY strategy, effective_date
	`

	rows, err := r.db.pool.Query(ctx, query, strategy)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var out []AllocationRow
	for rows.Next() {
		var row AllocationRow
		if err := rows.Scan(&row.Strategy, &row.EffectiveDate, &row.Quantity, &row.RunID); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating allocations: %w", err)
	}

	return out, nil
}
