// Package pipeline runs one complete optimization: input ingestion, the
// walk-forward search, output files and the optional integrations.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/stratalloc/internal/archive"
	"github.com/ajitpratap0/stratalloc/internal/config"
	"github.com/ajitpratap0/stratalloc/internal/db"
	"github.com/ajitpratap0/stratalloc/internal/metrics"
	"github.com/ajitpratap0/stratalloc/internal/notify"
	"github.com/ajitpratap0/stratalloc/internal/tradelog"
	"github.com/ajitpratap0/stratalloc/pkg/allocation"
	"github.com/ajitpratap0/stratalloc/pkg/report"
	"github.com/ajitpratap0/stratalloc/pkg/timeseries"
	"github.com/ajitpratap0/stratalloc/pkg/walkforward"
)

// RunStore records run bookkeeping
type RunStore interface {
	Create(ctx context.Context, run *db.Run) error
	Complete(ctx context.Context, runID uuid.UUID, windows []walkforward.WindowResult) error
	Fail(ctx context.Context, runID uuid.UUID, runErr error) error
}

// AllocationStore persists the allocation schedule
type AllocationStore interface {
	SaveTable(ctx context.Context, runID uuid.UUID, table *allocation.Table) error
}

// Notifier announces a new schedule
type Notifier interface {
	Publish(ctx context.Context, msg notify.AllocationUpdated) error
}

// Archiver stores run documents
type Archiver interface {
	Save(ctx context.Context, doc archive.RunDocument) error
}

// Publisher uploads output files
type Publisher interface {
	Publish(ctx context.Context, runID uuid.UUID, files ...string) ([]string, error)
}

// Option customizes a Runner
type Option func(*Runner)

// WithCache consults cache for finished windows
func WithCache(cache walkforward.ResultCache) Option {
	return func(r *Runner) { r.cache = cache }
}

// WithRunStore records runs in the database
func WithRunStore(store RunStore) Option {
	return func(r *Runner) { r.runs = store }
}

// WithAllocationStore saves the schedule to the database
func WithAllocationStore(store AllocationStore) Option {
	return func(r *Runner) { r.allocations = store }
}

// WithNotifier publishes realtime updates
func WithNotifier(n Notifier) Option {
	return func(r *Runner) { r.notifier = n }
}

// WithArchive keeps a document per run
func WithArchive(a Archiver) Option {
	return func(r *Runner) { r.archive = a }
}

// WithPublisher uploads the output files
func WithPublisher(p Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

// WithClock sets the reference date for trade-log ingestion
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// Runner executes optimization runs for one configuration. It is safe to
// call Run repeatedly, but not concurrently.
type Runner struct {
	cfg *config.Config

	cache       walkforward.ResultCache
	runs        RunStore
	allocations AllocationStore
	notifier    Notifier
	archive     Archiver
	publisher   Publisher
	now         func() time.Time
}

// NewRunner creates a runner for cfg
func NewRunner(cfg *config.Config, opts ...Option) *Runner {
	r := &Runner{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Outcome describes a finished run
type Outcome struct {
	RunID     uuid.UUID
	Algorithm string
	Metric    string
	Summary   *walkforward.Summary
	Table     *allocation.Table
	Profit    report.Summary
	Files     []string
}

// Run performs one optimization. Failures of the optional integrations
// after the allocation file is written are logged and do not fail the run.
func (r *Runner) Run(ctx context.Context) (*Outcome, error) {
	wfCfg, err := r.cfg.WalkForward()
	if err != nil {
		return nil, err
	}
	algorithm := wfCfg.Optimizer.Kind.String()
	metric := wfCfg.Optimizer.Metric.String()

	runID := uuid.New()
	started := time.Now()
	logger := config.NewRunLogger(runID.String(), algorithm, metric)

	previous, err := r.loadPrevious(logger)
	if err != nil {
		return nil, err
	}

	store, active, err := r.loadInput(previous, logger)
	if err != nil {
		return nil, err
	}

	if r.runs != nil {
		run := &db.Run{
			ID:            runID,
			Algorithm:     algorithm,
			Metric:        metric,
			InSampleDays:  r.cfg.Run.InSampleDays,
			OutSampleDays: r.cfg.Run.OutSampleDays,
			ContractsMin:  r.cfg.Run.ContractsMin,
			ContractsMax:  r.cfg.Run.ContractsMax,
			Realtime:      r.cfg.Run.Realtime,
			StartedAt:     started,
		}
		if err := r.runs.Create(ctx, run); err != nil {
			return nil, err
		}
	}

	opts := []walkforward.Option{walkforward.WithObserver(metrics.NewCollector(algorithm, metric))}
	if r.cache != nil {
		opts = append(opts, walkforward.WithCache(r.cache))
	}
	driver, err := walkforward.NewDriver(wfCfg, opts...)
	if err != nil {
		return nil, r.fail(ctx, runID, started, err, logger)
	}

	summary, err := driver.Run(ctx, store)
	if err != nil {
		return nil, r.fail(ctx, runID, started, err, logger)
	}

	table := summary.Table
	if r.cfg.Run.Realtime && previous != nil {
		table = allocation.MergeRealtime(previous, table, r.cfg.Run.MultiplicationFactor, active)
	}

	out := &Outcome{
		RunID:     runID,
		Algorithm: algorithm,
		Metric:    metric,
		Summary:   summary,
		Table:     table,
	}
	if err := r.writeOutputs(store, out, started, logger); err != nil {
		return nil, r.fail(ctx, runID, started, err, logger)
	}

	if r.allocations != nil {
		if err := r.allocations.SaveTable(ctx, runID, table); err != nil {
			return nil, r.fail(ctx, runID, started, err, logger)
		}
	}
	if r.runs != nil {
		if err := r.runs.Complete(ctx, runID, summary.Windows); err != nil {
			logger.Error().Err(err).Msg("Failed to complete run record")
		}
	}

	r.sideEffects(ctx, out, started, logger)

	allocated := 0
	for _, qty := range table.Latest() {
		if qty != 0 {
			allocated++
		}
	}
	metrics.RecordRun(true, time.Since(started), allocated)

	logger.Info().
		Int("windows", len(summary.Windows)).
		Int("strategies", len(summary.Strategies)).
		Int("allocated", allocated).
		Float64("total_profit", out.Profit.TotalProfit).
		Dur("duration", time.Since(started)).
		Msg("Optimization run finished")

	return out, nil
}

// loadPrevious reads the existing allocation file in realtime mode. A
// missing file is not an error.
func (r *Runner) loadPrevious(logger zerolog.Logger) (*allocation.Table, error) {
	if !r.cfg.Run.Realtime {
		return nil, nil
	}
	previous, err := allocation.LoadFile(r.cfg.Files.Allocation)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info().Str("file", r.cfg.Files.Allocation).Msg("No previous allocation file")
			return nil, nil
		}
		return nil, err
	}
	logger.Info().
		Str("file", r.cfg.Files.Allocation).
		Int("strategies", previous.Len()).
		Msg("Loaded previous allocation")
	return previous, nil
}

// loadInput builds the PnL store. In realtime mode the trade log is
// aggregated and written to the daily file first.
func (r *Runner) loadInput(previous *allocation.Table, logger zerolog.Logger) (*timeseries.Store, map[string]bool, error) {
	if !r.cfg.Run.Realtime {
		kind, err := timeseries.ParseKind(r.cfg.Files.InputKind)
		if err != nil {
			return nil, nil, err
		}
		store, err := timeseries.LoadFile(r.cfg.Files.DailyPnL, kind)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().
			Str("file", r.cfg.Files.DailyPnL).
			Int("strategies", store.NumStrategies()).
			Int("days", store.Len()).
			Msg("Loaded input data")
		return store, nil, nil
	}

	var zeroed []string
	if previous != nil {
		zeroed = previous.ZeroedStrategies()
	}
	ledger, err := tradelog.ReadFile(r.cfg.Files.TradeLog, tradelog.Options{
		MaxLines:     r.cfg.Run.TradesLogLines,
		InSampleDays: r.cfg.Run.InSampleDays,
		Zeroed:       zeroed,
		Now:          r.now(),
	})
	if err != nil {
		return nil, nil, err
	}
	store, err := ledger.Build(r.cfg.Run.StrategyInactivityDays)
	if err != nil {
		return nil, nil, err
	}
	if err := store.SaveFile(r.cfg.Files.DailyPnL); err != nil {
		return nil, nil, err
	}

	logger.Info().
		Str("trade_log", r.cfg.Files.TradeLog).
		Str("daily_file", r.cfg.Files.DailyPnL).
		Int("strategies", store.NumStrategies()).
		Int("days", store.Len()).
		Int("not_optimized", len(ledger.NotOptimized())).
		Msg("Ingested trade log")

	return store, ledger.NotOptimized(), nil
}

// writeOutputs saves the allocation file, the profit report and the
// optional HTML report and manifest.
func (r *Runner) writeOutputs(store *timeseries.Store, out *Outcome, started time.Time, logger zerolog.Logger) error {
	files := r.cfg.Files

	if err := out.Table.Save(files.Allocation, allocation.DefaultLabel); err != nil {
		return err
	}
	out.Files = append(out.Files, files.Allocation)

	lines := report.Accumulate(store, out.Table)
	out.Profit = report.Summarize(lines)

	profitPath := ProfitReportPath(files.DailyPnL, files.ProfitReport)
	if profitPath != "" {
		if err := report.SaveCSV(profitPath, lines); err != nil {
			return err
		}
		out.Files = append(out.Files, profitPath)
	}

	if files.HTMLReport != "" {
		title := fmt.Sprintf("Allocation Report: %s / %s", out.Algorithm, out.Metric)
		gen := report.NewGenerator(title, lines, out.Table, out.Summary.Windows)
		if err := gen.SaveToFile(files.HTMLReport); err != nil {
			return err
		}
		out.Files = append(out.Files, files.HTMLReport)
	}

	if files.Manifest != "" {
		m := NewManifest(out.RunID, r.cfg, out, started)
		if err := m.Save(files.Manifest); err != nil {
			return err
		}
		out.Files = append(out.Files, files.Manifest)
	}

	logger.Info().Strs("files", out.Files).Msg("Outputs written")
	logger.Debug().Msg("\n" + out.Profit.String())
	return nil
}

// sideEffects runs the best-effort integrations.
func (r *Runner) sideEffects(ctx context.Context, out *Outcome, started time.Time, logger zerolog.Logger) {
	if r.notifier != nil && r.cfg.Run.Realtime {
		err := r.notifier.Publish(ctx, notify.NewAllocationUpdated(out.RunID, out.Table))
		metrics.RecordNotification(err)
		if err != nil {
			logger.Warn().Err(err).Msg("Allocation update not published")
		}
	}

	if r.archive != nil {
		meta := archive.Meta{
			Algorithm:     out.Algorithm,
			Metric:        out.Metric,
			InSampleDays:  r.cfg.Run.InSampleDays,
			OutSampleDays: r.cfg.Run.OutSampleDays,
			ContractsMin:  r.cfg.Run.ContractsMin,
			ContractsMax:  r.cfg.Run.ContractsMax,
			Realtime:      r.cfg.Run.Realtime,
		}
		summary := *out.Summary
		summary.Table = out.Table
		if err := r.archive.Save(ctx, archive.NewRunDocument(out.RunID, meta, started, &summary)); err != nil {
			logger.Warn().Err(err).Msg("Run not archived")
		}
	}

	if r.publisher != nil {
		if _, err := r.publisher.Publish(ctx, out.RunID, out.Files...); err != nil {
			logger.Warn().Err(err).Msg("Outputs not published")
		}
	}
}

func (r *Runner) fail(ctx context.Context, runID uuid.UUID, started time.Time, runErr error, logger zerolog.Logger) error {
	metrics.RecordRun(false, time.Since(started), 0)
	logger.Error().Err(runErr).Msg("Optimization run failed")
	if r.runs != nil {
		if err := r.runs.Fail(ctx, runID, runErr); err != nil {
			logger.Error().Err(err).Msg("Failed to record run failure")
		}
	}
	return runErr
}

// ProfitReportPath resolves the profit report location. A bare file name is
// placed next to the daily PnL file.
func ProfitReportPath(dailyFile, profitFile string) string {
	if profitFile == "" {
		return ""
	}
	if filepath.IsAbs(profitFile) || filepath.Dir(profitFile) != "." {
		return profitFile
	}
	return filepath.Join(filepath.Dir(dailyFile), profitFile)
}
