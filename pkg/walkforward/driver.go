package walkforward

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/stratalloc/pkg/allocation"
	"github.com/ajitpratap0/stratalloc/pkg/allocerr"
	"github.com/ajitpratap0/stratalloc/pkg/cluster"
	"github.com/ajitpratap0/stratalloc/pkg/fitness"
	"github.com/ajitpratap0/stratalloc/pkg/optimizer"
	"github.com/ajitpratap0/stratalloc/pkg/timeseries"
)

const tracerName = "github.com/ajitpratap0/stratalloc/pkg/walkforward"

// ============================================================================
// CONFIGURATION
// ============================================================================

// Config describes one walk-forward run.
type Config struct {
	InSampleDays  int
	OutSampleDays int
	Optimizer     optimizer.Config

	// Parallel runs one task per window; Workers bounds how many run at
	// once (0 = unbounded).
	Parallel bool
	Workers  int

	// ClusterThreshold enables correlation reduction when > 0.
	ClusterThreshold float64
	ClusterPolicy    cluster.Policy
}

// ResultCache stores finished window results across runs.
type ResultCache interface {
	Get(ctx context.Context, key string) (optimizer.Result, bool)
	Set(ctx context.Context, key string, result optimizer.Result) error
}

// Observer receives per-window progress. Implementations must be safe for
// concurrent use.
type Observer interface {
	WindowCompleted(result WindowResult, duration time.Duration)
	WindowFailed(window Window, err error)
	CacheLookup(hit bool)
}

// Option customizes a Driver.
type Option func(*Driver)

// WithCache consults cache before optimizing each window.
func WithCache(cache ResultCache) Option {
	return func(d *Driver) { d.cache = cache }
}

// WithObserver reports window progress to obs.
func WithObserver(obs Observer) Option {
	return func(d *Driver) { d.observer = obs }
}

// ============================================================================
// RESULTS
// ============================================================================

// WindowResult is the outcome of optimizing one window.
type WindowResult struct {
	Window             Window    `json:"window"`
	Effective          time.Time `json:"effective"`
	Allocation         []float64 `json:"allocation"`
	Fitness            float64   `json:"fitness"`
	OutOfSampleFitness float64   `json:"out_of_sample_fitness"`
	Clusters           int       `json:"clusters"`
	Cached             bool      `json:"cached"`
	Seed               int64     `json:"seed"`
}

// Summary is the outcome of a whole run.
type Summary struct {
	Table      *allocation.Table `json:"-"`
	Strategies []string          `json:"strategies"`
	Windows    []WindowResult    `json:"windows"`
	Duration   time.Duration     `json:"duration"`
}

// ============================================================================
// DRIVER
// ============================================================================

// Driver runs the walk-forward loop.
type Driver struct {
	cfg      Config
	cache    ResultCache
	observer Observer
	tracer   trace.Tracer
}

// NewDriver validates cfg.
func NewDriver(cfg Config, opts ...Option) (*Driver, error) {
	if cfg.InSampleDays <= 0 || cfg.OutSampleDays <= 0 {
		return nil, fmt.Errorf("%w: in-sample and out-of-sample days must be positive", allocerr.ErrConfiguration)
	}
	if err := cfg.Optimizer.Validate(); err != nil {
		return nil, err
	}
	if cfg.ClusterThreshold > 0 {
		if cfg.ClusterPolicy.Kind == "" {
			cfg.ClusterPolicy.Kind = cluster.PolicyProportional
		}
		cfg.ClusterPolicy.Min = float64(cfg.Optimizer.Min)
		cfg.ClusterPolicy.Max = float64(cfg.Optimizer.Max)
	}

	d := &Driver{cfg: cfg, tracer: otel.Tracer(tracerName)}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Run optimizes every window of store and returns the sorted allocation
// table. All window tasks join before the table is sorted; the first failing
// window fails the run. Cancelling ctx stops windows that have not started;
// a running search is not interrupted.
func (d *Driver) Run(ctx context.Context, store *timeseries.Store) (*Summary, error) {
	startTime := time.Now()

	if store == nil || store.IsEmpty() || store.NumStrategies() == 0 {
		return nil, fmt.Errorf("%w: nothing to optimize", allocerr.ErrEmptyInput)
	}

	ctx, span := d.tracer.Start(ctx, "walkforward.run", trace.WithAttributes(
		attribute.String("algorithm", d.cfg.Optimizer.Kind.String()),
		attribute.String("metric", d.cfg.Optimizer.Metric.String()),
		attribute.Int("strategies", store.NumStrategies()),
		attribute.Int("days", store.Len()),
	))
	defer span.End()

	windows, err := Windows(store.FirstDate(), store.LastDate(), d.cfg.InSampleDays, d.cfg.OutSampleDays)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("windows", len(windows)))

	log.Info().
		Int("strategies", store.NumStrategies()).
		Int("days", store.Len()).
		Int("windows", len(windows)).
		Int("in_sample", d.cfg.InSampleDays).
		Int("out_sample", d.cfg.OutSampleDays).
		Str("algorithm", d.cfg.Optimizer.Kind.String()).
		Str("metric", d.cfg.Optimizer.Metric.String()).
		Bool("parallel", d.cfg.Parallel).
		Msg("Starting walk-forward optimization")

	table := allocation.NewTable()
	strategies := store.Strategies()
	results := make([]WindowResult, len(windows))

	g, gctx := errgroup.WithContext(ctx)
	switch {
	case !d.cfg.Parallel:
		g.SetLimit(1)
	case d.cfg.Workers > 0:
		g.SetLimit(d.cfg.Workers)
	}

	for i, w := range windows {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := d.runWindow(gctx, store, w)
			if err != nil {
				if d.observer != nil {
					d.observer.WindowFailed(w, err)
				}
				return fmt.Errorf("window %s: %w", w, err)
			}
			for k, name := range strategies {
				table.Add(res.Effective, name, res.Allocation[k])
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	table.SortByDate()

	sort.Slice(results, func(i, j int) bool { return results[i].Window.End.Before(results[j].Window.End) })

	summary := &Summary{
		Table:      table,
		Strategies: strategies,
		Windows:    results,
		Duration:   time.Since(startTime),
	}

	log.Info().
		Int("windows", len(windows)).
		Dur("duration", summary.Duration).
		Msg("Walk-forward optimization complete")

	return summary, nil
}

// runWindow optimizes one window, going through the cache and the optional
// correlation reduction.
func (d *Driver) runWindow(ctx context.Context, store *timeseries.Store, w Window) (WindowResult, error) {
	ctx, span := d.tracer.Start(ctx, "walkforward.window", trace.WithAttributes(
		attribute.String("window.start", w.Start.Format(timeseries.DateLayout)),
		attribute.String("window.end", w.End.Format(timeseries.DateLayout)),
	))
	defer span.End()

	windowStart := time.Now()
	inSample := store.GetRange(w.Start, w.End)
	if inSample.IsEmpty() {
		err := fmt.Errorf("%w: window %s holds no trading days", allocerr.ErrEmptyInput, w)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return WindowResult{}, err
	}

	cfg := d.cfg.Optimizer
	cfg.Seed = WindowSeed(d.cfg.Optimizer.Seed, w)

	res := WindowResult{Window: w, Effective: w.Effective(), Seed: cfg.Seed}

	var key string
	if d.cache != nil {
		key = CacheKey(cfg, w, inSample, d.cfg.ClusterThreshold, d.cfg.ClusterPolicy)
		cached, hit := d.cache.Get(ctx, key)
		if d.observer != nil {
			d.observer.CacheLookup(hit)
		}
		if hit && len(cached.Allocation) == inSample.NumStrategies() {
			res.Allocation = cached.Allocation
			res.Fitness = cached.Fitness
			res.Cached = true
		}
	}

	if !res.Cached {
		alloc, fit, clusters, err := d.optimize(cfg, inSample)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return WindowResult{}, err
		}
		res.Allocation, res.Fitness, res.Clusters = alloc, fit, clusters

		if d.cache != nil {
			if err := d.cache.Set(ctx, key, optimizer.Result{Allocation: alloc, Fitness: fit}); err != nil {
				log.Warn().Err(err).Str("window", w.String()).Msg("Failed to cache window result")
			}
		}
	}

	res.OutOfSampleFitness = d.outOfSample(store, w, res.Allocation)

	span.SetAttributes(
		attribute.Float64("fitness", res.Fitness),
		attribute.Bool("cached", res.Cached),
	)

	log.Debug().
		Str("window", w.String()).
		Time("effective", res.Effective).
		Int("days", inSample.Len()).
		Float64("in_sample_fitness", res.Fitness).
		Float64("out_of_sample_fitness", res.OutOfSampleFitness).
		Bool("cached", res.Cached).
		Msg("Walk-forward window complete")

	if d.observer != nil {
		d.observer.WindowCompleted(res, time.Since(windowStart))
	}
	return res, nil
}

// optimize runs the configured search, reducing the store to cluster
// representatives first when clustering is enabled.
func (d *Driver) optimize(cfg optimizer.Config, inSample *timeseries.Store) ([]float64, float64, int, error) {
	if d.cfg.ClusterThreshold <= 0 {
		res, err := optimizer.Run(cfg, inSample)
		if err != nil {
			return nil, 0, 0, err
		}
		return res.Allocation, res.Fitness, 0, nil
	}

	clusters := cluster.Build(inSample, d.cfg.ClusterThreshold)
	reduced, err := cluster.Reduce(inSample, clusters)
	if err != nil {
		return nil, 0, 0, err
	}

	res, err := optimizer.Run(cfg, reduced)
	if err != nil {
		return nil, 0, 0, err
	}

	full, err := cluster.Expand(clusters, res.Allocation, inSample, d.cfg.ClusterPolicy)
	if err != nil {
		return nil, 0, 0, err
	}
	return full, res.Fitness, len(clusters), nil
}

// outOfSample scores alloc on the days the window's allocation is held for.
// It returns NaN when no such days exist yet.
func (d *Driver) outOfSample(store *timeseries.Store, w Window, alloc []float64) float64 {
	held := store.GetRange(w.Effective(), w.End.AddDate(0, 0, d.cfg.OutSampleDays))
	if held.IsEmpty() {
		return math.NaN()
	}

	metric := d.cfg.Optimizer.Metric
	if !metric.IsObjective() {
		metric = fitness.MetricSharpe
	}
	v, err := fitness.Evaluate(metric, alloc, held)
	if err != nil {
		return math.NaN()
	}
	return v
}

// ============================================================================
// DETERMINISM
// ============================================================================

// WindowSeed derives a window's random seed from the run seed and the window
// bounds, so a run is reproducible regardless of scheduling order.
func WindowSeed(base int64, w Window) int64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range []int64{base, w.Start.Unix(), w.End.Unix()} {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		_, _ = h.Write(buf[:])
	}
	seed := int64(h.Sum64() & math.MaxInt64)
	if seed == 0 {
		seed = 1
	}
	return seed
}

// CacheKey identifies a window result by everything that determines it:
// the search configuration, the cluster reduction and the in-sample data.
func CacheKey(cfg optimizer.Config, w Window, inSample *timeseries.Store, clusterThreshold float64, policy cluster.Policy) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.Join(inSample.Strategies(), ",")))
	var buf [8]byte
	for day := 0; day < inSample.Len(); day++ {
		for _, v := range inSample.Row(day).PnL {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			_, _ = h.Write(buf[:])
		}
	}

	search := fmt.Sprintf("p%d:g%d:m%g:e%g:i%d:l%g",
		cfg.PopulationSize, cfg.Generations, cfg.MutationRate, cfg.EliteRatio, cfg.Iterations, cfg.LearningRate)
	reduction := fmt.Sprintf("%g:%s:%g", clusterThreshold, policy.Kind, policy.Divisor)

	return fmt.Sprintf("%s:%s:%d-%d:%d:%s:%s:%s:%x",
		cfg.Kind, cfg.Metric, cfg.Min, cfg.Max, cfg.Seed, search, reduction, w, h.Sum64())
}
