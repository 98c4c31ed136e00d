package walkforward

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/stratalloc/pkg/allocerr"
	"github.com/ajitpratap0/stratalloc/pkg/cluster"
	"github.com/ajitpratap0/stratalloc/pkg/fitness"
	"github.com/ajitpratap0/stratalloc/pkg/optimizer"
	"github.com/ajitpratap0/stratalloc/pkg/timeseries"
)

// ============================================================================
// FIXTURES
// ============================================================================

func syntheticStore(t *testing.T, days int) *timeseries.Store {
	t.Helper()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	dates := make([]time.Time, days)
	rows := make([][]float64, days)
	for i := 0; i < days; i++ {
		dates[i] = start.AddDate(0, 0, i)
		a := float64((i*7)%5) - 1
		b := float64((i*3)%4) - 1.5
		rows[i] = []float64{a, b, 2 * a}
	}
	s, err := timeseries.New([]string{"A", "B", "C"}, dates, rows)
	require.NoError(t, err)
	return s
}

func baseConfig(kind optimizer.Kind, metric fitness.Metric) Config {
	opt := optimizer.DefaultConfig()
	opt.Kind = kind
	opt.Metric = metric
	opt.Seed = 7
	opt.PopulationSize = 10
	opt.Generations = 3
	opt.Iterations = 5
	return Config{
		InSampleDays:  60,
		OutSampleDays: 14,
		Optimizer:     opt,
		Parallel:      true,
		Workers:       4,
	}
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]optimizer.Result
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]optimizer.Result)}
}

func (c *memoryCache) Get(_ context.Context, key string) (optimizer.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[key]
	return r, ok
}

func (c *memoryCache) Set(_ context.Context, key string, r optimizer.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = r
	return nil
}

type countingObserver struct {
	mu        sync.Mutex
	completed int
	failed    int
	hits      int
	misses    int
}

func (o *countingObserver) WindowCompleted(WindowResult, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed++
}

func (o *countingObserver) WindowFailed(Window, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed++
}

func (o *countingObserver) CacheLookup(hit bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if hit {
		o.hits++
	} else {
		o.misses++
	}
}

// ============================================================================
// TESTS
// ============================================================================

func TestRun_ConstantAllocation(t *testing.T) {
	store := syntheticStore(t, 150)
	d, err := NewDriver(baseConfig(optimizer.KindPerStrategy, fitness.MetricConstant))
	require.NoError(t, err)

	summary, err := d.Run(context.Background(), store)
	require.NoError(t, err)
	require.NotEmpty(t, summary.Windows)

	table := summary.Table
	assert.Equal(t, []string{"A", "B", "C"}, table.Strategies())

	for _, w := range summary.Windows {
		for _, name := range store.Strategies() {
			qty, err := table.Get(w.Effective, name)
			require.NoError(t, err)
			assert.Equal(t, 10.0, qty)

			before, err := table.Get(summary.Windows[0].Effective.AddDate(0, 0, -1), name)
			require.NoError(t, err)
			assert.Equal(t, 0.0, before)
		}
	}

	for i := 1; i < len(summary.Windows); i++ {
		assert.True(t, summary.Windows[i].Window.End.After(summary.Windows[i-1].Window.End))
	}
}

func TestRun_DeterministicAcrossScheduling(t *testing.T) {
	store := syntheticStore(t, 150)

	parallelCfg := baseConfig(optimizer.KindEvolutionary, fitness.MetricSharpe)
	sequentialCfg := parallelCfg
	sequentialCfg.Parallel = false

	pd, err := NewDriver(parallelCfg)
	require.NoError(t, err)
	sd, err := NewDriver(sequentialCfg)
	require.NoError(t, err)

	ps, err := pd.Run(context.Background(), store)
	require.NoError(t, err)
	ss, err := sd.Run(context.Background(), store)
	require.NoError(t, err)

	assert.Equal(t, ss.Table.Snapshot(), ps.Table.Snapshot())
}

func TestRun_UsesCache(t *testing.T) {
	store := syntheticStore(t, 150)
	cache := newMemoryCache()
	obs := &countingObserver{}

	d, err := NewDriver(baseConfig(optimizer.KindRandom, fitness.MetricSharpe), WithCache(cache), WithObserver(obs))
	require.NoError(t, err)

	first, err := d.Run(context.Background(), store)
	require.NoError(t, err)
	n := len(first.Windows)
	assert.Equal(t, n, obs.misses)
	assert.Equal(t, n, obs.completed)

	second, err := d.Run(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, n, obs.hits)
	for _, w := range second.Windows {
		assert.True(t, w.Cached)
	}
	assert.Equal(t, first.Table.Snapshot(), second.Table.Snapshot())
}

func TestRun_WithClustering(t *testing.T) {
	store := syntheticStore(t, 150)
	cfg := baseConfig(optimizer.KindPerStrategy, fitness.MetricConstant)
	cfg.ClusterThreshold = 0.95

	d, err := NewDriver(cfg)
	require.NoError(t, err)

	summary, err := d.Run(context.Background(), store)
	require.NoError(t, err)

	for _, w := range summary.Windows {
		assert.Len(t, w.Allocation, 3)
		assert.Equal(t, 2, w.Clusters, "C is a multiple of A")
		for _, q := range w.Allocation {
			assert.GreaterOrEqual(t, q, 1.0)
			assert.LessOrEqual(t, q, 10.0)
		}
	}
}

func TestRun_Errors(t *testing.T) {
	_, err := NewDriver(Config{InSampleDays: 0, OutSampleDays: 5, Optimizer: optimizer.DefaultConfig()})
	assert.ErrorIs(t, err, allocerr.ErrConfiguration)

	cfg := baseConfig(optimizer.KindPerStrategy, fitness.MetricProfitByDrawdown)
	_, err = NewDriver(cfg)
	assert.ErrorIs(t, err, allocerr.ErrNotImplemented)

	d, err := NewDriver(baseConfig(optimizer.KindRandom, fitness.MetricSharpe))
	require.NoError(t, err)

	_, err = d.Run(context.Background(), syntheticStore(t, 40))
	assert.ErrorIs(t, err, allocerr.ErrBoundary)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Run(ctx, syntheticStore(t, 150))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWindowSeed(t *testing.T) {
	w1 := Window{Start: time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	w2 := Window{Start: w1.Start.AddDate(0, 0, 7), End: w1.End.AddDate(0, 0, 7)}

	assert.Equal(t, WindowSeed(1, w1), WindowSeed(1, w1))
	assert.NotEqual(t, WindowSeed(1, w1), WindowSeed(1, w2))
	assert.NotEqual(t, WindowSeed(1, w1), WindowSeed(2, w1))
	assert.Positive(t, WindowSeed(0, w1))
}

func TestCacheKey_CoversSearchAndReduction(t *testing.T) {
	store := syntheticStore(t, 120)
	w := Window{Start: store.FirstDate(), End: store.FirstDate().AddDate(0, 0, 119)}
	base := baseConfig(optimizer.KindEvolutionary, fitness.MetricSharpe).Optimizer
	proportional := cluster.Policy{Kind: cluster.PolicyProportional}

	key := CacheKey(base, w, store, 0.5, proportional)
	assert.Equal(t, key, CacheKey(base, w, store, 0.5, proportional))

	changes := map[string]func(c *optimizer.Config){
		"generations":   func(c *optimizer.Config) { c.Generations = 500 },
		"population":    func(c *optimizer.Config) { c.PopulationSize = 5000 },
		"mutation rate": func(c *optimizer.Config) { c.MutationRate = 0.9 },
		"elite ratio":   func(c *optimizer.Config) { c.EliteRatio = 0.5 },
		"iterations":    func(c *optimizer.Config) { c.Iterations = 2000 },
		"learning rate": func(c *optimizer.Config) { c.LearningRate = 0.01 },
	}
	for name, change := range changes {
		t.Run(name, func(t *testing.T) {
			cfg := base
			change(&cfg)
			assert.NotEqual(t, key, CacheKey(cfg, w, store, 0.5, proportional))
		})
	}

	t.Run("cluster policy", func(t *testing.T) {
		divisor := cluster.Policy{Kind: cluster.PolicyDivisor, Divisor: 2}
		assert.NotEqual(t, key, CacheKey(base, w, store, 0.5, divisor))
		assert.NotEqual(t,
			CacheKey(base, w, store, 0.5, divisor),
			CacheKey(base, w, store, 0.5, cluster.Policy{Kind: cluster.PolicyDivisor, Divisor: 3}))
	})

	t.Run("cluster threshold", func(t *testing.T) {
		assert.NotEqual(t, key, CacheKey(base, w, store, 0.7, proportional))
	})
}
