// Allocation search over a PnL store
package optimizer

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratalloc/pkg/allocerr"
	"github.com/ajitpratap0/stratalloc/pkg/fitness"
	"github.com/ajitpratap0/stratalloc/pkg/timeseries"
)

// ============================================================================
// ALGORITHM SELECTION
// ============================================================================

// Kind selects the search algorithm. The set is closed; Start dispatches on
// it exactly once.
type Kind string

const (
	KindEvolutionary Kind = "evolutionary"
	KindGradient     Kind = "gradient"
	KindDynamic      Kind = "dynamic"
	KindPerStrategy  Kind = "per_strategy"
	KindRandom       Kind = "random"
)

// Kinds lists every algorithm.
var Kinds = []Kind{KindEvolutionary, KindGradient, KindDynamic, KindPerStrategy, KindRandom}

// kindCodes maps the single-letter operator codes to algorithms.
var kindCodes = map[string]Kind{
	"T": KindEvolutionary,
	"G": KindGradient,
	"D": KindDynamic,
	"O": KindPerStrategy,
	"R": KindRandom,
}

// ParseKind accepts an algorithm name ("gradient") or code ("G").
func ParseKind(value string) (Kind, error) {
	v := strings.TrimSpace(value)
	if k, ok := kindCodes[strings.ToUpper(v)]; ok {
		return k, nil
	}
	for _, k := range Kinds {
		if strings.EqualFold(string(k), v) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown optimization algorithm %q", allocerr.ErrConfiguration, value)
}

// String implements fmt.Stringer
func (k Kind) String() string { return string(k) }

// ============================================================================
// CONFIGURATION
// ============================================================================

// Config describes one search.
type Config struct {
	Kind   Kind           `json:"kind" yaml:"kind"`
	Metric fitness.Metric `json:"metric" yaml:"metric"`
	Min    int            `json:"min" yaml:"min"`
	Max    int            `json:"max" yaml:"max"`
	Seed   int64          `json:"seed" yaml:"seed"` // 0 = time-based

	// Evolutionary
	PopulationSize int     `json:"population_size" yaml:"population_size"`
	Generations    int     `json:"generations" yaml:"generations"`
	MutationRate   float64 `json:"mutation_rate" yaml:"mutation_rate"`
	EliteRatio     float64 `json:"elite_ratio" yaml:"elite_ratio"`

	// Gradient
	Iterations   int     `json:"iterations" yaml:"iterations"`
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
}

const (
	DefaultPopulationSize = 1000
	DefaultGenerations    = 100
	DefaultMutationRate   = 0.1
	DefaultEliteRatio     = 0.2
	DefaultIterations     = 5000
	DefaultLearningRate   = 0.1

	// Bounds on a configured gradient iteration count.
	MinIterations = 1000
	MaxIterations = 10000

	// FallbackSentinel is assigned by the dynamic-programming search to any
	// strategy its backtracking leaves without a value.
	FallbackSentinel = 99
)

// DefaultConfig returns the production search settings.
func DefaultConfig() Config {
	return Config{
		Kind:           KindEvolutionary,
		Metric:         fitness.MetricSharpe,
		Min:            1,
		Max:            10,
		PopulationSize: DefaultPopulationSize,
		Generations:    DefaultGenerations,
		MutationRate:   DefaultMutationRate,
		EliteRatio:     DefaultEliteRatio,
		Iterations:     DefaultIterations,
		LearningRate:   DefaultLearningRate,
	}
}

func (c Config) withDefaults() Config {
	if c.PopulationSize <= 0 {
		c.PopulationSize = DefaultPopulationSize
	}
	if c.Generations <= 0 {
		c.Generations = DefaultGenerations
	}
	if c.MutationRate <= 0 {
		c.MutationRate = DefaultMutationRate
	}
	if c.EliteRatio <= 0 || c.EliteRatio > 1 {
		c.EliteRatio = DefaultEliteRatio
	}
	if c.Iterations <= 0 {
		c.Iterations = DefaultIterations
	}
	if c.LearningRate <= 0 {
		c.LearningRate = DefaultLearningRate
	}
	return c
}

// Validate rejects unusable settings and unsupported algorithm/metric pairs.
func (c Config) Validate() error {
	if c.Min < 0 || c.Max < c.Min {
		return fmt.Errorf("%w: invalid allocation range [%d,%d]", allocerr.ErrConfiguration, c.Min, c.Max)
	}

	known := false
	for _, k := range Kinds {
		if c.Kind == k {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("%w: unknown optimization algorithm %q", allocerr.ErrConfiguration, c.Kind)
	}

	if _, err := fitness.ParseMetric(string(c.Metric)); err != nil {
		return err
	}

	switch {
	case c.Kind == KindPerStrategy && c.Metric == fitness.MetricProfitByDrawdown:
		return fmt.Errorf("%w: %s with %s", allocerr.ErrNotImplemented, c.Kind, c.Metric)
	case c.Metric == fitness.MetricConstant && c.Kind != KindPerStrategy && c.Kind != KindRandom:
		return fmt.Errorf("%w: %s cannot search for %s", allocerr.ErrNotImplemented, c.Kind, c.Metric)
	}
	return nil
}

// ============================================================================
// OPTIMIZER
// ============================================================================

// ErrNotStarted is returned by result accessors called before Start.
var ErrNotStarted = errors.New("optimizer has not been started")

// Result is the outcome of one search.
type Result struct {
	Allocation  []float64 `json:"allocation"`
	Fitness     float64   `json:"fitness"`
	Evaluations int       `json:"evaluations"`
}

// Optimizer runs one search over one store. It is not safe for concurrent
// use; each window gets its own Optimizer and its own random source.
type Optimizer struct {
	cfg   Config
	store *timeseries.Store
	rng   *rand.Rand

	started     bool
	best        []float64
	bestFitness float64
	evaluations int
	evalErr     error
}

// New validates cfg against store and prepares a search.
func New(cfg Config, store *timeseries.Store) (*Optimizer, error) {
	if store == nil || store.NumStrategies() == 0 {
		return nil, fmt.Errorf("%w: no strategies to allocate", allocerr.ErrEmptyInput)
	}
	if store.IsEmpty() {
		return nil, fmt.Errorf("%w: no trading days to optimize over", allocerr.ErrEmptyInput)
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Optimizer{
		cfg:   cfg,
		store: store,
		rng:   rand.New(rand.NewSource(seed)), // #nosec G404 -- Non-cryptographic use: search randomness must be reproducible per seed
	}, nil
}

// Start runs the search to completion.
func (o *Optimizer) Start() error {
	startTime := time.Now()

	var (
		alloc []float64
		fit   float64
		err   error
	)

	switch o.cfg.Kind {
	case KindEvolutionary:
		alloc, fit = o.runEvolutionary()
	case KindGradient:
		alloc, fit = o.runGradient()
	case KindDynamic:
		alloc, fit = o.runDynamic()
	case KindPerStrategy:
		alloc, fit, err = o.runPerStrategy()
	case KindRandom:
		alloc, fit = o.runRandom()
	default:
		err = fmt.Errorf("%w: unknown optimization algorithm %q", allocerr.ErrConfiguration, o.cfg.Kind)
	}

	if err == nil {
		err = o.evalErr
	}
	if err != nil {
		return err
	}

	o.best = alloc
	o.bestFitness = fit
	o.started = true

	log.Debug().
		Str("algorithm", o.cfg.Kind.String()).
		Str("metric", o.cfg.Metric.String()).
		Int("strategies", o.store.NumStrategies()).
		Int("days", o.store.Len()).
		Int("evaluations", o.evaluations).
		Float64("fitness", fit).
		Dur("duration", time.Since(startTime)).
		Msg("Optimization complete")

	return nil
}

// BestAllocation returns the winning allocation vector.
func (o *Optimizer) BestAllocation() ([]float64, error) {
	if !o.started {
		return nil, ErrNotStarted
	}
	return append([]float64(nil), o.best...), nil
}

// BestFitness returns the fitness of the winning allocation.
func (o *Optimizer) BestFitness() (float64, error) {
	if !o.started {
		return math.NaN(), ErrNotStarted
	}
	return o.bestFitness, nil
}

// Result bundles the outcome of a finished search.
func (o *Optimizer) Result() (Result, error) {
	if !o.started {
		return Result{}, ErrNotStarted
	}
	return Result{
		Allocation:  append([]float64(nil), o.best...),
		Fitness:     o.bestFitness,
		Evaluations: o.evaluations,
	}, nil
}

// Run builds an optimizer, starts it and returns its result.
func Run(cfg Config, store *timeseries.Store) (Result, error) {
	opt, err := New(cfg, store)
	if err != nil {
		return Result{}, err
	}
	if err := opt.Start(); err != nil {
		return Result{}, err
	}
	return opt.Result()
}

// evaluate scores alloc with the configured metric. The store was validated
// in New, so errors are unexpected; the first one is kept and returned by
// Start.
func (o *Optimizer) evaluate(alloc []float64) float64 {
	o.evaluations++
	v, err := fitness.Evaluate(o.cfg.Metric, alloc, o.store)
	if err != nil {
		if o.evalErr == nil {
			o.evalErr = err
		}
		return math.Inf(-1)
	}
	return v
}

// randomQuantity draws a whole number of contracts uniformly from [Min, Max].
func (o *Optimizer) randomQuantity() float64 {
	return float64(o.cfg.Min + o.rng.Intn(o.cfg.Max-o.cfg.Min+1))
}

func (o *Optimizer) clamp(v float64) float64 {
	return math.Max(float64(o.cfg.Min), math.Min(float64(o.cfg.Max), v))
}
