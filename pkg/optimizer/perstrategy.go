package optimizer

import (
	"fmt"
	"math"

	"github.com/ajitpratap0/stratalloc/pkg/allocerr"
	"github.com/ajitpratap0/stratalloc/pkg/fitness"
)

// sharpeThreshold splits strategies into max and min allocations under the
// Sharpe heuristic.
const sharpeThreshold = 0

// runPerStrategy scores each strategy on its own series and maps the score
// into [Min, Max] without any search.
func (o *Optimizer) runPerStrategy() ([]float64, float64, error) {
	n := o.store.NumStrategies()
	alloc := make([]float64, n)
	minQ, maxQ := float64(o.cfg.Min), float64(o.cfg.Max)

	switch o.cfg.Metric {
	case fitness.MetricConstant:
		for i := range alloc {
			alloc[i] = maxQ
		}

	case fitness.MetricSharpe, fitness.MetricEMASharpe:
		score := fitness.Sharpe
		if o.cfg.Metric == fitness.MetricEMASharpe {
			score = fitness.EMASharpe
		}
		for i := range alloc {
			if score(o.store.StrategyDaily(i)) > sharpeThreshold {
				alloc[i] = maxQ
			} else {
				alloc[i] = minQ
			}
		}

	case fitness.MetricSortino, fitness.MetricMaxProfit:
		score := fitness.Sortino
		if o.cfg.Metric == fitness.MetricMaxProfit {
			score = fitness.MaxProfit
		}
		scores := make([]float64, n)
		for i := range scores {
			scores[i] = score(o.store.StrategyDaily(i))
		}
		o.scaleToBest(alloc, scores, func(int) bool { return true })

	case fitness.MetricLinearity, fitness.MetricRSquared:
		scores := make([]float64, n)
		rising := make([]bool, n)
		for i := range scores {
			daily := o.store.StrategyDaily(i)
			scores[i] = fitness.RSquared(daily)
			cum := o.store.StrategyCumulative(i)
			rising[i] = cum[len(cum)-1] > cum[0]
		}
		o.scaleToBest(alloc, scores, func(i int) bool { return rising[i] })

	case fitness.MetricProfitByDrawdown:
		return nil, 0, fmt.Errorf("%w: %s with %s", allocerr.ErrNotImplemented, o.cfg.Kind, o.cfg.Metric)

	default:
		return nil, 0, fmt.Errorf("%w: unknown fitness metric %q", allocerr.ErrConfiguration, o.cfg.Metric)
	}

	metric := o.cfg.Metric
	if !metric.IsObjective() {
		metric = fitness.MetricSharpe
	}
	o.evaluations++
	fit, err := fitness.Evaluate(metric, alloc, o.store)
	if err != nil {
		return nil, 0, err
	}
	return alloc, fit, nil
}

// scaleToBest maps each score linearly against the best score in the batch:
// round(score/best × Max), floored at Min. Non-positive scores, a
// non-positive best, and strategies failing eligible get Min.
func (o *Optimizer) scaleToBest(alloc, scores []float64, eligible func(int) bool) {
	minQ, maxQ := float64(o.cfg.Min), float64(o.cfg.Max)

	best := math.Inf(-1)
	for _, s := range scores {
		best = math.Max(best, s)
	}

	for i, s := range scores {
		if best <= 0 || s <= 0 || !eligible(i) {
			alloc[i] = minQ
			continue
		}
		alloc[i] = math.Max(math.Round(s/best*maxQ), minQ)
	}
}
