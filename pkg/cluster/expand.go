package cluster

import (
	"fmt"
	"math"

	"github.com/ajitpratap0/stratalloc/pkg/allocerr"
	"github.com/ajitpratap0/stratalloc/pkg/timeseries"
)

// PolicyKind selects how non-representative members derive their allocation.
type PolicyKind string

const (
	// PolicyProportional scales the representative's quantity by the
	// member's cumulative profit relative to the representative's.
	PolicyProportional PolicyKind = "proportional"
	// PolicyDivisor gives every member the representative's quantity
	// divided by a constant.
	PolicyDivisor PolicyKind = "divisor"
)

// Policy configures Expand. Results are rounded to whole contracts and
// clamped to [Min, Max].
type Policy struct {
	Kind    PolicyKind
	Divisor float64
	Min     float64
	Max     float64
}

// Expand maps an allocation over the reduced store (one value per cluster)
// back onto every strategy of the full store.
func Expand(clusters []Cluster, reduced []float64, store *timeseries.Store, policy Policy) ([]float64, error) {
	if len(reduced) != len(clusters) {
		return nil, fmt.Errorf("%w: %d allocations for %d clusters", allocerr.ErrConfiguration, len(reduced), len(clusters))
	}
	if policy.Kind == PolicyDivisor && policy.Divisor <= 0 {
		return nil, fmt.Errorf("%w: cluster divisor must be positive", allocerr.ErrConfiguration)
	}

	n := store.NumStrategies()
	if err := Validate(clusters, n); err != nil {
		return nil, err
	}

	profit := make([]float64, n)
	if !store.IsEmpty() {
		last := store.Len() - 1
		for i := range profit {
			profit[i] = store.CumulativeAt(last, i)
		}
	}

	full := make([]float64, n)
	for k, c := range clusters {
		repQty := reduced[k]
		for _, m := range c.Members {
			if m == c.Representative {
				full[m] = repQty
				continue
			}
			full[m] = policy.derive(repQty, profit[c.Representative], profit[m])
		}
	}
	return full, nil
}

func (p Policy) derive(repQty, repProfit, memberProfit float64) float64 {
	var qty float64
	switch p.Kind {
	case PolicyDivisor:
		qty = repQty / p.Divisor
	default:
		if repProfit <= 0 || memberProfit <= 0 {
			return p.Min
		}
		qty = repQty * memberProfit / repProfit
	}
	return math.Max(p.Min, math.Min(p.Max, math.Round(qty)))
}
