// Package cluster reduces a strategy universe to representatives of groups of
// highly correlated strategies before an allocation search.
package cluster

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"

	"github.com/ajitpratap0/stratalloc/pkg/allocerr"
	"github.com/ajitpratap0/stratalloc/pkg/timeseries"
)

// Cluster is a group of strategy column indices searched as one.
type Cluster struct {
	Members        []int `json:"members"`
	Representative int   `json:"representative"`
}

// Build groups strategies greedily: the lowest-index unassigned strategy
// seeds a cluster and pulls in every other unassigned strategy whose
// cumulative PnL has Pearson correlation >= threshold with it. The result is
// order dependent, not a globally optimal clustering. Every strategy lands in
// exactly one cluster.
func Build(store *timeseries.Store, threshold float64) []Cluster {
	n := store.NumStrategies()
	series := make([][]float64, n)
	for i := range series {
		series[i] = store.StrategyCumulative(i)
	}

	assigned := make([]bool, n)
	var clusters []Cluster

	for seed := 0; seed < n; seed++ {
		if assigned[seed] {
			continue
		}
		assigned[seed] = true
		members := []int{seed}

		for other := seed + 1; other < n; other++ {
			if assigned[other] {
				continue
			}
			if correlation(series[seed], series[other]) >= threshold {
				assigned[other] = true
				members = append(members, other)
			}
		}

		clusters = append(clusters, Cluster{
			Members:        members,
			Representative: representative(members, series),
		})
	}

	log.Debug().
		Int("strategies", n).
		Int("clusters", len(clusters)).
		Float64("threshold", threshold).
		Msg("Built correlation clusters")

	return clusters
}

// correlation returns NaN when either series is too short or flat, which
// never compares >= any threshold.
func correlation(x, y []float64) float64 {
	if len(x) < 2 {
		return math.NaN()
	}
	return stat.Correlation(x, y, nil)
}

// representative picks the member with the highest final cumulative PnL,
// breaking ties by lowest index.
func representative(members []int, series [][]float64) int {
	best := members[0]
	bestProfit := lastValue(series[best])
	for _, m := range members[1:] {
		p := lastValue(series[m])
		if p > bestProfit {
			best, bestProfit = m, p
		}
	}
	return best
}

func lastValue(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1]
}

// Representatives returns the representative column of each cluster, in
// cluster order.
func Representatives(clusters []Cluster) []int {
	reps := make([]int, len(clusters))
	for i, c := range clusters {
		reps[i] = c.Representative
	}
	return reps
}

// Reduce builds the store the search runs on: one column per cluster.
func Reduce(store *timeseries.Store, clusters []Cluster) (*timeseries.Store, error) {
	return store.Select(Representatives(clusters))
}

// Validate checks that clusters partition [0, n).
func Validate(clusters []Cluster, n int) error {
	seen := make([]bool, n)
	count := 0
	for _, c := range clusters {
		for _, m := range c.Members {
			if m < 0 || m >= n {
				return fmt.Errorf("%w: cluster member %d out of range", allocerr.ErrConfiguration, m)
			}
			if seen[m] {
				return fmt.Errorf("%w: strategy %d assigned to more than one cluster", allocerr.ErrConfiguration, m)
			}
			seen[m] = true
			count++
		}
	}
	if count != n {
		missing := make([]int, 0, n-count)
		for i, ok := range seen {
			if !ok {
				missing = append(missing, i)
			}
		}
		sort.Ints(missing)
		return fmt.Errorf("%w: strategies %v not clustered", allocerr.ErrConfiguration, missing)
	}
	return nil
}
