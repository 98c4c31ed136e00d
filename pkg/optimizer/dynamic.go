package optimizer

import (
	"math"

	"github.com/rs/zerolog/log"
)

// runDynamic fills a table over the lattice Min..Max for every strategy.
// Cell (i, j) keeps the better of "skip strategy i" (the cell above) and
// "take lattice value j for strategy i" (the cell to the left plus the
// fitness of strategy i at value j with every other strategy at Min).
//
// This is a heuristic approximation, not an exhaustive subset-selection
// recurrence: strategies interact through the aggregate series and the table
// ignores that. Backtracking keeps the first value recorded per strategy;
// strategies the walk never visits get FallbackSentinel.
func (o *Optimizer) runDynamic() ([]float64, float64) {
	n := o.store.NumStrategies()
	lattice := o.cfg.Max - o.cfg.Min + 1

	dp := make([][]float64, n+1)
	for i := range dp {
		dp[i] = make([]float64, lattice+1)
	}

	candidate := make([]float64, n)
	for i := 1; i <= n; i++ {
		for j := 1; j <= lattice; j++ {
			for k := range candidate {
				candidate[k] = float64(o.cfg.Min)
			}
			candidate[i-1] = float64(o.cfg.Min + j - 1)

			f := o.evaluate(candidate)
			if math.IsInf(f, 0) || math.IsNaN(f) {
				f = 0
			}
			dp[i][j] = math.Max(dp[i-1][j], dp[i][j-1]+f)
		}
	}

	alloc := make([]float64, n)
	assigned := make([]bool, n)
	for i, j := n, lattice; i > 0 && j > 0; {
		if dp[i][j] == dp[i-1][j] {
			i--
			continue
		}
		if !assigned[i-1] {
			alloc[i-1] = float64(o.cfg.Min + j - 1)
			assigned[i-1] = true
		}
		j--
	}

	missing := 0
	for i, ok := range assigned {
		if !ok {
			alloc[i] = FallbackSentinel
			missing++
		}
	}
	if missing > 0 {
		log.Warn().
			Int("strategies", missing).
			Int("sentinel", FallbackSentinel).
			Msg("Dynamic programming left strategies unassigned")
	}

	return alloc, o.evaluate(alloc)
}
