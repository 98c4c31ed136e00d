package optimizer

import (
	"sort"

	"github.com/rs/zerolog/log"
)

// individual is one candidate allocation and its score.
type individual struct {
	genes []float64
	score float64
}

// runEvolutionary evolves a population of integer allocations for a fixed
// number of generations: the elite survive unchanged, the rest of the next
// generation is bred from elite parents by uniform crossover and uniform
// mutation. There is no convergence-based early stop.
func (o *Optimizer) runEvolutionary() ([]float64, float64) {
	popSize := o.cfg.PopulationSize
	eliteCount := int(float64(popSize) * o.cfg.EliteRatio)
	if eliteCount < 1 {
		eliteCount = 1
	}

	population := o.initializePopulation(popSize)
	var best *individual

	for gen := 0; gen < o.cfg.Generations; gen++ {
		evaluated := o.evaluatePopulation(population)

		sort.SliceStable(evaluated, func(i, j int) bool {
			return evaluated[i].score > evaluated[j].score
		})

		if best == nil || evaluated[0].score > best.score {
			top := evaluated[0]
			best = &individual{genes: append([]float64(nil), top.genes...), score: top.score}
		}

		log.Trace().
			Int("generation", gen+1).
			Int("total", o.cfg.Generations).
			Float64("best_score", evaluated[0].score).
			Msg("Generation complete")

		if gen == o.cfg.Generations-1 {
			break
		}

		elite := evaluated[:eliteCount]
		next := make([][]float64, 0, popSize)
		for _, e := range elite {
			next = append(next, append([]float64(nil), e.genes...))
		}

		for len(next) < popSize {
			parent1 := elite[o.rng.Intn(len(elite))]
			parent2 := elite[o.rng.Intn(len(elite))]
			child := o.crossover(parent1.genes, parent2.genes)
			next = append(next, o.mutate(child))
		}

		population = next
	}

	return best.genes, best.score
}

// initializePopulation creates random integer allocations.
func (o *Optimizer) initializePopulation(size int) [][]float64 {
	n := o.store.NumStrategies()
	population := make([][]float64, size)
	for i := range population {
		genes := make([]float64, n)
		for g := range genes {
			genes[g] = o.randomQuantity()
		}
		population[i] = genes
	}
	return population
}

// evaluatePopulation scores each individual exactly once.
func (o *Optimizer) evaluatePopulation(population [][]float64) []individual {
	out := make([]individual, len(population))
	for i, genes := range population {
		out[i] = individual{genes: genes, score: o.evaluate(genes)}
	}
	return out
}

// crossover performs uniform crossover
func (o *Optimizer) crossover(parent1, parent2 []float64) []float64 {
	child := make([]float64, len(parent1))
	for i := range child {
		if o.rng.Float64() < 0.5 {
			child[i] = parent1[i]
		} else {
			child[i] = parent2[i]
		}
	}
	return child
}

// mutate resamples each gene with probability MutationRate
func (o *Optimizer) mutate(genes []float64) []float64 {
	for i := range genes {
		if o.rng.Float64() < o.cfg.MutationRate {
			genes[i] = o.randomQuantity()
		}
	}
	return genes
}
