package optimizer

import "math"

// runGradient walks a single real-valued vector downhill on 1/fitness, the
// minimization counterpart of the maximize-direction metrics. Each iteration
// estimates every coordinate's gradient with a +1 forward difference, steps
// by LearningRate and clamps to [Min, Max]. The final vector is rounded to
// whole contracts and reported with its maximize-direction fitness.
func (o *Optimizer) runGradient() ([]float64, float64) {
	n := o.store.NumStrategies()
	x := make([]float64, n)
	for i := range x {
		x[i] = o.randomQuantity()
	}

	candidate := make([]float64, n)
	gradient := make([]float64, n)

	for iter := 0; iter < o.cfg.Iterations; iter++ {
		current := o.objective(x)

		for i := range x {
			copy(candidate, x)
			candidate[i]++
			delta := o.objective(candidate) - current
			if math.IsNaN(delta) || math.IsInf(delta, 0) {
				delta = 0
			}
			gradient[i] = delta
		}

		for i := range x {
			x[i] = o.clamp(x[i] - o.cfg.LearningRate*gradient[i])
		}
	}

	for i := range x {
		x[i] = o.clamp(math.Round(x[i]))
	}
	return x, o.evaluate(x)
}

// objective is the quantity the gradient search minimizes.
func (o *Optimizer) objective(x []float64) float64 {
	f := o.evaluate(x)
	if f == 0 {
		return math.Inf(1)
	}
	return 1 / f
}
