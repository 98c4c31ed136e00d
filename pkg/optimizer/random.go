package optimizer

// runRandom draws a uniform allocation with no search. Its fitness is
// reported as 0; it only serves as a baseline.
func (o *Optimizer) runRandom() ([]float64, float64) {
	alloc := make([]float64, o.store.NumStrategies())
	for i := range alloc {
		alloc[i] = o.randomQuantity()
	}
	return alloc, 0
}
