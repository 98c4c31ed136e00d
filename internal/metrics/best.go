package metrics

import (
	"math"
	"sync"
)

// bestValue tracks a running maximum across concurrent windows
type bestValue struct {
	mu  sync.Mutex
	set bool
	max float64
}

func (b *bestValue) offer(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.set && v <= b.max {
		return b.max, false
	}
	b.set = true
	b.max = v
	return v, true
}
