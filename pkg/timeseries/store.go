// Package timeseries holds the per-date, per-strategy PnL matrix the
// optimizers search over.
package timeseries

import (
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/stratalloc/pkg/allocerr"
)

// Kind tells the loader how the numeric columns of an input file are encoded.
type Kind int

const (
	// Daily files hold one day's realized PnL per cell.
	Daily Kind = iota
	// Cumulative files hold running PnL totals per cell.
	Cumulative
)

// String implements fmt.Stringer
func (k Kind) String() string {
	switch k {
	case Daily:
		return "daily"
	case Cumulative:
		return "cumulative"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps "daily" or "cumulative" to a Kind.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "daily":
		return Daily, nil
	case "cumulative":
		return Cumulative, nil
	default:
		return Daily, fmt.Errorf("%w: unknown input kind %q", allocerr.ErrConfiguration, name)
	}
}

// Row is one trading day of PnL, index-aligned with Store.Strategies.
type Row struct {
	Date time.Time
	PnL  []float64
}

// Store is an immutable PnL matrix. Rows are strictly ascending by date and
// every row carries exactly one value per strategy. Daily and cumulative
// matrices are both built once at construction so fitness evaluation never
// recomputes running sums.
type Store struct {
	strategies []string
	dates      []time.Time
	daily      [][]float64 // [day][strategy]
	cumulative [][]float64 // [day][strategy]
}

// New builds a store from daily PnL rows. It validates ordering and row width.
func New(strategies []string, dates []time.Time, daily [][]float64) (*Store, error) {
	if len(dates) != len(daily) {
		return nil, fmt.Errorf("%w: %d dates for %d rows", allocerr.ErrFormat, len(dates), len(daily))
	}

	for i := range daily {
		if len(daily[i]) != len(strategies) {
			return nil, fmt.Errorf("%w: row %d has %d values, expected %d",
				allocerr.ErrFormat, i, len(daily[i]), len(strategies))
		}
		if i > 0 && !dates[i].After(dates[i-1]) {
			return nil, fmt.Errorf("%w: dates not strictly ascending at %s",
				allocerr.ErrFormat, dates[i].Format(DateLayout))
		}
	}

	s := &Store{
		strategies: append([]string(nil), strategies...),
		dates:      append([]time.Time(nil), dates...),
		daily:      make([][]float64, len(daily)),
	}
	for i, row := range daily {
		s.daily[i] = append([]float64(nil), row...)
	}
	s.cumulative = accumulate(s.daily, len(strategies))

	return s, nil
}

// fromCumulative builds a store from running totals, deriving the daily
// matrix by first difference.
func fromCumulative(strategies []string, dates []time.Time, cumulative [][]float64) (*Store, error) {
	daily := make([][]float64, len(cumulative))
	for day, row := range cumulative {
		daily[day] = make([]float64, len(row))
		for i, v := range row {
			if day == 0 || i >= len(cumulative[day-1]) {
				daily[day][i] = v
				continue
			}
			daily[day][i] = v - cumulative[day-1][i]
		}
	}
	return New(strategies, dates, daily)
}

func accumulate(daily [][]float64, width int) [][]float64 {
	cumulative := make([][]float64, len(daily))
	running := make([]float64, width)
	for day, row := range daily {
		for i, v := range row {
			running[i] += v
		}
		cumulative[day] = append([]float64(nil), running...)
	}
	return cumulative
}

// Strategies returns the strategy names in column order.
func (s *Store) Strategies() []string {
	return append([]string(nil), s.strategies...)
}

// NumStrategies returns the column count.
func (s *Store) NumStrategies() int { return len(s.strategies) }

// Len returns the number of trading days.
func (s *Store) Len() int { return len(s.dates) }

// IsEmpty reports whether the store holds no days.
func (s *Store) IsEmpty() bool { return len(s.dates) == 0 }

// Dates returns a copy of the trading days.
func (s *Store) Dates() []time.Time {
	return append([]time.Time(nil), s.dates...)
}

// Date returns the date of day index i.
func (s *Store) Date(i int) time.Time { return s.dates[i] }

// FirstDate returns the earliest day, or the zero time for an empty store.
func (s *Store) FirstDate() time.Time {
	if s.IsEmpty() {
		return time.Time{}
	}
	return s.dates[0]
}

// LastDate returns the latest day, or the zero time for an empty store.
func (s *Store) LastDate() time.Time {
	if s.IsEmpty() {
		return time.Time{}
	}
	return s.dates[len(s.dates)-1]
}

// Row returns day i as a Row. The PnL slice is shared and must not be mutated.
func (s *Store) Row(i int) Row {
	return Row{Date: s.dates[i], PnL: s.daily[i]}
}

// DailyAt returns the daily PnL of strategy i on day index day.
func (s *Store) DailyAt(day, i int) float64 { return s.daily[day][i] }

// CumulativeAt returns the running PnL of strategy i at day index day.
func (s *Store) CumulativeAt(day, i int) float64 { return s.cumulative[day][i] }

// StrategyDaily returns strategy i's daily series.
func (s *Store) StrategyDaily(i int) []float64 {
	out := make([]float64, len(s.daily))
	for day := range s.daily {
		out[day] = s.daily[day][i]
	}
	return out
}

// StrategyCumulative returns strategy i's running series.
func (s *Store) StrategyCumulative(i int) []float64 {
	out := make([]float64, len(s.cumulative))
	for day := range s.cumulative {
		out[day] = s.cumulative[day][i]
	}
	return out
}

// Index returns the column index of a strategy name.
func (s *Store) Index(name string) (int, error) {
	for i, n := range s.strategies {
		if n == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: strategy %q", allocerr.ErrLookup, name)
}

// GetRange returns the rows whose date lies in [start, end], keeping the
// strategy list and row order. Cumulative values restart at the first row of
// the range. A range that matches nothing yields an empty store.
func (s *Store) GetRange(start, end time.Time) *Store {
	lo, hi := -1, -1
	for i, d := range s.dates {
		if d.Before(start) || d.After(end) {
			continue
		}
		if lo < 0 {
			lo = i
		}
		hi = i
	}

	sub := &Store{strategies: s.strategies}
	if lo < 0 {
		return sub
	}

	sub.dates = s.dates[lo : hi+1]
	sub.daily = s.daily[lo : hi+1]
	sub.cumulative = accumulate(sub.daily, len(s.strategies))
	return sub
}

// Select returns a store restricted to the given strategy columns, in the
// order given.
func (s *Store) Select(indices []int) (*Store, error) {
	names := make([]string, len(indices))
	for k, idx := range indices {
		if idx < 0 || idx >= len(s.strategies) {
			return nil, fmt.Errorf("%w: strategy index %d out of range", allocerr.ErrLookup, idx)
		}
		names[k] = s.strategies[idx]
	}

	sub := &Store{
		strategies: names,
		dates:      s.dates,
		daily:      make([][]float64, len(s.daily)),
		cumulative: make([][]float64, len(s.cumulative)),
	}
	for day := range s.daily {
		d := make([]float64, len(indices))
		c := make([]float64, len(indices))
		for k, idx := range indices {
			d[k] = s.daily[day][idx]
			c[k] = s.cumulative[day][idx]
		}
		sub.daily[day] = d
		sub.cumulative[day] = c
	}
	return sub, nil
}
