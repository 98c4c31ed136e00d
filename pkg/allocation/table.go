// Package allocation stores the time-indexed contract schedule produced by
// the walk-forward driver.
package allocation

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ajitpratap0/stratalloc/pkg/allocerr"
)

// Entry sets a strategy's quantity from Date onwards.
type Entry struct {
	Date     time.Time `json:"date"`
	Strategy string    `json:"strategy"`
	Quantity float64   `json:"quantity"`
}

// Table maps strategies to their entries. All methods are safe for
// concurrent use; one mutex guards the whole table.
type Table struct {
	mu      sync.Mutex
	entries map[string][]Entry
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[string][]Entry)}
}

// Add sets strategy's quantity at date, replacing an existing entry for the
// same date. Entry order is unspecified until SortByDate.
func (t *Table) Add(date time.Time, strategy string, quantity float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.entries[strategy]
	for i := range list {
		if list[i].Date.Equal(date) {
			list[i].Quantity = quantity
			return
		}
	}
	t.entries[strategy] = append(list, Entry{Date: date, Strategy: strategy, Quantity: quantity})
}

// SortByDate orders every strategy's entries by date.
func (t *Table) SortByDate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, list := range t.entries {
		sort.Slice(list, func(i, j int) bool { return list[i].Date.Before(list[j].Date) })
	}
}

// Get returns the quantity in effect for strategy on date: the entry with the
// latest date not after date, 0 before the first entry.
func (t *Table) Get(date time.Time, strategy string) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	list, ok := t.entries[strategy]
	if !ok {
		return 0, fmt.Errorf("%w: no allocation for strategy %q", allocerr.ErrLookup, strategy)
	}

	var (
		found bool
		at    time.Time
		qty   float64
	)
	for _, e := range list {
		if e.Date.After(date) {
			continue
		}
		if !found || e.Date.After(at) {
			found, at, qty = true, e.Date, e.Quantity
		}
	}
	return qty, nil
}

// Last returns strategy's most recent entry.
func (t *Table) Last(strategy string) (Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastLocked(strategy)
}

func (t *Table) lastLocked(strategy string) (Entry, error) {
	list, ok := t.entries[strategy]
	if !ok || len(list) == 0 {
		return Entry{}, fmt.Errorf("%w: no allocation for strategy %q", allocerr.ErrLookup, strategy)
	}
	last := list[0]
	for _, e := range list[1:] {
		if e.Date.After(last.Date) {
			last = e
		}
	}
	return last, nil
}

// Has reports whether strategy has any entry.
func (t *Table) Has(strategy string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[strategy]
	return ok
}

// Entries returns a copy of strategy's entries in stored order.
func (t *Table) Entries(strategy string) ([]Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	list, ok := t.entries[strategy]
	if !ok {
		return nil, fmt.Errorf("%w: no allocation for strategy %q", allocerr.ErrLookup, strategy)
	}
	return append([]Entry(nil), list...), nil
}

// Strategies returns every strategy name, sorted.
func (t *Table) Strategies() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.strategiesLocked()
}

func (t *Table) strategiesLocked() []string {
	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dates returns the sorted union of every entry date.
func (t *Table) Dates() []time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.datesLocked()
}

func (t *Table) datesLocked() []time.Time {
	seen := make(map[time.Time]struct{})
	var dates []time.Time
	for _, list := range t.entries {
		for _, e := range list {
			if _, ok := seen[e.Date]; ok {
				continue
			}
			seen[e.Date] = struct{}{}
			dates = append(dates, e.Date)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// LatestDate returns the most recent entry date, or the zero time.
func (t *Table) LatestDate() time.Time {
	dates := t.Dates()
	if len(dates) == 0 {
		return time.Time{}
	}
	return dates[len(dates)-1]
}

// ZeroedStrategies returns the strategies whose most recent quantity is 0.
func (t *Table) ZeroedStrategies() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zeroed []string
	for _, name := range t.strategiesLocked() {
		last, err := t.lastLocked(name)
		if err == nil && last.Quantity == 0 {
			zeroed = append(zeroed, name)
		}
	}
	return zeroed
}

// Len returns the number of strategies.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Snapshot returns every entry, ordered by strategy then date.
func (t *Table) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Entry
	for _, name := range t.strategiesLocked() {
		list := append([]Entry(nil), t.entries[name]...)
		sort.Slice(list, func(i, j int) bool { return list[i].Date.Before(list[j].Date) })
		out = append(out, list...)
	}
	return out
}

// Latest returns each strategy's most recent quantity.
func (t *Table) Latest() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]float64, len(t.entries))
	for name := range t.entries {
		if last, err := t.lastLocked(name); err == nil {
			out[name] = last.Quantity
		}
	}
	return out
}
