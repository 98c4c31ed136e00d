package allocation

import (
	"github.com/rs/zerolog/log"
)

// MergeCase classifies a strategy when a realtime run is folded into the
// previously published table.
type MergeCase string

const (
	// CaseContinuing strategies appear in both tables.
	CaseContinuing MergeCase = "continuing"
	// CaseAdded strategies appear only in the current run.
	CaseAdded MergeCase = "added"
	// CaseCeasedActive strategies are missing from the current run but still
	// trade; they were left out because they are too new to optimize.
	CaseCeasedActive MergeCase = "ceased_active"
	// CaseCeasedInactive strategies are missing from the current run and no
	// longer trade.
	CaseCeasedInactive MergeCase = "ceased_inactive"
)

// mergeRule says what each case contributes to the merged table.
type mergeRule struct {
	// keepHistory copies the previous entries.
	keepHistory bool
	// zeroHistory writes 0 at every historical date of the previous table.
	zeroHistory bool
	// latest picks the quantity written at the new effective date.
	latest func(prev, cur float64, factor float64) float64
}

// mergeRules is the single precedence table for realtime merges.
var mergeRules = map[MergeCase]mergeRule{
	CaseContinuing: {
		keepHistory: true,
		latest:      func(_, cur, factor float64) float64 { return scale(cur, factor) },
	},
	CaseAdded: {
		zeroHistory: true,
		latest:      func(_, cur, factor float64) float64 { return scale(cur, factor) },
	},
	CaseCeasedActive: {
		keepHistory: true,
		latest:      func(prev, _, _ float64) float64 { return prev },
	},
	CaseCeasedInactive: {
		keepHistory: true,
		latest:      func(_, _, _ float64) float64 { return 0 },
	},
}

// scale applies the multiplication factor to real allocations. Quantities of
// 1 or less are placeholders and are never scaled.
func scale(qty, factor float64) float64 {
	if qty > 1 {
		return qty * factor
	}
	return qty
}

// Classify returns the merge case of strategy.
func Classify(inPrevious, inCurrent, active bool) MergeCase {
	switch {
	case inPrevious && inCurrent:
		return CaseContinuing
	case inCurrent:
		return CaseAdded
	case active:
		return CaseCeasedActive
	default:
		return CaseCeasedInactive
	}
}

// MergeRealtime folds the latest values of current into previous and returns
// a new sorted table. The new values take effect at current's latest date.
// active names the strategies that still trade but were not optimized.
func MergeRealtime(previous, current *Table, factor float64, active map[string]bool) *Table {
	merged := NewTable()
	effective := current.LatestDate()
	history := previous.Dates()

	names := make(map[string]struct{})
	for _, n := range previous.Strategies() {
		names[n] = struct{}{}
	}
	for _, n := range current.Strategies() {
		names[n] = struct{}{}
	}

	counts := make(map[MergeCase]int)
	for name := range names {
		inPrev := previous.Has(name)
		inCur := current.Has(name)
		mc := Classify(inPrev, inCur, active[name])
		rule := mergeRules[mc]
		counts[mc]++

		var prevQty, curQty float64
		if inPrev {
			if last, err := previous.Last(name); err == nil {
				prevQty = last.Quantity
			}
			if rule.keepHistory {
				entries, _ := previous.Entries(name)
				for _, e := range entries {
					merged.Add(e.Date, name, e.Quantity)
				}
			}
		}
		if inCur {
			if last, err := current.Last(name); err == nil {
				curQty = last.Quantity
			}
		}
		if rule.zeroHistory {
			for _, d := range history {
				merged.Add(d, name, 0)
			}
		}

		if !effective.IsZero() {
			merged.Add(effective, name, rule.latest(prevQty, curQty, factor))
		}
	}

	merged.SortByDate()

	log.Info().
		Time("effective", effective).
		Int("continuing", counts[CaseContinuing]).
		Int("added", counts[CaseAdded]).
		Int("ceased_active", counts[CaseCeasedActive]).
		Int("ceased_inactive", counts[CaseCeasedInactive]).
		Msg("Merged realtime allocation")

	return merged
}
