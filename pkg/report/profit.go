// Package report turns an allocation schedule and the PnL it was fitted on
// into the accumulated profit report.
package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/stratalloc/pkg/allocation"
	"github.com/ajitpratap0/stratalloc/pkg/fitness"
	"github.com/ajitpratap0/stratalloc/pkg/timeseries"
)

// Line is one day of the profit report.
type Line struct {
	Date       time.Time       `json:"date"`
	Daily      decimal.Decimal `json:"daily"`
	Cumulative decimal.Decimal `json:"cumulative"`
}

// Accumulate applies the allocation in effect on each day of store to that
// day's PnL. Strategies the table does not know trade zero contracts.
func Accumulate(store *timeseries.Store, table *allocation.Table) []Line {
	strategies := store.Strategies()
	known := make([]bool, len(strategies))
	var unknown []string
	for i, name := range strategies {
		known[i] = table.Has(name)
		if !known[i] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		log.Warn().
			Strs("strategies", unknown).
			Msg("Strategies without allocation contribute no profit")
	}

	lines := make([]Line, 0, store.Len())
	cumulative := decimal.Zero

	for day := 0; day < store.Len(); day++ {
		row := store.Row(day)
		daily := decimal.Zero
		for i, name := range strategies {
			if !known[i] {
				continue
			}
			qty, err := table.Get(row.Date, name)
			if err != nil || qty == 0 {
				continue
			}
			daily = daily.Add(decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(row.PnL[i])))
		}
		cumulative = cumulative.Add(daily)
		lines = append(lines, Line{Date: row.Date, Daily: daily, Cumulative: cumulative})
	}

	return lines
}

// WriteCSV writes one `date,daily,cumulative` line per day.
func WriteCSV(w io.Writer, lines []Line) error {
	bw := bufio.NewWriter(w)
	for _, l := range lines {
		if _, err := fmt.Fprintf(bw, "%s,%s,%s\n", l.Date.Format(timeseries.DateLayout), l.Daily.String(), l.Cumulative.String()); err != nil {
			return fmt.Errorf("failed to write profit line: %w", err)
		}
	}
	return bw.Flush()
}

// SaveCSV writes the report to path.
func SaveCSV(path string, lines []Line) error {
	f, err := os.Create(path) // #nosec G304 -- path comes from operator configuration
	if err != nil {
		return fmt.Errorf("failed to create profit report %s: %w", path, err)
	}
	if err := WriteCSV(f, lines); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ============================================================================
// SUMMARY
// ============================================================================

// Summary condenses a profit report.
type Summary struct {
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Days         int       `json:"days"`
	TotalProfit  float64   `json:"total_profit"`
	MaxDrawdown  float64   `json:"max_drawdown"`
	SharpeRatio  float64   `json:"sharpe_ratio"`
	SortinoRatio float64   `json:"sortino_ratio"`
	WinningDays  int       `json:"winning_days"`
	LosingDays   int       `json:"losing_days"`
	BestDay      float64   `json:"best_day"`
	WorstDay     float64   `json:"worst_day"`
}

// Summarize computes headline statistics of lines.
func Summarize(lines []Line) Summary {
	var s Summary
	if len(lines) == 0 {
		return s
	}

	series := Series(lines)
	s.Start = lines[0].Date
	s.End = lines[len(lines)-1].Date
	s.Days = len(lines)
	s.TotalProfit = lines[len(lines)-1].Cumulative.InexactFloat64()
	s.SharpeRatio = fitness.Sharpe(series)
	s.SortinoRatio = fitness.Sortino(series)
	s.BestDay, s.WorstDay = series[0], series[0]

	s.MaxDrawdown = fitness.Drawdown(series)

	for _, v := range series {
		switch {
		case v > 0:
			s.WinningDays++
		case v < 0:
			s.LosingDays++
		}
		if v > s.BestDay {
			s.BestDay = v
		}
		if v < s.WorstDay {
			s.WorstDay = v
		}
	}
	return s
}

// Series returns the daily profits as floats.
func Series(lines []Line) []float64 {
	out := make([]float64, len(lines))
	for i, l := range lines {
		out[i] = l.Daily.InexactFloat64()
	}
	return out
}

// String renders the summary as plain text.
func (s Summary) String() string {
	var sb strings.Builder
	sb.WriteString("=== ALLOCATION PROFIT REPORT ===\n")
	fmt.Fprintf(&sb, "Period:        %s .. %s (%d days)\n", s.Start.Format(timeseries.DateLayout), s.End.Format(timeseries.DateLayout), s.Days)
	fmt.Fprintf(&sb, "Total profit:  %.2f\n", s.TotalProfit)
	fmt.Fprintf(&sb, "Max drawdown:  %.2f\n", s.MaxDrawdown)
	fmt.Fprintf(&sb, "Sharpe:        %.2f\n", s.SharpeRatio)
	fmt.Fprintf(&sb, "Sortino:       %.2f\n", s.SortinoRatio)
	fmt.Fprintf(&sb, "Winning days:  %d\n", s.WinningDays)
	fmt.Fprintf(&sb, "Losing days:   %d\n", s.LosingDays)
	fmt.Fprintf(&sb, "Best day:      %.2f\n", s.BestDay)
	fmt.Fprintf(&sb, "Worst day:     %.2f\n", s.WorstDay)
	return sb.String()
}
