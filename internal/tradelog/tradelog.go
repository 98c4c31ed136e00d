// Package tradelog turns the tail of a trade-completion log into the daily
// PnL matrix consumed by a realtime optimization run.
package tradelog

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratalloc/pkg/allocerr"
	"github.com/ajitpratap0/stratalloc/pkg/timeseries"
)

// Field layout of a trade-completion line.
const (
	FieldCount    = 15
	fieldClose    = 6
	fieldStrategy = 10
	fieldPnL      = 11
)

// DefaultMaxLines is how much of the log tail is read when Options.MaxLines
// is not set.
const DefaultMaxLines = 10000

// Trade is one completed trade.
type Trade struct {
	Date     time.Time
	Strategy string
	PnL      float64
}

// ParseLine parses one trade-completion line. Only the close date, strategy
// and realized PnL fields are kept.
func ParseLine(line string) (Trade, error) {
	parts := strings.Split(line, ",")
	if len(parts) != FieldCount {
		return Trade{}, fmt.Errorf("%w: trade line has %d fields, expected %d: %q",
			allocerr.ErrFormat, len(parts), FieldCount, line)
	}

	date, err := timeseries.ParseDate(parts[fieldClose])
	if err != nil {
		return Trade{}, fmt.Errorf("wrong close date in trade line: %w", err)
	}

	pnl, err := strconv.ParseFloat(strings.TrimSpace(parts[fieldPnL]), 64)
	if err != nil || math.IsNaN(pnl) || math.IsInf(pnl, 0) {
		return Trade{}, fmt.Errorf("%w: wrong PnL %q in trade line", allocerr.ErrFormat, parts[fieldPnL])
	}

	return Trade{
		Date:     date,
		Strategy: strings.TrimSpace(parts[fieldStrategy]),
		PnL:      pnl,
	}, nil
}

// Options controls ingestion.
type Options struct {
	// MaxLines is the number of trailing lines consumed.
	MaxLines int
	// InSampleDays is the minimum history a strategy needs before it is
	// optimized.
	InSampleDays int
	// Zeroed strategies are ignored entirely.
	Zeroed []string
	// Now is the reference date; defaults to today.
	Now time.Time
}

// Ledger accumulates daily PnL per strategy.
type Ledger struct {
	now          time.Time
	daily        map[time.Time]map[string]float64
	lastTrade    map[string]time.Time
	notOptimized map[string]bool
}

// ReadFile opens path and ingests it with Read.
func ReadFile(path string, opts Options) (*Ledger, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to open trade log %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	ledger, err := Read(f, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read trade log %s: %w", path, err)
	}
	return ledger, nil
}

// Read consumes the last opts.MaxLines lines of r. A strategy whose first
// trade in the tail is within opts.InSampleDays of Now is recorded as not
// optimized and all of its trades are skipped.
func Read(r io.Reader, opts Options) (*Ledger, error) {
	if opts.MaxLines <= 0 {
		opts.MaxLines = DefaultMaxLines
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	lines, err := tail(r, opts.MaxLines)
	if err != nil {
		return nil, err
	}

	zeroed := make(map[string]bool, len(opts.Zeroed))
	for _, name := range opts.Zeroed {
		zeroed[name] = true
	}

	l := &Ledger{
		now:          now,
		daily:        make(map[time.Time]map[string]float64),
		lastTrade:    make(map[string]time.Time),
		notOptimized: make(map[string]bool),
	}

	skipped := 0
	for _, line := range lines {
		trade, err := ParseLine(line)
		if err != nil {
			return nil, err
		}
		if zeroed[trade.Strategy] {
			skipped++
			continue
		}
		if _, seen := l.lastTrade[trade.Strategy]; !seen {
			if int(now.Sub(trade.Date).Hours()/24) < opts.InSampleDays {
				l.notOptimized[trade.Strategy] = true
				skipped++
				continue
			}
		}
		l.add(trade)
	}

	log.Debug().
		Int("lines", len(lines)).
		Int("skipped", skipped).
		Int("strategies", len(l.lastTrade)).
		Int("not_optimized", len(l.notOptimized)).
		Msg("Trade log ingested")

	return l, nil
}

func (l *Ledger) add(t Trade) {
	l.lastTrade[t.Strategy] = t.Date
	day, ok := l.daily[t.Date]
	if !ok {
		day = make(map[string]float64)
		l.daily[t.Date] = day
	}
	day[t.Strategy] += t.PnL
}

// NotOptimized returns the strategies that trade but have too little
// history to be optimized. They are still active for a realtime merge.
func (l *Ledger) NotOptimized() map[string]bool {
	out := make(map[string]bool, len(l.notOptimized))
	for name := range l.notOptimized {
		out[name] = true
	}
	return out
}

// Strategies returns every strategy with ingested trades, sorted.
func (l *Ledger) Strategies() []string {
	names := make([]string, 0, len(l.lastTrade))
	for name := range l.lastTrade {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LastTrade returns the date of the most recent trade of strategy.
func (l *Ledger) LastTrade(strategy string) (time.Time, bool) {
	d, ok := l.lastTrade[strategy]
	return d, ok
}

// Build returns the daily PnL store. Strategies whose last trade is more
// than inactivityDays before Now are dropped; days without a trade for a
// strategy carry 0, and days without a trade from any kept strategy are
// omitted. A non-positive inactivityDays keeps every strategy.
func (l *Ledger) Build(inactivityDays int) (*timeseries.Store, error) {
	var strategies []string
	for _, name := range l.Strategies() {
		last := l.lastTrade[name]
		if inactivityDays > 0 && int(l.now.Sub(last).Hours()/24) > inactivityDays {
			log.Info().
				Str("strategy", name).
				Time("last_trade", last).
				Msg("Dropping inactive strategy")
			continue
		}
		strategies = append(strategies, name)
	}
	if len(strategies) == 0 {
		return nil, fmt.Errorf("%w: no active strategies in trade log", allocerr.ErrEmptyInput)
	}

	// Days on which only dropped strategies traded are left out.
	dates := make([]time.Time, 0, len(l.daily))
	for d, trades := range l.daily {
		for _, name := range strategies {
			if _, ok := trades[name]; ok {
				dates = append(dates, d)
				break
			}
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	rows := make([][]float64, len(dates))
	for i, d := range dates {
		row := make([]float64, len(strategies))
		for j, name := range strategies {
			row[j] = l.daily[d][name]
		}
		rows[i] = row
	}

	return timeseries.New(strategies, dates, rows)
}

// tail returns the last n non-blank lines of r.
func tail(r io.Reader, n int) ([]string, error) {
	ring := make([]string, n)
	count := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		ring[count%n] = line
		count++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan trade log: %w", err)
	}

	if count <= n {
		return ring[:count], nil
	}
	start := count % n
	return append(ring[start:], ring[:start]...), nil
}
