package timeseries

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/stratalloc/pkg/allocerr"
)

// DateLayout is the layout used when writing dates.
const DateLayout = "2006-01-02"

// dateLayouts are tried in order when parsing input dates.
var dateLayouts = []string{
	DateLayout,
	"2006-01-02 15:04:05",
	"2006/01/02",
	"1/2/2006",
	"01/02/2006",
	"1/2/2006 15:04:05",
	"1/2/2006 3:04:05 PM",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"20060102",
}

// ParseDate parses a date in any of the accepted input layouts and truncates
// it to midnight UTC.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparsable date %q", allocerr.ErrFormat, value)
}

// LoadFile opens path and loads it with Load.
func LoadFile(path string, kind Kind) (*Store, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to open time series %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	store, err := Load(f, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to load time series %s: %w", path, err)
	}
	return store, nil
}

// Load reads a `date,<strategy...>` header followed by one row per day.
// Loading is all-or-nothing: any malformed line fails the whole load.
func Load(r io.Reader, kind Kind) (*Store, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var lines []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read time series: %w", err)
	}

	if len(lines) < 2 {
		return nil, fmt.Errorf("%w: expected header and at least one row, got %d line(s)", allocerr.ErrFormat, len(lines))
	}

	header := splitFields(lines[0])
	if len(header) < 2 {
		return nil, fmt.Errorf("%w: header needs a date column and at least one strategy", allocerr.ErrFormat)
	}
	strategies := header[1:]

	dates := make([]time.Time, 0, len(lines)-1)
	values := make([][]float64, 0, len(lines)-1)
	for n, line := range lines[1:] {
		fields := splitFields(line)
		if len(fields) != len(header) {
			return nil, fmt.Errorf("%w: line %d has %d fields, expected %d", allocerr.ErrFormat, n+2, len(fields), len(header))
		}

		date, err := ParseDate(fields[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+2, err)
		}

		row := make([]float64, len(strategies))
		for i, field := range fields[1:] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: line %d column %q: %q is not a finite number", allocerr.ErrFormat, n+2, strategies[i], field)
			}
			row[i] = v
		}

		dates = append(dates, date)
		values = append(values, row)
	}

	if kind == Cumulative {
		return fromCumulative(strategies, dates, values)
	}
	return New(strategies, dates, values)
}

// Save writes the store's daily matrix in the format Load(r, Daily) reads.
func (s *Store) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("date," + strings.Join(s.strategies, ",") + "\n"); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for day, date := range s.dates {
		var sb strings.Builder
		sb.WriteString(date.Format(DateLayout))
		for _, v := range s.daily[day] {
			sb.WriteByte(',')
			sb.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		}
		sb.WriteByte('\n')
		if _, err := bw.WriteString(sb.String()); err != nil {
			return fmt.Errorf("failed to write row %s: %w", date.Format(DateLayout), err)
		}
	}

	return bw.Flush()
}

// SaveFile writes the store to path.
func (s *Store) SaveFile(path string) error {
	f, err := os.Create(path) // #nosec G304 -- path comes from operator configuration
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := s.Save(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func splitFields(line string) []string {
	fields := strings.Split(line, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields
}
