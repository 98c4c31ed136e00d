package allocation

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
	"github.com/ajitpratap0/stratalloc/pkg/timeseries"
)

// DefaultLabel heads the strategy column of a saved table.
const DefaultLabel = "strategy"

// Write stores the table as a rectangle: a header of label plus every entry
// date, then one row per strategy (alphabetical) holding the quantity in
// effect at each header date.
func (t *Table) Write(w io.Writer, label string) error {
	if label == "" {
		label = DefaultLabel
	}

	t.mu.Lock()
	dates := t.datesLocked()
	names := t.strategiesLocked()
	t.mu.Unlock()

	bw := bufio.NewWriter(w)

	header := make([]string, 0, len(dates)+1)
	header = append(header, label)
	for _, d := range dates {
		header = append(header, d.Format(timeseries.DateLayout))
	}
	if _, err := bw.WriteString(strings.Join(header, ",") + "\n"); err != nil {
		return fmt.Errorf("failed to write allocation header: %w", err)
	}

	for _, name := range names {
		row := make([]string, 0, len(dates)+1)
		row = append(row, name)
		for _, d := range dates {
			qty, err := t.Get(d, name)
			if err != nil {
				return err
			}
			row = append(row, strconv.FormatFloat(qty, 'f', -1, 64))
		}
		if _, err := bw.WriteString(strings.Join(row, ",") + "\n"); err != nil {
			return fmt.Errorf("failed to write allocation row %s: %w", name, err)
		}
	}

	return bw.Flush()
}

// Save writes the table to path.
func (t *Table) Save(path, label string) error {
	f, err := os.Create(path) // #nosec G304 -- path comes from operator configuration
	if err != nil {
		return fmt.Errorf("failed to create allocation file %s: %w", path, err)
	}
	if err := t.Write(f, label); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Read parses a table written by Write.
func Read(r io.Reader) (*Table, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var lines []string
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read allocation table: %w", err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: allocation table is empty", allocerr.ErrFormat)
	}

	header := strings.Split(lines[0], ",")
	dates := make([]time.Time, 0, len(header)-1)
	for _, field := range header[1:] {
		d, err := timeseries.ParseDate(field)
		if err != nil {
			return nil, fmt.Errorf("allocation header: %w", err)
		}
		dates = append(dates, d)
	}

	table := NewTable()
	for n, line := range lines[1:] {
		fields := strings.Split(line, ",")
		if len(fields) != len(header) {
			return nil, fmt.Errorf("%w: allocation line %d has %d fields, expected %d",
				allocerr.ErrFormat, n+2, len(fields), len(header))
		}

		name := strings.TrimSpace(fields[0])
		if name == "" {
			return nil, fmt.Errorf("%w: allocation line %d has no strategy name", allocerr.ErrFormat, n+2)
		}

		for i, field := range fields[1:] {
			qty, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil || math.IsNaN(qty) || math.IsInf(qty, 0) {
				return nil, fmt.Errorf("%w: allocation line %d: %q is not a finite number", allocerr.ErrFormat, n+2, field)
			}
			table.Add(dates[i], name, qty)
		}
	}

	table.SortByDate()
	return table, nil
}

// LoadFile reads a table from path.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to open allocation file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	table, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load allocation file %s: %w", path, err)
	}
	return table, nil
}
