package report

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/stratalloc/pkg/allocation"
	"github.com/ajitpratap0/stratalloc/pkg/timeseries"
	"github.com/ajitpratap0/stratalloc/pkg/walkforward"
)

func day(n int) time.Time {
	return time.Date(2024, 1, n, 0, 0, 0, 0, time.UTC)
}

func fixture(t *testing.T) (*timeseries.Store, *allocation.Table) {
	t.Helper()
	store, err := timeseries.New(
		[]string{"A", "B", "C"},
		[]time.Time{day(1), day(2), day(3), day(4)},
		[][]float64{
			{1, 5, 9},
			{-2, 1, 9},
			{3, -1, 9},
			{0, 4, 9},
		},
	)
	require.NoError(t, err)

	table := allocation.NewTable()
	table.Add(day(1), "A", 2)
	table.Add(day(3), "B", 1)
	table.SortByDate()
	return store, table
}

func TestAccumulate(t *testing.T) {
	store, table := fixture(t)

	lines := Accumulate(store, table)
	require.Len(t, lines, 4)

	assert.Equal(t, []float64{2, -4, 5, 4}, Series(lines))
	assert.True(t, lines[3].Cumulative.Equal(lines[0].Daily.Add(lines[1].Daily).Add(lines[2].Daily).Add(lines[3].Daily)))
	assert.Equal(t, "7", lines[3].Cumulative.String())
}

func TestWriteCSV(t *testing.T) {
	store, table := fixture(t)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, Accumulate(store, table)))

	expected := "2024-01-01,2,2\n" +
		"2024-01-02,-4,-2\n" +
		"2024-01-03,5,3\n" +
		"2024-01-04,4,7\n"
	assert.Equal(t, expected, buf.String())
}

func TestSummarize(t *testing.T) {
	store, table := fixture(t)

	s := Summarize(Accumulate(store, table))
	assert.Equal(t, 4, s.Days)
	assert.Equal(t, day(1), s.Start)
	assert.Equal(t, day(4), s.End)
	assert.InDelta(t, 7.0, s.TotalProfit, 1e-9)
	assert.InDelta(t, 4.0, s.MaxDrawdown, 1e-9)
	assert.Equal(t, 3, s.WinningDays)
	assert.Equal(t, 1, s.LosingDays)
	assert.InDelta(t, 5.0, s.BestDay, 1e-9)
	assert.InDelta(t, -4.0, s.WorstDay, 1e-9)
	assert.Contains(t, s.String(), "Total profit:  7.00")

	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestGenerateHTML(t *testing.T) {
	store, table := fixture(t)
	lines := Accumulate(store, table)

	windows := []walkforward.WindowResult{
		{
			Window:             walkforward.Window{Start: day(1), End: day(2)},
			Effective:          day(3),
			Fitness:            1.5,
			OutOfSampleFitness: 0.25,
		},
		{
			Window:    walkforward.Window{Start: day(2), End: day(3)},
			Effective: day(4),
			Fitness:   2,
			// no out-of-sample data
			OutOfSampleFitness: math.NaN(),
			Cached:             true,
		},
	}

	gen := NewGenerator("", lines, table, windows)
	html, err := gen.GenerateHTML()
	require.NoError(t, err)

	assert.Contains(t, html, "Allocation Report")
	assert.Contains(t, html, "Cumulative profit")
	assert.Contains(t, html, "2024-01-04")
	assert.Contains(t, html, "Walk-forward windows")
	assert.Contains(t, html, "n/a")
	assert.Contains(t, html, "<td>B</td>")
	assert.True(t, strings.Contains(html, "null"), "NaN fitness must render as null")

	path := filepath.Join(t.TempDir(), "report.html")
	require.NoError(t, gen.SaveToFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, html[:100], string(data[:100]))
}

func TestSaveCSV(t *testing.T) {
	store, table := fixture(t)
	path := filepath.Join(t.TempDir(), "profit.csv")

	require.NoError(t, SaveCSV(path, Accumulate(store, table)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 4)
}
