package allocation

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/stratalloc/pkg/allocerr"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func get(t *testing.T, table *Table, d, strategy string) float64 {
	t.Helper()
	v, err := table.Get(date(d), strategy)
	require.NoError(t, err)
	return v
}

func TestGet_ForwardFill(t *testing.T) {
	table := NewTable()
	table.Add(date("2024-02-01"), "StratA", 10)
	table.Add(date("2024-01-01"), "StratA", 5)

	assert.Equal(t, 0.0, get(t, table, "2023-12-01", "StratA"))
	assert.Equal(t, 5.0, get(t, table, "2024-01-01", "StratA"))
	assert.Equal(t, 5.0, get(t, table, "2024-01-15", "StratA"))
	assert.Equal(t, 10.0, get(t, table, "2024-02-01", "StratA"))
	assert.Equal(t, 10.0, get(t, table, "2024-03-01", "StratA"))

	table.SortByDate()
	table.SortByDate()
	assert.Equal(t, 5.0, get(t, table, "2024-01-15", "StratA"))
	assert.Equal(t, 10.0, get(t, table, "2024-03-01", "StratA"))
}

func TestGet_UnknownStrategy(t *testing.T) {
	table := NewTable()
	table.Add(date("2024-01-01"), "StratA", 5)

	_, err := table.Get(date("2024-01-01"), "StratB")
	assert.ErrorIs(t, err, allocerr.ErrLookup)

	_, err = table.Last("StratB")
	assert.ErrorIs(t, err, allocerr.ErrLookup)
}

func TestAdd_Upsert(t *testing.T) {
	table := NewTable()
	table.Add(date("2024-01-01"), "StratA", 5)
	table.Add(date("2024-01-01"), "StratA", 7)

	entries, err := table.Entries("StratA")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 7.0, entries[0].Quantity)
}

func TestAdd_Concurrent(t *testing.T) {
	table := NewTable()
	start := date("2024-01-01")

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				table.Add(start.AddDate(0, 0, w*50+i), fmt.Sprintf("S%d", i%3), float64(i))
			}
		}(w)
	}
	wg.Wait()
	table.SortByDate()

	total := 0
	for _, name := range table.Strategies() {
		entries, err := table.Entries(name)
		require.NoError(t, err)
		total += len(entries)
	}
	assert.Equal(t, 400, total)
}

func TestLastAndZeroed(t *testing.T) {
	table := NewTable()
	table.Add(date("2024-01-01"), "A", 5)
	table.Add(date("2024-02-01"), "A", 0)
	table.Add(date("2024-01-01"), "B", 3)

	last, err := table.Last("A")
	require.NoError(t, err)
	assert.Equal(t, date("2024-02-01"), last.Date)

	assert.Equal(t, []string{"A"}, table.ZeroedStrategies())
	assert.Equal(t, map[string]float64{"A": 0, "B": 3}, table.Latest())
	assert.Equal(t, date("2024-02-01"), table.LatestDate())
}

func TestWriteRead_RoundTrip(t *testing.T) {
	table := NewTable()
	table.Add(date("2024-01-01"), "Zeta", 5)
	table.Add(date("2024-02-01"), "Zeta", 2.5)
	table.Add(date("2024-01-15"), "Alpha", 3)

	var buf bytes.Buffer
	require.NoError(t, table.Write(&buf, "label"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "label,2024-01-01,2024-01-15,2024-02-01", lines[0])
	assert.Equal(t, "Alpha,0,3,3", lines[1])
	assert.Equal(t, "Zeta,5,5,2.5", lines[2])

	reloaded, err := Read(strings.NewReader(buf.String()))
	require.NoError(t, err)

	for _, d := range []string{"2023-12-31", "2024-01-01", "2024-01-10", "2024-01-15", "2024-02-01", "2025-01-01"} {
		for _, name := range []string{"Alpha", "Zeta"} {
			assert.InDelta(t, get(t, table, d, name), get(t, reloaded, d, name), 1e-9, "%s %s", name, d)
		}
	}
}

func TestRead_FormatErrors(t *testing.T) {
	tests := map[string]string{
		"empty":      "",
		"bad date":   "label,notadate\nA,1\n",
		"bad number": "label,2024-01-01\nA,x\n",
		"nan":        "label,2024-01-01\nA,NaN\n",
		"infinity":   "label,2024-01-01\nA,+Inf\n",
		"width":      "label,2024-01-01,2024-01-02\nA,1\n",
		"no name":    "label,2024-01-01\n,1\n",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Read(strings.NewReader(input))
			assert.ErrorIs(t, err, allocerr.ErrFormat)
		})
	}
}
