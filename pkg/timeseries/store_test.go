package timeseries

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/stratalloc/pkg/allocerr"
)

const sampleDaily = `date,Alpha,Beta
2024-01-01,1,-1
2024-01-02,2,0.5
2024-01-03,-1,1.5
2024-01-04,0,0
`

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestLoad_Daily(t *testing.T) {
	s, err := Load(strings.NewReader(sampleDaily), Daily)
	require.NoError(t, err)

	assert.Equal(t, []string{"Alpha", "Beta"}, s.Strategies())
	assert.Equal(t, 4, s.Len())
	assert.Equal(t, day(2024, 1, 1), s.FirstDate())
	assert.Equal(t, day(2024, 1, 4), s.LastDate())

	assert.Equal(t, []float64{1, 2, -1, 0}, s.StrategyDaily(0))
	assert.Equal(t, []float64{1, 3, 2, 2}, s.StrategyCumulative(0))
	assert.InDelta(t, 2.0, s.CumulativeAt(3, 1), 1e-9)
}

func TestLoad_Cumulative(t *testing.T) {
	input := `date,A
2024-01-01,5
2024-01-02,7
2024-01-03,4
`
	s, err := Load(strings.NewReader(input), Cumulative)
	require.NoError(t, err)

	assert.Equal(t, []float64{5, 2, -3}, s.StrategyDaily(0))
	assert.Equal(t, []float64{5, 7, 4}, s.StrategyCumulative(0))
}

func TestLoad_FormatErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"header only", "date,A\n"},
		{"header without strategies", "date\n2024-01-01\n"},
		{"bad date", "date,A\nnot-a-date,1\n"},
		{"bad number", "date,A\n2024-01-01,abc\n"},
		{"nan", "date,A,B\n2024-01-01,1,NaN\n2024-01-02,-1,2\n"},
		{"infinity", "date,A,B\n2024-01-01,1,2\n2024-01-02,2,Inf\n"},
		{"negative infinity", "date,A\n2024-01-01,-Inf\n"},
		{"short row", "date,A,B\n2024-01-01,1\n"},
		{"descending dates", "date,A\n2024-01-02,1\n2024-01-01,1\n"},
		{"duplicate dates", "date,A\n2024-01-01,1\n2024-01-01,1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.input), Daily)
			require.Error(t, err)
			assert.ErrorIs(t, err, allocerr.ErrFormat)
		})
	}
}

func TestParseDate_Layouts(t *testing.T) {
	for _, in := range []string{"2024-03-05", "2024/03/05", "3/5/2024", "03/05/2024", "20240305", "2024-03-05 13:45:00"} {
		got, err := ParseDate(in)
		require.NoError(t, err, in)
		assert.Equal(t, day(2024, 3, 5), got, in)
	}
}

func TestGetRange(t *testing.T) {
	s, err := Load(strings.NewReader(sampleDaily), Daily)
	require.NoError(t, err)

	sub := s.GetRange(day(2024, 1, 2), day(2024, 1, 3))
	require.Equal(t, 2, sub.Len())
	assert.Equal(t, s.Strategies(), sub.Strategies())
	assert.Equal(t, day(2024, 1, 2), sub.FirstDate())
	assert.Equal(t, []float64{2, -1}, sub.StrategyDaily(0))
	assert.Equal(t, []float64{2, 1}, sub.StrategyCumulative(0))

	empty := s.GetRange(day(2025, 1, 1), day(2025, 2, 1))
	assert.True(t, empty.IsEmpty())
	assert.Equal(t, 2, empty.NumStrategies())
}

func TestSelect(t *testing.T) {
	s, err := Load(strings.NewReader(sampleDaily), Daily)
	require.NoError(t, err)

	sub, err := s.Select([]int{1})
	require.NoError(t, err)
	assert.Equal(t, []string{"Beta"}, sub.Strategies())
	assert.Equal(t, []float64{-1, 0.5, 1.5, 0}, sub.StrategyDaily(0))

	_, err = s.Select([]int{5})
	assert.ErrorIs(t, err, allocerr.ErrLookup)
}

func TestIndex(t *testing.T) {
	s, err := Load(strings.NewReader(sampleDaily), Daily)
	require.NoError(t, err)

	idx, err := s.Index("Beta")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	_, err = s.Index("Gamma")
	assert.ErrorIs(t, err, allocerr.ErrLookup)
}

func TestSave_RoundTrip(t *testing.T) {
	s, err := Load(strings.NewReader(sampleDaily), Daily)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.Save(&buf))

	reloaded, err := Load(&buf, Daily)
	require.NoError(t, err)
	assert.Equal(t, s.Dates(), reloaded.Dates())
	for i := 0; i < s.NumStrategies(); i++ {
		assert.Equal(t, s.StrategyDaily(i), reloaded.StrategyDaily(i))
	}
}
