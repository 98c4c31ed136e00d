package walkforward

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/stratalloc/pkg/allocerr"
)

func TestWindows_400Days(t *testing.T) {
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 0, 399)

	windows, err := Windows(first, last, 300, 30)
	require.NoError(t, err)
	require.NotEmpty(t, windows)

	for i, w := range windows {
		assert.Equal(t, time.Friday, w.End.Weekday(), "window %d end", i)
		assert.Equal(t, time.Sunday, w.Start.Weekday(), "window %d start", i)
		assert.False(t, w.End.After(last))
		assert.False(t, w.Start.Before(first))
		assert.True(t, w.Start.Before(w.End))
		assert.Equal(t, w.End.AddDate(0, 0, 1), w.Effective())

		if i > 0 {
			assert.True(t, w.End.Before(windows[i-1].End), "end dates must strictly decrease")
		}
	}
}

func TestWindows_MostRecentAnchoring(t *testing.T) {
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) // Monday
	last := time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC)  // Wednesday

	windows, err := Windows(first, last, 60, 14)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC), windows[0].End)
	// 60 days before May 31 is Apr 1 (Monday); the next Sunday is Apr 7
	assert.Equal(t, time.Date(2024, 4, 7, 0, 0, 0, 0, time.UTC), windows[0].Start)
	assert.Equal(t, time.Date(2024, 5, 17, 0, 0, 0, 0, time.UTC), windows[1].End)
}

func TestWindows_Boundary(t *testing.T) {
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := Windows(first, first.AddDate(0, 0, 100), 300, 30)
	assert.ErrorIs(t, err, allocerr.ErrBoundary)

	_, err = Windows(first, first.AddDate(0, 0, 300), 300, 30)
	assert.ErrorIs(t, err, allocerr.ErrBoundary)

	_, err = Windows(first, first.AddDate(0, 0, 400), 0, 30)
	assert.ErrorIs(t, err, allocerr.ErrConfiguration)
}

func TestWindows_Terminates(t *testing.T) {
	first := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(4, 0, 0)

	for _, out := range []int{1, 7, 11, 30, 90} {
		windows, err := Windows(first, last, 300, out)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(windows), (4*366-300)/out+2, "out=%d", out)
	}
}
