// Package walkforward sequences per-window optimizations backwards from the
// most recent data and collects the results into an allocation table.
package walkforward

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/stratalloc/pkg/allocerr"
	"github.com/ajitpratap0/stratalloc/pkg/timeseries"
)

// anchorSearchDays bounds the search for the weekday a window edge snaps to.
const anchorSearchDays = 7

// Window is one in-sample span. Its result takes effect the day after End.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Effective returns the date the window's allocation starts to apply.
func (w Window) Effective() time.Time { return w.End.AddDate(0, 0, 1) }

// String implements fmt.Stringer
func (w Window) String() string {
	return w.Start.Format(timeseries.DateLayout) + ".." + w.End.Format(timeseries.DateLayout)
}

// Windows lists the in-sample windows for data spanning [first, last], most
// recent first. Every window ends on a Friday and starts on a Sunday. After
// each window the end steps back by outSampleDays and the start is placed
// inSampleDays before it (floored at first); generation stops once that span
// is shorter than inSampleDays or an edge cannot be re-anchored.
//
// ErrBoundary is returned when the data leaves no out-of-sample room after
// the first in-sample span, or the most recent window cannot be anchored.
func Windows(first, last time.Time, inSampleDays, outSampleDays int) ([]Window, error) {
	if inSampleDays <= 0 || outSampleDays <= 0 {
		return nil, fmt.Errorf("%w: in-sample (%d) and out-of-sample (%d) days must be positive",
			allocerr.ErrConfiguration, inSampleDays, outSampleDays)
	}
	if !first.AddDate(0, 0, inSampleDays).Before(last) {
		return nil, fmt.Errorf("%w: in-sample end %s is not before the last available date %s",
			allocerr.ErrBoundary, first.AddDate(0, 0, inSampleDays).Format(timeseries.DateLayout), last.Format(timeseries.DateLayout))
	}

	end, ok := previousWeekday(last, first, time.Friday)
	if !ok {
		return nil, fmt.Errorf("%w: no Friday on or before %s", allocerr.ErrBoundary, last.Format(timeseries.DateLayout))
	}
	start, ok := nextWeekday(end.AddDate(0, 0, -inSampleDays), last, time.Sunday)
	if !ok {
		return nil, fmt.Errorf("%w: no Sunday on or after %s", allocerr.ErrBoundary,
			end.AddDate(0, 0, -inSampleDays).Format(timeseries.DateLayout))
	}

	var windows []Window
	for {
		windows = append(windows, Window{Start: start, End: end})

		end = end.AddDate(0, 0, -outSampleDays)
		start = end.AddDate(0, 0, -inSampleDays)
		if start.Before(first) {
			start = first
		}
		if days(end.Sub(start)) < inSampleDays {
			break
		}

		if end, ok = previousWeekday(end, first, time.Friday); !ok {
			break
		}
		if start, ok = nextWeekday(start, last, time.Sunday); !ok {
			break
		}
	}

	return windows, nil
}

// previousWeekday finds the closest wd on or before date, not earlier than
// limit, within anchorSearchDays.
func previousWeekday(date, limit time.Time, wd time.Weekday) (time.Time, bool) {
	for i := 0; i < anchorSearchDays; i++ {
		d := date.AddDate(0, 0, -i)
		if d.Before(limit) {
			return time.Time{}, false
		}
		if d.Weekday() == wd {
			return d, true
		}
	}
	return time.Time{}, false
}

// nextWeekday finds the closest wd on or after date, not later than limit,
// within anchorSearchDays.
func nextWeekday(date, limit time.Time, wd time.Weekday) (time.Time, bool) {
	for i := 0; i < anchorSearchDays; i++ {
		d := date.AddDate(0, 0, i)
		if d.After(limit) {
			return time.Time{}, false
		}
		if d.Weekday() == wd {
			return d, true
		}
	}
	return time.Time{}, false
}

func days(d time.Duration) int {
	return int(d.Hours() / 24)
}
