package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddJob_InvalidSchedule(t *testing.T) {
	s := New(context.Background(), zerolog.Nop())
	err := s.AddJob("not a schedule", JobFunc{JobName: "x", Fn: func(context.Context) error { return nil }})
	assert.Error(t, err)

	// five-field specs are rejected because the seconds field is required
	err = s.AddJob("30 23 * * FRI", JobFunc{JobName: "x", Fn: func(context.Context) error { return nil }})
	assert.Error(t, err)

	assert.NoError(t, s.AddJob("0 30 23 * * FRI", JobFunc{JobName: "weekly", Fn: func(context.Context) error { return nil }}))
}

func TestScheduler_RunsJob(t *testing.T) {
	var runs atomic.Int32
	done := make(chan struct{}, 1)

	s := New(context.Background(), zerolog.Nop())
	require.NoError(t, s.AddJob("* * * * * *", JobFunc{
		JobName: "tick",
		Fn: func(context.Context) error {
			if runs.Add(1) == 1 {
				done <- struct{}{}
			}
			return errors.New("logged, not fatal")
		},
	}))

	s.Start()
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
	assert.GreaterOrEqual(t, runs.Load(), int32(1))
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	var running, maxRunning atomic.Int32
	release := make(chan struct{})

	s := New(context.Background(), zerolog.Nop())
	require.NoError(t, s.AddJob("* * * * * *", JobFunc{
		JobName: "slow",
		Fn: func(context.Context) error {
			n := running.Add(1)
			for {
				m := maxRunning.Load()
				if n <= m || maxRunning.CompareAndSwap(m, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return nil
		},
	}))

	s.Start()
	time.Sleep(2500 * time.Millisecond)
	close(release)
	s.Stop()

	assert.Equal(t, int32(1), maxRunning.Load())
}

func TestRunNow(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")
	s := New(ctx, zerolog.Nop())

	var got interface{}
	err := s.RunNow(JobFunc{JobName: "now", Fn: func(ctx context.Context) error {
		got = ctx.Value(key{})
		return nil
	}})
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}
