package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RunSource reports stored runs by status
type RunSource interface {
	StatusCounts(ctx context.Context) (map[string]int, error)
}

// Updater periodically refreshes run gauges from the database
type Updater struct {
	source   RunSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewUpdater creates a new metrics updater
func NewUpdater(source RunSource, interval time.Duration) *Updater {
	return &Updater{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the metrics update loop
func (u *Updater) Start(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	u.update(ctx)

	for {
		select {
		case <-ticker.C:
			u.update(ctx)
		case <-u.stopCh:
			log.Info().Msg("Metrics updater stopped")
			return
		case <-ctx.Done():
			log.Info().Msg("Metrics updater context cancelled")
			return
		}
	}
}

// Stop stops the metrics updater
func (u *Updater) Stop() {
	close(u.stopCh)
}

func (u *Updater) update(ctx context.Context) {
	counts, err := u.source.StatusCounts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch run counts")
		return
	}

	RunsByStatus.Reset()
	for status, n := range counts {
		RunsByStatus.WithLabelValues(status).Set(float64(n))
	}
	log.Debug().Int("statuses", len(counts)).Msg("Run metrics updated")
}
