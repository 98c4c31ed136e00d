// Package notify announces new allocation schedules on NATS.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/ajitpratap0/stratalloc/pkg/allocation"
)

// DefaultSubject is used when none is configured.
const DefaultSubject = "stratalloc.allocation.updated"

// Breaker thresholds for the broker connection
const (
	BreakerMinRequests     = 3
	BreakerFailureRatio    = 0.6
	BreakerOpenTimeout     = 30 * time.Second
	BreakerHalfOpenMaxReqs = 1
	BreakerCountInterval   = time.Minute
)

// AllocationUpdated is published after a schedule has been saved.
type AllocationUpdated struct {
	ID            uuid.UUID          `json:"id"`
	RunID         uuid.UUID          `json:"run_id"`
	EffectiveDate string             `json:"effective_date"`
	Allocations   map[string]float64 `json:"allocations"`
	Strategies    int                `json:"strategies"`
	Timestamp     time.Time          `json:"timestamp"`
}

// NewAllocationUpdated builds the message for the latest row of table.
func NewAllocationUpdated(runID uuid.UUID, table *allocation.Table) AllocationUpdated {
	latest := table.Latest()
	msg := AllocationUpdated{
		ID:          uuid.New(),
		RunID:       runID,
		Allocations: latest,
		Strategies:  len(latest),
		Timestamp:   time.Now().UTC(),
	}
	if d := table.LatestDate(); !d.IsZero() {
		msg.EffectiveDate = d.Format("2006-01-02")
	}
	return msg
}

// Conn is the subset of *nats.Conn used by the notifier
type Conn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	IsConnected() bool
	Close()
}

// Notifier publishes allocation updates through a circuit breaker
type Notifier struct {
	conn    Conn
	subject string
	breaker *gobreaker.CircuitBreaker
}

// Connect dials NATS and returns a notifier publishing on subject
func Connect(url, subject string) (*Notifier, error) {
	nc, err := nats.Connect(
		url,
		nats.Name("stratalloc-notifier"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(5),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Info().
		Str("nats_url", url).
		Str("subject", subject).
		Msg("Notifier initialized")

	return New(nc, subject), nil
}

// New wraps an existing connection.
func New(conn Conn, subject string) *Notifier {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Notifier{
		conn:    conn,
		subject: subject,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "nats",
			MaxRequests: BreakerHalfOpenMaxReqs,
			Interval:    BreakerCountInterval,
			Timeout:     BreakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= BreakerMinRequests && failureRatio >= BreakerFailureRatio
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				log.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Circuit breaker state changed")
			},
		}),
	}
}

// Subject returns the subject messages are published on
func (n *Notifier) Subject() string {
	return n.subject
}

// State returns the breaker state
func (n *Notifier) State() gobreaker.State {
	return n.breaker.State()
}

// Publish sends msg and flushes so delivery failures surface here.
func (n *Notifier) Publish(ctx context.Context, msg AllocationUpdated) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	_, err = n.breaker.Execute(func() (interface{}, error) {
		if !n.conn.IsConnected() {
			return nil, fmt.Errorf("notifier not connected")
		}
		if err := n.conn.Publish(n.subject, data); err != nil {
			return nil, err
		}
		return nil, n.conn.FlushTimeout(2 * time.Second)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			log.Warn().Str("subject", n.subject).Msg("Notification skipped, circuit open")
		}
		return fmt.Errorf("failed to publish allocation update: %w", err)
	}

	log.Info().
		Str("subject", n.subject).
		Str("run_id", msg.RunID.String()).
		Str("effective_date", msg.EffectiveDate).
		Int("strategies", msg.Strategies).
		Msg("Allocation update published")
	return nil
}

// Close drains nothing and closes the connection
func (n *Notifier) Close() {
	if n != nil && n.conn != nil {
		n.conn.Close()
	}
}
