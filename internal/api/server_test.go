package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/stratalloc/internal/archive"
	"github.com/ajitpratap0/stratalloc/internal/db"
)

type stubAllocations struct {
	rows []db.AllocationRow
	err  error
}

func (s *stubAllocations) List(_ context.Context, strategy string) ([]db.AllocationRow, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []db.AllocationRow
	for _, r := range s.rows {
		if strategy == "" || r.Strategy == strategy {
			out = append(out, r)
		}
	}
	return out, nil
}

type stubRuns struct {
	runs  map[uuid.UUID]*db.Run
	limit int
}

func (s *stubRuns) Get(_ context.Context, id uuid.UUID) (*db.Run, error) {
	if run, ok := s.runs[id]; ok {
		return run, nil
	}
	return nil, fmt.Errorf("failed to get optimization run: %w", pgx.ErrNoRows)
}

func (s *stubRuns) ListRecent(_ context.Context, limit int) ([]*db.Run, error) {
	s.limit = limit
	var out []*db.Run
	for _, r := range s.runs {
		out = append(out, r)
	}
	return out, nil
}

type stubArchive struct {
	doc *archive.RunDocument
}

func (s *stubArchive) Get(_ context.Context, id uuid.UUID) (*archive.RunDocument, error) {
	if s.doc != nil && s.doc.RunID == id.String() {
		return s.doc, nil
	}
	return nil, fmt.Errorf("%w: %s", archive.ErrNotFound, id)
}

func date(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func newTestServer(cfg Config) http.Handler {
	gin.SetMode(gin.TestMode)
	if cfg.RequestsPerSec == 0 {
		cfg.RequestsPerSec = 1000
		cfg.Burst = 1000
	}
	return NewServer(cfg).Handler()
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func TestHealth(t *testing.T) {
	h := newTestServer(Config{})
	rec, body := get(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])

	h = newTestServer(Config{Health: func(context.Context) error { return errors.New("down") }})
	rec, body = get(t, h, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", body["status"])

	rec, body = get(t, h, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stratalloc", body["service"])
}

func TestAllocations(t *testing.T) {
	runID := uuid.New()
	store := &stubAllocations{rows: []db.AllocationRow{
		{Strategy: "A", EffectiveDate: date(2), Quantity: 2, RunID: runID},
		{Strategy: "A", EffectiveDate: date(9), Quantity: 5, RunID: runID},
		{Strategy: "B", EffectiveDate: date(2), Quantity: 1, RunID: runID},
	}}
	h := newTestServer(Config{Allocations: store})

	rec, body := get(t, h, "/api/v1/allocations")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["count"])

	rec, body = get(t, h, "/api/v1/allocations?strategy=B")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	rec, _ = get(t, h, "/api/v1/allocations?strategy=Z")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = get(t, h, "/api/v1/allocations/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2024-03-09", body["effective_date"])
	assert.Equal(t, map[string]interface{}{"A": float64(5), "B": float64(1)}, body["allocations"])

	h = newTestServer(Config{Allocations: &stubAllocations{err: errors.New("boom")}})
	rec, _ = get(t, h, "/api/v1/allocations")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	h = newTestServer(Config{})
	rec, _ = get(t, h, "/api/v1/allocations/latest")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRuns(t *testing.T) {
	id := uuid.New()
	runs := &stubRuns{runs: map[uuid.UUID]*db.Run{
		id: {ID: id, Algorithm: "dynamic", Metric: "sharpe", Status: db.RunStatusCompleted, Windows: 12},
	}}
	h := newTestServer(Config{Runs: runs})

	rec, body := get(t, h, "/api/v1/runs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, 5, runs.limit)

	rec, _ = get(t, h, "/api/v1/runs?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = get(t, h, "/api/v1/runs/"+id.String())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dynamic", body["algorithm"])
	assert.Equal(t, "COMPLETED", body["status"])

	rec, _ = get(t, h, "/api/v1/runs/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = get(t, h, "/api/v1/runs/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunWindows(t *testing.T) {
	id := uuid.New()
	fitness := 1.25
	doc := &archive.RunDocument{
		RunID:      id.String(),
		Strategies: []string{"A"},
		Windows: []archive.WindowDocument{
			{Effective: date(9), Allocation: []float64{3}, Fitness: &fitness},
			{Effective: date(2), Allocation: []float64{1}},
		},
	}
	h := newTestServer(Config{Archive: &stubArchive{doc: doc}})

	rec, body := get(t, h, "/api/v1/runs/"+id.String()+"/windows")
	require.Equal(t, http.StatusOK, rec.Code)
	windows, ok := body["windows"].([]interface{})
	require.True(t, ok)
	require.Len(t, windows, 2)
	assert.Equal(t, 1.25, windows[0].(map[string]interface{})["fitness"])
	assert.Nil(t, windows[1].(map[string]interface{})["fitness"])

	rec, _ = get(t, h, "/api/v1/runs/"+uuid.NewString()+"/windows")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h = newTestServer(Config{})
	rec, _ = get(t, h, "/api/v1/runs/"+id.String()+"/windows")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(Config{RequestsPerSec: 0.001, Burst: 2})

	for i := 0; i < 2; i++ {
		rec, _ := get(t, h, "/health")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec, body := get(t, h, "/health")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate limit exceeded", body["error"])
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	assert.Equal(t, DefaultBurst, rl.burst)

	assert.True(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.2"))
	rl.entries["10.0.0.1"].lastSeen = time.Now().Add(-time.Hour)

	assert.Equal(t, 1, rl.CleanupOldEntries(time.Minute))
	assert.Len(t, rl.entries, 1)
}
