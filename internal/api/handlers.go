package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratalloc/internal/archive"
	"github.com/ajitpratap0/stratalloc/internal/config"
	"github.com/ajitpratap0/stratalloc/internal/db"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 500
	dateLayout      = "2006-01-02"
)

var startTime = time.Now()

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "stratalloc",
		"version": config.Version,
		"status":  "running",
		"uptime":  time.Since(startTime).Seconds(),
	})
}

// handleGetHealth returns a simple health check (for load balancers)
func (s *Server) handleGetHealth(c *gin.Context) {
	if s.health != nil {
		if err := s.health(c.Request.Context()); err != nil {
			log.Warn().Err(err).Msg("Health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database unavailable",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) handleListAllocations(c *gin.Context) {
	if s.allocations == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "allocation store not configured"})
		return
	}

	strategy := c.Query("strategy")
	rows, err := s.allocations.List(c.Request.Context(), strategy)
	if err != nil {
		log.Error().Err(err).Str("strategy", strategy).Msg("Failed to list allocations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list allocations"})
		return
	}
	if strategy != "" && len(rows) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown strategy", "strategy": strategy})
		return
	}
	if rows == nil {
		rows = []db.AllocationRow{}
	}

	c.JSON(http.StatusOK, gin.H{
		"allocations": rows,
		"count":       len(rows),
	})
}

// handleLatestAllocations returns each strategy's most recent quantity
func (s *Server) handleLatestAllocations(c *gin.Context) {
	if s.allocations == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "allocation store not configured"})
		return
	}

	rows, err := s.allocations.List(c.Request.Context(), "")
	if err != nil {
		log.Error().Err(err).Msg("Failed to list allocations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list allocations"})
		return
	}

	latest, effective := latestRows(rows)
	resp := gin.H{
		"allocations": latest,
		"strategies":  len(latest),
	}
	if !effective.IsZero() {
		resp["effective_date"] = effective.Format(dateLayout)
	}
	c.JSON(http.StatusOK, resp)
}

func latestRows(rows []db.AllocationRow) (map[string]float64, time.Time) {
	newest := make(map[string]db.AllocationRow)
	var effective time.Time
	for _, row := range rows {
		if cur, ok := newest[row.Strategy]; !ok || row.EffectiveDate.After(cur.EffectiveDate) {
			newest[row.Strategy] = row
		}
		if row.EffectiveDate.After(effective) {
			effective = row.EffectiveDate
		}
	}

	names := make([]string, 0, len(newest))
	for name := range newest {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]float64, len(names))
	for _, name := range names {
		out[name] = newest[name].Quantity
	}
	return out, effective
}

func (s *Server) handleListRuns(c *gin.Context) {
	if s.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run store not configured"})
		return
	}

	limit := defaultRunLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxRunLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRecent(c.Request.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	if runs == nil {
		runs = []*db.Run{}
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}

func (s *Server) handleGetRun(c *gin.Context) {
	if s.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run store not configured"})
		return
	}

	runID, ok := parseRunID(c)
	if !ok {
		return
	}

	run, err := s.runs.Get(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		log.Error().Err(err).Str("run_id", runID.String()).Msg("Failed to get run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get run"})
		return
	}

	c.JSON(http.StatusOK, run)
}

// handleGetRunWindows returns per-window diagnostics from the archive
func (s *Server) handleGetRunWindows(c *gin.Context) {
	if s.archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run archive not configured"})
		return
	}

	runID, ok := parseRunID(c)
	if !ok {
		return
	}

	doc, err := s.archive.Get(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not archived"})
			return
		}
		log.Error().Err(err).Str("run_id", runID.String()).Msg("Failed to load archived run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load archived run"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":     doc.RunID,
		"strategies": doc.Strategies,
		"windows":    doc.Windows,
	})
}

func parseRunID(c *gin.Context) (uuid.UUID, bool) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return uuid.Nil, false
	}
	return runID, true
}
