// Package api serves the stored allocation schedule and run history over a
// read-only REST interface.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratalloc/internal/archive"
	"github.com/ajitpratap0/stratalloc/internal/db"
	"github.com/ajitpratap0/stratalloc/internal/metrics"
)

// AllocationReader lists stored allocation rows
type AllocationReader interface {
	List(ctx context.Context, strategy string) ([]db.AllocationRow, error)
}

// RunReader reads run bookkeeping
type RunReader interface {
	Get(ctx context.Context, runID uuid.UUID) (*db.Run, error)
	ListRecent(ctx context.Context, limit int) ([]*db.Run, error)
}

// RunArchive returns archived run documents
type RunArchive interface {
	Get(ctx context.Context, runID uuid.UUID) (*archive.RunDocument, error)
}

// Server represents the REST API server
type Server struct {
	router      *gin.Engine
	allocations AllocationReader
	runs        RunReader
	archive     RunArchive
	health      func(ctx context.Context) error
	limiter     *RateLimiter
	addr        string
	server      *http.Server
	stop        chan struct{}
}

// Config contains server configuration
type Config struct {
	Host string
	Port int

	Allocations AllocationReader
	Runs        RunReader
	Archive     RunArchive // optional

	// Health reports backing store health; nil means always healthy
	Health func(ctx context.Context) error

	RequestsPerSec float64
	Burst          int
	AllowOrigins   []string
}

// NewServer creates a new API server
func NewServer(config Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	origins := config.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	limiter := NewRateLimiter(config.RequestsPerSec, config.Burst)

	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(metrics.GinMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))
	router.Use(limiter.Middleware())

	server := &Server{
		router:      router,
		allocations: config.Allocations,
		runs:        config.Runs,
		archive:     config.Archive,
		health:      config.Health,
		limiter:     limiter,
		addr:        fmt.Sprintf("%s:%d", config.Host, config.Port),
		stop:        make(chan struct{}),
	}

	server.setupRoutes()

	return server
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.limiter.StartCleanupWorker(time.Minute, s.stop)

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping API server")

	if s.server != nil {
		close(s.stop)
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}

	return nil
}

// LoggerMiddleware is a custom logging middleware for Gin
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logEvent := log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP())

		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}

		logEvent.Msg("API request")
	}
}
