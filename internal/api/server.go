// Package api implements the HTTP control surface: health, source listing,
// run status and manual run triggers.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/buremba/owletto-crawlers/internal/collector"
	"github.com/buremba/owletto-crawlers/internal/logger"
	"github.com/buremba/owletto-crawlers/internal/metrics"
	"github.com/buremba/owletto-crawlers/internal/source"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// RunTrigger starts a run outside the schedule. Satisfied by the scheduler.
type RunTrigger interface {
	TriggerNow(ctx context.Context, sourceID string) (*collector.Report, error)
	NextRunAt(sourceID string) (time.Time, bool)
}

// Server exposes the collection service over HTTP.
type Server struct {
	registry *collector.Registry
	trigger  RunTrigger
	metrics  *metrics.RunMetrics
	logger   logger.Interface
	http     *http.Server
}

// NewServer creates the HTTP server on addr.
func NewServer(
	addr string,
	registry *collector.Registry,
	trigger RunTrigger,
	runMetrics *metrics.RunMetrics,
	log logger.Interface,
) *Server {
	if log == nil {
		log = logger.NewNoOp()
	}
	s := &Server{
		registry: registry,
		trigger:  trigger,
		metrics:  runMetrics,
		logger:   log,
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Router builds the Gin router with all routes.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.loggingMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	v1.GET("/sources", s.listSources)
	v1.GET("/sources/:id/status", s.sourceStatus)
	v1.POST("/sources/:id/collect", s.collectNow)
	v1.GET("/stats", s.stats)

	return router
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// sourceView is the API shape of a configured source.
type sourceView struct {
	ID                string  `json:"id"`
	Kind              string  `json:"kind"`
	MaxPages          int     `json:"max_pages"`
	RateLimitInterval string  `json:"rate_limit_interval"`
	OrderedDescending bool    `json:"ordered_descending"`
	BaselineInterval  string  `json:"baseline_interval"`
	NextRunAt         *string `json:"next_run_at,omitempty"`
}

// listSources handles GET /api/v1/sources.
func (s *Server) listSources(c *gin.Context) {
	descriptors := s.registry.Descriptors()
	views := make([]sourceView, 0, len(descriptors))
	for _, desc := range descriptors {
		views = append(views, s.toView(desc))
	}
	c.JSON(http.StatusOK, gin.H{"sources": views})
}

// sourceStatus handles GET /api/v1/sources/:id/status.
func (s *Server) sourceStatus(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.registry.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown source"})
		return
	}

	status := gin.H{"source_id": id}
	if report, ok := s.registry.LastReport(id); ok {
		status["last_run"] = gin.H{
			"run_id":      report.RunID,
			"stats":       report.Stats,
			"duration_ms": report.Duration.Milliseconds(),
			"next_run_at": report.NextRunAt,
		}
	}
	if s.trigger != nil {
		if at, ok := s.trigger.NextRunAt(id); ok {
			status["next_run_at"] = at
		}
	}
	c.JSON(http.StatusOK, status)
}

// collectNow handles POST /api/v1/sources/:id/collect.
func (s *Server) collectNow(c *gin.Context) {
	if s.trigger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler not running"})
		return
	}

	id := c.Param("id")
	report, err := s.trigger.TriggerNow(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, source.ErrUnknownKind) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown source"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id": report.RunID,
		"stats":  report.Stats,
	})
}

// stats handles GET /api/v1/stats.
func (s *Server) stats(c *gin.Context) {
	if s.metrics == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.metrics.Snapshot())
}

// toView converts a descriptor for API output.
func (s *Server) toView(desc source.Descriptor) sourceView {
	view := sourceView{
		ID:                desc.ID,
		Kind:              string(desc.Kind),
		MaxPages:          desc.MaxPages,
		RateLimitInterval: desc.RateLimitInterval.String(),
		OrderedDescending: desc.OrderedDescending,
		BaselineInterval:  desc.BaselineInterval.String(),
	}
	if s.trigger != nil {
		if at, ok := s.trigger.NextRunAt(desc.ID); ok {
			formatted := at.Format(time.RFC3339)
			view.NextRunAt = &formatted
		}
	}
	return view
}

// loggingMiddleware logs each request with its latency and status.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		)
	}
}
