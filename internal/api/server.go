// Package api exposes report generation and retrieval over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/cervicel-cytology-server/internal/domain"
	"github.com/cervicel-cytology-server/internal/middleware"
	"github.com/cervicel-cytology-server/internal/service"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// maxMultipartMemory is the part of an upload kept in memory; the rest spills to disk.
const maxMultipartMemory = 32 << 20

// HealthCheck probes one dependency. A non-nil error marks the server unhealthy.
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP server
type Server struct {
	config  *domain.Config
	reports *service.ReportService
	logger  *logrus.Logger
	checks  map[string]HealthCheck
	router  *gin.Engine
	server  *http.Server
}

// ServerOption customises a Server.
type ServerOption func(*Server)

// WithHealthCheck registers a dependency probe reported under name by GET /health.
func WithHealthCheck(name string, check HealthCheck) ServerOption {
	return func(s *Server) {
		s.checks[name] = check
	}
}

// NewServer creates a new HTTP server instance
func NewServer(cfg *domain.Config, reports *service.ReportService, logger *logrus.Logger, opts ...ServerOption) (*Server, error) {
	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	limiter, err := middleware.NewRateLimiter(cfg.API.RateLimit, cfg.API.RateBurst, 0)
	if err != nil {
		return nil, fmt.Errorf("creating rate limiter: %w", err)
	}

	router := gin.New()
	router.MaxMultipartMemory = maxMultipartMemory

	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.AuditLogger(logger))
	router.Use(middleware.SecurityHeaders())

	s := &Server{
		config:  cfg,
		reports: reports,
		logger:  logger,
		checks:  make(map[string]HealthCheck),
		router:  router,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes(limiter, cfg.Server.RequestTimeout)
	return s, nil
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes(limiter *middleware.RateLimiter, requestTimeout time.Duration) {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	v1.Use(limiter.Middleware(), middleware.RequestTimeout(requestTimeout))
	{
		v1.POST("/reports", s.handleCreateReport)
		v1.POST("/interpret", s.handleInterpret)
		v1.GET("/reports", s.handleListReports)
		v1.GET("/reports/:id", s.handleGetReport)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	components := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			components[name] = err.Error()
			status = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	c.JSON(code, gin.H{
		"status":     status,
		"app":        s.config.AppName,
		"components": components,
		"timestamp":  time.Now().UTC(),
		"version":    Version,
	})
}
