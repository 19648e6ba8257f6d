// Package http provides the daemon's HTTP API: health and readiness
// probes, the run-history endpoints the CLI and dashboard poll, the active
// policy document, and the GitHub webhook intake route.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gated/internal/archive"
	"github.com/fyrsmithlabs/gated/internal/intake"
	"github.com/fyrsmithlabs/gated/internal/policy"
	"github.com/fyrsmithlabs/gated/internal/worker"
)

// Server provides HTTP endpoints for gated.
type Server struct {
	echo   *echo.Echo
	logger *zap.Logger
	config *Config
	deps   Deps
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Deps bundles what the handlers read. Archive and Policy are required.
// Intake may be nil when webhook intake is disabled; its route is then not
// registered. Pool may be nil in CLI-embedded servers.
type Deps struct {
	Archive *archive.Store
	Policy  func() *policy.Policy
	Intake  *intake.Handler
	Pool    *worker.Pool
	Version string
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	if deps.Archive == nil {
		return nil, fmt.Errorf("archive store cannot be nil")
	}
	if deps.Policy == nil {
		return nil, fmt.Errorf("policy source cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		logger: logger,
		config: cfg,
		deps:   deps,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Probes
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/ready", s.handleReady)

	// API v1 routes
	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.GET("/policy", s.handlePolicy)

	// Webhook intake
	if s.deps.Intake != nil {
		s.echo.POST("/webhook/github", s.deps.Intake.Webhook)
	}
}

// Echo exposes the underlying router so the daemon can attach extra
// handlers (the prometheus /metrics endpoint).
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// handleHealth returns a simple liveness response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.deps.Version,
	})
}

// handleReady reports whether the daemon can take work: the archive must
// answer and a policy must be loaded.
func (s *Server) handleReady(c echo.Context) error {
	resp := ReadyResponse{
		Ready:  true,
		Checks: map[string]string{},
	}

	if err := s.deps.Archive.Ping(c.Request().Context()); err != nil {
		resp.Ready = false
		resp.Checks["archive"] = err.Error()
	} else {
		resp.Checks["archive"] = "ok"
	}

	if s.deps.Policy() == nil {
		resp.Ready = false
		resp.Checks["policy"] = "not loaded"
	} else {
		resp.Checks["policy"] = "ok"
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, resp)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
