// Package http provides the HTTP API for chimerad.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chimeralabs/chimerad/internal/engine"
	"github.com/chimeralabs/chimerad/internal/executor"
	"github.com/chimeralabs/chimerad/internal/gate"
	"github.com/chimeralabs/chimerad/internal/graph"
	"github.com/chimeralabs/chimerad/internal/planner"
	"github.com/chimeralabs/chimerad/internal/task"
)

// Server provides HTTP endpoints for chimerad.
type Server struct {
	echo   *echo.Echo
	engine *engine.Engine
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(eng *engine.Engine, logger *zap.Logger, cfg *Config) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
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
		engine: eng,
		logger: logger,
		config: cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Health check and metrics
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API v1 routes
	v1 := s.echo.Group("/api/v1")
	v1.POST("/objectives", s.handleSubmitObjective)
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.POST("/runs/:id/cancel", s.handleCancelRun)
	v1.GET("/tasks/:id", s.handleGetTask)
	v1.GET("/reviews", s.handleListReviews)
	v1.POST("/reviews/:id/decision", s.handleDecideReview)
	v1.GET("/kinds/disabled", s.handleDisabledKinds)
	v1.POST("/kinds/:kind/enable", s.handleEnableKind)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// SubmitResponse is the response body for POST /api/v1/objectives.
type SubmitResponse struct {
	RunID string `json:"run_id"`
}

// TaskResponse is the response body for GET /api/v1/tasks/:id.
type TaskResponse struct {
	RunID string          `json:"run_id"`
	Task  engine.TaskView `json:"task"`
}

// DecisionRequest is the request body for POST /api/v1/reviews/:id/decision.
type DecisionRequest struct {
	Approve   bool   `json:"approve"`
	DecidedBy string `json:"decided_by"`
}

// DisabledKindsResponse is the response body for GET /api/v1/kinds/disabled.
type DisabledKindsResponse struct {
	Kinds []task.Kind `json:"kinds"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleSubmitObjective plans and starts a run.
func (s *Server) handleSubmitObjective(c echo.Context) error {
	var objective planner.Objective
	if err := c.Bind(&objective); err != nil {
		s.logger.Warn("invalid objective request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	run, err := s.engine.Submit(c.Request().Context(), objective)
	if err != nil {
		switch {
		case errors.Is(err, planner.ErrBudgetInfeasible),
			errors.Is(err, planner.ErrUnsafeParameters),
			errors.Is(err, executor.ErrUnknownKind),
			errors.Is(err, graph.ErrCycle):
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		default:
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	return c.JSON(http.StatusAccepted, SubmitResponse{RunID: run.ID})
}

// handleListRuns returns snapshots of all runs.
func (s *Server) handleListRuns(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Runs())
}

// handleGetRun returns one run's status.
func (s *Server) handleGetRun(c echo.Context) error {
	status, err := s.engine.Status(c.Param("id"))
	if err != nil {
		if errors.Is(err, engine.ErrRunNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, status)
}

// handleCancelRun cancels a run.
func (s *Server) handleCancelRun(c echo.Context) error {
	if err := s.engine.Cancel(c.Param("id")); err != nil {
		if errors.Is(err, engine.ErrRunNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}

// handleGetTask locates a task across runs.
func (s *Server) handleGetTask(c echo.Context) error {
	runID, view, ok := s.engine.FindTask(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	}
	return c.JSON(http.StatusOK, TaskResponse{RunID: runID, Task: view})
}

// handleListReviews returns reviews, filtered by the optional status query
// parameter.
func (s *Server) handleListReviews(c echo.Context) error {
	status := gate.ReviewStatus(c.QueryParam("status"))
	switch status {
	case "", gate.ReviewPending, gate.ReviewApproved, gate.ReviewRejected:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status filter")
	}
	return c.JSON(http.StatusOK, s.engine.Reviews().List(status))
}

// handleDecideReview records a human decision on a pending review.
func (s *Server) handleDecideReview(c echo.Context) error {
	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.DecidedBy == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "decided_by field is required")
	}

	review, err := s.engine.Reviews().Decide(c.Param("id"), req.Approve, req.DecidedBy)
	switch {
	case errors.Is(err, gate.ErrReviewNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, gate.ErrReviewAlreadyDecided):
		// The original decision stands; report it with a conflict status.
		return c.JSON(http.StatusConflict, review)
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, review)
}

// handleDisabledKinds lists kinds disabled after systemic failures.
func (s *Server) handleDisabledKinds(c echo.Context) error {
	kinds := s.engine.DisabledKinds()
	if kinds == nil {
		kinds = []task.Kind{}
	}
	return c.JSON(http.StatusOK, DisabledKindsResponse{Kinds: kinds})
}

// handleEnableKind re-enables a kind after operator intervention.
func (s *Server) handleEnableKind(c echo.Context) error {
	kind := task.Kind(c.Param("kind"))
	if err := s.engine.EnableKind(kind); err != nil {
		if errors.Is(err, executor.ErrUnknownKind) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	s.logger.Info("executor kind re-enabled", zap.String("kind", string(kind)))
	return c.NoContent(http.StatusNoContent)
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
