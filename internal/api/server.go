// Package api exposes the HTTP surface: run history, manual refresh
// triggers, task inspection, log tail, and the WebSocket event stream.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ratesync/ratesync/internal/config"
	"github.com/ratesync/ratesync/internal/events"
	"github.com/ratesync/ratesync/internal/history"
	"github.com/ratesync/ratesync/internal/library"
	"github.com/ratesync/ratesync/internal/logger"
	"github.com/ratesync/ratesync/internal/refresh"
	"github.com/ratesync/ratesync/internal/scheduler"
	"github.com/ratesync/ratesync/internal/scheduler/tasks"
)

// Server handles HTTP requests for the ratesync API.
type Server struct {
	echo       *echo.Echo
	hub        *events.Hub
	logger     zerolog.Logger
	cfg        *config.Config
	log        *logger.Logger
	store      *library.Store
	refresher  *refresh.Refresher
	historySvc *history.Service
	sched      *scheduler.Scheduler
	task       *tasks.RatingRefreshTask
	baseCtx    context.Context
	startTime  time.Time
}

// NewServer creates a new API server instance. baseCtx bounds
// manually triggered refresh cycles so they stop with the service.
func NewServer(baseCtx context.Context, cfg *config.Config, store *library.Store, refresher *refresh.Refresher, historySvc *history.Service, sched *scheduler.Scheduler, task *tasks.RatingRefreshTask, hub *events.Hub, log *logger.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:       e,
		hub:        hub,
		logger:     log.WithComponent("api"),
		cfg:        cfg,
		log:        log,
		store:      store,
		refresher:  refresher,
		historySvc: historySvc,
		sched:      sched,
		task:       task,
		baseCtx:    baseCtx,
		startTime:  time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogMethod:   true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Err(v.Error).
					Msg("request error")
			} else {
				s.logger.Debug().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Msg("request")
			}
			return nil
		},
	}))
}

func (s *Server) setupRoutes() {
	s.echo.GET("/api/health", s.healthCheck)
	s.echo.GET("/api/status", s.getStatus)

	s.echo.GET("/api/runs", s.listRuns)
	s.echo.GET("/api/runs/:id", s.getRun)
	s.echo.POST("/api/refresh", s.triggerRefresh)

	s.echo.GET("/api/tasks", s.listTasks)
	s.echo.GET("/api/tasks/:id", s.getTask)

	s.echo.GET("/api/logs", s.getLogs)

	s.echo.GET("/ws", s.hub.HandleWebSocket)
}

// Start begins listening on the given address.
func (s *Server) Start(address string) error {
	s.logger.Info().Str("address", address).Msg("starting HTTP server")
	return s.echo.Start(address)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// --- Handler implementations ---

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getStatus(c echo.Context) error {
	ctx := c.Request().Context()

	itemCount, _ := s.store.Count(ctx)

	var lastRun *history.Run
	if run, err := s.historySvc.LastCompleted(ctx); err == nil {
		lastRun = run
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"version":    "0.1.0",
		"startTime":  s.startTime.UTC().Format(time.RFC3339),
		"itemCount":  itemCount,
		"refreshing": s.refresher.Running(),
		"clients":    s.hub.ClientCount(),
		"lastRun":    lastRun,
	})
}

func (s *Server) listRuns(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		}
		limit = n
	}

	runs, err := s.historySvc.List(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) getRun(c echo.Context) error {
	run, err := s.historySvc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, history.ErrRunNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) triggerRefresh(c echo.Context) error {
	if s.refresher.Running() {
		return c.JSON(http.StatusConflict, map[string]string{"error": "refresh cycle already in progress"})
	}

	go func() {
		if err := s.task.TriggerManual(s.baseCtx); err != nil {
			s.logger.Error().Err(err).Msg("manual refresh failed")
		}
	}()

	return c.JSON(http.StatusAccepted, map[string]string{
		"message": "refresh started",
		"taskId":  tasks.RatingRefreshTaskID,
	})
}

func (s *Server) listTasks(c echo.Context) error {
	return c.JSON(http.StatusOK, s.sched.ListTasks())
}

func (s *Server) getTask(c echo.Context) error {
	task, err := s.sched.GetTask(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, task)
}

func (s *Server) getLogs(c echo.Context) error {
	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		}
		limit = n
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"lines": s.log.Tail(limit),
	})
}
