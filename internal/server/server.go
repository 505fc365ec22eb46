// Package server exposes the planner over HTTP.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mohammad-safakhou/partyplanner/internal/catalog"
	"github.com/mohammad-safakhou/partyplanner/internal/embeddings"
	"github.com/mohammad-safakhou/partyplanner/internal/orchestrator"
	"github.com/mohammad-safakhou/partyplanner/internal/queue"
	"github.com/mohammad-safakhou/partyplanner/internal/store"
	"github.com/mohammad-safakhou/partyplanner/internal/telemetry"
)

// Runner executes runs synchronously.
type Runner interface {
	Run(ctx context.Context, req orchestrator.Request) (orchestrator.Result, error)
	Catalog() *catalog.Catalog
}

// RunStore persists run transcripts.
type RunStore interface {
	CreateRun(ctx context.Context, id, userInput string) error
	MarkFailed(ctx context.Context, id, kind, message string) error
	SaveRun(ctx context.Context, rec store.RunRecord) error
	GetRun(ctx context.Context, id string) (store.RunRecord, error)
}

// RunQueue enqueues runs for the worker.
type RunQueue interface {
	PublishRun(ctx context.Context, req queue.RunRequest) (string, error)
}

// Embedder computes embeddings.
type Embedder interface {
	Embed(ctx context.Context, req embeddings.Request) (embeddings.Response, error)
}

// Deps are the collaborators wired into the API. Store, Queue and Embeddings
// are optional; their endpoints answer 503 when missing.
type Deps struct {
	Runner     Runner
	Store      RunStore
	Queue      RunQueue
	Embeddings Embedder
	Metrics    *telemetry.Metrics
	JWTSecret  []byte
	Logger     *log.Logger
}

// Server owns the echo instance.
type Server struct {
	e    *echo.Echo
	deps Deps
}

// New builds the router.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = errorHandler(deps.Logger)
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Metrics.Handler()))
	}

	v1 := e.Group("/v1")
	if len(deps.JWTSecret) > 0 {
		v1.Use(AuthMiddleware(deps.JWTSecret))
	}
	rh := &RunsHandler{Runner: deps.Runner, Store: deps.Store, Queue: deps.Queue, Logger: deps.Logger}
	rh.Register(v1)
	v1.GET("/actions", rh.actions)
	eh := &EmbeddingsHandler{Service: deps.Embeddings}
	eh.Register(v1)

	return &Server{e: e, deps: deps}
}

// Echo exposes the router for tests and custom listeners.
func (s *Server) Echo() *echo.Echo { return s.e }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = ":10001"
	}
	s.deps.Logger.Printf("listening on %s", addr)
	if err := s.e.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

// errorHandler renders every error as {"error": msg} and logs it.
func errorHandler(logger *log.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
}
