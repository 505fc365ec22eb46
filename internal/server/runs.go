package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/partyplanner/internal/catalog"
	"github.com/mohammad-safakhou/partyplanner/internal/gateway"
	"github.com/mohammad-safakhou/partyplanner/internal/orchestrator"
	"github.com/mohammad-safakhou/partyplanner/internal/queue"
	"github.com/mohammad-safakhou/partyplanner/internal/sanitize"
	"github.com/mohammad-safakhou/partyplanner/internal/store"
)

// RunsHandler serves run creation and lookup.
type RunsHandler struct {
	Runner Runner
	Store  RunStore
	Queue  RunQueue
	Logger *log.Logger
}

func (h *RunsHandler) Register(g *echo.Group) {
	g.POST("/runs", h.create)
	g.GET("/runs/:id", h.get)
}

// create plans and executes a run, or enqueues it when async is set.
func (h *RunsHandler) create(c echo.Context) error {
	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	// user input goes to the planner verbatim; only catalog text is stripped
	for i := range req.Actions {
		req.Actions[i].Description = sanitize.PlainText(req.Actions[i].Description)
	}
	if strings.TrimSpace(req.UserInput) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_input is required")
	}
	var cat *catalog.Catalog
	if len(req.Actions) > 0 {
		var err error
		if cat, err = catalog.New(req.Actions...); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	ctx := c.Request().Context()
	runID := uuid.NewString()

	if req.Async {
		return h.enqueue(c, runID, req)
	}

	res, err := h.Runner.Run(ctx, orchestrator.Request{RunID: runID, UserInput: req.UserInput, Catalog: cat})
	if err != nil {
		kind := orchestrator.ErrorKind(err)
		h.persistFailure(ctx, runID, req.UserInput, kind, err)
		return c.JSON(http.StatusUnprocessableEntity, RunResponse{
			RunID:    runID,
			Status:   orchestrator.StatusFailed,
			History:  []gateway.Message{},
			Outcomes: []orchestrator.StepOutcome{},
			Error:    &RunError{Kind: kind, Message: err.Error()},
		})
	}
	h.persist(ctx, req.UserInput, res)
	return c.JSON(http.StatusOK, runResponse(res))
}

func (h *RunsHandler) enqueue(c echo.Context, runID string, req RunRequest) error {
	if h.Queue == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "async runs are not enabled")
	}
	ctx := c.Request().Context()
	if h.Store != nil {
		if err := h.Store.CreateRun(ctx, runID, req.UserInput); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	if _, err := h.Queue.PublishRun(ctx, queue.RunRequest{RunID: runID, UserInput: req.UserInput, Actions: req.Actions}); err != nil {
		if h.Store != nil {
			_ = h.Store.MarkFailed(context.WithoutCancel(ctx), runID, "enqueue", err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, "enqueue run: "+err.Error())
	}
	return c.JSON(http.StatusAccepted, QueuedResponse{RunID: runID, Status: store.RunStatusQueued})
}

// persist stores a finished transcript. Storage errors are logged, the
// caller still receives the result.
func (h *RunsHandler) persist(ctx context.Context, userInput string, res orchestrator.Result) {
	if h.Store == nil {
		return
	}
	rec, err := store.RecordFromResult(userInput, res)
	if err == nil {
		err = h.Store.SaveRun(context.WithoutCancel(ctx), rec)
	}
	if err != nil {
		h.Logger.Printf("warn: failed to store run %s: %v", res.RunID, err)
	}
}

func (h *RunsHandler) persistFailure(ctx context.Context, runID, userInput, kind string, runErr error) {
	if h.Store == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	err := h.Store.CreateRun(ctx, runID, userInput)
	if err == nil {
		err = h.Store.MarkFailed(ctx, runID, kind, runErr.Error())
	}
	if err != nil {
		h.Logger.Printf("warn: failed to store run %s: %v", runID, err)
	}
}

func (h *RunsHandler) get(c echo.Context) error {
	if h.Store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run storage is not enabled")
	}
	rec, err := h.Store.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

// actions lists the default catalog.
func (h *RunsHandler) actions(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Runner.Catalog().Entries())
}
