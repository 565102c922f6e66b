package main

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/schemaflow/schemaflow/common/config"
	"github.com/schemaflow/schemaflow/common/logger"
	"github.com/schemaflow/schemaflow/engine"
	"github.com/schemaflow/schemaflow/engine/actions"
	"github.com/schemaflow/schemaflow/engine/stream"
	"github.com/schemaflow/schemaflow/store"
	"github.com/schemaflow/schemaflow/workflow"
)

// apiHandler serves the REST surface: action schemas, fire-and-forget
// execution triggers and persisted execution records.
type apiHandler struct {
	cfg       *config.Config
	executor  *engine.Executor
	hub       *stream.Hub
	workflows *workflow.FileStore
	records   store.ExecutionStore
	rdb       *redis.Client
	log       *logger.Logger
}

func newAPIHandler(cfg *config.Config, executor *engine.Executor, hub *stream.Hub, workflows *workflow.FileStore, records store.ExecutionStore, rdb *redis.Client, log *logger.Logger) *apiHandler {
	return &apiHandler{
		cfg:       cfg,
		executor:  executor,
		hub:       hub,
		workflows: workflows,
		records:   records,
		rdb:       rdb,
		log:       log,
	}
}

// ListActions returns the parameter schemas of every registered action, used
// by the workflow editor to render node config forms.
func (h *apiHandler) ListActions(c echo.Context) error {
	return c.JSON(http.StatusOK, actions.Default().Schemas())
}

type triggerRequest struct {
	Mode     string `json:"mode,omitempty"`
	Headless *bool  `json:"headless,omitempty"`
}

type triggerResponse struct {
	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	Status      string `json:"status"`
}

// TriggerExecution starts a run without a WebSocket client. Events still fan
// out through the hub, so a socket attaching to the returned execution ID
// can pick the stream up mid-run.
func (h *apiHandler) TriggerExecution(c echo.Context) error {
	workflowID := c.Param("workflowID")

	var req triggerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	wf, err := h.workflows.Load(workflowID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	executionID := uuid.NewString()
	var runCh stream.Channel = stream.NewHubChannel(h.hub, executionID)
	if h.rdb != nil {
		runCh = stream.NewRedisMirror(runCh, h.rdb, executionID)
	}

	headless := h.cfg.Browser.DefaultHeadless
	if req.Headless != nil {
		headless = *req.Headless
	}

	opts := engine.Options{
		ExecutionID: executionID,
		Mode:        req.Mode,
		Headless:    headless,
	}
	go func() {
		if _, err := h.executor.Execute(context.Background(), wf, runCh, opts); err != nil {
			h.log.Warn("triggered execution finished with error", "execution_id", executionID, "error", err)
		}
	}()

	return c.JSON(http.StatusAccepted, triggerResponse{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		Status:      "started",
	})
}

// GetExecution returns the latest persisted record for a workflow.
func (h *apiHandler) GetExecution(c echo.Context) error {
	rec, err := h.records.Load(c.Request().Context(), c.Param("workflowID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}
