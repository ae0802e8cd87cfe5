package httpapi

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/swarmx-controlplane/internal/apperror"
	"github.com/lyzr/swarmx-controlplane/internal/coordinator"
	"github.com/lyzr/swarmx-controlplane/internal/store"
)

// ExecutionHandlers implements execution control: start, inspect, list,
// cancel, and the per-workflow latest-status view.
type ExecutionHandlers struct {
	store *store.WorkflowStore
	coord *coordinator.Coordinator
}

func NewExecutionHandlers(s *store.WorkflowStore, coord *coordinator.Coordinator) *ExecutionHandlers {
	return &ExecutionHandlers{store: s, coord: coord}
}

// Start launches a new execution of the workflow named in the path.
func (h *ExecutionHandlers) Start(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperror.Validation("invalid workflow id: %v", err)
	}
	def, err := h.store.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	wctx, err := h.coord.StartExecution(c.Request().Context(), def)
	if err != nil {
		return err
	}
	return ok(c, http.StatusAccepted, wctx)
}

func (h *ExecutionHandlers) Get(c echo.Context) error {
	execID, err := uuid.Parse(c.Param("execution_id"))
	if err != nil {
		return apperror.Validation("invalid execution id: %v", err)
	}
	wctx, found := h.coord.Get(execID)
	if !found {
		return apperror.NotFound("execution %s not found", execID)
	}
	return ok(c, http.StatusOK, wctx)
}

func (h *ExecutionHandlers) List(c echo.Context) error {
	return ok(c, http.StatusOK, h.coord.List())
}

// Status reports the most recently started execution of the workflow named
// in the path, the latest-status view GET /api/workflows/{id}/status.
func (h *ExecutionHandlers) Status(c echo.Context) error {
	workflowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperror.Validation("invalid workflow id: %v", err)
	}
	runs := h.coord.ByWorkflow(workflowID)
	if len(runs) == 0 {
		return apperror.NotFound("no executions for workflow %s", workflowID)
	}
	return ok(c, http.StatusOK, runs[0])
}

func (h *ExecutionHandlers) Cancel(c echo.Context) error {
	execID, err := uuid.Parse(c.Param("execution_id"))
	if err != nil {
		return apperror.Validation("invalid execution id: %v", err)
	}
	if err := h.coord.Cancel(c.Request().Context(), execID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
