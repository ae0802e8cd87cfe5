package httpapi

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/swarmx-controlplane/internal/apperror"
	"github.com/lyzr/swarmx-controlplane/internal/coordinator"
)

// TaskHandlers implements the task-control sub-resource: status lookup and
// single-task cancellation, distinct from whole-execution cancellation.
type TaskHandlers struct {
	coord *coordinator.Coordinator
}

func NewTaskHandlers(coord *coordinator.Coordinator) *TaskHandlers {
	return &TaskHandlers{coord: coord}
}

func (h *TaskHandlers) Get(c echo.Context) error {
	taskID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperror.Validation("invalid task id: %v", err)
	}
	nctx, found := h.coord.TaskStatus(taskID)
	if !found {
		return apperror.NotFound("task %s not found", taskID)
	}
	return ok(c, http.StatusOK, nctx)
}

func (h *TaskHandlers) Cancel(c echo.Context) error {
	taskID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperror.Validation("invalid task id: %v", err)
	}
	if err := h.coord.CancelTask(c.Request().Context(), taskID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
