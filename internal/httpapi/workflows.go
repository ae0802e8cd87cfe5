package httpapi

import (
	"io"
	"net/http"
	"strconv"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/swarmx-controlplane/internal/apperror"
	"github.com/lyzr/swarmx-controlplane/internal/dag"
	"github.com/lyzr/swarmx-controlplane/internal/store"
)

// WorkflowHandlers implements the workflow-definition CRUD surface, POST
// /api/workflows through DELETE /api/workflows/{id}.
type WorkflowHandlers struct {
	store *store.WorkflowStore
}

func NewWorkflowHandlers(s *store.WorkflowStore) *WorkflowHandlers {
	return &WorkflowHandlers{store: s}
}

// Create parses the human-authored DSL body and persists the resolved
// Definition.
func (h *WorkflowHandlers) Create(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return apperror.Validation("read request body: %v", err)
	}
	def, err := dag.ParseDSL(body)
	if err != nil {
		return apperror.Validation("parse workflow definition: %v", err)
	}
	graph, err := dag.BuildDag(*def)
	if err != nil {
		return apperror.Validation("build graph: %v", err)
	}
	if err := graph.Validate(); err != nil {
		return apperror.Validation("invalid workflow: %v", err)
	}

	created, err := h.store.Create(c.Request().Context(), *def)
	if err != nil {
		return err
	}
	return ok(c, http.StatusCreated, created)
}

func (h *WorkflowHandlers) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperror.Validation("invalid workflow id: %v", err)
	}
	def, err := h.store.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, def)
}

func (h *WorkflowHandlers) List(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))
	summaries, total, err := h.store.List(c.Request().Context(), page, pageSize)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, map[string]interface{}{
		"workflows": summaries,
		"total":     total,
	})
}

// Update applies an RFC 7396 JSON merge patch body to the stored
// definition, using evanphx/json-patch/v5 for the merge semantics.
func (h *WorkflowHandlers) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperror.Validation("invalid workflow id: %v", err)
	}
	patch, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return apperror.Validation("read request body: %v", err)
	}

	updated, err := h.store.Update(c.Request().Context(), id, func(existing dag.Definition) (dag.Definition, error) {
		existingJSON, err := dag.ToJSON(existing)
		if err != nil {
			return dag.Definition{}, err
		}
		merged, err := jsonpatch.MergePatch(existingJSON, patch)
		if err != nil {
			return dag.Definition{}, err
		}
		next, err := dag.FromJSON(merged)
		if err != nil {
			return dag.Definition{}, err
		}
		graph, err := dag.BuildDag(*next)
		if err != nil {
			return dag.Definition{}, err
		}
		if err := graph.Validate(); err != nil {
			return dag.Definition{}, err
		}
		return *next, nil
	})
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, updated)
}

func (h *WorkflowHandlers) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperror.Validation("invalid workflow id: %v", err)
	}
	if err := h.store.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
