package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/swarmx-controlplane/common/bootstrap"
)

// HealthHandlers exposes the composition root's aggregate Health check over
// HTTP, GET /healthz.
type HealthHandlers struct {
	components *bootstrap.Components
}

func NewHealthHandlers(components *bootstrap.Components) *HealthHandlers {
	return &HealthHandlers{components: components}
}

func (h *HealthHandlers) Check(c echo.Context) error {
	if err := h.components.Health(c.Request().Context()); err != nil {
		return ok(c, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
	}
	return ok(c, http.StatusOK, map[string]string{"status": "healthy"})
}
