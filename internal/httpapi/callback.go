package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/swarmx-controlplane/internal/apperror"
	"github.com/lyzr/swarmx-controlplane/internal/coordinator"
	"github.com/lyzr/swarmx-controlplane/internal/ratelimit"
)

// CallbackHandlers implements the ingress a compute server posts task
// progress/completion/failure updates to.
type CallbackHandlers struct {
	coord   *coordinator.Coordinator
	limiter *ratelimit.CallbackLimiter
}

func NewCallbackHandlers(coord *coordinator.Coordinator, limiter *ratelimit.CallbackLimiter) *CallbackHandlers {
	return &CallbackHandlers{coord: coord, limiter: limiter}
}

// Ingest accepts one CallbackMessage. The rate limiter is keyed by the
// calling server's remote address, matching the teacher's tiered-limit
// convention of bounding both the aggregate and the per-origin rate.
func (h *CallbackHandlers) Ingest(c echo.Context) error {
	if !h.limiter.Allow(c.RealIP()) {
		return apperror.Exhausted("callback rate limit exceeded")
	}

	var msg coordinator.CallbackMessage
	if err := c.Bind(&msg); err != nil {
		return apperror.Validation("invalid callback payload: %v", err)
	}

	if err := h.coord.HandleCallback(c.Request().Context(), msg); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
