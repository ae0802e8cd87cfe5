package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/swarmx-controlplane/internal/apperror"
	"github.com/lyzr/swarmx-controlplane/internal/eventlog"
	"github.com/lyzr/swarmx-controlplane/internal/scheduler"
)

// ServerHandlers implements the compute-server registry: register,
// unregister, list, and health-check ingestion.
type ServerHandlers struct {
	registry *scheduler.Registry
	log      eventlog.Log
}

func NewServerHandlers(registry *scheduler.Registry, log eventlog.Log) *ServerHandlers {
	return &ServerHandlers{registry: registry, log: log}
}

func (h *ServerHandlers) Register(c echo.Context) error {
	var info scheduler.ServerInfo
	if err := c.Bind(&info); err != nil {
		return apperror.Validation("invalid server registration: %v", err)
	}
	if info.Address == "" {
		return apperror.Validation("address is required")
	}
	info.Healthy = true
	h.registry.Register(info)

	_, _ = h.log.Append(c.Request().Context(), eventlog.NewEvent(
		eventlog.EventServerRegistered, zeroUUID, zeroUUID,
		map[string]interface{}{"address": info.Address},
	))
	return ok(c, http.StatusCreated, info)
}

func (h *ServerHandlers) Unregister(c echo.Context) error {
	addr := c.Param("address")
	h.registry.Unregister(addr)
	_, _ = h.log.Append(c.Request().Context(), eventlog.NewEvent(
		eventlog.EventServerDisconnected, zeroUUID, zeroUUID,
		map[string]interface{}{"address": addr},
	))
	return c.NoContent(http.StatusNoContent)
}

func (h *ServerHandlers) List(c echo.Context) error {
	return ok(c, http.StatusOK, h.registry.List())
}

// HealthCheck ingests a server's self-reported health/load snapshot,
// updating the registry the scheduler reads from and recording a
// ServerHealthCheck event, the one call site that actually exercises
// scheduler.Registry.UpdateHealth.
func (h *ServerHandlers) HealthCheck(c echo.Context) error {
	addr := c.Param("address")
	var body struct {
		Healthy bool    `json:"healthy"`
		Load    float64 `json:"load"`
	}
	if err := c.Bind(&body); err != nil {
		return apperror.Validation("invalid health payload: %v", err)
	}

	if _, found := h.registry.Get(addr); !found {
		return apperror.NotFound("server %s not registered", addr)
	}
	h.registry.UpdateHealth(addr, body.Healthy, body.Load)

	_, _ = h.log.Append(c.Request().Context(), eventlog.NewEvent(
		eventlog.EventServerHealthCheck, zeroUUID, zeroUUID,
		map[string]interface{}{"address": addr, "healthy": body.Healthy, "load": body.Load},
	))
	return c.NoContent(http.StatusNoContent)
}
