package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/swarmx-controlplane/internal/apperror"
	"github.com/lyzr/swarmx-controlplane/internal/eventlog"
	"github.com/lyzr/swarmx-controlplane/internal/fanout"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventStreamHandlers implements live event subscription over websocket,
// GET /api/workflows/{id}/events.
type EventStreamHandlers struct {
	hub *fanout.Hub
	log eventlog.Log
}

func NewEventStreamHandlers(hub *fanout.Hub, log eventlog.Log) *EventStreamHandlers {
	return &EventStreamHandlers{hub: hub, log: log}
}

func (h *EventStreamHandlers) Subscribe(c echo.Context) error {
	workflowID := c.Param("id")
	if workflowID == "" {
		return apperror.Validation("workflow id is required")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return apperror.Wrap(apperror.CodeInternal, "websocket upgrade failed", err)
	}

	if wid, parseErr := uuid.Parse(workflowID); parseErr == nil {
		h.sendBacklog(c, conn, wid)
	}

	h.hub.Serve(conn, workflowID)
	return nil
}

// sendBacklog writes every already-stored event for wid before handing the
// connection to the hub, so a client that subscribes mid-execution still
// sees everything that happened before it connected.
func (h *EventStreamHandlers) sendBacklog(c echo.Context, conn *websocket.Conn, wid uuid.UUID) {
	envs, err := h.log.ReadFiltered(c.Request().Context(), eventlog.Filter{WorkflowID: &wid})
	if err != nil {
		return
	}
	for _, env := range envs {
		payload, err := json.Marshal(env)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}
