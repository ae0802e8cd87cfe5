package httpapi

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Deps bundles every handler group routes.go needs to wire up, so main.go
// has one call site instead of a long parameter list.
type Deps struct {
	Workflows  *WorkflowHandlers
	Executions *ExecutionHandlers
	Tasks      *TaskHandlers
	Callback   *CallbackHandlers
	Data       *DataHandlers
	Servers    *ServerHandlers
	Events     *EventStreamHandlers
	Health     *HealthHandlers
}

// RegisterRoutes wires the full route table onto e.
func RegisterRoutes(e *echo.Echo, deps Deps) {
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(middleware.CORS())
	e.HTTPErrorHandler = HTTPErrorHandler

	e.GET("/healthz", deps.Health.Check)
	e.GET("/health", deps.Health.Check)

	api := e.Group("/api")
	api.GET("/health", deps.Health.Check)

	workflows := api.Group("/workflows")
	workflows.POST("", deps.Workflows.Create)
	workflows.GET("", deps.Workflows.List)
	workflows.GET("/:id", deps.Workflows.Get)
	workflows.PUT("/:id", deps.Workflows.Update)
	workflows.DELETE("/:id", deps.Workflows.Delete)
	workflows.POST("/:id/execute", deps.Executions.Start)
	workflows.GET("/:id/status", deps.Executions.Status)
	workflows.GET("/:id/events", deps.Events.Subscribe)

	executions := api.Group("/executions")
	executions.GET("", deps.Executions.List)
	executions.GET("/:execution_id", deps.Executions.Get)
	executions.POST("/:execution_id/cancel", deps.Executions.Cancel)
	executions.DELETE("/:execution_id", deps.Executions.Cancel)

	tasks := api.Group("/tasks")
	tasks.GET("/:id", deps.Tasks.Get)
	tasks.POST("/:id/cancel", deps.Tasks.Cancel)
	tasks.DELETE("/:id", deps.Tasks.Cancel)

	api.POST("/callback", deps.Callback.Ingest)

	data := api.Group("/data")
	data.GET("/:id", deps.Data.Get)
	data.DELETE("/:id", deps.Data.Delete)
	data.POST("/:id/token", deps.Data.IssueToken)

	servers := api.Group("/servers")
	servers.POST("", deps.Servers.Register)
	servers.GET("", deps.Servers.List)
	servers.DELETE("/:address", deps.Servers.Unregister)
	servers.POST("/:address/health", deps.Servers.HealthCheck)
}
