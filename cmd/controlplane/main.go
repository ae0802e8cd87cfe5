// Command controlplane is the control-plane HTTP service: it boots the
// ambient stack (config, logger, Postgres pool), opens the durable event
// log, wires the DAG/scheduler/coordinator/dataref packages together, and
// serves the HTTP adapter layer described by the route table in
// internal/httpapi.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	goredis "github.com/redis/go-redis/v9"

	"github.com/lyzr/swarmx-controlplane/common/bootstrap"
	rediswrap "github.com/lyzr/swarmx-controlplane/common/redis"
	"github.com/lyzr/swarmx-controlplane/common/server"
	"github.com/lyzr/swarmx-controlplane/internal/coordinator"
	"github.com/lyzr/swarmx-controlplane/internal/dataref"
	"github.com/lyzr/swarmx-controlplane/internal/eventbus"
	"github.com/lyzr/swarmx-controlplane/internal/eventlog"
	"github.com/lyzr/swarmx-controlplane/internal/fanout"
	"github.com/lyzr/swarmx-controlplane/internal/httpapi"
	"github.com/lyzr/swarmx-controlplane/internal/ratelimit"
	"github.com/lyzr/swarmx-controlplane/internal/scheduler"
	"github.com/lyzr/swarmx-controlplane/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	components, err := bootstrap.Setup(ctx, "controlplane")
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer components.Shutdown(ctx)

	cfg := components.Config
	log := components.Logger

	workflowStore := store.New(components.DB)
	if err := workflowStore.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate workflow store: %w", err)
	}

	eventLog, err := eventlog.Open(cfg.Control.EventLogPath)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer eventLog.Close()

	registry := scheduler.NewRegistry()
	costEstimator := dataref.NewCostEstimator(cfg.Control.BandwidthBytesPerMs)
	sched := scheduler.New(registry, scheduler.DataAffinity, scheduler.DefaultRetryPolicy(), costEstimator, 42)

	dataStore := dataref.NewStore()
	tokenManager := dataref.NewTokenManager(cfg.Control.ClusterSecret)

	coord := coordinator.New(coordinator.Config{
		InlineThresholdBytes: cfg.Control.InlineThresholdBytes,
		CallbackBaseURL:      cfg.Control.CallbackBaseURL,
		MaxConcurrentTasks:   cfg.Control.MaxConcurrentTasks,
	}, eventLog, sched, dataStore, tokenManager, log)

	defs, err := workflowStore.ListAll(ctx)
	if err != nil {
		log.Warn("could not load workflow definitions for reconciliation", "error", err)
	} else if err := coord.Reconcile(ctx, defs); err != nil {
		log.Warn("reconcile failed", "error", err)
	}

	hub := fanout.NewHub(log)
	go hub.Run()
	go hub.Pump(eventLog.Subscribe(0), ctx.Done())

	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: redisAddr})
		sink := eventbus.NewRedisSink(rediswrap.NewClient(rdb, log), log)
		go eventbus.Bridge(ctx, eventLog, sink, log)
	}

	limiter := ratelimit.NewCallbackLimiter(cfg.Control.CallbackRateLimit, cfg.Control.CallbackRateBurst)

	e := echo.New()
	e.HideBanner = true
	httpapi.RegisterRoutes(e, httpapi.Deps{
		Workflows:  httpapi.NewWorkflowHandlers(workflowStore),
		Executions: httpapi.NewExecutionHandlers(workflowStore, coord),
		Tasks:      httpapi.NewTaskHandlers(coord),
		Callback:   httpapi.NewCallbackHandlers(coord, limiter),
		Data:       httpapi.NewDataHandlers(dataStore, tokenManager),
		Servers:    httpapi.NewServerHandlers(registry, eventLog),
		Events:     httpapi.NewEventStreamHandlers(hub, eventLog),
		Health:     httpapi.NewHealthHandlers(components),
	})

	srv := server.New("controlplane", cfg.Service.Port, e, log)
	return srv.Start()
}
