package coordinator

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/lyzr/swarmx-controlplane/common/logger"
	"github.com/lyzr/swarmx-controlplane/internal/apperror"
	"github.com/lyzr/swarmx-controlplane/internal/dag"
	"github.com/lyzr/swarmx-controlplane/internal/dataref"
	"github.com/lyzr/swarmx-controlplane/internal/eventlog"
	"github.com/lyzr/swarmx-controlplane/internal/nodestate"
	"github.com/lyzr/swarmx-controlplane/internal/scheduler"
)

// Config holds the coordinator's tunables: inline-data threshold, the base
// URL servers should post callbacks back to, and the maximum number of task
// dispatches in flight at once across all executions.
type Config struct {
	InlineThresholdBytes int64
	CallbackBaseURL      string
	MaxConcurrentTasks   int64
}

// Coordinator drives every active execution's ready -> dispatch -> callback
// -> downstream loop. WorkflowContext/NodeContext state is owned
// exclusively by each execution's driver goroutine; every other caller
// (HTTP handlers, the reconciler) communicates with it by posting commands
// and awaiting a reply, per the concurrency model's ownership rule.
type Coordinator struct {
	cfg       Config
	log       eventlog.Log
	scheduler *scheduler.Scheduler
	dataStore *dataref.Store
	tokens    *dataref.TokenManager
	transform *TransformEvaluator
	httpClient *http.Client
	logger    *logger.Logger
	sem       *semaphore.Weighted

	mu         sync.RWMutex
	executions map[uuid.UUID]*execution // keyed by execution id
}

func New(cfg Config, log eventlog.Log, sched *scheduler.Scheduler, dataStore *dataref.Store,
	tokens *dataref.TokenManager, lg *logger.Logger) *Coordinator {
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = 64
	}
	return &Coordinator{
		cfg:        cfg,
		log:        log,
		scheduler:  sched,
		dataStore:  dataStore,
		tokens:     tokens,
		transform:  NewTransformEvaluator(),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     lg,
		sem:        semaphore.NewWeighted(cfg.MaxConcurrentTasks),
		executions: make(map[uuid.UUID]*execution),
	}
}

type commandKind int

const (
	cmdCallback commandKind = iota
	cmdCancel
	cmdCancelTask
	cmdDispatchResult
	cmdReconcile
)

type dispatchResult struct {
	nodeID     uuid.UUID
	statusCode int
	err        error
}

type reconcileOutcome struct {
	nodeID uuid.UUID
	msg    *CallbackMessage // nil means "lost": fail the node
}

type command struct {
	kind       commandKind
	callback   *CallbackMessage
	dispatch   *dispatchResult
	reconcile  *reconcileOutcome
	cancelTask *uuid.UUID
	reply      chan error
}

// execution is the single owner of one run's WorkflowContext and Dag; all
// mutation happens inside run(), which is the only goroutine reading from
// cmds.
type execution struct {
	def     dag.Definition
	graph   *dag.Dag
	wctx    *nodestate.WorkflowContext
	outputs map[uuid.UUID]map[string]interface{}

	// taskID -> nodeID, since CallbackMessage addresses tasks, not nodes
	// directly, mirroring the server-facing wire contract.
	taskToNode map[uuid.UUID]uuid.UUID
	nodeToTask map[uuid.UUID]uuid.UUID

	// per-node server rejection memory for the 4xx placement-rejected
	// path, so the very next scheduling attempt does not immediately
	// re-select the server that just rejected it.
	rejectedServer map[uuid.UUID]string

	cmds   chan command
	done   chan struct{}
	cancel context.CancelFunc
}

// StartExecution validates def, builds its Dag, initializes per-node state,
// appends WorkflowStarted, and launches the driver loop.
func (c *Coordinator) StartExecution(ctx context.Context, def dag.Definition) (*nodestate.WorkflowContext, error) {
	graph, err := dag.BuildDag(def)
	if err != nil {
		return nil, apperror.Validation("%v", err)
	}
	if err := graph.Validate(); err != nil {
		return nil, apperror.Validation("%v", err)
	}

	wctx := nodestate.NewWorkflowContext(def.ID, def.Name)
	maxRetries := def.Execution.RetryPolicy.MaxRetries
	if maxRetries == 0 {
		maxRetries = dag.DefaultRetryPolicy().MaxRetries
	}
	for _, n := range graph.Nodes() {
		wctx.Nodes[n.ID] = nodestate.New(n.ID, def.ID, maxRetries)
	}

	now := time.Now().UTC()
	wctx.StartedAt = &now
	wctx.State = nodestate.WorkflowRunning

	execCtx, cancel := context.WithCancel(context.Background())
	ex := &execution{
		def:            def,
		graph:          graph,
		wctx:           wctx,
		outputs:        make(map[uuid.UUID]map[string]interface{}),
		taskToNode:     make(map[uuid.UUID]uuid.UUID),
		nodeToTask:     make(map[uuid.UUID]uuid.UUID),
		rejectedServer: make(map[uuid.UUID]string),
		cmds:           make(chan command, 64),
		done:           make(chan struct{}),
		cancel:         cancel,
	}

	if _, err := c.log.Append(ctx, ex.event(eventlog.EventWorkflowStarted, uuid.Nil, nil)); err != nil {
		cancel()
		return nil, apperror.StorageUnavailable(err)
	}

	c.register(execCtx, ex)
	return wctx, nil
}

// register records ex and launches its driver loop. Shared by StartExecution
// and the reconciler, which rebuilds an execution from the log without
// re-appending WorkflowStarted.
func (c *Coordinator) register(execCtx context.Context, ex *execution) {
	c.mu.Lock()
	c.executions[ex.wctx.ExecutionID] = ex
	c.mu.Unlock()

	go c.run(execCtx, ex)
}

// Get returns a read-only snapshot of an execution's WorkflowContext.
func (c *Coordinator) Get(executionID uuid.UUID) (*nodestate.WorkflowContext, bool) {
	c.mu.RLock()
	ex, ok := c.executions[executionID]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return ex.wctx, true
}

// List returns every known execution's WorkflowContext.
func (c *Coordinator) List() []*nodestate.WorkflowContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*nodestate.WorkflowContext, 0, len(c.executions))
	for _, ex := range c.executions {
		out = append(out, ex.wctx)
	}
	return out
}

// ByWorkflow returns every execution of workflowID, most recently started
// first, the view GET /api/workflows/{id}/status reduces to its latest entry.
func (c *Coordinator) ByWorkflow(workflowID uuid.UUID) []*nodestate.WorkflowContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*nodestate.WorkflowContext
	for _, ex := range c.executions {
		if ex.wctx.WorkflowID == workflowID {
			out = append(out, ex.wctx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].StartedAt, out[j].StartedAt
		if ti == nil || tj == nil {
			return ti != nil
		}
		return ti.After(*tj)
	})
	return out
}

// TaskStatus returns the NodeContext of the node behind taskID, the control
// plane's own view of that task's state.
func (c *Coordinator) TaskStatus(taskID uuid.UUID) (*nodestate.Context, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ex := range c.executions {
		nodeID, ok := ex.taskToNode[taskID]
		if !ok {
			continue
		}
		return ex.wctx.Nodes[nodeID], true
	}
	return nil, false
}

// CancelTask cancels the single node behind taskID rather than the whole
// execution: it posts a best-effort DELETE to the node's assigned server and
// transitions the node to Cancelled on the owning execution's driver loop.
func (c *Coordinator) CancelTask(ctx context.Context, taskID uuid.UUID) error {
	ex, ok := c.executionForTask(taskID)
	if !ok {
		return apperror.NotFound("no execution owns task %s", taskID)
	}
	nodeID, _ := ex.taskToNode[taskID]
	return c.send(ctx, ex, command{kind: cmdCancelTask, cancelTask: &nodeID})
}

// HandleCallback posts an inbound CallbackMessage to the owning execution's
// driver loop and waits for it to be applied.
func (c *Coordinator) HandleCallback(ctx context.Context, msg CallbackMessage) error {
	ex, ok := c.executionForTask(msg.TaskID)
	if !ok {
		return apperror.NotFound("no execution owns task %s", msg.TaskID)
	}
	return c.send(ctx, ex, command{kind: cmdCallback, callback: &msg})
}

// Cancel posts a cancellation request to executionID's driver loop.
func (c *Coordinator) Cancel(ctx context.Context, executionID uuid.UUID) error {
	c.mu.RLock()
	ex, ok := c.executions[executionID]
	c.mu.RUnlock()
	if !ok {
		return apperror.NotFound("execution %s not found", executionID)
	}
	return c.send(ctx, ex, command{kind: cmdCancel})
}

func (c *Coordinator) executionForTask(taskID uuid.UUID) (*execution, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ex := range c.executions {
		if _, ok := ex.taskToNode[taskID]; ok {
			return ex, true
		}
	}
	return nil, false
}

func (c *Coordinator) send(ctx context.Context, ex *execution, cmd command) error {
	cmd.reply = make(chan error, 1)
	// finished answers a command that reaches an execution whose driver loop
	// has exited. A late callback is dropped without error, the same way
	// applyCallback discards callbacks for settled nodes.
	finished := func() error {
		select {
		case err := <-cmd.reply:
			return err
		default:
		}
		if cmd.kind == cmdCallback {
			return nil
		}
		return apperror.NotFound("execution already finished")
	}
	select {
	case ex.cmds <- cmd:
	case <-ex.done:
		return finished()
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ex.done:
		return finished()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the sole goroutine that mutates ex.wctx/ex.outputs. It advances
// ready nodes after every command and terminates on completion or
// cancellation.
func (c *Coordinator) run(ctx context.Context, ex *execution) {
	defer close(ex.done)
	defer ex.cancel()

	c.advance(ctx, ex)
	if ex.wctx.IsComplete() {
		c.finish(ctx, ex)
		return
	}

	for {
		select {
		case cmd := <-ex.cmds:
			var err error
			switch cmd.kind {
			case cmdCallback:
				err = c.applyCallback(ctx, ex, *cmd.callback)
			case cmdCancel:
				err = c.applyCancel(ctx, ex)
			case cmdCancelTask:
				err = c.applyCancelTask(ctx, ex, *cmd.cancelTask)
			case cmdDispatchResult:
				err = c.applyDispatchResult(ctx, ex, *cmd.dispatch)
			case cmdReconcile:
				err = c.applyReconcileResult(ctx, ex, *cmd.reconcile)
			}
			if cmd.reply != nil {
				cmd.reply <- err
			}

			if ex.wctx.State == nodestate.WorkflowCancelled {
				return
			}
			c.advance(ctx, ex)
			if ex.wctx.IsComplete() {
				c.finish(ctx, ex)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) finish(ctx context.Context, ex *execution) {
	eventType := eventlog.EventWorkflowFailed
	state := nodestate.WorkflowFailed
	if ex.wctx.AllDone() {
		eventType = eventlog.EventWorkflowCompleted
		state = nodestate.WorkflowCompleted
	}
	now := time.Now().UTC()
	ex.wctx.State = state
	ex.wctx.CompletedAt = &now

	_, _ = c.log.Append(ctx, ex.event(eventType, uuid.Nil, nil))
}

// event builds an Event scoped to ex, stamping execution_id into Data so
// that replaying the log can disambiguate concurrent executions of the same
// workflow definition.
func (ex *execution) event(t eventlog.EventType, nodeID uuid.UUID, data map[string]interface{}) eventlog.Event {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["execution_id"] = ex.wctx.ExecutionID.String()
	return eventlog.NewEvent(t, ex.wctx.WorkflowID, nodeID, data)
}
