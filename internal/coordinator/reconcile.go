package coordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/swarmx-controlplane/internal/dag"
	"github.com/lyzr/swarmx-controlplane/internal/eventlog"
	"github.com/lyzr/swarmx-controlplane/internal/nodestate"
)

// Reconcile replays the event log on cold start and resumes every execution
// that had not reached a terminal workflow event before the process stopped.
// defs supplies the workflow Definition each execution needs to rebuild its
// Dag (the log records state transitions, not the static graph). Executions
// whose definition is missing are logged and left unresumed rather than
// guessed at.
func (c *Coordinator) Reconcile(ctx context.Context, defs map[uuid.UUID]dag.Definition) error {
	envs, err := c.log.ReadFrom(ctx, 0)
	if err != nil {
		return err
	}

	byExecution := make(map[uuid.UUID][]eventlog.Envelope)
	for _, env := range envs {
		execIDStr, _ := env.Event.Data["execution_id"].(string)
		if execIDStr == "" {
			continue
		}
		execID, err := uuid.Parse(execIDStr)
		if err != nil {
			continue
		}
		byExecution[execID] = append(byExecution[execID], env)
	}

	for execID, group := range byExecution {
		sort.Slice(group, func(i, j int) bool { return group[i].Sequence < group[j].Sequence })
		if isTerminalExecution(group) {
			continue
		}

		workflowID := group[0].Event.WorkflowID
		def, ok := defs[workflowID]
		if !ok {
			if c.logger != nil {
				c.logger.Warn("reconcile: skipping execution, definition not found",
					"execution_id", execID, "workflow_id", workflowID)
			}
			continue
		}

		ex, err := c.rebuildExecution(def, execID, group)
		if err != nil {
			if c.logger != nil {
				c.logger.Error("reconcile: failed to rebuild execution", "execution_id", execID, "error", err)
			}
			continue
		}

		execCtx, cancel := context.WithCancel(context.Background())
		ex.cancel = cancel
		c.register(execCtx, ex)
		c.pollInFlight(execCtx, ex)
	}
	return nil
}

func isTerminalExecution(group []eventlog.Envelope) bool {
	for _, env := range group {
		switch env.Event.Type {
		case eventlog.EventWorkflowCompleted, eventlog.EventWorkflowFailed, eventlog.EventWorkflowCancelled:
			return true
		}
	}
	return false
}

// rebuildExecution reconstructs a Dag and replays group's node-scoped
// transitions to recover each node's last known state. Node output values
// are not recoverable from the log (only duration_ms is recorded on
// completion), so any node downstream of a Done node rebuilt this way must
// have already consumed its inputs before the crash, or will re-run with
// whatever its upstream re-delivers — acceptable since workflows are expected
// to be idempotent per node, matching the at-least-once callback contract
// elsewhere in this package.
func (c *Coordinator) rebuildExecution(def dag.Definition, execID uuid.UUID, group []eventlog.Envelope) (*execution, error) {
	graph, err := dag.BuildDag(def)
	if err != nil {
		return nil, err
	}

	wctx := nodestate.NewWorkflowContext(def.ID, def.Name)
	wctx.ExecutionID = execID
	wctx.State = nodestate.WorkflowRunning

	maxRetries := def.Execution.RetryPolicy.MaxRetries
	if maxRetries == 0 {
		maxRetries = dag.DefaultRetryPolicy().MaxRetries
	}
	for _, n := range graph.Nodes() {
		wctx.Nodes[n.ID] = nodestate.New(n.ID, def.ID, maxRetries)
	}

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
	}

	for _, env := range group {
		nodeID := env.Event.NodeID
		nctx := ex.wctx.Nodes[nodeID]
		if nctx == nil {
			continue
		}
		switch env.Event.Type {
		case eventlog.EventNodeScheduled:
			_ = nctx.Transition(nodestate.Scheduled, "reconciled: scheduled")
			if addr, ok := env.Event.Data["target_server"].(string); ok {
				nctx.AssignedServer = addr
			}
		case eventlog.EventNodeStarted:
			_ = nctx.Transition(nodestate.Running, "reconciled: started")
		case eventlog.EventNodeCompleted:
			if nctx.State == nodestate.Running || nctx.State == nodestate.Scheduled {
				_ = nctx.Transition(nodestate.Done, "reconciled: completed")
			}
		case eventlog.EventNodeFailed:
			if reason, _ := env.Event.Data["reason"].(string); reason == "placement_rejected" {
				nctx.State = nodestate.Pending
				nctx.AssignedServer = ""
				continue
			}
			if nctx.State != nodestate.Failed {
				_ = nctx.Transition(nodestate.Failed, "reconciled: failed")
			}
		case eventlog.EventNodeRetrying:
			if nctx.State == nodestate.Failed {
				_ = nctx.Transition(nodestate.Retrying, "reconciled: retrying")
			}
		}
	}
	return ex, nil
}

// pollInFlight asks the assigned server of any node still Scheduled or
// Running after replay whether it settled while the coordinator was down,
// feeding any answer back through the normal callback path so the ordinary
// invariants (idempotent Complete, terminal-state discard) still apply.
func (c *Coordinator) pollInFlight(ctx context.Context, ex *execution) {
	for nodeID, nctx := range ex.wctx.Nodes {
		if nctx.State != nodestate.Running && nctx.State != nodestate.Scheduled {
			continue
		}
		if nctx.AssignedServer == "" {
			continue
		}
		go c.pollNodeStatus(ctx, ex, nodeID, nctx.AssignedServer)
	}
}

func (c *Coordinator) pollNodeStatus(ctx context.Context, ex *execution, nodeID uuid.UUID, server string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server+"/tasks/"+nodeID.String()+"/status", nil)
	if err != nil {
		return
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	outcome := reconcileOutcome{nodeID: nodeID}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		// The server no longer knows this task (restarted itself, or never
		// received it); treat it as lost and let applyReconcileResult fail it
		// so the retry path can take over.
	case resp.StatusCode == http.StatusOK:
		var msg CallbackMessage
		if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
			return
		}
		outcome.msg = &msg
	default:
		return
	}

	_ = c.send(ctx, ex, command{kind: cmdReconcile, reconcile: &outcome})
}

// applyReconcileResult applies the outcome of a post-restart status poll.
// All mutation happens here, on ex's single owning goroutine, rather than in
// the polling goroutine that fetched it.
func (c *Coordinator) applyReconcileResult(ctx context.Context, ex *execution, outcome reconcileOutcome) error {
	nctx := ex.wctx.Nodes[outcome.nodeID]
	if nctx == nil || nodestate.IsTerminal(nctx.State) {
		return nil
	}

	if outcome.msg == nil {
		return c.failNode(ctx, ex, outcome.nodeID, "task not found on reconciliation poll", "TASK_LOST")
	}

	taskID := uuid.New()
	ex.taskToNode[taskID] = outcome.nodeID
	msg := *outcome.msg
	msg.TaskID = taskID
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return c.applyCallback(ctx, ex, msg)
}
