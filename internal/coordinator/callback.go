package coordinator

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/swarmx-controlplane/internal/eventlog"
	"github.com/lyzr/swarmx-controlplane/internal/nodestate"
)

// applyCallback applies one inbound task update. An empty Status is the
// internal retry-backoff wake-up signal (see failNode) and only triggers the
// advance() rescan that follows in run(); it carries no node identity.
func (c *Coordinator) applyCallback(ctx context.Context, ex *execution, msg CallbackMessage) error {
	if msg.Status == "" {
		return nil
	}

	nodeID, ok := ex.taskToNode[msg.TaskID]
	if !ok {
		return nil
	}
	nctx := ex.wctx.Nodes[nodeID]
	if nctx == nil {
		return nil
	}

	switch msg.Status {
	case CallbackProgress:
		// Late progress after the node already reached a terminal state is
		// discarded, not applied: ordering guarantees only promise Progress
		// arrives before the terminal Complete/Failed for the same task, not
		// that it cannot be reordered behind it in transit.
		if nctx.State != nodestate.Running {
			return nil
		}
		_, _ = c.log.Append(ctx, ex.event(eventlog.EventNodeProgress, nodeID,
			map[string]interface{}{"progress": msg.Progress, "message": msg.Message}))
		return nil

	case CallbackComplete:
		if nctx.State == nodestate.Done {
			// Duplicate Complete for an already-settled task: callbacks are
			// at-least-once, so this is expected and not an error.
			return nil
		}
		if nctx.State != nodestate.Running {
			// A reconciliation poll can observe a node that completed while
			// still Scheduled in this process's replayed view (the real
			// Running transition happened on the server before the crash
			// and was never durably recorded here). Catch it up to Running
			// first so Done -> remains a legal Running -> Done edge.
			if nctx.State != nodestate.Scheduled {
				return nil
			}
			if err := nctx.Transition(nodestate.Running, "reconciled: observed running before completion"); err != nil {
				return nil
			}
		}

		outputs := make(map[string]interface{}, len(msg.Outputs))
		for _, io := range msg.Outputs {
			if io.DataRef != nil {
				c.dataStore.Put(*io.DataRef)
				outputs[io.Name] = *io.DataRef
			} else {
				outputs[io.Name] = io.Value
			}
		}
		ex.outputs[nodeID] = outputs

		if err := nctx.Transition(nodestate.Done, "completed"); err != nil {
			return err
		}
		_, _ = c.log.Append(ctx, ex.event(eventlog.EventNodeCompleted, nodeID,
			map[string]interface{}{"duration_ms": msg.DurationMs}))
		return nil

	case CallbackFailed:
		if nodestate.IsTerminal(nctx.State) {
			return nil
		}
		return c.failNode(ctx, ex, nodeID, msg.Error, msg.ErrorCode)

	default:
		return nil
	}
}

// applyCancel moves every non-terminal node to Cancelled and marks the
// workflow itself Cancelled, short-circuiting run()'s normal completion
// check (Cancelled is handled as an immediate exit, not a pass through
// finish()'s Completed/Failed branch).
func (c *Coordinator) applyCancel(ctx context.Context, ex *execution) error {
	now := time.Now().UTC()
	for nodeID, nctx := range ex.wctx.Nodes {
		if nodestate.IsTerminal(nctx.State) {
			continue
		}
		running := nctx.State == nodestate.Running || nctx.State == nodestate.Scheduled
		server := nctx.AssignedServer
		_ = nctx.Transition(nodestate.Cancelled, "workflow cancelled")
		if running && server != "" {
			if taskID, ok := ex.nodeToTask[nodeID]; ok {
				go c.bestEffortCancel(server, taskID)
			}
		}
	}
	ex.wctx.State = nodestate.WorkflowCancelled
	ex.wctx.CompletedAt = &now

	_, _ = c.log.Append(ctx, ex.event(eventlog.EventWorkflowCancelled, uuid.Nil, nil))
	return nil
}

// applyCancelTask cancels one node in isolation, used by the task-control
// surface (POST /api/tasks/{id}/cancel) rather than whole-execution
// cancellation. It does not touch ex.wctx.State: the workflow keeps running
// and advance() will simply never find this node ready again.
func (c *Coordinator) applyCancelTask(ctx context.Context, ex *execution, nodeID uuid.UUID) error {
	nctx := ex.wctx.Nodes[nodeID]
	if nctx == nil || nodestate.IsTerminal(nctx.State) {
		return nil
	}
	server := nctx.AssignedServer
	if err := nctx.Transition(nodestate.Cancelled, "task cancelled"); err != nil {
		return err
	}
	_, _ = c.log.Append(ctx, ex.event(eventlog.EventNodeFailed, nodeID,
		map[string]interface{}{"reason": "task_cancelled"}))

	if server != "" {
		if taskID, ok := ex.nodeToTask[nodeID]; ok {
			go c.bestEffortCancel(server, taskID)
		}
	}
	return nil
}

// bestEffortCancel fires a DELETE /tasks/{id} at server and ignores the
// outcome: cancellation here is advisory, the node's own state already moved
// to Cancelled regardless of whether the server acknowledges it.
func (c *Coordinator) bestEffortCancel(server string, taskID uuid.UUID) {
	req, err := http.NewRequest(http.MethodDelete, server+"/tasks/"+taskID.String(), nil)
	if err != nil {
		return
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}
