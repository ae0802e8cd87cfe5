package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/swarmx-controlplane/internal/dag"
	"github.com/lyzr/swarmx-controlplane/internal/dataref"
	"github.com/lyzr/swarmx-controlplane/internal/eventlog"
	"github.com/lyzr/swarmx-controlplane/internal/nodestate"
)

// buildTaskRequest resolves node's inputs from its upstream edges, applying
// each edge's transform expression, and falls back to a port's default for
// anything left unconnected.
func (c *Coordinator) buildTaskRequest(ex *execution, node dag.Node, nodeID, taskID uuid.UUID) (TaskRequest, error) {
	bound := make(map[string]interface{})
	for _, e := range ex.graph.Edges() {
		if e.To != nodeID {
			continue
		}
		srcOutputs := ex.outputs[e.From]
		raw, ok := srcOutputs[e.FromOutput]
		if !ok {
			continue
		}
		out, err := c.transform.Apply(e.Transform, raw, ex.def.Variables)
		if err != nil {
			return TaskRequest{}, fmt.Errorf("node %s input %s: %w", nodeID, e.ToInput, err)
		}
		bound[e.ToInput] = out
	}

	inputs := make([]IOValue, 0, len(node.Inputs))
	for _, port := range node.Inputs {
		v, ok := bound[port.Name]
		if !ok {
			if port.Default != nil {
				v = *port.Default
			} else if port.Required {
				return TaskRequest{}, fmt.Errorf("node %s missing required input %s", nodeID, port.Name)
			} else {
				continue
			}
		}
		inputs = append(inputs, toIOValue(port.Name, v, c.cfg.InlineThresholdBytes))
	}

	return TaskRequest{
		TaskID:      taskID,
		NodeID:      nodeID,
		NodeType:    node.NodeType,
		Inputs:      inputs,
		Config:      node.Config,
		CallbackURL: c.cfg.CallbackBaseURL + "/api/callback",
		TimeoutMs:   ex.def.Execution.TimeoutMs,
	}, nil
}

// toIOValue carries a DataRef as-is (it is already a handle, never raw
// bytes) and otherwise inlines the value directly: the threshold only
// governs what a *server* decides to push back as a DataRef on output,
// since the coordinator never holds bulk payloads itself.
func toIOValue(name string, v interface{}, _ int64) IOValue {
	if ref, ok := v.(dataref.DataRef); ok {
		return IOValue{Name: name, DataRef: &ref}
	}
	return IOValue{Name: name, Value: v}
}

// dispatch POSTs req to targetServer's /tasks endpoint and feeds the
// outcome back to the owning execution's driver loop as a command, so the
// actual state mutation still happens on the single goroutine that owns
// ex.wctx.
func (c *Coordinator) dispatch(ctx context.Context, ex *execution, nodeID, taskID uuid.UUID, targetServer string, req TaskRequest) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer c.sem.Release(1)

	body, err := json.Marshal(req)
	result := dispatchResult{nodeID: nodeID}
	if err != nil {
		result.err = err
	} else {
		httpReq, herr := http.NewRequestWithContext(ctx, http.MethodPost, targetServer+"/tasks", bytes.NewReader(body))
		if herr != nil {
			result.err = herr
		} else {
			httpReq.Header.Set("Content-Type", "application/json")
			resp, derr := c.httpClient.Do(httpReq)
			if derr != nil {
				result.err = derr
			} else {
				result.statusCode = resp.StatusCode
				resp.Body.Close()
			}
		}
	}

	cmd := command{kind: cmdDispatchResult, dispatch: &result, reply: make(chan error, 1)}
	select {
	case ex.cmds <- cmd:
		<-cmd.reply
	case <-ex.done:
	case <-ctx.Done():
	}
}

// applyDispatchResult handles the outcome of the /tasks POST per the
// dispatch-result rules: 2xx confirms placement and moves the node to
// Running; 4xx means the chosen server rejected the task outright (bad
// request shape, capacity already gone, etc). The state table has no
// Scheduled -> Pending edge, but returning a rejected node to Pending for
// immediate rescheduling elsewhere is the prescribed recovery here, so this
// is a deliberate, narrow bypass of Transition's validation rather than an
// omission in the table; the rejecting server is remembered for one round so
// the next placement attempt skips it. Any other outcome (5xx, transport
// error) is treated as an execution failure and follows the normal
// Failed/Retrying path.
func (c *Coordinator) applyDispatchResult(ctx context.Context, ex *execution, res dispatchResult) error {
	nctx := ex.wctx.Nodes[res.nodeID]
	if nctx == nil || nctx.State != nodestate.Scheduled {
		return nil
	}

	switch {
	case res.err == nil && res.statusCode >= 200 && res.statusCode < 300:
		if err := nctx.Transition(nodestate.Running, "task accepted"); err != nil {
			return err
		}
		_, _ = c.log.Append(ctx, ex.event(eventlog.EventNodeStarted, res.nodeID, nil))
		return nil

	case res.err == nil && res.statusCode >= 400 && res.statusCode < 500:
		ex.rejectedServer[res.nodeID] = nctx.AssignedServer
		nctx.State = nodestate.Pending
		nctx.AssignedServer = ""
		nctx.Transitions = append(nctx.Transitions, nodestate.Transition{
			From: nodestate.Scheduled, To: nodestate.Pending, Timestamp: time.Now().UTC(),
			Reason: fmt.Sprintf("placement rejected with status %d", res.statusCode),
		})
		_, _ = c.log.Append(ctx, ex.event(eventlog.EventNodeFailed, res.nodeID,
			map[string]interface{}{"reason": "placement_rejected", "status_code": res.statusCode}))
		return nil

	default:
		msg := "dispatch failed"
		if res.err != nil {
			msg = res.err.Error()
		} else {
			msg = fmt.Sprintf("server returned status %d", res.statusCode)
		}
		return c.failNode(ctx, ex, res.nodeID, msg, "")
	}
}

// failNode transitions a node to Failed, records the error, and promotes it
// to Retrying immediately if retries remain, matching the Failed -> {Retrying,
// Cancelled} edge in the state table: Failed is never left standing once a
// retry is available.
func (c *Coordinator) failNode(ctx context.Context, ex *execution, nodeID uuid.UUID, errMsg, errCode string) error {
	nctx := ex.wctx.Nodes[nodeID]
	if nctx == nil || nodestate.IsTerminal(nctx.State) {
		return nil
	}
	if nctx.State != nodestate.Failed {
		if err := nctx.Transition(nodestate.Failed, errMsg); err != nil {
			return err
		}
	}
	nctx.LastError = errMsg

	_, _ = c.log.Append(ctx, ex.event(eventlog.EventNodeFailed, nodeID,
		map[string]interface{}{"error": errMsg, "error_code": errCode}))

	if nctx.CanRetry() {
		preRetryCount := nctx.RetryCount
		if err := nctx.Transition(nodestate.Retrying, "retrying after failure"); err != nil {
			return err
		}
		_, _ = c.log.Append(ctx, ex.event(eventlog.EventNodeRetrying, nodeID,
			map[string]interface{}{"retry_count": nctx.RetryCount}))

		delay := c.scheduler.RetryPolicy.Backoff(preRetryCount)
		go func() {
			timer := time.NewTimer(time.Duration(delay) * time.Millisecond)
			defer timer.Stop()
			select {
			case <-timer.C:
				c.send(context.Background(), ex, command{kind: cmdCallback, callback: &CallbackMessage{
					TaskID: uuid.Nil, Status: "", // noop wake: advance() re-scans ready nodes
				}})
			case <-ex.done:
			}
		}()
	}
	return nil
}
