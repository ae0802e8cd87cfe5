package coordinator

import (
	"context"

	"github.com/google/uuid"

	"github.com/lyzr/swarmx-controlplane/internal/dataref"
	"github.com/lyzr/swarmx-controlplane/internal/eventlog"
	"github.com/lyzr/swarmx-controlplane/internal/nodestate"
	"github.com/lyzr/swarmx-controlplane/internal/scheduler"
)

// advance schedules every currently ready node. It never blocks on network
// I/O itself: each placement's dispatch is handed off to a goroutine that
// reports back through the execution's command channel, so the driver loop
// stays free to keep servicing callbacks while tasks are in flight.
func (c *Coordinator) advance(ctx context.Context, ex *execution) {
	ready := ex.graph.GetReadyNodes(ex.wctx.States())
	for _, nodeID := range ready {
		node, ok := ex.graph.Node(nodeID)
		if !ok {
			continue
		}
		nctx := ex.wctx.Nodes[nodeID]

		req := scheduler.PlacementRequest{
			NodeType: node.NodeType,
			Exclude:  excludeSet(ex.rejectedServer[nodeID]),
		}
		for _, dep := range ex.graph.GetDependencies(nodeID) {
			req.InputRefs = append(req.InputRefs, refsFromOutputs(ex.outputs[dep])...)
		}

		var preferred *string
		if ex.def.Execution.PreferredServer != "" {
			preferred = &ex.def.Execution.PreferredServer
		}
		decision, ok := c.scheduler.ScheduleWithAffinity(nodeID, preferred, req)
		if !ok {
			// No candidate available this round; leave the node Pending
			// and retry on the next advance (triggered by the next
			// callback or cancellation).
			continue
		}

		if err := nctx.Transition(nodestate.Scheduled, "placed on "+decision.TargetServer); err != nil {
			continue
		}
		nctx.AssignedServer = decision.TargetServer
		delete(ex.rejectedServer, nodeID)

		_, _ = c.log.Append(ctx, ex.event(eventlog.EventNodeScheduled, nodeID,
			map[string]interface{}{"target_server": decision.TargetServer, "affinity_reason": decision.AffinityReason}))

		taskID := uuid.New()
		ex.taskToNode[taskID] = nodeID
		ex.nodeToTask[nodeID] = taskID

		taskReq, err := c.buildTaskRequest(ex, node, nodeID, taskID)
		if err != nil {
			continue
		}

		go c.dispatch(ctx, ex, nodeID, taskID, decision.TargetServer, taskReq)
	}
}

func excludeSet(addr string) map[string]bool {
	if addr == "" {
		return nil
	}
	return map[string]bool{addr: true}
}

// refsFromOutputs extracts the DataRef-backed outputs of a completed node,
// the set the DataAffinity strategy reasons about.
func refsFromOutputs(outputs map[string]interface{}) []dataref.DataRef {
	var refs []dataref.DataRef
	for _, v := range outputs {
		if ref, ok := v.(dataref.DataRef); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}
