package nodestate

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowState is the coarse execution-level state of one workflow run.
type WorkflowState string

const (
	WorkflowPending   WorkflowState = "pending"
	WorkflowRunning   WorkflowState = "running"
	WorkflowCompleted WorkflowState = "completed"
	WorkflowFailed    WorkflowState = "failed"
	WorkflowCancelled WorkflowState = "cancelled"
)

// WorkflowContext is the per-execution record: identity, coarse state, and
// the set of per-node contexts it owns.
type WorkflowContext struct {
	WorkflowID  uuid.UUID             `json:"workflow_id"`
	ExecutionID uuid.UUID             `json:"execution_id"`
	Name        string                `json:"name"`
	State       WorkflowState         `json:"state"`
	StartedAt   *time.Time            `json:"started_at,omitempty"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
	Nodes       map[uuid.UUID]*Context `json:"nodes"`
}

func NewWorkflowContext(workflowID uuid.UUID, name string) *WorkflowContext {
	return &WorkflowContext{
		WorkflowID:  workflowID,
		ExecutionID: uuid.New(),
		Name:        name,
		State:       WorkflowPending,
		Nodes:       make(map[uuid.UUID]*Context),
	}
}

// Progress is the fraction of nodes that have reached a terminal state.
func (w *WorkflowContext) Progress() float64 {
	if len(w.Nodes) == 0 {
		return 0
	}
	terminal := 0
	for _, n := range w.Nodes {
		if IsTerminal(n.State) {
			terminal++
		}
	}
	return float64(terminal) / float64(len(w.Nodes))
}

// IsComplete holds when every node has reached a terminal state.
func (w *WorkflowContext) IsComplete() bool {
	for _, n := range w.Nodes {
		if !IsTerminal(n.State) {
			return false
		}
	}
	return len(w.Nodes) > 0
}

// AllDone holds when every node reached Done specifically — the condition
// under which the workflow as a whole is Completed rather than Failed.
func (w *WorkflowContext) AllDone() bool {
	for _, n := range w.Nodes {
		if n.State != Done {
			return false
		}
	}
	return len(w.Nodes) > 0
}

// States returns a flat node-id -> state view, the shape the DAG's
// GetReadyNodes consumes.
func (w *WorkflowContext) States() map[uuid.UUID]State {
	out := make(map[uuid.UUID]State, len(w.Nodes))
	for id, ctx := range w.Nodes {
		out[id] = ctx.State
	}
	return out
}
