// Package nodestate implements the per-node state machine: legal
// transitions, transition history bookkeeping, and retry accounting.
package nodestate

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is one of the seven node lifecycle states.
type State string

const (
	Pending   State = "pending"
	Scheduled State = "scheduled"
	Running   State = "running"
	Done      State = "done"
	Failed    State = "failed"
	Retrying  State = "retrying"
	Cancelled State = "cancelled"
)

// legalTransitions enumerates the state machine from spec: Pending ->
// {Scheduled, Cancelled}, Scheduled -> {Running, Failed, Cancelled},
// Running -> {Done, Failed, Cancelled}, Failed -> {Retrying, Cancelled},
// Retrying -> {Scheduled, Cancelled}, Done/Cancelled terminal.
var legalTransitions = map[State]map[State]bool{
	Pending:   {Scheduled: true, Cancelled: true},
	Scheduled: {Running: true, Failed: true, Cancelled: true},
	Running:   {Done: true, Failed: true, Cancelled: true},
	Failed:    {Retrying: true, Cancelled: true},
	Retrying:  {Scheduled: true, Cancelled: true},
	Done:      {},
	Cancelled: {},
}

func IsTerminal(s State) bool { return s == Done || s == Failed || s == Cancelled }

// InvalidTransitionError is returned by Transition when the requested move
// is not a legal edge of the state machine.
type InvalidTransitionError struct {
	From, To State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

// Transition records one state change in a NodeContext's history.
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// Context is the per-node runtime record.
type Context struct {
	NodeID         uuid.UUID    `json:"node_id"`
	WorkflowID     uuid.UUID    `json:"workflow_id"`
	State          State        `json:"state"`
	RetryCount     int          `json:"retry_count"`
	MaxRetries     int          `json:"max_retries"`
	LastError      string       `json:"last_error,omitempty"`
	StartedAt      *time.Time   `json:"started_at,omitempty"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	AssignedServer string       `json:"assigned_server,omitempty"`
	Transitions    []Transition `json:"transitions"`
}

// New creates a fresh NodeContext in Pending state.
func New(nodeID, workflowID uuid.UUID, maxRetries int) *Context {
	return &Context{
		NodeID:     nodeID,
		WorkflowID: workflowID,
		State:      Pending,
		MaxRetries: maxRetries,
	}
}

// Transition attempts to move the node to `to`, appending to the transition
// history and applying the side effects of entering Running / a terminal
// state / Retrying. Fails with InvalidTransitionError if the edge is not
// legal; the context is left unchanged on failure.
func (c *Context) Transition(to State, reason string) error {
	if !legalTransitions[c.State][to] {
		return &InvalidTransitionError{From: c.State, To: to}
	}

	now := time.Now().UTC()
	c.Transitions = append(c.Transitions, Transition{
		From: c.State, To: to, Timestamp: now, Reason: reason,
	})
	c.State = to

	switch to {
	case Running:
		if c.StartedAt == nil {
			c.StartedAt = &now
		}
	case Retrying:
		c.RetryCount++
	}
	if IsTerminal(to) {
		c.CompletedAt = &now
	}
	return nil
}

// CanRetry holds iff the node is Failed and has retries remaining.
func (c *Context) CanRetry() bool {
	return c.State == Failed && c.RetryCount < c.MaxRetries
}
