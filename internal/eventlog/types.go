// Package eventlog implements the durable, monotonic event journal that is
// the system's source of truth: every lifecycle change is appended here
// before any in-memory state is considered authoritative.
package eventlog

import (
	"time"

	"github.com/google/uuid"
)

// EventType tags the kind of lifecycle record carried by an Event. The full
// vocabulary is carried over from the original event taxonomy even though
// the HTTP-facing callback surface only exercises a subset of it.
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow_started"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowFailed    EventType = "workflow_failed"
	EventWorkflowCancelled EventType = "workflow_cancelled"

	EventNodeScheduled EventType = "node_scheduled"
	EventNodeStarted   EventType = "node_started"
	EventNodeProgress  EventType = "node_progress"
	EventNodeCompleted EventType = "node_completed"
	EventNodeFailed    EventType = "node_failed"
	EventNodeRetrying  EventType = "node_retrying"

	EventDataCreated    EventType = "data_created"
	EventDataTransferred EventType = "data_transferred"
	EventDataDeleted    EventType = "data_deleted"
	EventDataTierChanged EventType = "data_tier_changed"

	EventServerRegistered EventType = "server_registered"
	EventServerHealthCheck EventType = "server_health_check"
	EventServerDisconnected EventType = "server_disconnected"
)

// Event is the payload half of a stored record. Fields beyond the common
// ones are carried in Data, keeping one concrete Go type instead of an
// interface hierarchy — the tag (Type) plus a flat map is how the teacher's
// IR/token JSON shapes are modeled throughout the pack, so the same shape is
// used here instead of a sum type with one struct per variant.
type Event struct {
	Type       EventType              `json:"type"`
	WorkflowID uuid.UUID              `json:"workflow_id,omitempty"`
	NodeID     uuid.UUID              `json:"node_id,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// NewEvent stamps the timestamp and normalizes a nil Data map.
func NewEvent(t EventType, workflowID, nodeID uuid.UUID, data map[string]interface{}) Event {
	if data == nil {
		data = map[string]interface{}{}
	}
	return Event{
		Type:       t,
		WorkflowID: workflowID,
		NodeID:     nodeID,
		Timestamp:  time.Now().UTC(),
		Data:       data,
	}
}

// Envelope wraps an Event with its storage identity: a server-assigned id, a
// gapless monotonically increasing sequence, and the arrival timestamp.
type Envelope struct {
	ID         uuid.UUID `json:"id"`
	Sequence   int64     `json:"sequence"`
	Event      Event     `json:"event"`
	StoredAt   time.Time `json:"stored_at"`
}

// Filter narrows read_filtered queries. Zero values mean "unconstrained" for
// that dimension, except Limit where 0 means unlimited.
type Filter struct {
	WorkflowID  *uuid.UUID
	NodeID      *uuid.UUID
	Types       map[EventType]struct{}
	Since       time.Time
	Until       time.Time
	MinSequence int64
	Limit       int
}

// Matches reports whether an envelope satisfies f. ReadFiltered applies it
// in process to the rows its SQL query returns.
func (f Filter) Matches(env Envelope) bool {
	if f.WorkflowID != nil && env.Event.WorkflowID != *f.WorkflowID {
		return false
	}
	if f.NodeID != nil && env.Event.NodeID != *f.NodeID {
		return false
	}
	if len(f.Types) > 0 {
		if _, ok := f.Types[env.Event.Type]; !ok {
			return false
		}
	}
	if !f.Since.IsZero() && env.Event.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && env.Event.Timestamp.After(f.Until) {
		return false
	}
	if f.MinSequence > 0 && env.Sequence < f.MinSequence {
		return false
	}
	return true
}
