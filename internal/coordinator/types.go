// Package coordinator drives ready -> dispatch -> callback -> downstream
// for each active execution, sitting between the DAG/state machine and the
// HTTP layer, and reconciling its in-memory view with the event log on
// restart.
package coordinator

import (
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/swarmx-controlplane/internal/dataref"
)

// IOValue is either an inline JSON value or a DataRef, matching the wire
// shape {name, value} / {name, data_ref} used by both TaskRequest and
// CallbackMessage.
type IOValue struct {
	Name    string           `json:"name"`
	Value   interface{}      `json:"value,omitempty"`
	DataRef *dataref.DataRef `json:"data_ref,omitempty"`
}

// TaskRequest is what the coordinator POSTs to a chosen server's /tasks.
// TaskID is the identifier the server must echo back as CallbackMessage's
// TaskID, since the callback ingress is one flat endpoint (POST
// /api/callback) and carries no task identity in its path.
type TaskRequest struct {
	TaskID      uuid.UUID              `json:"task_id"`
	NodeID      uuid.UUID              `json:"node_id"`
	NodeType    string                 `json:"node_type"`
	Inputs      []IOValue              `json:"inputs"`
	Config      map[string]interface{} `json:"config"`
	CallbackURL string                 `json:"callback_url"`
	TimeoutMs   int64                  `json:"timeout_ms,omitempty"`
}

// CallbackStatus tags the CallbackMessage union.
type CallbackStatus string

const (
	CallbackProgress CallbackStatus = "progress"
	CallbackComplete CallbackStatus = "complete"
	CallbackFailed   CallbackStatus = "failed"
)

// CallbackMessage is the server -> control-plane task update. Status
// selects which of Progress/Outputs/DurationMs/Error/ErrorCode apply,
// mirroring the tagged union from spec section 6.
type CallbackMessage struct {
	TaskID    uuid.UUID      `json:"task_id"`
	Status    CallbackStatus `json:"status"`
	Timestamp time.Time      `json:"timestamp"`

	// progress
	Progress float64 `json:"progress,omitempty"`
	Message  string  `json:"message,omitempty"`

	// complete
	Outputs    []IOValue `json:"outputs,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`

	// failed
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}
