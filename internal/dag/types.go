// Package dag implements the workflow graph: typed nodes and edges, an
// arena-backed store keyed by integer index (never a pointer graph, per the
// system's design notes), readiness queries, structural validation, and DSL
// (de)serialization.
package dag

import (
	"time"

	"github.com/google/uuid"
)

// PortType tags the data carried across an edge.
type PortType string

const (
	PortString  PortType = "string"
	PortJSON    PortType = "json"
	PortTensor  PortType = "tensor"
	PortBytes   PortType = "bytes"
	PortFile    PortType = "file"
	PortKVCache PortType = "kv_cache"
)

// Port describes one named input or output slot on a node.
type Port struct {
	Name     string          `json:"name"`
	Type     PortType        `json:"type"`
	Required bool            `json:"required"`
	Default  *interface{}    `json:"default,omitempty"`
}

// Node is a computation vertex: a dotted-namespace type, display metadata,
// free-form config, and its typed ports.
type Node struct {
	ID       uuid.UUID              `json:"id"`
	NodeType string                 `json:"node_type"`
	Name     string                 `json:"name"`
	Config   map[string]interface{} `json:"config,omitempty"`
	Inputs   []Port                 `json:"inputs"`
	Outputs  []Port                 `json:"outputs"`
	Position Position               `json:"position"`
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge is a typed directed connection between two node ports. Transform, if
// set, is a CEL expression evaluated against the source output value before
// it is delivered to the target input.
type Edge struct {
	From       uuid.UUID `json:"source_node"`
	FromOutput string    `json:"source_output"`
	To         uuid.UUID `json:"target_node"`
	ToInput    string    `json:"target_input"`
	Transform  string    `json:"transform,omitempty"`
}

// Key returns the identity tuple an edge is keyed by.
func (e Edge) Key() [4]string {
	return [4]string{e.From.String(), e.FromOutput, e.To.String(), e.ToInput}
}

// RetryPolicy mirrors the scheduler's backoff defaults, carried per-definition.
// The coordinator reads only MaxRetries from it; retry delays come from the
// scheduler's own RetryPolicy.
type RetryPolicy struct {
	MaxRetries int     `json:"max_retries"`
	BackoffMs  int64   `json:"backoff_ms"`
	Multiplier float64 `json:"multiplier"`
	MaxBackoff int64   `json:"max_backoff_ms"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BackoffMs: 1000, Multiplier: 2.0, MaxBackoff: 30000}
}

// ExecutionMode selects where a workflow prefers to run.
type ExecutionMode string

const (
	ExecLocal  ExecutionMode = "local"
	ExecRemote ExecutionMode = "remote"
	ExecHybrid ExecutionMode = "hybrid"
)

type ExecutionConfig struct {
	Mode            ExecutionMode `json:"mode"`
	PreferredServer string        `json:"preferred_server,omitempty"`
	TimeoutMs       int64         `json:"timeout_ms,omitempty"`
	RetryPolicy     RetryPolicy   `json:"retry_policy"`
}

type Metadata struct {
	Author      string    `json:"author,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Definition is the static DSL form of a workflow.
type Definition struct {
	ID        uuid.UUID              `json:"id"`
	Version   int                    `json:"version"`
	Name      string                 `json:"name"`
	Variables map[string]interface{} `json:"variables,omitempty"`
	Nodes     []Node                 `json:"nodes"`
	Edges     []Edge                 `json:"edges"`
	Execution ExecutionConfig        `json:"execution"`
	Metadata  Metadata               `json:"metadata"`
}
