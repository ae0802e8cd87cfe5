package dag

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// dagDSLNamespace is the fixed namespace UUID v5 node-id resolution is
// seeded from, so that two loads of the same DSL string id always produce
// the same internal uuid.
var dagDSLNamespace = uuid.MustParse("6f1a1f2e-6b0e-4e60-9f21-2f2f6a9f7c10")

// ResolveNodeID deterministically maps a human-authored DSL node id string
// to an internal UUID.
func ResolveNodeID(dslID string) uuid.UUID {
	return uuid.NewSHA1(dagDSLNamespace, []byte(dslID))
}

// dslPort/dslNode/dslEdge/dslDefinition mirror Port/Node/Edge/Definition but
// use bare strings for node ids, the human-authored DSL shape described in
// spec section 6.
type dslPort struct {
	Name     string       `json:"name"`
	Type     string       `json:"type"`
	Required bool         `json:"required"`
	Default  *interface{} `json:"default,omitempty"`
}

type dslNode struct {
	ID       string                 `json:"id"`
	NodeType string                 `json:"node_type"`
	Name     string                 `json:"name"`
	Config   map[string]interface{} `json:"config,omitempty"`
	Inputs   []dslPort              `json:"inputs"`
	Outputs  []dslPort              `json:"outputs"`
	Position Position               `json:"position"`
}

type dslEdge struct {
	From       string `json:"source_node"`
	FromOutput string `json:"source_output"`
	To         string `json:"target_node"`
	ToInput    string `json:"target_input"`
	Transform  string `json:"transform,omitempty"`
}

type dslDefinition struct {
	ID        string                 `json:"id"`
	Version   int                    `json:"version"`
	Name      string                 `json:"name"`
	Variables map[string]interface{} `json:"variables,omitempty"`
	Nodes     []dslNode              `json:"nodes"`
	Edges     []dslEdge              `json:"edges"`
	Execution ExecutionConfig        `json:"execution"`
	Metadata  Metadata               `json:"metadata"`
}

// ParseDSL reads the human-authored DSL form (string node ids) and produces
// a Definition with every node id resolved to a UUID v5 derived from the
// DSL string id, so repeated loads of the same document are idempotent.
func ParseDSL(data []byte) (*Definition, error) {
	var raw dslDefinition
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse dsl: %w", err)
	}

	def := &Definition{
		Version:   raw.Version,
		Name:      raw.Name,
		Variables: raw.Variables,
		Execution: raw.Execution,
		Metadata:  raw.Metadata,
	}
	if raw.ID != "" {
		def.ID = ResolveNodeID(raw.ID)
	} else {
		def.ID = uuid.New()
	}

	for _, n := range raw.Nodes {
		def.Nodes = append(def.Nodes, Node{
			ID:       ResolveNodeID(n.ID),
			NodeType: n.NodeType,
			Name:     n.Name,
			Config:   n.Config,
			Inputs:   toPorts(n.Inputs),
			Outputs:  toPorts(n.Outputs),
			Position: n.Position,
		})
	}
	for _, e := range raw.Edges {
		def.Edges = append(def.Edges, Edge{
			From:       ResolveNodeID(e.From),
			FromOutput: e.FromOutput,
			To:         ResolveNodeID(e.To),
			ToInput:    e.ToInput,
			Transform:  e.Transform,
		})
	}
	return def, nil
}

func toPorts(ps []dslPort) []Port {
	out := make([]Port, 0, len(ps))
	for _, p := range ps {
		out = append(out, Port{
			Name:     p.Name,
			Type:     PortType(p.Type),
			Required: p.Required,
			Default:  p.Default,
		})
	}
	return out
}

// ToJSON serializes a Definition, the already-resolved (UUID-keyed) form.
func ToJSON(def Definition) ([]byte, error) {
	return json.Marshal(def)
}

// FromJSON deserializes the already-resolved (UUID-keyed) form, the
// round-trip counterpart to ToJSON (as opposed to the string-id DSL form
// handled by ParseDSL).
func FromJSON(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse definition: %w", err)
	}
	return &def, nil
}

// BuildDag constructs a Dag from a resolved Definition.
func BuildDag(def Definition) (*Dag, error) {
	d := New()
	for _, n := range def.Nodes {
		d.AddNode(n)
	}
	for _, e := range def.Edges {
		if err := d.AddEdge(e); err != nil {
			return nil, err
		}
	}
	return d, nil
}
