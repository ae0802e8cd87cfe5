package dag

import "fmt"

// NodeNotFoundError is returned when an edge or lookup references an unknown
// node id.
type NodeNotFoundError struct{ NodeID string }

func (e *NodeNotFoundError) Error() string { return fmt.Sprintf("node not found: %s", e.NodeID) }

// CycleDetectedError is returned when adding an edge would create a cycle.
type CycleDetectedError struct{ From, To string }

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("adding edge %s -> %s would create a cycle", e.From, e.To)
}

// InvalidEdgeError is returned when an edge's ports do not exist or are
// type-incompatible.
type InvalidEdgeError struct{ Reason string }

func (e *InvalidEdgeError) Error() string { return fmt.Sprintf("invalid edge: %s", e.Reason) }

// ValidationError aggregates structural problems found by Validate.
type ValidationError struct{ Problems []string }

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workflow validation failed: %d problem(s): %v", len(e.Problems), e.Problems)
}
