package dag

import (
	"sort"

	"github.com/google/uuid"

	"github.com/lyzr/swarmx-controlplane/internal/nodestate"
)

// index is a position in the arena slice. Nodes are never referenced by
// pointer; every cross-reference goes through index or through the node's
// stable uuid via the side map below.
type index int

// Dag is the in-memory graph: an arena of nodes keyed by integer index, a
// uuid -> index side map for O(1) lookup by identity, and adjacency lists
// keyed by index. The coordinator and every other caller address nodes by
// uuid only; index is purely an internal storage detail.
type Dag struct {
	arena    []*Node  // nil slot marks a removed node
	byID     map[uuid.UUID]index
	outEdges map[index][]int // indices into edges
	inEdges  map[index][]int
	edges    []Edge
}

func New() *Dag {
	return &Dag{
		byID:     make(map[uuid.UUID]index),
		outEdges: make(map[index][]int),
		inEdges:  make(map[index][]int),
	}
}

func (d *Dag) AddNode(n Node) {
	idx := index(len(d.arena))
	cp := n
	d.arena = append(d.arena, &cp)
	d.byID[n.ID] = idx
}

// RemoveNode deletes a node and cascades to every edge touching it.
func (d *Dag) RemoveNode(id uuid.UUID) {
	idx, ok := d.byID[id]
	if !ok {
		return
	}
	d.arena[idx] = nil
	delete(d.byID, id)

	kept := d.edges[:0]
	for _, e := range d.edges {
		if e.From == id || e.To == id {
			continue
		}
		kept = append(kept, e)
	}
	d.edges = kept
	d.rebuildAdjacency()
}

func (d *Dag) Node(id uuid.UUID) (Node, bool) {
	idx, ok := d.byID[id]
	if !ok || d.arena[idx] == nil {
		return Node{}, false
	}
	return *d.arena[idx], true
}

func (d *Dag) Nodes() []Node {
	out := make([]Node, 0, len(d.byID))
	for _, n := range d.arena {
		if n != nil {
			out = append(out, *n)
		}
	}
	return out
}

func (d *Dag) Edges() []Edge {
	out := make([]Edge, len(d.edges))
	copy(out, d.edges)
	return out
}

// AddEdge fails with NodeNotFoundError if either endpoint is unknown, with
// InvalidEdgeError if the referenced ports do not exist or are
// type-incompatible, and with CycleDetectedError if the addition would
// create a cycle. On any failure the graph is left unchanged.
func (d *Dag) AddEdge(e Edge) error {
	fromIdx, ok := d.byID[e.From]
	if !ok {
		return &NodeNotFoundError{NodeID: e.From.String()}
	}
	toIdx, ok := d.byID[e.To]
	if !ok {
		return &NodeNotFoundError{NodeID: e.To.String()}
	}

	fromNode := d.arena[fromIdx]
	toNode := d.arena[toIdx]
	outPort, ok := findPort(fromNode.Outputs, e.FromOutput)
	if !ok {
		return &InvalidEdgeError{Reason: "source output port does not exist: " + e.FromOutput}
	}
	inPort, ok := findPort(toNode.Inputs, e.ToInput)
	if !ok {
		return &InvalidEdgeError{Reason: "target input port does not exist: " + e.ToInput}
	}
	if !portTypesCompatible(outPort.Type, inPort.Type) {
		return &InvalidEdgeError{Reason: "incompatible port types: " + string(outPort.Type) + " -> " + string(inPort.Type)}
	}

	if d.wouldCreateCycle(fromIdx, toIdx) {
		return &CycleDetectedError{From: e.From.String(), To: e.To.String()}
	}

	edgeIdx := len(d.edges)
	d.edges = append(d.edges, e)
	d.outEdges[fromIdx] = append(d.outEdges[fromIdx], edgeIdx)
	d.inEdges[toIdx] = append(d.inEdges[toIdx], edgeIdx)
	return nil
}

// portTypesCompatible treats equal types as compatible, plus json as a
// universal sink/source since config and free-form payloads travel as json.
func portTypesCompatible(out, in PortType) bool {
	if out == in {
		return true
	}
	return out == PortJSON || in == PortJSON
}

func findPort(ports []Port, name string) (Port, bool) {
	for _, p := range ports {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

func (d *Dag) wouldCreateCycle(from, to index) bool {
	if from == to {
		return true
	}
	visited := make(map[index]bool)
	var dfs func(index) bool
	dfs = func(cur index) bool {
		if cur == from {
			return true
		}
		if visited[cur] {
			return false
		}
		visited[cur] = true
		for _, ei := range d.outEdges[cur] {
			nextID := d.edges[ei].To
			nextIdx := d.byID[nextID]
			if dfs(nextIdx) {
				return true
			}
		}
		return false
	}
	return dfs(to)
}

func (d *Dag) rebuildAdjacency() {
	d.outEdges = make(map[index][]int)
	d.inEdges = make(map[index][]int)
	for i, e := range d.edges {
		d.outEdges[d.byID[e.From]] = append(d.outEdges[d.byID[e.From]], i)
		d.inEdges[d.byID[e.To]] = append(d.inEdges[d.byID[e.To]], i)
	}
}

// GetDependencies returns the one-hop predecessors of id.
func (d *Dag) GetDependencies(id uuid.UUID) []uuid.UUID {
	idx, ok := d.byID[id]
	if !ok {
		return nil
	}
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, ei := range d.inEdges[idx] {
		src := d.edges[ei].From
		if !seen[src] {
			seen[src] = true
			out = append(out, src)
		}
	}
	return out
}

// GetDependents returns the one-hop successors of id.
func (d *Dag) GetDependents(id uuid.UUID) []uuid.UUID {
	idx, ok := d.byID[id]
	if !ok {
		return nil
	}
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, ei := range d.outEdges[idx] {
		dst := d.edges[ei].To
		if !seen[dst] {
			seen[dst] = true
			out = append(out, dst)
		}
	}
	return out
}

// GetReadyNodes returns every node whose state is schedulable (Pending or
// Retrying) AND every incoming edge's source node state is Done. States is
// supplied by the caller (the coordinator owns NodeContext); the DAG itself
// holds no execution state, keeping the arena a pure structural index.
func (d *Dag) GetReadyNodes(states map[uuid.UUID]nodestate.State) []uuid.UUID {
	var ready []uuid.UUID
	for _, n := range d.arena {
		if n == nil {
			continue
		}
		st, ok := states[n.ID]
		if !ok || !(st == nodestate.Pending || st == nodestate.Retrying) {
			continue
		}
		allDepsDone := true
		for _, dep := range d.GetDependencies(n.ID) {
			if states[dep] != nodestate.Done {
				allDepsDone = false
				break
			}
		}
		if allDepsDone {
			ready = append(ready, n.ID)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].String() < ready[j].String() })
	return ready
}

// TopologicalOrder returns a valid linear extension of the graph, breaking
// ties by ascending node uuid for determinism.
func (d *Dag) TopologicalOrder() ([]uuid.UUID, error) {
	indegree := make(map[uuid.UUID]int)
	nodes := d.Nodes()
	for _, n := range nodes {
		indegree[n.ID] = 0
	}
	for _, e := range d.edges {
		indegree[e.To]++
	}

	var frontier []uuid.UUID
	for _, n := range nodes {
		if indegree[n.ID] == 0 {
			frontier = append(frontier, n.ID)
		}
	}

	var order []uuid.UUID
	for len(frontier) > 0 {
		sort.Slice(frontier, func(i, j int) bool { return frontier[i].String() < frontier[j].String() })
		cur := frontier[0]
		frontier = frontier[1:]
		order = append(order, cur)
		for _, dep := range d.GetDependents(cur) {
			indegree[dep]--
			if indegree[dep] == 0 {
				frontier = append(frontier, dep)
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, &ValidationError{Problems: []string{"graph contains a cycle"}}
	}
	return order, nil
}

// Validate checks acyclicity, edge endpoint/port existence and type
// compatibility (already enforced on AddEdge, re-checked here so the result
// does not depend on how the graph was built), and that every required input
// is connected or has a default.
func (d *Dag) Validate() error {
	var problems []string

	if _, err := d.TopologicalOrder(); err != nil {
		problems = append(problems, "graph is not acyclic")
	}

	connectedInputs := make(map[uuid.UUID]map[string]bool)
	for _, e := range d.edges {
		fromIdx, ok := d.byID[e.From]
		if !ok {
			problems = append(problems, "edge references unknown source node "+e.From.String())
			continue
		}
		toIdx, ok := d.byID[e.To]
		if !ok {
			problems = append(problems, "edge references unknown target node "+e.To.String())
			continue
		}
		outPort, okOut := findPort(d.arena[fromIdx].Outputs, e.FromOutput)
		inPort, okIn := findPort(d.arena[toIdx].Inputs, e.ToInput)
		switch {
		case !okOut:
			problems = append(problems, "edge references unknown source output "+e.FromOutput)
		case !okIn:
			problems = append(problems, "edge references unknown target input "+e.ToInput)
		case !portTypesCompatible(outPort.Type, inPort.Type):
			problems = append(problems, "edge connects incompatible port types: "+string(outPort.Type)+" -> "+string(inPort.Type))
		}
		if connectedInputs[e.To] == nil {
			connectedInputs[e.To] = make(map[string]bool)
		}
		connectedInputs[e.To][e.ToInput] = true
	}

	for _, n := range d.Nodes() {
		for _, in := range n.Inputs {
			if in.Required && !connectedInputs[n.ID][in.Name] && in.Default == nil {
				problems = append(problems, "required input "+in.Name+" on node "+n.ID.String()+" has no connection or default")
			}
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
