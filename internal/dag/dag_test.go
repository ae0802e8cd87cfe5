package dag

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/swarmx-controlplane/internal/nodestate"
)

func strPort(name string) Port { return Port{Name: name, Type: PortJSON, Required: false} }

func newTestNode(id uuid.UUID, outputs, inputs []string) Node {
	n := Node{ID: id, NodeType: "test.node"}
	for _, o := range outputs {
		n.Outputs = append(n.Outputs, strPort(o))
	}
	for _, in := range inputs {
		n.Inputs = append(n.Inputs, strPort(in))
	}
	return n
}

func TestLinearChainReadyNodes(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	g := New()
	g.AddNode(newTestNode(a, []string{"out"}, nil))
	g.AddNode(newTestNode(b, []string{"out"}, []string{"in"}))
	g.AddNode(newTestNode(c, nil, []string{"in"}))

	require.NoError(t, g.AddEdge(Edge{From: a, FromOutput: "out", To: b, ToInput: "in"}))
	require.NoError(t, g.AddEdge(Edge{From: b, FromOutput: "out", To: c, ToInput: "in"}))

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a, b, c}, order)

	ready := g.GetReadyNodes(map[uuid.UUID]nodestate.State{a: nodestate.Pending, b: nodestate.Pending, c: nodestate.Pending})
	assert.Equal(t, []uuid.UUID{a}, ready)
}

func TestDiamondReadyNodes(t *testing.T) {
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	g := New()
	g.AddNode(newTestNode(a, []string{"out"}, nil))
	g.AddNode(newTestNode(b, []string{"out"}, []string{"in"}))
	g.AddNode(newTestNode(c, []string{"out"}, []string{"in"}))
	g.AddNode(newTestNode(d, nil, []string{"in1", "in2"}))

	require.NoError(t, g.AddEdge(Edge{From: a, FromOutput: "out", To: b, ToInput: "in"}))
	require.NoError(t, g.AddEdge(Edge{From: a, FromOutput: "out", To: c, ToInput: "in"}))
	require.NoError(t, g.AddEdge(Edge{From: b, FromOutput: "out", To: d, ToInput: "in1"}))
	require.NoError(t, g.AddEdge(Edge{From: c, FromOutput: "out", To: d, ToInput: "in2"}))

	deps := g.GetDependencies(d)
	assert.ElementsMatch(t, []uuid.UUID{b, c}, deps)

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, d, order[len(order)-1])

	ready := g.GetReadyNodes(map[uuid.UUID]nodestate.State{a: nodestate.Done, b: nodestate.Pending, c: nodestate.Pending, d: nodestate.Pending})
	assert.ElementsMatch(t, []uuid.UUID{b, c}, ready)
}

func TestAddEdgeRejectsCycle(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	g := New()
	g.AddNode(newTestNode(a, []string{"out"}, []string{"in"}))
	g.AddNode(newTestNode(b, []string{"out"}, []string{"in"}))

	require.NoError(t, g.AddEdge(Edge{From: a, FromOutput: "out", To: b, ToInput: "in"}))
	err := g.AddEdge(Edge{From: b, FromOutput: "out", To: a, ToInput: "in"})
	require.Error(t, err)
	var cycleErr *CycleDetectedError
	assert.ErrorAs(t, err, &cycleErr)
}

func TestAddEdgeRejectsSelfLoop(t *testing.T) {
	a := uuid.New()
	g := New()
	g.AddNode(newTestNode(a, []string{"out"}, []string{"in"}))
	err := g.AddEdge(Edge{From: a, FromOutput: "out", To: a, ToInput: "in"})
	require.Error(t, err)
}

func TestAddEdgeUnknownNode(t *testing.T) {
	a := uuid.New()
	g := New()
	g.AddNode(newTestNode(a, []string{"out"}, nil))
	err := g.AddEdge(Edge{From: a, FromOutput: "out", To: uuid.New(), ToInput: "in"})
	require.Error(t, err)
	var nfErr *NodeNotFoundError
	assert.ErrorAs(t, err, &nfErr)
}

func TestAddEdgeIncompatiblePorts(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	g := New()
	g.AddNode(Node{ID: a, Outputs: []Port{{Name: "out", Type: PortTensor}}})
	g.AddNode(Node{ID: b, Inputs: []Port{{Name: "in", Type: PortBytes}}})
	err := g.AddEdge(Edge{From: a, FromOutput: "out", To: b, ToInput: "in"})
	require.Error(t, err)
	var ieErr *InvalidEdgeError
	assert.ErrorAs(t, err, &ieErr)
}

func TestValidateRequiredInputWithoutConnectionOrDefault(t *testing.T) {
	a := uuid.New()
	g := New()
	g.AddNode(Node{ID: a, Inputs: []Port{{Name: "in", Type: PortJSON, Required: true}}})
	err := g.Validate()
	require.Error(t, err)
}

func TestValidateRequiredInputWithDefaultPasses(t *testing.T) {
	a := uuid.New()
	var def interface{} = "fallback"
	g := New()
	g.AddNode(Node{ID: a, Inputs: []Port{{Name: "in", Type: PortJSON, Required: true, Default: &def}}})
	assert.NoError(t, g.Validate())
}

func TestGetReadyNodesWaitsForAllDependencies(t *testing.T) {
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	g := New()
	g.AddNode(newTestNode(a, []string{"out"}, nil))
	g.AddNode(newTestNode(b, []string{"out"}, []string{"in"}))
	g.AddNode(newTestNode(c, []string{"out"}, []string{"in"}))
	g.AddNode(newTestNode(d, nil, []string{"in1", "in2"}))
	require.NoError(t, g.AddEdge(Edge{From: a, FromOutput: "out", To: b, ToInput: "in"}))
	require.NoError(t, g.AddEdge(Edge{From: a, FromOutput: "out", To: c, ToInput: "in"}))
	require.NoError(t, g.AddEdge(Edge{From: b, FromOutput: "out", To: d, ToInput: "in1"}))
	require.NoError(t, g.AddEdge(Edge{From: c, FromOutput: "out", To: d, ToInput: "in2"}))

	states := map[uuid.UUID]nodestate.State{
		a: nodestate.Done,
		b: nodestate.Done,
		c: nodestate.Running, // not yet done
		d: nodestate.Pending,
	}
	ready := g.GetReadyNodes(states)
	assert.NotContains(t, ready, d, "d must wait until both b and c are done")

	states[c] = nodestate.Done
	ready = g.GetReadyNodes(states)
	assert.Contains(t, ready, d)
}

func TestResolveNodeIDDeterministic(t *testing.T) {
	id1 := ResolveNodeID("fetch-data")
	id2 := ResolveNodeID("fetch-data")
	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, ResolveNodeID("other-node"))
}

func TestParseDSLRoundTrip(t *testing.T) {
	raw := []byte(`{
		"id": "wf-1",
		"version": 1,
		"name": "demo",
		"nodes": [
			{"id": "a", "node_type": "test.a", "outputs": [{"name": "out", "type": "json"}], "inputs": []},
			{"id": "b", "node_type": "test.b", "outputs": [], "inputs": [{"name": "in", "type": "json"}]}
		],
		"edges": [
			{"source_node": "a", "source_output": "out", "target_node": "b", "target_input": "in"}
		]
	}`)

	def, err := ParseDSL(raw)
	require.NoError(t, err)
	assert.Equal(t, ResolveNodeID("wf-1"), def.ID)
	assert.Len(t, def.Nodes, 2)
	assert.Len(t, def.Edges, 1)

	encoded, err := ToJSON(*def)
	require.NoError(t, err)
	back, err := FromJSON(encoded)
	require.NoError(t, err)
	assert.Equal(t, *def, *back)

	g, err := BuildDag(*def)
	require.NoError(t, err)
	require.NoError(t, g.Validate())
}
