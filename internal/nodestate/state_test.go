package nodestate

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLegalTransitionSequence(t *testing.T) {
	c := New(uuid.New(), uuid.New(), 3)
	require.NoError(t, c.Transition(Scheduled, "placed"))
	require.NoError(t, c.Transition(Running, "started"))
	require.NoError(t, c.Transition(Done, "completed"))
	assert.Equal(t, Done, c.State)
	assert.NotNil(t, c.StartedAt)
	assert.NotNil(t, c.CompletedAt)
	assert.Len(t, c.Transitions, 3)
}

func TestInvalidTransitionRejected(t *testing.T) {
	c := New(uuid.New(), uuid.New(), 3)
	err := c.Transition(Running, "skip scheduling")
	require.Error(t, err)
	var invalid *InvalidTransitionError
	assert.ErrorAs(t, err, &invalid)
	assert.Equal(t, Pending, c.State, "state must be unchanged on a rejected transition")
	assert.Empty(t, c.Transitions)
}

func TestTerminalStatesRejectFurtherTransitions(t *testing.T) {
	c := New(uuid.New(), uuid.New(), 3)
	require.NoError(t, c.Transition(Scheduled, ""))
	require.NoError(t, c.Transition(Running, ""))
	require.NoError(t, c.Transition(Done, ""))

	err := c.Transition(Retrying, "")
	require.Error(t, err)
}

func TestRetryAccounting(t *testing.T) {
	c := New(uuid.New(), uuid.New(), 1)
	require.NoError(t, c.Transition(Scheduled, ""))
	require.NoError(t, c.Transition(Running, ""))
	require.NoError(t, c.Transition(Failed, "boom"))
	assert.True(t, c.CanRetry())

	require.NoError(t, c.Transition(Retrying, "retry 1"))
	assert.Equal(t, 1, c.RetryCount)

	require.NoError(t, c.Transition(Scheduled, ""))
	require.NoError(t, c.Transition(Running, ""))
	require.NoError(t, c.Transition(Failed, "boom again"))
	assert.False(t, c.CanRetry(), "retry count has reached max_retries")
}

func TestCancelledIsTerminalFromAnyNonTerminalState(t *testing.T) {
	for _, start := range []State{Pending, Scheduled, Running, Failed, Retrying} {
		c := New(uuid.New(), uuid.New(), 3)
		c.State = start
		require.NoError(t, c.Transition(Cancelled, "cancelled"), "from state %s", start)
		assert.True(t, IsTerminal(c.State))
	}
}

func TestWorkflowContextProgressAndCompletion(t *testing.T) {
	wctx := NewWorkflowContext(uuid.New(), "demo")
	n1 := New(uuid.New(), wctx.WorkflowID, 3)
	n2 := New(uuid.New(), wctx.WorkflowID, 3)
	wctx.Nodes[n1.NodeID] = n1
	wctx.Nodes[n2.NodeID] = n2

	assert.Equal(t, 0.0, wctx.Progress())
	assert.False(t, wctx.IsComplete())

	require.NoError(t, n1.Transition(Scheduled, ""))
	require.NoError(t, n1.Transition(Running, ""))
	require.NoError(t, n1.Transition(Done, ""))
	assert.Equal(t, 0.5, wctx.Progress())
	assert.False(t, wctx.IsComplete())

	require.NoError(t, n2.Transition(Scheduled, ""))
	require.NoError(t, n2.Transition(Running, ""))
	require.NoError(t, n2.Transition(Failed, "boom"))
	assert.Equal(t, 1.0, wctx.Progress())
	assert.True(t, wctx.IsComplete())
	assert.False(t, wctx.AllDone(), "one node failed, so not AllDone")
}
