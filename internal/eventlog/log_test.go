package eventlog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T) *SQLiteLog {
	t.Helper()
	l, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAppendAssignsGaplessSequence(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()
	wf := uuid.New()

	env1, err := l.Append(ctx, NewEvent(EventWorkflowStarted, wf, uuid.Nil, nil))
	require.NoError(t, err)
	env2, err := l.Append(ctx, NewEvent(EventWorkflowCompleted, wf, uuid.Nil, nil))
	require.NoError(t, err)

	assert.Equal(t, int64(1), env1.Sequence)
	assert.Equal(t, int64(2), env2.Sequence)
}

func TestAppendBatchPreservesOrderAndSequence(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()
	wf := uuid.New()

	envs, err := l.AppendBatch(ctx, []Event{
		NewEvent(EventNodeScheduled, wf, uuid.New(), nil),
		NewEvent(EventNodeStarted, wf, uuid.New(), nil),
		NewEvent(EventNodeCompleted, wf, uuid.New(), nil),
	})
	require.NoError(t, err)
	require.Len(t, envs, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{envs[0].Sequence, envs[1].Sequence, envs[2].Sequence})
}

func TestReadFromReturnsOnlyNewerEvents(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()
	wf := uuid.New()

	for i := 0; i < 5; i++ {
		_, err := l.Append(ctx, NewEvent(EventNodeProgress, wf, uuid.Nil, nil))
		require.NoError(t, err)
	}

	envs, err := l.ReadFrom(ctx, 4)
	require.NoError(t, err)
	require.Len(t, envs, 2)
	assert.Equal(t, int64(4), envs[0].Sequence)
	assert.Equal(t, int64(5), envs[1].Sequence)
}

func TestReadFilteredByWorkflowAndType(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()
	wf1, wf2 := uuid.New(), uuid.New()

	_, _ = l.Append(ctx, NewEvent(EventWorkflowStarted, wf1, uuid.Nil, nil))
	_, _ = l.Append(ctx, NewEvent(EventWorkflowStarted, wf2, uuid.Nil, nil))
	_, _ = l.Append(ctx, NewEvent(EventWorkflowCompleted, wf1, uuid.Nil, nil))

	envs, err := l.ReadFiltered(ctx, Filter{
		WorkflowID: &wf1,
		Types:      map[EventType]struct{}{EventWorkflowStarted: {}},
	})
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, wf1, envs[0].Event.WorkflowID)
	assert.Equal(t, EventWorkflowStarted, envs[0].Event.Type)
}

func TestFilterMatches(t *testing.T) {
	wf := uuid.New()
	env := Envelope{Sequence: 5, Event: Event{Type: EventNodeFailed, WorkflowID: wf}}

	assert.True(t, Filter{}.Matches(env))
	assert.True(t, Filter{WorkflowID: &wf}.Matches(env))
	other := uuid.New()
	assert.False(t, Filter{WorkflowID: &other}.Matches(env))
	assert.False(t, Filter{MinSequence: 6}.Matches(env))
	assert.True(t, Filter{MinSequence: 5}.Matches(env))
}

func TestLastSequenceAndLatest(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()
	wf := uuid.New()
	for i := 0; i < 3; i++ {
		_, err := l.Append(ctx, NewEvent(EventNodeProgress, wf, uuid.Nil, nil))
		require.NoError(t, err)
	}

	seq, err := l.LastSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), seq)

	latest, err := l.Latest(ctx, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, int64(3), latest[len(latest)-1].Sequence)
}

func TestSubscriberPollReturnsEventsAfterLastSeen(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()
	wf := uuid.New()

	sub := l.Subscribe(0)
	_, err := l.Append(ctx, NewEvent(EventWorkflowStarted, wf, uuid.Nil, nil))
	require.NoError(t, err)

	envs, err := sub.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, envs, 1)

	// Nothing new: a second poll with no intervening append returns empty.
	envs, err = sub.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, envs)
}
