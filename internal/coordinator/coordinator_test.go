package coordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/swarmx-controlplane/common/logger"
	"github.com/lyzr/swarmx-controlplane/internal/apperror"
	"github.com/lyzr/swarmx-controlplane/internal/dag"
	"github.com/lyzr/swarmx-controlplane/internal/dataref"
	"github.com/lyzr/swarmx-controlplane/internal/eventlog"
	"github.com/lyzr/swarmx-controlplane/internal/nodestate"
	"github.com/lyzr/swarmx-controlplane/internal/scheduler"
)

func newTestCoordinator(t *testing.T, serverAddr string, retry scheduler.RetryPolicy) (*Coordinator, eventlog.Log) {
	t.Helper()
	log, err := eventlog.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	registry := scheduler.NewRegistry()
	if serverAddr != "" {
		registry.Register(scheduler.ServerInfo{Address: serverAddr, Healthy: true})
	}
	sched := scheduler.New(registry, scheduler.RoundRobin, retry, dataref.NewCostEstimator(1024), 1)

	coord := New(Config{InlineThresholdBytes: 1024, CallbackBaseURL: "http://coordinator.local", MaxConcurrentTasks: 8},
		log, sched, dataref.NewStore(), dataref.NewTokenManager("secret"), logger.New("error", "json"))
	return coord, log
}

func strPort(name string) dag.Port { return dag.Port{Name: name, Type: dag.PortJSON} }

// linearDef builds a two-node a->b definition where a produces "out" and b
// consumes it as "in", with no downstream output of its own.
func linearDef() (dag.Definition, uuid.UUID, uuid.UUID) {
	a, b := uuid.New(), uuid.New()
	return dag.Definition{
		ID:   uuid.New(),
		Name: "linear",
		Nodes: []dag.Node{
			{ID: a, NodeType: "test.a", Outputs: []dag.Port{strPort("out")}},
			{ID: b, NodeType: "test.b", Inputs: []dag.Port{strPort("in")}},
		},
		Edges: []dag.Edge{
			{From: a, FromOutput: "out", To: b, ToInput: "in"},
		},
	}, a, b
}

func extractTaskID(t *testing.T, req TaskRequest) uuid.UUID {
	t.Helper()
	require.Equal(t, "http://coordinator.local/api/callback", req.CallbackURL)
	require.NotEqual(t, uuid.Nil, req.TaskID)
	return req.TaskID
}

func TestStartExecutionLinearChainCompletesSuccessfully(t *testing.T) {
	reqCh := make(chan TaskRequest, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req TaskRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		reqCh <- req
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	coord, _ := newTestCoordinator(t, srv.URL, scheduler.DefaultRetryPolicy())
	def, nodeA, nodeB := linearDef()

	wctx, err := coord.StartExecution(context.Background(), def)
	require.NoError(t, err)

	var req1 TaskRequest
	select {
	case req1 = <-reqCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for node a to dispatch")
	}
	assert.Equal(t, nodeA, req1.NodeID)

	taskA := extractTaskID(t, req1)
	require.NoError(t, coord.HandleCallback(context.Background(), CallbackMessage{
		TaskID: taskA, Status: CallbackComplete,
		Outputs: []IOValue{{Name: "out", Value: 42.0}},
	}))

	var req2 TaskRequest
	select {
	case req2 = <-reqCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for node b to dispatch")
	}
	assert.Equal(t, nodeB, req2.NodeID)
	require.Len(t, req2.Inputs, 1)
	assert.Equal(t, "in", req2.Inputs[0].Name)
	assert.Equal(t, 42.0, req2.Inputs[0].Value, "node b's input should be forwarded from node a's output")

	taskB := extractTaskID(t, req2)
	require.NoError(t, coord.HandleCallback(context.Background(), CallbackMessage{
		TaskID: taskB, Status: CallbackComplete,
	}))

	require.Eventually(t, func() bool {
		got, ok := coord.Get(wctx.ExecutionID)
		return ok && got.State == nodestate.WorkflowCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDuplicateCompleteCallbackIsIdempotent(t *testing.T) {
	reqCh := make(chan TaskRequest, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req TaskRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		reqCh <- req
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	coord, log := newTestCoordinator(t, srv.URL, scheduler.DefaultRetryPolicy())
	a := uuid.New()
	def := dag.Definition{
		ID:   uuid.New(),
		Name: "solo",
		Nodes: []dag.Node{
			{ID: a, NodeType: "test.solo"},
		},
	}

	_, err := coord.StartExecution(context.Background(), def)
	require.NoError(t, err)

	var req TaskRequest
	select {
	case req = <-reqCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
	taskID := extractTaskID(t, req)

	complete := CallbackMessage{TaskID: taskID, Status: CallbackComplete}
	require.NoError(t, coord.HandleCallback(context.Background(), complete))
	require.NoError(t, coord.HandleCallback(context.Background(), complete), "a duplicate complete callback must not error")

	require.Eventually(t, func() bool {
		envs, err := log.ReadFiltered(context.Background(), eventlog.Filter{
			NodeID: &a,
			Types:  map[eventlog.EventType]struct{}{eventlog.EventNodeCompleted: {}},
		})
		return err == nil && len(envs) == 1
	}, 2*time.Second, 10*time.Millisecond, "a duplicate complete must not append a second node_completed event")
}

func TestLateProgressAfterTerminalIsDiscarded(t *testing.T) {
	reqCh := make(chan TaskRequest, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req TaskRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		reqCh <- req
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	coord, log := newTestCoordinator(t, srv.URL, scheduler.DefaultRetryPolicy())
	a := uuid.New()
	def := dag.Definition{ID: uuid.New(), Name: "solo", Nodes: []dag.Node{{ID: a, NodeType: "test.solo"}}}

	_, err := coord.StartExecution(context.Background(), def)
	require.NoError(t, err)

	req := <-reqCh
	taskID := extractTaskID(t, req)
	require.NoError(t, coord.HandleCallback(context.Background(), CallbackMessage{TaskID: taskID, Status: CallbackComplete}))

	require.Eventually(t, func() bool {
		envs, _ := log.ReadFiltered(context.Background(), eventlog.Filter{
			NodeID: &a, Types: map[eventlog.EventType]struct{}{eventlog.EventNodeCompleted: {}},
		})
		return len(envs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, coord.HandleCallback(context.Background(), CallbackMessage{
		TaskID: taskID, Status: CallbackProgress, Progress: 0.5,
	}))

	envs, err := log.ReadFiltered(context.Background(), eventlog.Filter{
		NodeID: &a, Types: map[eventlog.EventType]struct{}{eventlog.EventNodeProgress: {}},
	})
	require.NoError(t, err)
	assert.Empty(t, envs, "progress arriving after the node reached Done must be discarded")
}

func TestCancelTransitionsAllNodesAndWorkflow(t *testing.T) {
	// No server registered: the node stays Pending (never scheduled), which
	// exercises the Pending -> Cancelled edge without racing real dispatch.
	coord, log := newTestCoordinator(t, "", scheduler.DefaultRetryPolicy())
	a := uuid.New()
	def := dag.Definition{ID: uuid.New(), Name: "solo", Nodes: []dag.Node{{ID: a, NodeType: "test.solo"}}}

	wctx, err := coord.StartExecution(context.Background(), def)
	require.NoError(t, err)

	require.NoError(t, coord.Cancel(context.Background(), wctx.ExecutionID))

	require.Eventually(t, func() bool {
		got, ok := coord.Get(wctx.ExecutionID)
		return ok && got.State == nodestate.WorkflowCancelled
	}, 2*time.Second, 10*time.Millisecond)

	got, _ := coord.Get(wctx.ExecutionID)
	assert.Equal(t, nodestate.Cancelled, got.Nodes[a].State)

	envs, err := log.ReadFiltered(context.Background(), eventlog.Filter{
		Types: map[eventlog.EventType]struct{}{eventlog.EventWorkflowCancelled: {}},
	})
	require.NoError(t, err)
	assert.Len(t, envs, 1)
}

func TestRetryAfterFailureEventuallySucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	retry := scheduler.RetryPolicy{MaxRetries: 2, BackoffMs: 5, Multiplier: 2.0, MaxBackoff: 20}
	coord, log := newTestCoordinator(t, srv.URL, retry)
	a := uuid.New()
	def := dag.Definition{ID: uuid.New(), Name: "solo", Nodes: []dag.Node{{ID: a, NodeType: "test.solo"}}}

	_, err := coord.StartExecution(context.Background(), def)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 2
	}, 2*time.Second, 5*time.Millisecond, "the failed dispatch should be retried after backoff")

	envs, err := log.ReadFiltered(context.Background(), eventlog.Filter{
		NodeID: &a, Types: map[eventlog.EventType]struct{}{eventlog.EventNodeRetrying: {}},
	})
	require.NoError(t, err)
	assert.Len(t, envs, 1)
}

func TestHandleCallbackUnknownTaskReturnsNotFound(t *testing.T) {
	coord, _ := newTestCoordinator(t, "", scheduler.DefaultRetryPolicy())
	err := coord.HandleCallback(context.Background(), CallbackMessage{TaskID: uuid.New(), Status: CallbackComplete})
	require.Error(t, err)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.CodeNotFound, appErr.Code)
}

func TestCancelUnknownExecutionReturnsNotFound(t *testing.T) {
	coord, _ := newTestCoordinator(t, "", scheduler.DefaultRetryPolicy())
	err := coord.Cancel(context.Background(), uuid.New())
	require.Error(t, err)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.CodeNotFound, appErr.Code)
}

func TestReconcileResumesNonTerminalExecution(t *testing.T) {
	coord, log := newTestCoordinator(t, "", scheduler.DefaultRetryPolicy())

	workflowID := uuid.New()
	execID := uuid.New()
	nodeID := uuid.New()
	def := dag.Definition{ID: workflowID, Name: "reconciled", Nodes: []dag.Node{{ID: nodeID, NodeType: "test.solo"}}}

	ctx := context.Background()
	startEvent := eventlog.NewEvent(eventlog.EventWorkflowStarted, workflowID, uuid.Nil,
		map[string]interface{}{"execution_id": execID.String()})
	_, err := log.Append(ctx, startEvent)
	require.NoError(t, err)

	scheduledEvent := eventlog.NewEvent(eventlog.EventNodeScheduled, workflowID, nodeID,
		map[string]interface{}{"execution_id": execID.String(), "target_server": "http://example.invalid"})
	_, err = log.Append(ctx, scheduledEvent)
	require.NoError(t, err)

	require.NoError(t, coord.Reconcile(ctx, map[uuid.UUID]dag.Definition{workflowID: def}))

	require.Eventually(t, func() bool {
		_, ok := coord.Get(execID)
		return ok
	}, time.Second, 5*time.Millisecond)

	got, ok := coord.Get(execID)
	require.True(t, ok)
	assert.Equal(t, nodestate.WorkflowRunning, got.State)
	assert.Equal(t, nodestate.Scheduled, got.Nodes[nodeID].State)
}

func TestReconcileSkipsTerminalExecutions(t *testing.T) {
	coord, log := newTestCoordinator(t, "", scheduler.DefaultRetryPolicy())

	workflowID := uuid.New()
	execID := uuid.New()
	def := dag.Definition{ID: workflowID, Name: "done-already"}

	ctx := context.Background()
	_, err := log.Append(ctx, eventlog.NewEvent(eventlog.EventWorkflowStarted, workflowID, uuid.Nil,
		map[string]interface{}{"execution_id": execID.String()}))
	require.NoError(t, err)
	_, err = log.Append(ctx, eventlog.NewEvent(eventlog.EventWorkflowCompleted, workflowID, uuid.Nil,
		map[string]interface{}{"execution_id": execID.String()}))
	require.NoError(t, err)

	require.NoError(t, coord.Reconcile(ctx, map[uuid.UUID]dag.Definition{workflowID: def}))

	_, ok := coord.Get(execID)
	assert.False(t, ok, "a completed execution must not be resumed")
}
