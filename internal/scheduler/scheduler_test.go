package scheduler

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/swarmx-controlplane/internal/dataref"
)

func TestBackoffSaturatesAtMax(t *testing.T) {
	p := RetryPolicy{MaxRetries: 50, BackoffMs: 1000, Multiplier: 2.0, MaxBackoff: 30000}
	assert.Equal(t, int64(1000), p.Backoff(0))
	assert.Equal(t, int64(2000), p.Backoff(1))
	assert.Equal(t, int64(4000), p.Backoff(2))
	assert.Equal(t, int64(30000), p.Backoff(6))
	// A huge retry count must not overflow or go negative.
	assert.Equal(t, int64(30000), p.Backoff(10000))
}

func TestBackoffNegativeRetryCountClamped(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, p.Backoff(0), p.Backoff(-5))
}

func TestRegistryCandidatesFiltersUnhealthyAndIncapable(t *testing.T) {
	r := NewRegistry()
	r.Register(ServerInfo{Address: "s1", Healthy: true, Capabilities: []string{"llm."}})
	r.Register(ServerInfo{Address: "s2", Healthy: false, Capabilities: []string{"llm."}})
	r.Register(ServerInfo{Address: "s3", Healthy: true, Capabilities: []string{"vision."}})

	candidates := r.Candidates("llm.chat")
	require.Len(t, candidates, 1)
	assert.Equal(t, "s1", candidates[0].Address)
}

func TestRegistryOnChangeFiresOnMutation(t *testing.T) {
	r := NewRegistry()
	fired := 0
	r.OnChange(func() { fired++ })
	r.Register(ServerInfo{Address: "s1", Healthy: true})
	r.Unregister("s1")
	assert.Equal(t, 2, fired)
}

func TestRoundRobinResetsCursorOnRegistryChange(t *testing.T) {
	r := NewRegistry()
	r.Register(ServerInfo{Address: "s1", Healthy: true})
	r.Register(ServerInfo{Address: "s2", Healthy: true})
	sched := New(r, RoundRobin, DefaultRetryPolicy(), dataref.NewCostEstimator(1024), 1)

	d1, ok := sched.ScheduleNode(uuid.New(), PlacementRequest{})
	require.True(t, ok)
	d2, ok := sched.ScheduleNode(uuid.New(), PlacementRequest{})
	require.True(t, ok)
	assert.NotEqual(t, d1.TargetServer, d2.TargetServer, "round robin should alternate across two candidates")

	r.Register(ServerInfo{Address: "s3", Healthy: true}) // triggers OnChange -> cursor reset
	d3, ok := sched.ScheduleNode(uuid.New(), PlacementRequest{})
	require.True(t, ok)
	assert.Equal(t, d1.TargetServer, d3.TargetServer, "cursor should have reset to the first candidate")
}

func TestScheduleWithAffinityPrefersUserChoice(t *testing.T) {
	r := NewRegistry()
	r.Register(ServerInfo{Address: "s1", Healthy: true})
	r.Register(ServerInfo{Address: "s2", Healthy: true})
	sched := New(r, RoundRobin, DefaultRetryPolicy(), dataref.NewCostEstimator(1024), 1)

	preferred := "s2"
	decision, ok := sched.ScheduleWithAffinity(uuid.New(), &preferred, PlacementRequest{})
	require.True(t, ok)
	assert.Equal(t, "s2", decision.TargetServer)
	assert.Equal(t, "user preference", decision.AffinityReason)
}

func TestScheduleNodeExcludesRejectedServers(t *testing.T) {
	r := NewRegistry()
	r.Register(ServerInfo{Address: "s1", Healthy: true})
	r.Register(ServerInfo{Address: "s2", Healthy: true})
	sched := New(r, LeastLoaded, DefaultRetryPolicy(), dataref.NewCostEstimator(1024), 1)

	decision, ok := sched.ScheduleNode(uuid.New(), PlacementRequest{Exclude: map[string]bool{"s1": true}})
	require.True(t, ok)
	assert.Equal(t, "s2", decision.TargetServer)
}

func TestDataAffinityPrefersServerHoldingMostInputs(t *testing.T) {
	r := NewRegistry()
	r.Register(ServerInfo{Address: "s1", Healthy: true})
	r.Register(ServerInfo{Address: "s2", Healthy: true})
	sched := New(r, DataAffinity, DefaultRetryPolicy(), dataref.NewCostEstimator(1024), 1)

	refs := []dataref.DataRef{
		{UUID: uuid.New(), ServerAddr: "s2"},
		{UUID: uuid.New(), ServerAddr: "s2"},
	}
	decision, ok := sched.ScheduleNode(uuid.New(), PlacementRequest{InputRefs: refs})
	require.True(t, ok)
	assert.Equal(t, "s2", decision.TargetServer)
	assert.Equal(t, "data affinity", decision.AffinityReason)
}

func TestSessionAffinityStickiness(t *testing.T) {
	r := NewRegistry()
	r.Register(ServerInfo{Address: "s1", Healthy: true})
	r.Register(ServerInfo{Address: "s2", Healthy: true})
	sched := New(r, SessionAffinity, DefaultRetryPolicy(), dataref.NewCostEstimator(1024), 1)

	session := uuid.New()
	sched.SetSessionAffinity(session, "s2")

	decision, ok := sched.ScheduleNode(uuid.New(), PlacementRequest{SessionID: &session})
	require.True(t, ok)
	assert.Equal(t, "s2", decision.TargetServer)
	assert.Equal(t, "session affinity", decision.AffinityReason)
}

func TestScheduleNodeNoCandidates(t *testing.T) {
	r := NewRegistry()
	sched := New(r, RoundRobin, DefaultRetryPolicy(), dataref.NewCostEstimator(1024), 1)
	_, ok := sched.ScheduleNode(uuid.New(), PlacementRequest{})
	assert.False(t, ok)
}
