package scheduler

import (
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/lyzr/swarmx-controlplane/internal/dataref"
)

// Decision is the outcome of schedule_node: a node-server assignment, or
// nil when no candidate was found.
type Decision struct {
	NodeID              uuid.UUID
	TargetServer        string
	Priority            int
	AffinityReason      string
	EstimatedDurationMs *float64
}

// Scheduler picks placements using a single strategy per instance, tracks
// retry backoff policy, and remembers LLM session affinity.
type Scheduler struct {
	Registry    *Registry
	Strategy    StrategyKind
	RetryPolicy RetryPolicy
	Cost        dataref.CostEstimator

	cursor *roundRobinCursor
	rng    *rand.Rand

	mu                 sync.RWMutex
	sessionAffinities  map[uuid.UUID]string
}

// New builds a Scheduler. rngSeed is exposed so tests can make the Random
// strategy deterministic.
func New(registry *Registry, strategy StrategyKind, retryPolicy RetryPolicy, cost dataref.CostEstimator, rngSeed int64) *Scheduler {
	s := &Scheduler{
		Registry:          registry,
		Strategy:          strategy,
		RetryPolicy:       retryPolicy,
		Cost:              cost,
		cursor:            &roundRobinCursor{},
		rng:               rand.New(rand.NewSource(rngSeed)),
		sessionAffinities: make(map[uuid.UUID]string),
	}
	registry.OnChange(s.cursor.reset)
	return s
}

// SetSessionAffinity records that sessionID currently prefers server.
func (s *Scheduler) SetSessionAffinity(sessionID uuid.UUID, server string) {
	s.mu.Lock()
	s.sessionAffinities[sessionID] = server
	s.mu.Unlock()
}

// ScheduleNode returns a placement decision for nodeID, or (nil, false)
// when no candidate is both healthy and capable.
func (s *Scheduler) ScheduleNode(nodeID uuid.UUID, req PlacementRequest) (*Decision, bool) {
	candidates := s.Registry.Candidates(req.NodeType)
	if len(req.Exclude) > 0 {
		filtered := candidates[:0:0]
		for _, c := range candidates {
			if !req.Exclude[c.Address] {
				filtered = append(filtered, c)
			}
		}
		if len(filtered) > 0 {
			candidates = filtered
		}
	}
	s.mu.RLock()
	affinities := s.sessionAffinities
	s.mu.RUnlock()

	placement, ok := choose(s.Strategy, candidates, req, s.cursor, s.rng, affinities, s.Cost)
	if !ok {
		return nil, false
	}
	return &Decision{
		NodeID:              nodeID,
		TargetServer:        placement.TargetServer,
		Priority:            0,
		AffinityReason:      placement.AffinityReason,
		EstimatedDurationMs: placement.EstimatedDurationMs,
	}, true
}

// ScheduleWithAffinity prefers preferred when it is healthy and capable,
// tagging the decision with reason "user preference"; otherwise it
// delegates to the configured strategy.
func (s *Scheduler) ScheduleWithAffinity(nodeID uuid.UUID, preferred *string, req PlacementRequest) (*Decision, bool) {
	if preferred != nil {
		candidates := s.Registry.Candidates(req.NodeType)
		for _, c := range candidates {
			if c.Address == *preferred {
				return &Decision{
					NodeID:         nodeID,
					TargetServer:   *preferred,
					AffinityReason: "user preference",
				}, true
			}
		}
	}
	return s.ScheduleNode(nodeID, req)
}
