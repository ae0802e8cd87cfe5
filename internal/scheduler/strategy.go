package scheduler

import (
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/lyzr/swarmx-controlplane/internal/dataref"
)

// StrategyKind is the tagged placement-strategy variant. Strategies are
// enumerated here and dispatched by tag rather than modeled as open
// polymorphism, per the system's design notes.
type StrategyKind string

const (
	RoundRobin      StrategyKind = "round_robin"
	LeastLoaded     StrategyKind = "least_loaded"
	DataAffinity    StrategyKind = "data_affinity"
	SessionAffinity StrategyKind = "session_affinity"
	Random          StrategyKind = "random"
)

// PlacementRequest carries whatever context a strategy needs beyond the
// candidate list.
type PlacementRequest struct {
	NodeType  string
	SessionID *uuid.UUID
	InputRefs []dataref.DataRef

	// Exclude holds server addresses to skip, used to apply a scheduler
	// penalty after a 4xx placement rejection so the very next attempt
	// does not immediately re-select the same server.
	Exclude map[string]bool
}

// Placement is the outcome of choosing a server for a node.
type Placement struct {
	TargetServer       string
	AffinityReason     string
	EstimatedDurationMs *float64
}

// roundRobinCursor is a persistent, registry-change-resetting cursor; it
// lives outside the stateless strategy functions because it is the one
// strategy with memory across calls.
type roundRobinCursor struct {
	mu     sync.Mutex
	cursor int
}

func (c *roundRobinCursor) reset() {
	c.mu.Lock()
	c.cursor = 0
	c.mu.Unlock()
}

func (c *roundRobinCursor) next(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n == 0 {
		return 0
	}
	idx := c.cursor % n
	c.cursor = (c.cursor + 1) % n
	return idx
}

// choose dispatches to the strategy named by kind. candidates is assumed
// already filtered to healthy+capable servers, sorted by address.
func choose(kind StrategyKind, candidates []ServerInfo, req PlacementRequest,
	cursor *roundRobinCursor, rng *rand.Rand, sessionAffinities map[uuid.UUID]string,
	cost dataref.CostEstimator) (Placement, bool) {

	if len(candidates) == 0 {
		return Placement{}, false
	}

	switch kind {
	case RoundRobin:
		idx := cursor.next(len(candidates))
		return Placement{TargetServer: candidates[idx].Address}, true

	case LeastLoaded:
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.CurrentLoad < best.CurrentLoad ||
				(c.CurrentLoad == best.CurrentLoad && c.Address < best.Address) {
				best = c
			}
		}
		return Placement{TargetServer: best.Address}, true

	case DataAffinity:
		if len(req.InputRefs) == 0 {
			return chooseLeastLoaded(candidates)
		}
		bestFrac := -1.0
		var tied []ServerInfo
		for _, c := range candidates {
			frac := cost.LocalFraction(req.InputRefs, c.Address)
			if frac > bestFrac {
				bestFrac = frac
				tied = []ServerInfo{c}
			} else if frac == bestFrac {
				tied = append(tied, c)
			}
		}
		if bestFrac <= 0 {
			return chooseLeastLoaded(candidates)
		}
		if len(tied) > 1 {
			return chooseLeastLoaded(tied)
		}
		return Placement{TargetServer: tied[0].Address, AffinityReason: "data affinity"}, true

	case SessionAffinity:
		if req.SessionID != nil {
			if addr, ok := sessionAffinities[*req.SessionID]; ok {
				for _, c := range candidates {
					if c.Address == addr {
						return Placement{TargetServer: addr, AffinityReason: "session affinity"}, true
					}
				}
			}
		}
		return chooseLeastLoaded(candidates)

	case Random:
		idx := rng.Intn(len(candidates))
		return Placement{TargetServer: candidates[idx].Address}, true

	default:
		return chooseLeastLoaded(candidates)
	}
}

func chooseLeastLoaded(candidates []ServerInfo) (Placement, bool) {
	if len(candidates) == 0 {
		return Placement{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.CurrentLoad < best.CurrentLoad ||
			(c.CurrentLoad == best.CurrentLoad && c.Address < best.Address) {
			best = c
		}
	}
	return Placement{TargetServer: best.Address}, true
}
