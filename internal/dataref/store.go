package dataref

import (
	"sync"

	"github.com/google/uuid"
)

// Store is the control plane's in-memory index of DataRefs it has learned
// about from completion callbacks. The bytes themselves never pass through
// here — only the handle and its tier/location metadata.
type Store struct {
	mu   sync.RWMutex
	refs map[uuid.UUID]DataRef
}

func NewStore() *Store {
	return &Store{refs: make(map[uuid.UUID]DataRef)}
}

func (s *Store) Put(ref DataRef) {
	s.mu.Lock()
	s.refs[ref.UUID] = ref
	s.mu.Unlock()
}

func (s *Store) Get(id uuid.UUID) (DataRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.refs[id]
	return r, ok
}

func (s *Store) Delete(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refs[id]; !ok {
		return false
	}
	delete(s.refs, id)
	return true
}

// UpdateTier records a DataTierChanged move, keeping the handle's uuid fixed.
func (s *Store) UpdateTier(id uuid.UUID, tier StorageTier) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.refs[id]
	if !ok {
		return false
	}
	r.Tier = tier
	s.refs[id] = r
	return true
}

// ByWorkflow lists every ref owned by workflowID, the set eligible for
// eviction once that workflow reaches a terminal state.
func (s *Store) ByWorkflow(workflowID uuid.UUID) []DataRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []DataRef
	for _, r := range s.refs {
		if r.WorkflowID == workflowID {
			out = append(out, r)
		}
	}
	return out
}
