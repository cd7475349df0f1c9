package alarm

import (
	"context"
	"sync"
)

// StateStore holds the last evaluated state of every rule. Implementations
// must be safe for concurrent use; the evaluator serialises access per rule.
type StateStore interface {
	// Get returns the stored state and whether one exists.
	Get(ctx context.Context, ruleID string) (State, bool, error)
	Set(ctx context.Context, ruleID string, s State) error
	All(ctx context.Context) (map[string]State, error)
}

// MemoryStates is a process-local StateStore.
type MemoryStates struct {
	mu sync.RWMutex
	m  map[string]State
}

// NewMemoryStates returns an empty MemoryStates.
func NewMemoryStates() *MemoryStates {
	return &MemoryStates{m: make(map[string]State)}
}

func (s *MemoryStates) Get(_ context.Context, ruleID string) (State, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.m[ruleID]
	return st, ok, nil
}

func (s *MemoryStates) Set(_ context.Context, ruleID string, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[ruleID] = st
	return nil
}

func (s *MemoryStates) All(_ context.Context) (map[string]State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]State, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	return out, nil
}

// Prune removes states of rules not in keep.
func (s *MemoryStates) Prune(_ context.Context, keep map[string]bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id := range s.m {
		if !keep[id] {
			delete(s.m, id)
			n++
		}
	}
	return n, nil
}
