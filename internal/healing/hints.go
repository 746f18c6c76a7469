package healing

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// HintStore remembers healed selectors across runs, keyed by test name
// and step id. Hints are advisory: the resolver tries them after the
// recorded candidates, a stale hint simply fails its probe, and the
// Step record itself is never touched.
type HintStore interface {
	Hint(ctx context.Context, testName string, stepID int) (string, error)
	Remember(ctx context.Context, testName string, stepID int, selector string) error
	Clear(ctx context.Context, testName string) error
}

// MemoryHintStore is the always-available in-process store.
type MemoryHintStore struct {
	mu    sync.RWMutex
	hints map[string]string
}

func NewMemoryHintStore() *MemoryHintStore {
	return &MemoryHintStore{hints: make(map[string]string)}
}

func hintKey(testName string, stepID int) string {
	return fmt.Sprintf("%s#%d", testName, stepID)
}

func (s *MemoryHintStore) Hint(_ context.Context, testName string, stepID int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hints[hintKey(testName, stepID)], nil
}

func (s *MemoryHintStore) Remember(_ context.Context, testName string, stepID int, selector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hints[hintKey(testName, stepID)] = selector
	return nil
}

func (s *MemoryHintStore) Clear(_ context.Context, testName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := testName + "#"
	for k := range s.hints {
		if strings.HasPrefix(k, prefix) {
			delete(s.hints, k)
		}
	}
	return nil
}
