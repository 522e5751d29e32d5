package activity

import (
	"context"
	"sort"
	"sync"

	"github.com/atelierops/pulse/model"
)

// MemoryStore is an in-memory activity Store for tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []model.WorkflowActivity
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append persists one activity entry.
func (s *MemoryStore) Append(_ context.Context, entry model.WorkflowActivity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// ForInstance returns entries for an instance ordered by creation time.
func (s *MemoryStore) ForInstance(_ context.Context, orgID, instanceID string) ([]model.WorkflowActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WorkflowActivity
	for _, e := range s.entries {
		if e.OrgID == orgID && e.InstanceID == instanceID {
			result = append(result, e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// All returns every entry. For testing.
func (s *MemoryStore) All() []model.WorkflowActivity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]model.WorkflowActivity, len(s.entries))
	copy(result, s.entries)
	return result
}
