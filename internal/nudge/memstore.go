package nudge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/atelierops/pulse/model"
)

// MemoryStore is an in-memory nudge Store for tests.
type MemoryStore struct {
	mu     sync.RWMutex
	nudges map[string]model.WorkflowNudge
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nudges: make(map[string]model.WorkflowNudge)}
}

// Create persists a new pending nudge.
func (s *MemoryStore) Create(_ context.Context, n model.WorkflowNudge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nudges[n.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("nudge %q already exists", n.ID))
	}
	s.nudges[n.ID] = n
	return nil
}

// Get retrieves a nudge by ID, scoped to an org.
func (s *MemoryStore) Get(_ context.Context, orgID, nudgeID string) (model.WorkflowNudge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nudges[nudgeID]
	if !ok || n.OrgID != orgID {
		return model.WorkflowNudge{}, model.NewNotFoundError(fmt.Sprintf("nudge %q not found", nudgeID))
	}
	return n, nil
}

// Due returns up to limit unsent, unfailed nudges due by cutoff.
func (s *MemoryStore) Due(_ context.Context, cutoff time.Time, limit int) ([]model.WorkflowNudge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WorkflowNudge
	for _, n := range s.nudges {
		if n.SentAt != nil || n.Failed {
			continue
		}
		if n.ScheduledAt.After(cutoff) {
			continue
		}
		result = append(result, n)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ScheduledAt.Before(result[j].ScheduledAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// MarkSent stamps sent_at, rejecting double sends.
func (s *MemoryStore) MarkSent(_ context.Context, nudgeID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nudges[nudgeID]
	if !ok {
		return model.NewNotFoundError(fmt.Sprintf("nudge %q not found", nudgeID))
	}
	if n.SentAt != nil {
		return model.NewConflictError(fmt.Sprintf("nudge %q already sent", nudgeID))
	}
	n.SentAt = &at
	s.nudges[nudgeID] = n
	return nil
}

// MarkFailed stamps the failed flag and reason.
func (s *MemoryStore) MarkFailed(_ context.Context, nudgeID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nudges[nudgeID]
	if !ok {
		return model.NewNotFoundError(fmt.Sprintf("nudge %q not found", nudgeID))
	}
	n.Failed = true
	n.FailReason = reason
	s.nudges[nudgeID] = n
	return nil
}

// MarkAcknowledged stamps acknowledged_at.
func (s *MemoryStore) MarkAcknowledged(_ context.Context, orgID, nudgeID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nudges[nudgeID]
	if !ok || n.OrgID != orgID {
		return model.NewNotFoundError(fmt.Sprintf("nudge %q not found", nudgeID))
	}
	n.AcknowledgedAt = &at
	s.nudges[nudgeID] = n
	return nil
}

// ForTask returns all nudges for a task ordered by scheduled time.
func (s *MemoryStore) ForTask(_ context.Context, orgID, taskID string) ([]model.WorkflowNudge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WorkflowNudge
	for _, n := range s.nudges {
		if n.OrgID == orgID && n.TaskID == taskID {
			result = append(result, n)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ScheduledAt.Before(result[j].ScheduledAt)
	})
	return result, nil
}

// Len returns the total number of nudges. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nudges)
}
