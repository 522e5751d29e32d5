package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atelierops/pulse/model"
)

// MemoryStore is an in-memory instance Store for tests and single-node
// deployments.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string]model.WorkflowInstance
	tasks     map[string]model.WorkflowTask
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[string]model.WorkflowInstance),
		tasks:     make(map[string]model.WorkflowTask),
	}
}

// CreateInstance persists a new instance and its tasks atomically.
func (s *MemoryStore) CreateInstance(_ context.Context, inst model.WorkflowInstance, tasks []model.WorkflowTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[inst.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("instance %q already exists", inst.ID))
	}
	s.instances[inst.ID] = inst
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	return nil
}

// Instance retrieves an instance by ID, scoped to an org.
func (s *MemoryStore) Instance(_ context.Context, orgID, instanceID string) (model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[instanceID]
	if !ok || inst.OrgID != orgID {
		return model.WorkflowInstance{}, model.NewNotFoundError(fmt.Sprintf("instance %q not found", instanceID))
	}
	return inst, nil
}

// UpdateInstance persists instance changes with optimistic locking.
func (s *MemoryStore) UpdateInstance(_ context.Context, inst model.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.instances[inst.ID]
	if !ok || cur.OrgID != inst.OrgID {
		return model.NewNotFoundError(fmt.Sprintf("instance %q not found", inst.ID))
	}
	if cur.Version != inst.Version {
		return model.NewConflictError(
			fmt.Sprintf("instance %q was modified concurrently (version %d != %d)", inst.ID, cur.Version, inst.Version),
		)
	}
	inst.Version++
	s.instances[inst.ID] = inst
	return nil
}

// ListInstances returns a page of instances matching the filters, newest
// first, plus the total match count.
func (s *MemoryStore) ListInstances(_ context.Context, orgID string, f model.InstanceFilters) ([]model.WorkflowInstance, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []model.WorkflowInstance
	for _, inst := range s.instances {
		if inst.OrgID != orgID {
			continue
		}
		if f.TemplateID != "" && inst.TemplateID != f.TemplateID {
			continue
		}
		if f.Status != "" && inst.Status != f.Status {
			continue
		}
		matched = append(matched, inst)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].StartedAt.Equal(matched[j].StartedAt) {
			return matched[i].StartedAt.After(matched[j].StartedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	page, size := pageBounds(f)
	start := (page - 1) * size
	if start >= total {
		return nil, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// Task retrieves a task by ID, scoped to an org.
func (s *MemoryStore) Task(_ context.Context, orgID, taskID string) (model.WorkflowTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[taskID]
	if !ok || t.OrgID != orgID {
		return model.WorkflowTask{}, model.NewNotFoundError(fmt.Sprintf("task %q not found", taskID))
	}
	return t, nil
}

// InstanceTasks returns all tasks of an instance ordered by due date then ID.
func (s *MemoryStore) InstanceTasks(_ context.Context, orgID, instanceID string) ([]model.WorkflowTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WorkflowTask
	for _, t := range s.tasks {
		if t.OrgID == orgID && t.InstanceID == instanceID {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].DueAt.Equal(result[j].DueAt) {
			return result[i].DueAt.Before(result[j].DueAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// UpdateTask persists task changes.
func (s *MemoryStore) UpdateTask(_ context.Context, task model.WorkflowTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.tasks[task.ID]
	if !ok || cur.OrgID != task.OrgID {
		return model.NewNotFoundError(fmt.Sprintf("task %q not found", task.ID))
	}
	s.tasks[task.ID] = task
	return nil
}

func pageBounds(f model.InstanceFilters) (page, size int) {
	page, size = f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	return page, size
}
