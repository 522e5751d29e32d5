// Package engine drives workflow instances through their lifecycle: it
// instantiates templates into dated, assigned task graphs and enforces the
// task state machine on every transition.
package engine

import (
	"context"

	"github.com/atelierops/pulse/model"
)

// Store persists workflow instances and their tasks. Implementations
// enforce org isolation on every read and optimistic locking on instance
// updates.
type Store interface {
	// CreateInstance persists a new instance and all of its tasks
	// atomically.
	CreateInstance(ctx context.Context, inst model.WorkflowInstance, tasks []model.WorkflowTask) error

	// Instance retrieves an instance by ID, scoped to an org.
	Instance(ctx context.Context, orgID, instanceID string) (model.WorkflowInstance, error)

	// UpdateInstance persists instance changes. The stored row must carry
	// the same Version as the given instance or the update fails with
	// CONFLICT; on success the version is incremented.
	UpdateInstance(ctx context.Context, inst model.WorkflowInstance) error

	// ListInstances returns a page of instances matching the filters plus
	// the total match count.
	ListInstances(ctx context.Context, orgID string, f model.InstanceFilters) ([]model.WorkflowInstance, int, error)

	// Task retrieves a task by ID, scoped to an org.
	Task(ctx context.Context, orgID, taskID string) (model.WorkflowTask, error)

	// InstanceTasks returns all tasks of an instance ordered by due date
	// then ID.
	InstanceTasks(ctx context.Context, orgID, instanceID string) ([]model.WorkflowTask, error)

	// UpdateTask persists task changes.
	UpdateTask(ctx context.Context, task model.WorkflowTask) error
}
