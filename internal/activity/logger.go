// Package activity records an append-only audit trail of engine actions.
package activity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atelierops/pulse/internal/clock"
	"github.com/atelierops/pulse/model"
)

// Store persists activity entries. Entries are write-once: no update or
// delete operations exist on this port.
type Store interface {
	// Append persists one activity entry.
	Append(ctx context.Context, entry model.WorkflowActivity) error

	// ForInstance returns all entries for an instance ordered by creation
	// time ascending.
	ForInstance(ctx context.Context, orgID, instanceID string) ([]model.WorkflowActivity, error)
}

// Logger writes activity entries and mirrors them to the structured log.
type Logger struct {
	store Store
	clk   clock.Clock
	log   *zap.Logger
}

// NewLogger creates a Logger.
func NewLogger(store Store, clk clock.Clock, log *zap.Logger) *Logger {
	return &Logger{store: store, clk: clk, log: log}
}

// Entry is the caller-facing shape for recording an activity.
type Entry struct {
	OrgID       string
	InstanceID  string
	TaskID      string
	Type        string
	Description string
	ActorID     string
	Metadata    map[string]any
}

// Record appends one activity entry. A persistence failure here is surfaced
// to the caller; the audit trail is part of the engine's contract, not a
// best-effort side channel.
func (l *Logger) Record(ctx context.Context, e Entry) error {
	entry := model.WorkflowActivity{
		ID:          uuid.New().String(),
		OrgID:       e.OrgID,
		InstanceID:  e.InstanceID,
		TaskID:      e.TaskID,
		Type:        e.Type,
		Description: e.Description,
		ActorID:     e.ActorID,
		Metadata:    e.Metadata,
		CreatedAt:   l.clk.Now(),
	}
	if err := l.store.Append(ctx, entry); err != nil {
		return err
	}

	l.log.Info("activity recorded",
		zap.String("activity_type", e.Type),
		zap.String("instance_id", e.InstanceID),
		zap.String("task_id", e.TaskID),
		zap.String("actor_id", e.ActorID),
	)
	return nil
}

// ForInstance returns the audit trail for one instance.
func (l *Logger) ForInstance(ctx context.Context, orgID, instanceID string) ([]model.WorkflowActivity, error) {
	return l.store.ForInstance(ctx, orgID, instanceID)
}

// Since is a convenience for statistics callers: entries newer than cutoff.
func Since(entries []model.WorkflowActivity, cutoff time.Time) []model.WorkflowActivity {
	var result []model.WorkflowActivity
	for _, e := range entries {
		if e.CreatedAt.After(cutoff) {
			result = append(result, e)
		}
	}
	return result
}
