// Package nudge schedules task reminders and dispatches the ones that have
// come due, at most once each.
package nudge

import (
	"context"
	"time"

	"github.com/atelierops/pulse/model"
)

// Store persists nudges. Rows are created by the scheduler and mutated only
// by the dispatcher's send/acknowledge operations.
type Store interface {
	// Create persists a new pending nudge.
	Create(ctx context.Context, n model.WorkflowNudge) error

	// Get retrieves a nudge by ID, scoped to an org.
	Get(ctx context.Context, orgID, nudgeID string) (model.WorkflowNudge, error)

	// Due returns up to limit nudges with scheduled_at <= cutoff that have
	// not been sent and have not failed, oldest first.
	Due(ctx context.Context, cutoff time.Time, limit int) ([]model.WorkflowNudge, error)

	// MarkSent stamps sent_at. Returns CONFLICT if the nudge was already
	// sent, which keeps delivery at most once even across racing sweeps.
	MarkSent(ctx context.Context, nudgeID string, at time.Time) error

	// MarkFailed stamps the failed flag and reason.
	MarkFailed(ctx context.Context, nudgeID, reason string) error

	// MarkAcknowledged stamps acknowledged_at, scoped to an org.
	MarkAcknowledged(ctx context.Context, orgID, nudgeID string, at time.Time) error

	// ForTask returns all nudges for a task ordered by scheduled time.
	ForTask(ctx context.Context, orgID, taskID string) ([]model.WorkflowNudge, error)
}

// Notifier is the delivery port. Transports own per-channel retries and
// failure isolation; the dispatcher only sees a single error per send.
type Notifier interface {
	Send(ctx context.Context, n model.Notification) error
}
