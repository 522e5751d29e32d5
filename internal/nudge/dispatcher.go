package nudge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atelierops/pulse/internal/activity"
	"github.com/atelierops/pulse/internal/clock"
	"github.com/atelierops/pulse/internal/observability"
	"github.com/atelierops/pulse/model"
)

const defaultBatchSize = 100

// Dispatcher sweeps due nudges and delivers each at most once. The sweep is
// single-flight per process: a tick that arrives while the previous sweep
// is still running is dropped, not queued.
type Dispatcher struct {
	store     Store
	notifier  Notifier
	acts      *activity.Logger
	clk       clock.Clock
	log       *zap.Logger
	metrics   *observability.Metrics
	batchSize int

	sweeping sync.Mutex
}

// NewDispatcher creates a Dispatcher. batchSize <= 0 selects the default.
func NewDispatcher(store Store, notifier Notifier, acts *activity.Logger, clk clock.Clock, log *zap.Logger, metrics *observability.Metrics, batchSize int) *Dispatcher {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Dispatcher{
		store:     store,
		notifier:  notifier,
		acts:      acts,
		clk:       clk,
		log:       log,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// ProcessDueNudges sends one bounded batch of due nudges. Delivery is
// mark-then-send: sent_at is stamped before the transport call so a crash
// between the two is biased toward not resending. A single nudge's failure
// is recorded on its row and never aborts the rest of the batch.
func (d *Dispatcher) ProcessDueNudges(ctx context.Context) (sent, failed int, err error) {
	if !d.sweeping.TryLock() {
		return 0, 0, nil
	}
	defer d.sweeping.Unlock()

	start := d.clk.Now()
	batch, err := d.store.Due(ctx, start, d.batchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("load due nudges: %w", err)
	}

	for _, n := range batch {
		if err := d.deliver(ctx, n); err != nil {
			failed++
			d.metrics.NudgesFailedTotal.Inc()
			d.log.Warn("nudge delivery failed",
				zap.String("nudge_id", n.ID),
				zap.String("channel", n.Channel),
				zap.Error(err),
			)
			continue
		}
		sent++
		d.metrics.NudgesSentTotal.WithLabelValues(n.Channel).Inc()
	}

	d.metrics.NudgeSweepDuration.Observe(time.Since(start).Seconds())
	if len(batch) > 0 {
		d.log.Info("nudge sweep complete",
			zap.Int("due", len(batch)),
			zap.Int("sent", sent),
			zap.Int("failed", failed),
		)
	}
	return sent, failed, nil
}

// deliver marks one nudge sent, pushes it through the transport, and
// records the audit entry.
func (d *Dispatcher) deliver(ctx context.Context, n model.WorkflowNudge) error {
	now := d.clk.Now()
	if err := d.store.MarkSent(ctx, n.ID, now); err != nil {
		// Already sent by a racing sweep, or gone. Either way do not send.
		return err
	}

	err := d.notifier.Send(ctx, model.Notification{
		Type:        "workflow_nudge",
		RecipientID: n.RecipientID,
		Title:       "Task reminder",
		Body:        n.Message,
		Channels:    []string{n.Channel},
		Metadata: map[string]any{
			"instance_id": n.InstanceID,
			"task_id":     n.TaskID,
			"rule_id":     n.RuleID,
		},
	})
	if err != nil {
		if markErr := d.store.MarkFailed(ctx, n.ID, err.Error()); markErr != nil {
			d.log.Error("failed to mark nudge failed", zap.String("nudge_id", n.ID), zap.Error(markErr))
		}
		return err
	}

	return d.acts.Record(ctx, activity.Entry{
		OrgID:       n.OrgID,
		InstanceID:  n.InstanceID,
		TaskID:      n.TaskID,
		Type:        model.ActivityNudgeSent,
		Description: fmt.Sprintf("Nudge sent to %s via %s", n.RecipientID, n.Channel),
		Metadata:    map[string]any{"nudge_id": n.ID, "rule_id": n.RuleID},
	})
}

// Acknowledge stamps a nudge as acknowledged by its recipient.
func (d *Dispatcher) Acknowledge(ctx context.Context, orgID, nudgeID, actorID string) error {
	now := d.clk.Now()
	if err := d.store.MarkAcknowledged(ctx, orgID, nudgeID, now); err != nil {
		return err
	}

	n, err := d.store.Get(ctx, orgID, nudgeID)
	if err != nil {
		return err
	}
	return d.acts.Record(ctx, activity.Entry{
		OrgID:       orgID,
		InstanceID:  n.InstanceID,
		TaskID:      n.TaskID,
		Type:        model.ActivityNudgeAcknowledged,
		Description: fmt.Sprintf("Nudge acknowledged by %s", actorID),
		ActorID:     actorID,
		Metadata:    map[string]any{"nudge_id": nudgeID},
	})
}

// Run sweeps on a fixed interval until the context is cancelled. Intended
// to be launched once per process from main.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := d.ProcessDueNudges(ctx); err != nil {
				d.log.Error("nudge sweep failed", zap.Error(err))
			}
		}
	}
}
