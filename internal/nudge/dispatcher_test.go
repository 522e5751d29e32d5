package nudge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/atelierops/pulse/internal/activity"
	"github.com/atelierops/pulse/internal/clock"
	"github.com/atelierops/pulse/internal/observability"
	"github.com/atelierops/pulse/model"
)

type fakeNotifier struct {
	sent    []model.Notification
	failFor map[string]error
}

func (f *fakeNotifier) Send(_ context.Context, n model.Notification) error {
	if err, ok := f.failFor[n.RecipientID]; ok {
		return err
	}
	f.sent = append(f.sent, n)
	return nil
}

func newTestDispatcher(store Store, notifier Notifier, clk clock.Clock) (*Dispatcher, *activity.MemoryStore) {
	acts := activity.NewMemoryStore()
	logger := activity.NewLogger(acts, clk, zap.NewNop())
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	return NewDispatcher(store, notifier, logger, clk, zap.NewNop(), metrics, 0), acts
}

func pendingNudge(id, recipient string, at time.Time) model.WorkflowNudge {
	return model.WorkflowNudge{
		ID:          id,
		OrgID:       "org-1",
		InstanceID:  "inst-1",
		TaskID:      "task-1",
		RuleID:      "due-soon",
		RecipientID: recipient,
		Channel:     model.ChannelEmail,
		Message:     "Kickoff call is due tomorrow",
		ScheduledAt: at,
	}
}

func TestProcessDueNudgesSendsDue(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	notifier := &fakeNotifier{}
	d, acts := newTestDispatcher(store, notifier, clock.NewFake(now))

	ctx := context.Background()
	store.Create(ctx, pendingNudge("n1", "user-a", now.Add(-time.Hour)))
	store.Create(ctx, pendingNudge("n2", "user-b", now.Add(-time.Minute)))
	store.Create(ctx, pendingNudge("n3", "user-c", now.Add(time.Hour))) // not yet due

	sent, failed, err := d.ProcessDueNudges(ctx)
	if err != nil {
		t.Fatalf("ProcessDueNudges: %v", err)
	}
	if sent != 2 || failed != 0 {
		t.Fatalf("sent=%d failed=%d, want 2/0", sent, failed)
	}
	if len(notifier.sent) != 2 {
		t.Fatalf("notifier received %d sends, want 2", len(notifier.sent))
	}

	entries, _ := acts.ForInstance(ctx, "org-1", "inst-1")
	if len(entries) != 2 {
		t.Fatalf("recorded %d activities, want 2", len(entries))
	}
	for _, e := range entries {
		if e.Type != model.ActivityNudgeSent {
			t.Errorf("activity type = %q, want %q", e.Type, model.ActivityNudgeSent)
		}
	}
}

func TestProcessDueNudgesAtMostOnce(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	notifier := &fakeNotifier{}
	d, _ := newTestDispatcher(store, notifier, clock.NewFake(now))

	ctx := context.Background()
	store.Create(ctx, pendingNudge("n1", "user-a", now.Add(-time.Hour)))

	if _, _, err := d.ProcessDueNudges(ctx); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	sent, failed, err := d.ProcessDueNudges(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if sent != 0 || failed != 0 {
		t.Errorf("second sweep sent=%d failed=%d, want 0/0", sent, failed)
	}
	if len(notifier.sent) != 1 {
		t.Errorf("notifier received %d sends total, want 1", len(notifier.sent))
	}
}

func TestProcessDueNudgesFailureIsolation(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	notifier := &fakeNotifier{failFor: map[string]error{"user-b": errors.New("smtp down")}}
	d, _ := newTestDispatcher(store, notifier, clock.NewFake(now))

	ctx := context.Background()
	store.Create(ctx, pendingNudge("n1", "user-a", now.Add(-3*time.Hour)))
	store.Create(ctx, pendingNudge("n2", "user-b", now.Add(-2*time.Hour)))
	store.Create(ctx, pendingNudge("n3", "user-c", now.Add(-time.Hour)))

	sent, failed, err := d.ProcessDueNudges(ctx)
	if err != nil {
		t.Fatalf("ProcessDueNudges: %v", err)
	}
	if sent != 2 || failed != 1 {
		t.Fatalf("sent=%d failed=%d, want 2/1", sent, failed)
	}

	n2, err := store.Get(ctx, "org-1", "n2")
	if err != nil {
		t.Fatalf("Get n2: %v", err)
	}
	if !n2.Failed || n2.FailReason != "smtp down" {
		t.Errorf("n2 failed=%v reason=%q, want marked failed with reason", n2.Failed, n2.FailReason)
	}
}

func TestProcessDueNudgesBatchLimit(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	notifier := &fakeNotifier{}
	acts := activity.NewMemoryStore()
	logger := activity.NewLogger(acts, clock.NewFake(now), zap.NewNop())
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	d := NewDispatcher(store, notifier, logger, clock.NewFake(now), zap.NewNop(), metrics, 2)

	ctx := context.Background()
	store.Create(ctx, pendingNudge("n1", "user-a", now.Add(-3*time.Hour)))
	store.Create(ctx, pendingNudge("n2", "user-b", now.Add(-2*time.Hour)))
	store.Create(ctx, pendingNudge("n3", "user-c", now.Add(-time.Hour)))

	sent, _, err := d.ProcessDueNudges(ctx)
	if err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if sent != 2 {
		t.Fatalf("first sweep sent=%d, want batch of 2", sent)
	}

	sent, _, err = d.ProcessDueNudges(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if sent != 1 {
		t.Errorf("second sweep sent=%d, want remaining 1", sent)
	}
}

func TestAcknowledge(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	notifier := &fakeNotifier{}
	d, acts := newTestDispatcher(store, notifier, clock.NewFake(now))

	ctx := context.Background()
	store.Create(ctx, pendingNudge("n1", "user-a", now.Add(-time.Hour)))
	if _, _, err := d.ProcessDueNudges(ctx); err != nil {
		t.Fatalf("ProcessDueNudges: %v", err)
	}

	if err := d.Acknowledge(ctx, "org-1", "n1", "user-a"); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}

	n, _ := store.Get(ctx, "org-1", "n1")
	if n.AcknowledgedAt == nil {
		t.Fatal("AcknowledgedAt not set")
	}

	entries, _ := acts.ForInstance(ctx, "org-1", "inst-1")
	last := entries[len(entries)-1]
	if last.Type != model.ActivityNudgeAcknowledged {
		t.Errorf("last activity = %q, want %q", last.Type, model.ActivityNudgeAcknowledged)
	}
	if last.ActorID != "user-a" {
		t.Errorf("ActorID = %q, want user-a", last.ActorID)
	}
}

func TestAcknowledgeUnknownNudge(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	d, _ := newTestDispatcher(store, &fakeNotifier{}, clock.NewFake(now))

	err := d.Acknowledge(context.Background(), "org-1", "missing", "user-a")
	var envelope *model.ErrorEnvelope
	if !errors.As(err, &envelope) || envelope.Code != model.ErrNotFound {
		t.Fatalf("err = %v, want NOT_FOUND envelope", err)
	}
}
