package activity

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atelierops/pulse/internal/clock"
	"github.com/atelierops/pulse/model"
)

var actNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestLogger() (*Logger, *MemoryStore, *clock.Fake) {
	store := NewMemoryStore()
	clk := clock.NewFake(actNow)
	return NewLogger(store, clk, zap.NewNop()), store, clk
}

func TestRecord_stampsIDAndTime(t *testing.T) {
	logger, store, _ := newTestLogger()
	ctx := context.Background()

	err := logger.Record(ctx, Entry{
		OrgID:       "org-1",
		InstanceID:  "inst-1",
		TaskID:      "task-1",
		Type:        model.ActivityTaskCompleted,
		Description: "Task completed",
		ActorID:     "user-1",
		Metadata:    map[string]any{"notes": "done"},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries := store.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.ID == "" {
		t.Error("entry ID not generated")
	}
	if !e.CreatedAt.Equal(actNow) {
		t.Errorf("created_at = %v, want %v", e.CreatedAt, actNow)
	}
	if e.Type != model.ActivityTaskCompleted || e.ActorID != "user-1" {
		t.Errorf("unexpected entry %+v", e)
	}
}

func TestForInstance_scopedAndOrdered(t *testing.T) {
	logger, _, clk := newTestLogger()
	ctx := context.Background()

	logger.Record(ctx, Entry{OrgID: "org-1", InstanceID: "inst-1", Type: model.ActivityWorkflowStarted})
	clk.Advance(time.Minute)
	logger.Record(ctx, Entry{OrgID: "org-1", InstanceID: "inst-1", Type: model.ActivityTaskStarted})
	logger.Record(ctx, Entry{OrgID: "org-1", InstanceID: "inst-2", Type: model.ActivityWorkflowStarted})
	logger.Record(ctx, Entry{OrgID: "org-2", InstanceID: "inst-1", Type: model.ActivityWorkflowStarted})

	entries, err := logger.ForInstance(ctx, "org-1", "inst-1")
	if err != nil {
		t.Fatalf("ForInstance: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Type != model.ActivityWorkflowStarted || entries[1].Type != model.ActivityTaskStarted {
		t.Errorf("unexpected order: %q, %q", entries[0].Type, entries[1].Type)
	}
}

func TestSince_filtersByCutoff(t *testing.T) {
	old := model.WorkflowActivity{Type: "A", CreatedAt: actNow.Add(-time.Hour)}
	recent := model.WorkflowActivity{Type: "B", CreatedAt: actNow.Add(time.Hour)}

	result := Since([]model.WorkflowActivity{old, recent}, actNow)
	if len(result) != 1 || result[0].Type != "B" {
		t.Errorf("Since = %+v, want only B", result)
	}
}
