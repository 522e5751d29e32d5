package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/atelierops/pulse/internal/activity"
	"github.com/atelierops/pulse/internal/assign"
	"github.com/atelierops/pulse/internal/clock"
	"github.com/atelierops/pulse/internal/nudge"
	"github.com/atelierops/pulse/internal/observability"
	"github.com/atelierops/pulse/internal/schedule"
	"github.com/atelierops/pulse/internal/template"
	"github.com/atelierops/pulse/model"
)

var engineNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func onboardingTemplate() model.WorkflowTemplate {
	return model.WorkflowTemplate{
		ID:        "client-onboarding",
		Name:      "Client Onboarding",
		Version:   2,
		Published: true,
		Trigger: model.TriggerSpec{
			EntityType: "deal",
			Event:      "won",
			Conditions: []model.TriggerCondition{
				{Field: "value", Operator: "gt", Value: 10000},
			},
		},
		Tasks: []model.TaskTemplate{
			{
				ID:   "kickoff",
				Name: "Kickoff call",
				Role: "account_manager",
				Offset: model.DueOffset{
					Anchor: model.AnchorWorkflowStart,
					Span:   model.Span{Value: 2, Unit: model.UnitDays},
				},
				EstimatedHours: 2,
			},
			{
				ID:        "brief",
				Name:      "Write creative brief",
				Role:      "strategist",
				DependsOn: []string{"kickoff"},
				Offset: model.DueOffset{
					Anchor: model.AnchorPreviousTask,
					Span:   model.Span{Value: 3, Unit: model.UnitDays},
				},
				EstimatedHours: 6,
				CreatesBrief:   &model.BriefSpec{TitleTemplate: "Brief: {{taskName}}", BriefType: "creative"},
			},
			{
				ID:        "launch",
				Name:      "Launch project",
				Role:      "project_manager",
				DependsOn: []string{"brief"},
				Offset: model.DueOffset{
					Anchor: model.AnchorPreviousTask,
					Span:   model.Span{Value: 2, Unit: model.UnitDays},
				},
				EstimatedHours: 4,
			},
		},
		NudgeRules: []model.NudgeRule{
			{
				ID:         "due-soon",
				Trigger:    model.NudgeBeforeDue,
				Offset:     model.Span{Value: 1, Unit: model.UnitDays},
				Recipients: []string{model.RecipientAssignee},
				Channels:   []string{model.ChannelInApp},
				Message:    "{{taskName}} is due {{dueDateRelative}}",
			},
		},
		StageGates: []model.StageGate{
			{TaskID: "brief", Name: "Brief approval"},
		},
	}
}

type fixture struct {
	engine *Engine
	store  *MemoryStore
	nudges *nudge.MemoryStore
	acts   *activity.MemoryStore
	dir    *assign.MemoryDirectory
	clk    *clock.Fake
	rctx   *model.RequestContext
}

func newFixture(t *testing.T, tpls ...model.WorkflowTemplate) *fixture {
	t.Helper()
	if len(tpls) == 0 {
		tpls = []model.WorkflowTemplate{onboardingTemplate()}
	}

	clk := clock.NewFake(engineNow)
	log := zap.NewNop()
	metrics := observability.InitMetrics(prometheus.NewRegistry())

	dir := assign.NewMemoryDirectory()
	dir.PutUser(model.User{ID: "user-am", OrgID: "org-1", Name: "Ana", RoleLabel: "Account Manager", Department: "client_services", WeeklyCapacityHours: 40, Active: true})
	dir.PutUser(model.User{ID: "user-strat", OrgID: "org-1", Name: "Sam", RoleLabel: "Senior Strategist", Department: "strategy", ManagerID: "user-am", WeeklyCapacityHours: 40, Active: true})
	dir.PutUser(model.User{ID: "user-pm", OrgID: "org-1", Name: "Pat", RoleLabel: "Project Manager", Department: "delivery", WeeklyCapacityHours: 40, Active: true})

	store := NewMemoryStore()
	nudgeStore := nudge.NewMemoryStore()
	actStore := activity.NewMemoryStore()

	eng := NewEngine(
		template.NewRegistry(tpls),
		store,
		schedule.NewCalculator(clk),
		assign.NewAssigner(dir, clk),
		nudge.NewScheduler(nudgeStore, dir, clk, log, metrics),
		activity.NewLogger(actStore, clk, log),
		clk,
		log,
		metrics,
	)

	return &fixture{
		engine: eng,
		store:  store,
		nudges: nudgeStore,
		acts:   actStore,
		dir:    dir,
		clk:    clk,
		rctx:   &model.RequestContext{ActorID: "user-am", OrgID: "org-1"},
	}
}

func (f *fixture) start(t *testing.T) model.InstanceDetail {
	t.Helper()
	detail, err := f.engine.StartWorkflow(context.Background(), f.rctx, StartRequest{
		TemplateID: "client-onboarding",
		EntityType: "deal",
		EntityID:   "deal-9",
	})
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}
	return detail
}

func (f *fixture) taskByTemplateID(t *testing.T, detail model.InstanceDetail, templateTaskID string) model.WorkflowTask {
	t.Helper()
	tasks, err := f.store.InstanceTasks(context.Background(), "org-1", detail.Instance.ID)
	if err != nil {
		t.Fatalf("InstanceTasks: %v", err)
	}
	for _, task := range tasks {
		if task.TemplateTaskID == templateTaskID {
			return task
		}
	}
	t.Fatalf("task %q not found in instance", templateTaskID)
	return model.WorkflowTask{}
}

func TestStartWorkflowInstantiatesGraph(t *testing.T) {
	f := newFixture(t)
	detail := f.start(t)

	if detail.Instance.Status != model.InstanceStatusActive {
		t.Errorf("instance status = %q, want active", detail.Instance.Status)
	}
	if detail.Instance.TemplateVersion != 2 {
		t.Errorf("template version = %d, want 2", detail.Instance.TemplateVersion)
	}
	if len(detail.Tasks) != 3 {
		t.Fatalf("got %d tasks, want 3", len(detail.Tasks))
	}
	if len(detail.Gates) != 1 {
		t.Errorf("got %d gates, want 1", len(detail.Gates))
	}

	kickoff := f.taskByTemplateID(t, detail, "kickoff")
	brief := f.taskByTemplateID(t, detail, "brief")
	launch := f.taskByTemplateID(t, detail, "launch")

	if kickoff.Status != model.TaskStatusReady {
		t.Errorf("kickoff status = %q, want ready", kickoff.Status)
	}
	if brief.Status != model.TaskStatusPending {
		t.Errorf("brief status = %q, want pending", brief.Status)
	}
	if !kickoff.DueAt.Before(brief.DueAt) || !brief.DueAt.Before(launch.DueAt) {
		t.Errorf("due dates out of order: %v %v %v", kickoff.DueAt, brief.DueAt, launch.DueAt)
	}

	if kickoff.AssigneeID != "user-am" {
		t.Errorf("kickoff assignee = %q, want user-am", kickoff.AssigneeID)
	}
	if brief.AssigneeID != "user-strat" {
		t.Errorf("brief assignee = %q, want user-strat", brief.AssigneeID)
	}
	if brief.BriefID == "" {
		t.Error("brief task has no brief ID")
	}

	entries, _ := f.acts.ForInstance(context.Background(), "org-1", detail.Instance.ID)
	if len(entries) == 0 || entries[0].Type != model.ActivityWorkflowStarted {
		t.Fatalf("first activity = %v, want WORKFLOW_STARTED", entries)
	}
}

func TestStartWorkflowSchedulesNudges(t *testing.T) {
	f := newFixture(t)
	detail := f.start(t)

	kickoff := f.taskByTemplateID(t, detail, "kickoff")
	nudges, err := f.nudges.ForTask(context.Background(), "org-1", kickoff.ID)
	if err != nil {
		t.Fatalf("ForTask: %v", err)
	}
	if len(nudges) != 1 {
		t.Fatalf("got %d nudges for kickoff, want 1", len(nudges))
	}
	wantFire := kickoff.DueAt.Add(-24 * time.Hour)
	if !nudges[0].ScheduledAt.Equal(wantFire) {
		t.Errorf("nudge scheduled at %v, want %v", nudges[0].ScheduledAt, wantFire)
	}
}

func TestStartWorkflowUnknownTemplate(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.StartWorkflow(context.Background(), f.rctx, StartRequest{TemplateID: "nope"})
	var envelope *model.ErrorEnvelope
	if !errors.As(err, &envelope) || envelope.Code != model.ErrTemplateNotFound {
		t.Fatalf("err = %v, want TEMPLATE_NOT_FOUND", err)
	}
}

func TestStartWorkflowUnpublishedTemplate(t *testing.T) {
	tpl := onboardingTemplate()
	tpl.Published = false
	f := newFixture(t, tpl)

	_, err := f.engine.StartWorkflow(context.Background(), f.rctx, StartRequest{TemplateID: "client-onboarding"})
	var envelope *model.ErrorEnvelope
	if !errors.As(err, &envelope) || envelope.Code != model.ErrTemplateNotPublished {
		t.Fatalf("err = %v, want TEMPLATE_NOT_PUBLISHED", err)
	}
}

func TestStartWorkflowExplicitAssignee(t *testing.T) {
	f := newFixture(t)
	detail, err := f.engine.StartWorkflow(context.Background(), f.rctx, StartRequest{
		TemplateID: "client-onboarding",
		EntityType: "deal",
		EntityID:   "deal-9",
		Assignees:  map[string]string{"kickoff": "user-pm"},
	})
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}

	kickoff := f.taskByTemplateID(t, detail, "kickoff")
	if kickoff.AssigneeID != "user-pm" {
		t.Errorf("kickoff assignee = %q, want explicit user-pm", kickoff.AssigneeID)
	}
}

func TestStartTaskRequiresReady(t *testing.T) {
	f := newFixture(t)
	detail := f.start(t)
	ctx := context.Background()

	brief := f.taskByTemplateID(t, detail, "brief")
	_, err := f.engine.StartTask(ctx, f.rctx, brief.ID)
	var envelope *model.ErrorEnvelope
	if !errors.As(err, &envelope) || envelope.Code != model.ErrInvalidTransition {
		t.Fatalf("starting pending task: err = %v, want INVALID_TRANSITION", err)
	}

	kickoff := f.taskByTemplateID(t, detail, "kickoff")
	got, err := f.engine.StartTask(ctx, f.rctx, kickoff.ID)
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	if got.Status != model.TaskStatusInProgress {
		t.Errorf("status = %q, want in_progress", got.Status)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(engineNow) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, engineNow)
	}
}

func TestCompleteTaskUnlocksDependents(t *testing.T) {
	f := newFixture(t)
	detail := f.start(t)
	ctx := context.Background()

	kickoff := f.taskByTemplateID(t, detail, "kickoff")
	if _, err := f.engine.CompleteTask(ctx, f.rctx, kickoff.ID, "went well"); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}

	brief := f.taskByTemplateID(t, detail, "brief")
	if brief.Status != model.TaskStatusReady {
		t.Errorf("brief status = %q, want ready after kickoff completes", brief.Status)
	}
	launch := f.taskByTemplateID(t, detail, "launch")
	if launch.Status != model.TaskStatusPending {
		t.Errorf("launch status = %q, want still pending", launch.Status)
	}

	inst, _ := f.store.Instance(ctx, "org-1", detail.Instance.ID)
	if inst.Progress != 33 {
		t.Errorf("progress = %d, want 33", inst.Progress)
	}
}

func TestCompleteAllTasksCompletesInstance(t *testing.T) {
	f := newFixture(t)
	detail := f.start(t)
	ctx := context.Background()

	for _, id := range []string{"kickoff", "brief", "launch"} {
		task := f.taskByTemplateID(t, detail, id)
		if _, err := f.engine.CompleteTask(ctx, f.rctx, task.ID, ""); err != nil {
			t.Fatalf("complete %s: %v", id, err)
		}
	}

	inst, _ := f.store.Instance(ctx, "org-1", detail.Instance.ID)
	if inst.Status != model.InstanceStatusCompleted {
		t.Errorf("instance status = %q, want completed", inst.Status)
	}
	if inst.Progress != 100 {
		t.Errorf("progress = %d, want 100", inst.Progress)
	}
	if inst.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	entries, _ := f.acts.ForInstance(ctx, "org-1", detail.Instance.ID)
	last := entries[len(entries)-1]
	if last.Type != model.ActivityWorkflowCompleted {
		t.Errorf("last activity = %q, want WORKFLOW_COMPLETED", last.Type)
	}
}

func TestCompleteTaskTwiceRejected(t *testing.T) {
	f := newFixture(t)
	detail := f.start(t)
	ctx := context.Background()

	kickoff := f.taskByTemplateID(t, detail, "kickoff")
	if _, err := f.engine.CompleteTask(ctx, f.rctx, kickoff.ID, ""); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}

	_, err := f.engine.CompleteTask(ctx, f.rctx, kickoff.ID, "")
	var envelope *model.ErrorEnvelope
	if !errors.As(err, &envelope) || envelope.Code != model.ErrInvalidTransition {
		t.Fatalf("err = %v, want INVALID_TRANSITION", err)
	}
}

func TestSkipTaskSatisfiesDependents(t *testing.T) {
	f := newFixture(t)
	detail := f.start(t)
	ctx := context.Background()

	kickoff := f.taskByTemplateID(t, detail, "kickoff")
	if _, err := f.engine.SkipTask(ctx, f.rctx, kickoff.ID, "not needed"); err != nil {
		t.Fatalf("SkipTask: %v", err)
	}

	brief := f.taskByTemplateID(t, detail, "brief")
	if brief.Status != model.TaskStatusReady {
		t.Errorf("brief status = %q, want ready after kickoff skipped", brief.Status)
	}
}

func TestBlockAndUnblockTask(t *testing.T) {
	f := newFixture(t)
	detail := f.start(t)
	ctx := context.Background()

	kickoff := f.taskByTemplateID(t, detail, "kickoff")
	blocked, err := f.engine.BlockTask(ctx, f.rctx, kickoff.ID, "waiting on client")
	if err != nil {
		t.Fatalf("BlockTask: %v", err)
	}
	if blocked.Status != model.TaskStatusBlocked || blocked.BlockedReason != "waiting on client" {
		t.Errorf("blocked = %q/%q, want blocked with reason", blocked.Status, blocked.BlockedReason)
	}

	// A blocked task cannot be started.
	if _, err := f.engine.StartTask(ctx, f.rctx, kickoff.ID); err == nil {
		t.Fatal("StartTask on blocked task succeeded, want error")
	}

	unblocked, err := f.engine.UnblockTask(ctx, f.rctx, kickoff.ID)
	if err != nil {
		t.Fatalf("UnblockTask: %v", err)
	}
	if unblocked.Status != model.TaskStatusReady {
		t.Errorf("unblocked status = %q, want ready", unblocked.Status)
	}
	if unblocked.BlockedReason != "" {
		t.Errorf("BlockedReason = %q, want cleared", unblocked.BlockedReason)
	}
}

func TestBlockTaskRequiresReason(t *testing.T) {
	f := newFixture(t)
	detail := f.start(t)

	kickoff := f.taskByTemplateID(t, detail, "kickoff")
	_, err := f.engine.BlockTask(context.Background(), f.rctx, kickoff.ID, "")
	var envelope *model.ErrorEnvelope
	if !errors.As(err, &envelope) || envelope.Code != model.ErrBadRequest {
		t.Fatalf("err = %v, want BAD_REQUEST", err)
	}
}

func TestReassignTask(t *testing.T) {
	f := newFixture(t)
	f.dir.PutUser(model.User{ID: "user-am2", OrgID: "org-1", Name: "Alex", RoleLabel: "Account Director", Department: "client_services", WeeklyCapacityHours: 40, Active: true})
	detail := f.start(t)
	ctx := context.Background()

	kickoff := f.taskByTemplateID(t, detail, "kickoff")
	got, err := f.engine.ReassignTask(ctx, f.rctx, kickoff.ID, "user-am2", "covering leave")
	if err != nil {
		t.Fatalf("ReassignTask: %v", err)
	}
	if got.AssigneeID != "user-am2" {
		t.Errorf("assignee = %q, want user-am2", got.AssigneeID)
	}
	if got.AssignmentNote != "covering leave" {
		t.Errorf("note = %q, want the explicit note", got.AssignmentNote)
	}

	entries, _ := f.acts.ForInstance(ctx, "org-1", detail.Instance.ID)
	last := entries[len(entries)-1]
	if last.Type != model.ActivityTaskReassigned {
		t.Errorf("last activity = %q, want TASK_REASSIGNED", last.Type)
	}
}

func TestReportDelayCascades(t *testing.T) {
	f := newFixture(t)
	detail := f.start(t)
	ctx := context.Background()

	kickoff := f.taskByTemplateID(t, detail, "kickoff")
	newDue := kickoff.DueAt.Add(4 * 24 * time.Hour)

	moved, err := f.engine.ReportDelay(ctx, f.rctx, kickoff.ID, newDue)
	if err != nil {
		t.Fatalf("ReportDelay: %v", err)
	}
	if len(moved) == 0 {
		t.Fatal("no tasks moved")
	}

	kickoff = f.taskByTemplateID(t, detail, "kickoff")
	brief := f.taskByTemplateID(t, detail, "brief")
	launch := f.taskByTemplateID(t, detail, "launch")
	if !kickoff.DueAt.Equal(newDue) {
		t.Errorf("kickoff due = %v, want %v", kickoff.DueAt, newDue)
	}
	if !kickoff.DueAt.Before(brief.DueAt) || !brief.DueAt.Before(launch.DueAt) {
		t.Errorf("ordering broken after delay: %v %v %v", kickoff.DueAt, brief.DueAt, launch.DueAt)
	}
}

func TestCancelWorkflow(t *testing.T) {
	f := newFixture(t)
	detail := f.start(t)
	ctx := context.Background()

	kickoff := f.taskByTemplateID(t, detail, "kickoff")
	if _, err := f.engine.CompleteTask(ctx, f.rctx, kickoff.ID, ""); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}

	inst, err := f.engine.CancelWorkflow(ctx, f.rctx, detail.Instance.ID, "client churned")
	if err != nil {
		t.Fatalf("CancelWorkflow: %v", err)
	}
	if inst.Status != model.InstanceStatusCancelled {
		t.Errorf("instance status = %q, want cancelled", inst.Status)
	}

	// Completed tasks stay completed; open ones are cancelled.
	kickoff = f.taskByTemplateID(t, detail, "kickoff")
	brief := f.taskByTemplateID(t, detail, "brief")
	if kickoff.Status != model.TaskStatusCompleted {
		t.Errorf("kickoff status = %q, want completed", kickoff.Status)
	}
	if brief.Status != model.TaskStatusCancelled {
		t.Errorf("brief status = %q, want cancelled", brief.Status)
	}

	// No further transitions on a cancelled instance.
	_, err = f.engine.CompleteTask(ctx, f.rctx, brief.ID, "")
	var envelope *model.ErrorEnvelope
	if !errors.As(err, &envelope) || envelope.Code != model.ErrInstanceNotActive {
		t.Fatalf("err = %v, want INSTANCE_NOT_ACTIVE", err)
	}
}

func TestHandleEventStartsMatchingTemplates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started, err := f.engine.HandleEvent(ctx, f.rctx, EntityEvent{
		EntityType: "deal",
		Event:      "won",
		EntityID:   "deal-9",
		Entity:     map[string]any{"value": 50000},
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(started) != 1 {
		t.Fatalf("started %d instances, want 1", len(started))
	}
	if started[0].Instance.EntityID != "deal-9" {
		t.Errorf("entity ID = %q, want deal-9", started[0].Instance.EntityID)
	}
}

func TestHandleEventConditionMismatch(t *testing.T) {
	f := newFixture(t)

	started, err := f.engine.HandleEvent(context.Background(), f.rctx, EntityEvent{
		EntityType: "deal",
		Event:      "won",
		EntityID:   "deal-9",
		Entity:     map[string]any{"value": 500},
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(started) != 0 {
		t.Fatalf("started %d instances, want 0 for value below threshold", len(started))
	}
}

func TestCriticalPath(t *testing.T) {
	f := newFixture(t)
	detail := f.start(t)

	report, err := f.engine.CriticalPath(context.Background(), f.rctx, detail.Instance.ID)
	if err != nil {
		t.Fatalf("CriticalPath: %v", err)
	}
	if len(report.Tasks) != 3 {
		t.Fatalf("path has %d tasks, want 3", len(report.Tasks))
	}
	if report.TotalHours != 12 {
		t.Errorf("total hours = %v, want 12", report.TotalHours)
	}
	if report.Tasks[0].TemplateTaskID != "kickoff" || report.Tasks[2].TemplateTaskID != "launch" {
		t.Errorf("path order wrong: %v", report.Tasks)
	}
}

func TestListInstances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t)
	f.clk.Advance(time.Hour)
	second := f.start(t)

	summaries, total, err := f.engine.List(ctx, f.rctx, model.InstanceFilters{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 || len(summaries) != 2 {
		t.Fatalf("total=%d len=%d, want 2/2", total, len(summaries))
	}
	if summaries[0].ID != second.Instance.ID {
		t.Errorf("newest first ordering broken")
	}
	if summaries[0].Name != "Client Onboarding" {
		t.Errorf("summary name = %q, want template display name", summaries[0].Name)
	}

	_, total, err = f.engine.List(ctx, f.rctx, model.InstanceFilters{Status: model.InstanceStatusCompleted})
	if err != nil {
		t.Fatalf("List filtered: %v", err)
	}
	if total != 0 {
		t.Errorf("completed total = %d, want 0", total)
	}
}

func TestOrgIsolation(t *testing.T) {
	f := newFixture(t)
	detail := f.start(t)

	other := &model.RequestContext{ActorID: "user-x", OrgID: "org-2"}
	_, err := f.engine.Detail(context.Background(), other, detail.Instance.ID)
	var envelope *model.ErrorEnvelope
	if !errors.As(err, &envelope) || envelope.Code != model.ErrNotFound {
		t.Fatalf("cross-org read: err = %v, want NOT_FOUND", err)
	}
}
