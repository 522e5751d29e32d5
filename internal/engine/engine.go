package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
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

// Engine orchestrates workflow instances. All task transitions for one
// instance are serialized on a per-instance mutex so dependency unlocking
// and progress recomputation never race.
type Engine struct {
	registry *template.Registry
	store    Store
	calc     *schedule.Calculator
	assigner *assign.Assigner
	nudges   *nudge.Scheduler
	acts     *activity.Logger
	clk      clock.Clock
	log      *zap.Logger
	metrics  *observability.Metrics

	locks sync.Map // instance ID -> *sync.Mutex
}

// NewEngine creates a workflow engine.
func NewEngine(
	registry *template.Registry,
	store Store,
	calc *schedule.Calculator,
	assigner *assign.Assigner,
	nudges *nudge.Scheduler,
	acts *activity.Logger,
	clk clock.Clock,
	log *zap.Logger,
	metrics *observability.Metrics,
) *Engine {
	return &Engine{
		registry: registry,
		store:    store,
		calc:     calc,
		assigner: assigner,
		nudges:   nudges,
		acts:     acts,
		clk:      clk,
		log:      log,
		metrics:  metrics,
	}
}

// lockInstance serializes transitions on one instance. Returns the unlock
// function.
func (e *Engine) lockInstance(instanceID string) func() {
	v, _ := e.locks.LoadOrStore(instanceID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// StartRequest describes one workflow start.
type StartRequest struct {
	TemplateID string         `json:"template_id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	OwnerID    string         `json:"owner_id,omitempty"`
	Deadline   *time.Time     `json:"deadline,omitempty"`
	Trigger    map[string]any `json:"trigger,omitempty"`

	// Assignees pins template task IDs to explicit users, overriding the
	// automatic assigner for those tasks.
	Assignees map[string]string `json:"assignees,omitempty"`
}

// StartWorkflow instantiates the latest published version of a template:
// it dates every task, assigns owners, schedules reminders, and persists
// the whole graph atomically.
func (e *Engine) StartWorkflow(ctx context.Context, rctx *model.RequestContext, req StartRequest) (model.InstanceDetail, error) {
	// 1. Resolve the template.
	tpl, ok := e.registry.Published(req.TemplateID)
	if !ok {
		if e.registry.Exists(req.TemplateID) {
			return model.InstanceDetail{}, model.NewTemplateNotPublishedError(
				fmt.Sprintf("template %q has no published version", req.TemplateID),
			)
		}
		return model.InstanceDetail{}, model.NewTemplateNotFoundError(
			fmt.Sprintf("template %q not found", req.TemplateID),
		)
	}

	// 2. Compute due dates for the task graph.
	dates, err := e.calc.TaskDates(tpl.Tasks, req.Deadline)
	if err != nil {
		return model.InstanceDetail{}, err
	}

	now := e.clk.Now()
	owner := req.OwnerID
	if owner == "" {
		owner = rctx.ActorID
	}

	inst := model.WorkflowInstance{
		ID:              uuid.New().String(),
		TemplateID:      tpl.ID,
		TemplateVersion: tpl.Version,
		OrgID:           rctx.OrgID,
		OwnerID:         owner,
		CreatedByID:     rctx.ActorID,
		EntityType:      req.EntityType,
		EntityID:        req.EntityID,
		Trigger:         req.Trigger,
		Deadline:        req.Deadline,
		Status:          model.InstanceStatusActive,
		StartedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}

	// 3. Instantiate tasks. Template-level dependency IDs are rewritten to
	// concrete task IDs so later template edits cannot corrupt this run.
	idByTemplateTask := make(map[string]string, len(tpl.Tasks))
	for _, tt := range tpl.Tasks {
		idByTemplateTask[tt.ID] = uuid.New().String()
	}

	tasks := make([]model.WorkflowTask, 0, len(tpl.Tasks))
	for _, tt := range tpl.Tasks {
		date := dates[tt.ID]

		status := model.TaskStatusPending
		if date.CanStart {
			status = model.TaskStatusReady
		}

		var deps []string
		for _, dep := range tt.DependsOn {
			if id, ok := idByTemplateTask[dep]; ok {
				deps = append(deps, id)
			}
		}

		task := model.WorkflowTask{
			ID:             idByTemplateTask[tt.ID],
			InstanceID:     inst.ID,
			OrgID:          rctx.OrgID,
			TemplateTaskID: tt.ID,
			Name:           tt.Name,
			Role:           tt.Role,
			DueAt:          date.DueAt,
			Status:         status,
			DependsOnIDs:   deps,
			EstimatedHours: tt.EstimatedHours,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		// 4. Assign. A miss leaves the task unassigned with the reason on
		// record; it never aborts the start.
		asn, err := e.assigner.FindBestAssignee(ctx, rctx.OrgID, tt.Role, req.Assignees[tt.ID], &task.DueAt)
		if err != nil {
			return model.InstanceDetail{}, fmt.Errorf("assign task %q: %w", tt.ID, err)
		}
		task.AssigneeID = asn.AssigneeID
		task.AssignmentNote = asn.Reason
		if asn.AssigneeID != "" {
			e.metrics.RecordAssignment(tt.Role)
		} else {
			e.metrics.RecordAssignmentMiss(tt.Role)
		}

		if tt.CreatesBrief != nil {
			task.BriefID = uuid.New().String()
		}

		tasks = append(tasks, task)
	}

	// 5. Persist the whole graph atomically.
	if err := e.store.CreateInstance(ctx, inst, tasks); err != nil {
		return model.InstanceDetail{}, err
	}

	// 6. Audit trail.
	if err := e.acts.Record(ctx, activity.Entry{
		OrgID:       rctx.OrgID,
		InstanceID:  inst.ID,
		Type:        model.ActivityWorkflowStarted,
		Description: fmt.Sprintf("Workflow %q v%d started for %s %s", tpl.ID, tpl.Version, req.EntityType, req.EntityID),
		ActorID:     rctx.ActorID,
		Metadata:    map[string]any{"template_id": tpl.ID, "template_version": tpl.Version},
	}); err != nil {
		return model.InstanceDetail{}, err
	}

	for i := range tasks {
		task := &tasks[i]
		if err := e.acts.Record(ctx, activity.Entry{
			OrgID:       rctx.OrgID,
			InstanceID:  inst.ID,
			TaskID:      task.ID,
			Type:        model.ActivityTaskCreated,
			Description: fmt.Sprintf("Task %q created, due %s", task.Name, task.DueAt.Format("2006-01-02")),
			Metadata:    map[string]any{"assignee_id": task.AssigneeID, "role": task.Role},
		}); err != nil {
			return model.InstanceDetail{}, err
		}

		if task.BriefID != "" {
			tt := tpl.Task(task.TemplateTaskID)
			if err := e.acts.Record(ctx, activity.Entry{
				OrgID:       rctx.OrgID,
				InstanceID:  inst.ID,
				TaskID:      task.ID,
				Type:        model.ActivityBriefCreated,
				Description: fmt.Sprintf("Brief created for task %q", task.Name),
				Metadata: map[string]any{
					"brief_id":   task.BriefID,
					"brief_type": tt.CreatesBrief.BriefType,
					"title":      renderBriefTitle(tt.CreatesBrief.TitleTemplate, task.Name, req.EntityID),
				},
			}); err != nil {
				return model.InstanceDetail{}, err
			}
		}

		// 7. Schedule reminders. Fire times already past are skipped inside
		// the scheduler.
		if _, err := e.nudges.ScheduleTaskNudges(ctx, inst, *task, tpl.NudgeRules); err != nil {
			return model.InstanceDetail{}, err
		}
	}

	e.metrics.RecordWorkflowStart(tpl.ID)
	e.log.Info("workflow started",
		zap.String("instance_id", inst.ID),
		zap.String("template_id", tpl.ID),
		zap.Int("tasks", len(tasks)),
	)

	return model.InstanceDetail{Instance: inst, Tasks: tasks, Gates: tpl.StageGates}, nil
}

// EntityEvent is a business event that may trigger workflow starts.
type EntityEvent struct {
	EntityType string         `json:"entity_type"`
	Event      string         `json:"event"`
	EntityID   string         `json:"entity_id"`
	Entity     map[string]any `json:"entity,omitempty"`
	OwnerID    string         `json:"owner_id,omitempty"`
	Deadline   *time.Time     `json:"deadline,omitempty"`
}

// HandleEvent starts one instance for every published template whose
// trigger matches the event. Returns the started instances.
func (e *Engine) HandleEvent(ctx context.Context, rctx *model.RequestContext, evt EntityEvent) ([]model.InstanceDetail, error) {
	var started []model.InstanceDetail
	for _, tpl := range e.registry.ListPublished() {
		if !MatchesTrigger(tpl.Trigger, evt.EntityType, evt.Event, evt.Entity) {
			continue
		}
		detail, err := e.StartWorkflow(ctx, rctx, StartRequest{
			TemplateID: tpl.ID,
			EntityType: evt.EntityType,
			EntityID:   evt.EntityID,
			OwnerID:    evt.OwnerID,
			Deadline:   evt.Deadline,
			Trigger:    evt.Entity,
		})
		if err != nil {
			return started, fmt.Errorf("start %q for event %s.%s: %w", tpl.ID, evt.EntityType, evt.Event, err)
		}
		started = append(started, detail)
	}
	return started, nil
}

// Detail returns an instance with its tasks and stage gates.
func (e *Engine) Detail(ctx context.Context, rctx *model.RequestContext, instanceID string) (model.InstanceDetail, error) {
	inst, err := e.store.Instance(ctx, rctx.OrgID, instanceID)
	if err != nil {
		return model.InstanceDetail{}, err
	}
	tasks, err := e.store.InstanceTasks(ctx, rctx.OrgID, instanceID)
	if err != nil {
		return model.InstanceDetail{}, err
	}

	var gates []model.StageGate
	if tpl, ok := e.registry.Version(inst.TemplateID, inst.TemplateVersion); ok {
		gates = tpl.StageGates
	}
	return model.InstanceDetail{Instance: inst, Tasks: tasks, Gates: gates}, nil
}

// List returns a page of instance summaries plus the total match count.
func (e *Engine) List(ctx context.Context, rctx *model.RequestContext, f model.InstanceFilters) ([]model.InstanceSummary, int, error) {
	instances, total, err := e.store.ListInstances(ctx, rctx.OrgID, f)
	if err != nil {
		return nil, 0, err
	}

	summaries := make([]model.InstanceSummary, 0, len(instances))
	for _, inst := range instances {
		name := inst.TemplateID
		if tpl, ok := e.registry.Version(inst.TemplateID, inst.TemplateVersion); ok {
			name = tpl.Name
		}
		summaries = append(summaries, model.InstanceSummary{
			ID:         inst.ID,
			TemplateID: inst.TemplateID,
			Name:       name,
			Status:     inst.Status,
			Progress:   inst.Progress,
			OwnerID:    inst.OwnerID,
			Deadline:   inst.Deadline,
			StartedAt:  inst.StartedAt,
			UpdatedAt:  inst.UpdatedAt,
		})
	}
	return summaries, total, nil
}

// StartTask moves a READY task to IN_PROGRESS. Tasks whose dependencies
// are still open cannot be started; the gate is strict.
func (e *Engine) StartTask(ctx context.Context, rctx *model.RequestContext, taskID string) (model.WorkflowTask, error) {
	task, inst, unlock, err := e.loadForTransition(ctx, rctx, taskID)
	if err != nil {
		return model.WorkflowTask{}, err
	}
	defer unlock()

	if task.Status != model.TaskStatusReady {
		return model.WorkflowTask{}, model.NewInvalidTransitionError(
			fmt.Sprintf("task %q is %s; only ready tasks can be started", taskID, task.Status),
		)
	}

	now := e.clk.Now()
	task.Status = model.TaskStatusInProgress
	task.StartedAt = &now
	task.UpdatedAt = now
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return model.WorkflowTask{}, err
	}
	e.metrics.RecordTaskTransition(model.TaskStatusInProgress)

	err = e.acts.Record(ctx, activity.Entry{
		OrgID:       rctx.OrgID,
		InstanceID:  inst.ID,
		TaskID:      task.ID,
		Type:        model.ActivityTaskStarted,
		Description: fmt.Sprintf("Task %q started", task.Name),
		ActorID:     rctx.ActorID,
	})
	return task, err
}

// CompleteTask moves a READY or IN_PROGRESS task to COMPLETED, unlocks any
// dependents whose dependencies are now all closed, recomputes instance
// progress, and completes the instance when nothing remains open.
func (e *Engine) CompleteTask(ctx context.Context, rctx *model.RequestContext, taskID, notes string) (model.WorkflowTask, error) {
	task, inst, unlock, err := e.loadForTransition(ctx, rctx, taskID)
	if err != nil {
		return model.WorkflowTask{}, err
	}
	defer unlock()

	if task.Status != model.TaskStatusReady && task.Status != model.TaskStatusInProgress {
		return model.WorkflowTask{}, model.NewInvalidTransitionError(
			fmt.Sprintf("task %q is %s and cannot be completed", taskID, task.Status),
		)
	}

	now := e.clk.Now()
	task.Status = model.TaskStatusCompleted
	task.CompletedAt = &now
	task.UpdatedAt = now
	if notes != "" {
		task.Notes = notes
	}
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return model.WorkflowTask{}, err
	}

	e.metrics.RecordTaskTransition(model.TaskStatusCompleted)
	if task.StartedAt != nil {
		e.metrics.RecordTaskCompletion(task.Role, now.Sub(*task.StartedAt))
	}

	if err := e.acts.Record(ctx, activity.Entry{
		OrgID:       rctx.OrgID,
		InstanceID:  inst.ID,
		TaskID:      task.ID,
		Type:        model.ActivityTaskCompleted,
		Description: fmt.Sprintf("Task %q completed", task.Name),
		ActorID:     rctx.ActorID,
	}); err != nil {
		return model.WorkflowTask{}, err
	}

	if err := e.settleInstance(ctx, rctx, inst); err != nil {
		return model.WorkflowTask{}, err
	}
	return task, nil
}

// SkipTask marks an open task SKIPPED. A skipped task satisfies its
// dependents' dependencies the same way a completed one does.
func (e *Engine) SkipTask(ctx context.Context, rctx *model.RequestContext, taskID, reason string) (model.WorkflowTask, error) {
	task, inst, unlock, err := e.loadForTransition(ctx, rctx, taskID)
	if err != nil {
		return model.WorkflowTask{}, err
	}
	defer unlock()

	switch task.Status {
	case model.TaskStatusPending, model.TaskStatusReady, model.TaskStatusBlocked:
	default:
		return model.WorkflowTask{}, model.NewInvalidTransitionError(
			fmt.Sprintf("task %q is %s and cannot be skipped", taskID, task.Status),
		)
	}

	now := e.clk.Now()
	task.Status = model.TaskStatusSkipped
	task.BlockedReason = ""
	task.UpdatedAt = now
	if reason != "" {
		task.Notes = reason
	}
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return model.WorkflowTask{}, err
	}
	e.metrics.RecordTaskTransition(model.TaskStatusSkipped)

	if err := e.acts.Record(ctx, activity.Entry{
		OrgID:       rctx.OrgID,
		InstanceID:  inst.ID,
		TaskID:      task.ID,
		Type:        model.ActivityTaskSkipped,
		Description: fmt.Sprintf("Task %q skipped", task.Name),
		ActorID:     rctx.ActorID,
	}); err != nil {
		return model.WorkflowTask{}, err
	}

	if err := e.settleInstance(ctx, rctx, inst); err != nil {
		return model.WorkflowTask{}, err
	}
	return task, nil
}

// BlockTask moves a READY or IN_PROGRESS task to BLOCKED with a reason.
func (e *Engine) BlockTask(ctx context.Context, rctx *model.RequestContext, taskID, reason string) (model.WorkflowTask, error) {
	task, inst, unlock, err := e.loadForTransition(ctx, rctx, taskID)
	if err != nil {
		return model.WorkflowTask{}, err
	}
	defer unlock()

	if task.Status != model.TaskStatusReady && task.Status != model.TaskStatusInProgress {
		return model.WorkflowTask{}, model.NewInvalidTransitionError(
			fmt.Sprintf("task %q is %s and cannot be blocked", taskID, task.Status),
		)
	}
	if reason == "" {
		return model.WorkflowTask{}, model.NewBadRequestError("a blocked task requires a reason")
	}

	task.Status = model.TaskStatusBlocked
	task.BlockedReason = reason
	task.UpdatedAt = e.clk.Now()
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return model.WorkflowTask{}, err
	}
	e.metrics.RecordTaskTransition(model.TaskStatusBlocked)

	err = e.acts.Record(ctx, activity.Entry{
		OrgID:       rctx.OrgID,
		InstanceID:  inst.ID,
		TaskID:      task.ID,
		Type:        model.ActivityTaskBlocked,
		Description: fmt.Sprintf("Task %q blocked: %s", task.Name, reason),
		ActorID:     rctx.ActorID,
		Metadata:    map[string]any{"reason": reason},
	})
	return task, err
}

// UnblockTask releases a BLOCKED task. It returns to READY when its
// dependencies are all closed, otherwise to PENDING.
func (e *Engine) UnblockTask(ctx context.Context, rctx *model.RequestContext, taskID string) (model.WorkflowTask, error) {
	task, inst, unlock, err := e.loadForTransition(ctx, rctx, taskID)
	if err != nil {
		return model.WorkflowTask{}, err
	}
	defer unlock()

	if task.Status != model.TaskStatusBlocked {
		return model.WorkflowTask{}, model.NewInvalidTransitionError(
			fmt.Sprintf("task %q is %s, not blocked", taskID, task.Status),
		)
	}

	tasks, err := e.store.InstanceTasks(ctx, rctx.OrgID, inst.ID)
	if err != nil {
		return model.WorkflowTask{}, err
	}
	byID := taskIndex(tasks)

	task.Status = model.TaskStatusPending
	if depsSatisfied(task, byID) {
		task.Status = model.TaskStatusReady
	}
	task.BlockedReason = ""
	task.UpdatedAt = e.clk.Now()
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return model.WorkflowTask{}, err
	}
	e.metrics.RecordTaskTransition(task.Status)

	err = e.acts.Record(ctx, activity.Entry{
		OrgID:       rctx.OrgID,
		InstanceID:  inst.ID,
		TaskID:      task.ID,
		Type:        model.ActivityTaskUnblocked,
		Description: fmt.Sprintf("Task %q unblocked", task.Name),
		ActorID:     rctx.ActorID,
	})
	return task, err
}

// ReassignTask hands a task to another user. An empty newAssigneeID asks
// the assigner for a backup in the same role, excluding the current owner.
func (e *Engine) ReassignTask(ctx context.Context, rctx *model.RequestContext, taskID, newAssigneeID, note string) (model.WorkflowTask, error) {
	task, inst, unlock, err := e.loadForTransition(ctx, rctx, taskID)
	if err != nil {
		return model.WorkflowTask{}, err
	}
	defer unlock()

	if task.Terminal() {
		return model.WorkflowTask{}, model.NewInvalidTransitionError(
			fmt.Sprintf("task %q is %s and cannot be reassigned", taskID, task.Status),
		)
	}

	var asn assign.Assignment
	if newAssigneeID != "" {
		asn, err = e.assigner.FindBestAssignee(ctx, rctx.OrgID, task.Role, newAssigneeID, &task.DueAt)
	} else {
		asn, err = e.assigner.FindBackupAssignee(ctx, rctx.OrgID, task.Role, task.AssigneeID, &task.DueAt)
	}
	if err != nil {
		return model.WorkflowTask{}, err
	}
	if asn.AssigneeID == "" {
		return model.WorkflowTask{}, model.NewConflictError(
			fmt.Sprintf("no assignee available for task %q: %s", taskID, asn.Reason),
		)
	}

	previous := task.AssigneeID
	task.AssigneeID = asn.AssigneeID
	task.AssignmentNote = asn.Reason
	if note != "" {
		task.AssignmentNote = note
	}
	task.UpdatedAt = e.clk.Now()
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return model.WorkflowTask{}, err
	}

	err = e.acts.Record(ctx, activity.Entry{
		OrgID:       rctx.OrgID,
		InstanceID:  inst.ID,
		TaskID:      task.ID,
		Type:        model.ActivityTaskReassigned,
		Description: fmt.Sprintf("Task %q reassigned to %s", task.Name, task.AssigneeID),
		ActorID:     rctx.ActorID,
		Metadata:    map[string]any{"from": previous, "to": task.AssigneeID},
	})
	return task, err
}

// ReportDelay moves a task's due date and cascades the push through every
// downstream open task, preserving dependency ordering. Due dates never
// move earlier.
func (e *Engine) ReportDelay(ctx context.Context, rctx *model.RequestContext, taskID string, newDue time.Time) ([]model.WorkflowTask, error) {
	task, inst, unlock, err := e.loadForTransition(ctx, rctx, taskID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if task.Terminal() {
		return nil, model.NewInvalidTransitionError(
			fmt.Sprintf("task %q is %s; its due date is settled", taskID, task.Status),
		)
	}

	tpl, ok := e.registry.Version(inst.TemplateID, inst.TemplateVersion)
	if !ok {
		return nil, model.NewTemplateNotFoundError(
			fmt.Sprintf("template %s@%d not found", inst.TemplateID, inst.TemplateVersion),
		)
	}

	tasks, err := e.store.InstanceTasks(ctx, rctx.OrgID, inst.ID)
	if err != nil {
		return nil, err
	}

	current := make(map[string]time.Time, len(tasks))
	byTemplateID := make(map[string]*model.WorkflowTask, len(tasks))
	for i := range tasks {
		current[tasks[i].TemplateTaskID] = tasks[i].DueAt
		byTemplateID[tasks[i].TemplateTaskID] = &tasks[i]
	}

	recalced, err := e.calc.RecalculateForDelay(tpl.Tasks, current, task.TemplateTaskID, newDue)
	if err != nil {
		return nil, err
	}

	now := e.clk.Now()
	var moved []model.WorkflowTask
	for templateID, due := range recalced {
		t := byTemplateID[templateID]
		if t == nil || t.Terminal() || t.DueAt.Equal(due) {
			continue
		}
		t.DueAt = due
		t.UpdatedAt = now
		if err := e.store.UpdateTask(ctx, *t); err != nil {
			return nil, err
		}
		moved = append(moved, *t)
	}

	err = e.acts.Record(ctx, activity.Entry{
		OrgID:       rctx.OrgID,
		InstanceID:  inst.ID,
		TaskID:      task.ID,
		Type:        model.ActivityTaskDelayed,
		Description: fmt.Sprintf("Task %q delayed to %s; %d tasks moved", task.Name, newDue.Format("2006-01-02"), len(moved)),
		ActorID:     rctx.ActorID,
		Metadata:    map[string]any{"new_due": newDue, "moved": len(moved)},
	})
	return moved, err
}

// CancelWorkflow cancels an active instance and every open task in it.
func (e *Engine) CancelWorkflow(ctx context.Context, rctx *model.RequestContext, instanceID, reason string) (model.WorkflowInstance, error) {
	unlock := e.lockInstance(instanceID)
	defer unlock()

	inst, err := e.store.Instance(ctx, rctx.OrgID, instanceID)
	if err != nil {
		return model.WorkflowInstance{}, err
	}
	if inst.Status != model.InstanceStatusActive {
		return model.WorkflowInstance{}, model.NewInstanceNotActiveError(
			fmt.Sprintf("instance %q is %s, not active", instanceID, inst.Status),
		)
	}

	tasks, err := e.store.InstanceTasks(ctx, rctx.OrgID, instanceID)
	if err != nil {
		return model.WorkflowInstance{}, err
	}

	now := e.clk.Now()
	for _, t := range tasks {
		if t.Terminal() {
			continue
		}
		t.Status = model.TaskStatusCancelled
		t.UpdatedAt = now
		if err := e.store.UpdateTask(ctx, t); err != nil {
			return model.WorkflowInstance{}, err
		}
		e.metrics.RecordTaskTransition(model.TaskStatusCancelled)
	}

	inst.Status = model.InstanceStatusCancelled
	inst.CancelledAt = &now
	inst.UpdatedAt = now
	if err := e.store.UpdateInstance(ctx, inst); err != nil {
		return model.WorkflowInstance{}, err
	}
	e.metrics.RecordWorkflowCompletion(inst.TemplateID, model.InstanceStatusCancelled)

	err = e.acts.Record(ctx, activity.Entry{
		OrgID:       rctx.OrgID,
		InstanceID:  inst.ID,
		Type:        model.ActivityWorkflowCancelled,
		Description: fmt.Sprintf("Workflow cancelled: %s", reason),
		ActorID:     rctx.ActorID,
		Metadata:    map[string]any{"reason": reason},
	})
	return inst, err
}

// PathReport is the critical path of an instance's open task graph.
type PathReport struct {
	Tasks      []model.WorkflowTask `json:"tasks"`
	TotalHours float64              `json:"total_hours"`
}

// CriticalPath returns the longest estimated-effort chain through the
// instance's task graph.
func (e *Engine) CriticalPath(ctx context.Context, rctx *model.RequestContext, instanceID string) (PathReport, error) {
	inst, err := e.store.Instance(ctx, rctx.OrgID, instanceID)
	if err != nil {
		return PathReport{}, err
	}
	tpl, ok := e.registry.Version(inst.TemplateID, inst.TemplateVersion)
	if !ok {
		return PathReport{}, model.NewTemplateNotFoundError(
			fmt.Sprintf("template %s@%d not found", inst.TemplateID, inst.TemplateVersion),
		)
	}

	path, hours, err := e.calc.CriticalPath(tpl.Tasks)
	if err != nil {
		return PathReport{}, err
	}

	tasks, err := e.store.InstanceTasks(ctx, rctx.OrgID, instanceID)
	if err != nil {
		return PathReport{}, err
	}
	byTemplateID := make(map[string]model.WorkflowTask, len(tasks))
	for _, t := range tasks {
		byTemplateID[t.TemplateTaskID] = t
	}

	report := PathReport{TotalHours: hours}
	for _, templateID := range path {
		if t, ok := byTemplateID[templateID]; ok {
			report.Tasks = append(report.Tasks, t)
		}
	}
	return report, nil
}

// loadForTransition loads a task, locks its instance, reloads the task
// under the lock, and verifies the instance is active.
func (e *Engine) loadForTransition(ctx context.Context, rctx *model.RequestContext, taskID string) (model.WorkflowTask, model.WorkflowInstance, func(), error) {
	task, err := e.store.Task(ctx, rctx.OrgID, taskID)
	if err != nil {
		return model.WorkflowTask{}, model.WorkflowInstance{}, nil, err
	}

	unlock := e.lockInstance(task.InstanceID)

	task, err = e.store.Task(ctx, rctx.OrgID, taskID)
	if err != nil {
		unlock()
		return model.WorkflowTask{}, model.WorkflowInstance{}, nil, err
	}
	inst, err := e.store.Instance(ctx, rctx.OrgID, task.InstanceID)
	if err != nil {
		unlock()
		return model.WorkflowTask{}, model.WorkflowInstance{}, nil, err
	}
	if inst.Status != model.InstanceStatusActive {
		unlock()
		return model.WorkflowTask{}, model.WorkflowInstance{}, nil, model.NewInstanceNotActiveError(
			fmt.Sprintf("instance %q is %s, not active", inst.ID, inst.Status),
		)
	}
	return task, inst, unlock, nil
}

// settleInstance unlocks dependents, recomputes progress, and completes the
// instance when every task is terminal. Caller holds the instance lock.
func (e *Engine) settleInstance(ctx context.Context, rctx *model.RequestContext, inst model.WorkflowInstance) error {
	tasks, err := e.store.InstanceTasks(ctx, rctx.OrgID, inst.ID)
	if err != nil {
		return err
	}
	byID := taskIndex(tasks)

	now := e.clk.Now()
	for i := range tasks {
		t := &tasks[i]
		if t.Status != model.TaskStatusPending || !depsSatisfied(*t, byID) {
			continue
		}
		t.Status = model.TaskStatusReady
		t.UpdatedAt = now
		if err := e.store.UpdateTask(ctx, *t); err != nil {
			return err
		}
		e.metrics.RecordTaskTransition(model.TaskStatusReady)
	}

	inst.Progress = progress(tasks)
	inst.UpdatedAt = now

	if allTerminal(tasks) {
		inst.Status = model.InstanceStatusCompleted
		inst.CompletedAt = &now
		if err := e.store.UpdateInstance(ctx, inst); err != nil {
			return err
		}
		e.metrics.RecordWorkflowCompletion(inst.TemplateID, model.InstanceStatusCompleted)
		return e.acts.Record(ctx, activity.Entry{
			OrgID:       rctx.OrgID,
			InstanceID:  inst.ID,
			Type:        model.ActivityWorkflowCompleted,
			Description: "All tasks closed; workflow completed",
		})
	}
	return e.store.UpdateInstance(ctx, inst)
}

// depsSatisfied reports whether every dependency of the task is completed
// or skipped. Cancelled dependencies hold their dependents forever; that is
// what cancelling a task means.
func depsSatisfied(task model.WorkflowTask, byID map[string]model.WorkflowTask) bool {
	for _, dep := range task.DependsOnIDs {
		d, ok := byID[dep]
		if !ok {
			continue
		}
		if d.Status != model.TaskStatusCompleted && d.Status != model.TaskStatusSkipped {
			return false
		}
	}
	return true
}

// progress is the share of completed tasks among tasks that still count,
// i.e. everything not cancelled or skipped.
func progress(tasks []model.WorkflowTask) int {
	completed, countable := 0, 0
	for _, t := range tasks {
		switch t.Status {
		case model.TaskStatusCancelled, model.TaskStatusSkipped:
			continue
		case model.TaskStatusCompleted:
			completed++
		}
		countable++
	}
	if countable == 0 {
		return 100
	}
	return completed * 100 / countable
}

func allTerminal(tasks []model.WorkflowTask) bool {
	for _, t := range tasks {
		if !t.Terminal() {
			return false
		}
	}
	return true
}

func taskIndex(tasks []model.WorkflowTask) map[string]model.WorkflowTask {
	byID := make(map[string]model.WorkflowTask, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	return byID
}

// renderBriefTitle substitutes the placeholders a brief title template
// supports.
func renderBriefTitle(tmpl, taskName, entityID string) string {
	if tmpl == "" {
		return taskName
	}
	title := strings.ReplaceAll(tmpl, "{{taskName}}", taskName)
	return strings.ReplaceAll(title, "{{entityId}}", entityID)
}
