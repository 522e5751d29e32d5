package nudge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atelierops/pulse/internal/assign"
	"github.com/atelierops/pulse/internal/clock"
	"github.com/atelierops/pulse/internal/observability"
	"github.com/atelierops/pulse/model"
)

// Scheduler converts a template's nudge rules into persisted pending
// nudges for one task.
type Scheduler struct {
	store   Store
	dir     assign.Directory
	clk     clock.Clock
	log     *zap.Logger
	metrics *observability.Metrics
}

// NewScheduler creates a Scheduler. The directory is used to resolve
// manager recipients from the task assignee; metrics may be nil.
func NewScheduler(store Store, dir assign.Directory, clk clock.Clock, log *zap.Logger, metrics *observability.Metrics) *Scheduler {
	return &Scheduler{store: store, dir: dir, clk: clk, log: log, metrics: metrics}
}

// ScheduleTaskNudges registers reminders for a task. A rule applies when it
// has no task filter or the filter names the task's template ID. Fire times
// already in the past are skipped, never persisted. One row is created per
// (rule, recipient, channel); recipients are de-duplicated first. Returns
// the number of rows created.
func (s *Scheduler) ScheduleTaskNudges(ctx context.Context, inst model.WorkflowInstance, task model.WorkflowTask, rules []model.NudgeRule) (int, error) {
	now := s.clk.Now()
	created := 0

	for _, rule := range rules {
		if !ruleApplies(rule, task.TemplateTaskID) {
			continue
		}

		fireAt := fireTime(rule, task)
		if !fireAt.After(now) {
			continue
		}

		recipients := s.resolveRecipients(ctx, rule.Recipients, inst, task)
		if len(recipients) == 0 {
			s.log.Debug("nudge rule has no resolvable recipients",
				zap.String("rule_id", rule.ID),
				zap.String("task_id", task.ID),
			)
			continue
		}

		message := renderMessage(rule.Message, task.Name, task.DueAt, fireAt)
		channels := rule.Channels
		if len(channels) == 0 {
			channels = []string{model.ChannelInApp}
		}

		for _, recipient := range recipients {
			for _, channel := range channels {
				n := model.WorkflowNudge{
					ID:          uuid.New().String(),
					OrgID:       inst.OrgID,
					InstanceID:  inst.ID,
					TaskID:      task.ID,
					RuleID:      rule.ID,
					RecipientID: recipient,
					Channel:     channel,
					Message:     message,
					ScheduledAt: fireAt,
					CreatedAt:   now,
				}
				if err := s.store.Create(ctx, n); err != nil {
					return created, fmt.Errorf("create nudge for rule %q: %w", rule.ID, err)
				}
				created++
				if s.metrics != nil {
					s.metrics.RecordNudgeScheduled(rule.Trigger)
				}
			}
		}
	}
	return created, nil
}

// ruleApplies checks the rule's task filter against a template task ID.
func ruleApplies(rule model.NudgeRule, templateTaskID string) bool {
	if len(rule.TaskIDs) == 0 {
		return true
	}
	for _, id := range rule.TaskIDs {
		if id == templateTaskID {
			return true
		}
	}
	return false
}

// fireTime computes the absolute fire time from the rule trigger and the
// task's due date.
func fireTime(rule model.NudgeRule, task model.WorkflowTask) time.Time {
	switch rule.Trigger {
	case model.NudgeBeforeDue:
		return task.DueAt.Add(-rule.Offset.Duration())
	case model.NudgeAfterDue:
		return task.DueAt.Add(rule.Offset.Duration())
	default:
		return task.DueAt
	}
}

// resolveRecipients maps role tags to concrete user IDs and de-duplicates.
// The instance owner covers both the owner and creator tags when the two
// coincide; unresolvable tags are dropped.
func (s *Scheduler) resolveRecipients(ctx context.Context, tags []string, inst model.WorkflowInstance, task model.WorkflowTask) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	for _, tag := range tags {
		switch tag {
		case model.RecipientAssignee:
			add(task.AssigneeID)
		case model.RecipientOwner:
			add(inst.OwnerID)
		case model.RecipientCreator:
			add(inst.CreatedByID)
		case model.RecipientManager:
			if task.AssigneeID == "" || s.dir == nil {
				continue
			}
			user, err := s.dir.User(ctx, inst.OrgID, task.AssigneeID)
			if err != nil {
				continue
			}
			add(user.ManagerID)
		}
	}
	return out
}
