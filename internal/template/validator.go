package template

import (
	"fmt"

	"github.com/atelierops/pulse/model"
)

// VError describes a single validation error in a template.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator performs publish-time validation of workflow templates. Graph
// defects (cycles, unresolvable dependency references) and unknown roles
// are rejected here so runtime instantiation never sees them.
type Validator struct{}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all templates and returns every error found.
func (v *Validator) Validate(tpls []model.WorkflowTemplate) []VError {
	var errs []VError
	for i, tpl := range tpls {
		prefix := fmt.Sprintf("templates[%d]", i)
		errs = append(errs, v.validateTemplate(prefix, tpl)...)
	}
	return errs
}

func (v *Validator) validateTemplate(prefix string, tpl model.WorkflowTemplate) []VError {
	var errs []VError

	if tpl.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if tpl.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}
	if tpl.Version < 1 {
		errs = append(errs, VError{Path: prefix + ".version", Code: "INVALID", Message: "version must be >= 1"})
	}
	if len(tpl.Tasks) == 0 {
		errs = append(errs, VError{Path: prefix + ".tasks", Code: "REQUIRED", Message: "at least one task is required"})
	}

	taskIDs := make(map[string]bool, len(tpl.Tasks))
	for i, t := range tpl.Tasks {
		tp := fmt.Sprintf("%s.tasks[%d]", prefix, i)
		if t.ID == "" {
			errs = append(errs, VError{Path: tp + ".id", Code: "REQUIRED", Message: "task id is required"})
			continue
		}
		if taskIDs[t.ID] {
			errs = append(errs, VError{Path: tp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("duplicate task id %q", t.ID)})
		}
		taskIDs[t.ID] = true
	}

	for i, t := range tpl.Tasks {
		tp := fmt.Sprintf("%s.tasks[%d]", prefix, i)
		errs = append(errs, v.validateTask(tp, t, taskIDs)...)
	}

	if cycleAt := findCycle(tpl.Tasks); cycleAt != "" {
		errs = append(errs, VError{
			Path:    prefix + ".tasks",
			Code:    "DEPENDENCY_CYCLE",
			Message: fmt.Sprintf("task %q participates in a dependency cycle", cycleAt),
		})
	}

	for i, r := range tpl.NudgeRules {
		rp := fmt.Sprintf("%s.nudge_rules[%d]", prefix, i)
		errs = append(errs, v.validateNudgeRule(rp, r, taskIDs)...)
	}

	for i, g := range tpl.StageGates {
		if g.TaskID != "" && !taskIDs[g.TaskID] {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.stage_gates[%d].task_id", prefix, i),
				Code:    "UNKNOWN_REFERENCE",
				Message: fmt.Sprintf("stage gate references unknown task %q", g.TaskID),
			})
		}
	}

	return errs
}

var validAnchors = map[string]bool{
	model.AnchorDeadline: true, model.AnchorWorkflowStart: true, model.AnchorPreviousTask: true,
}

var validUnits = map[string]bool{
	model.UnitHours: true, model.UnitDays: true, model.UnitWeeks: true,
}

func (v *Validator) validateTask(prefix string, t model.TaskTemplate, taskIDs map[string]bool) []VError {
	var errs []VError

	if t.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "task name is required"})
	}
	if t.Role != "" && !model.KnownRole(t.Role) {
		errs = append(errs, VError{
			Path:    prefix + ".role",
			Code:    "UNKNOWN_ROLE",
			Message: fmt.Sprintf("role %q is not in the role table", t.Role),
		})
	}
	if t.Offset.Anchor != "" && !validAnchors[t.Offset.Anchor] {
		errs = append(errs, VError{
			Path:    prefix + ".offset.anchor",
			Code:    "INVALID",
			Message: fmt.Sprintf("unknown offset anchor %q", t.Offset.Anchor),
		})
	}
	if t.Offset.Unit != "" && !validUnits[t.Offset.Unit] {
		errs = append(errs, VError{
			Path:    prefix + ".offset.unit",
			Code:    "INVALID",
			Message: fmt.Sprintf("unknown offset unit %q", t.Offset.Unit),
		})
	}
	if t.EstimatedHours < 0 {
		errs = append(errs, VError{Path: prefix + ".estimated_hours", Code: "INVALID", Message: "estimated hours must not be negative"})
	}

	for _, dep := range t.DependsOn {
		if dep == t.ID {
			errs = append(errs, VError{
				Path:    prefix + ".depends_on",
				Code:    "SELF_REFERENCE",
				Message: fmt.Sprintf("task %q depends on itself", t.ID),
			})
			continue
		}
		if !taskIDs[dep] {
			errs = append(errs, VError{
				Path:    prefix + ".depends_on",
				Code:    "UNKNOWN_REFERENCE",
				Message: fmt.Sprintf("task %q depends on unknown task %q", t.ID, dep),
			})
		}
	}

	return errs
}

var validNudgeTriggers = map[string]bool{
	model.NudgeBeforeDue: true, model.NudgeOnDue: true, model.NudgeAfterDue: true,
}

var validRecipients = map[string]bool{
	model.RecipientAssignee: true, model.RecipientOwner: true,
	model.RecipientManager: true, model.RecipientCreator: true,
}

var validChannels = map[string]bool{
	model.ChannelEmail: true, model.ChannelSlack: true, model.ChannelInApp: true,
}

func (v *Validator) validateNudgeRule(prefix string, r model.NudgeRule, taskIDs map[string]bool) []VError {
	var errs []VError

	if r.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "rule id is required"})
	}
	if !validNudgeTriggers[r.Trigger] {
		errs = append(errs, VError{
			Path:    prefix + ".trigger",
			Code:    "INVALID",
			Message: fmt.Sprintf("unknown nudge trigger %q", r.Trigger),
		})
	}
	if len(r.Recipients) == 0 {
		errs = append(errs, VError{Path: prefix + ".recipients", Code: "REQUIRED", Message: "at least one recipient is required"})
	}
	for _, rec := range r.Recipients {
		if !validRecipients[rec] {
			errs = append(errs, VError{
				Path:    prefix + ".recipients",
				Code:    "INVALID",
				Message: fmt.Sprintf("unknown recipient tag %q", rec),
			})
		}
	}
	for _, ch := range r.Channels {
		if !validChannels[ch] {
			errs = append(errs, VError{
				Path:    prefix + ".channels",
				Code:    "INVALID",
				Message: fmt.Sprintf("unknown channel %q", ch),
			})
		}
	}
	for _, id := range r.TaskIDs {
		if !taskIDs[id] {
			errs = append(errs, VError{
				Path:    prefix + ".task_ids",
				Code:    "UNKNOWN_REFERENCE",
				Message: fmt.Sprintf("rule references unknown task %q", id),
			})
		}
	}
	if r.Message == "" {
		errs = append(errs, VError{Path: prefix + ".message", Code: "REQUIRED", Message: "message template is required"})
	}

	return errs
}

// findCycle runs DFS coloring over the task graph and returns the ID of a
// task on a cycle, or empty. Unknown dependency references are skipped;
// they are reported separately.
func findCycle(tasks []model.TaskTemplate) string {
	byID := make(map[string]*model.TaskTemplate, len(tasks))
	for i := range tasks {
		byID[tasks[i].ID] = &tasks[i]
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(tasks))

	var visit func(id string) string
	visit = func(id string) string {
		switch color[id] {
		case grey:
			return id
		case black:
			return ""
		}
		color[id] = grey
		for _, dep := range byID[id].DependsOn {
			if _, ok := byID[dep]; !ok {
				continue
			}
			if at := visit(dep); at != "" {
				return at
			}
		}
		color[id] = black
		return ""
	}

	for _, t := range tasks {
		if at := visit(t.ID); at != "" {
			return at
		}
	}
	return ""
}
