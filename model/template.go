// Package model defines the plain data shapes shared by the workflow engine,
// its stores, and the HTTP transport. Types here carry no behavior beyond
// small derived-value helpers so every package can exchange them freely.
package model

import (
	"fmt"
	"time"
)

// Due-date offset anchors.
const (
	AnchorDeadline      = "deadline"
	AnchorWorkflowStart = "workflow_start"
	AnchorPreviousTask  = "previous_task"
)

// Span units.
const (
	UnitHours = "hours"
	UnitDays  = "days"
	UnitWeeks = "weeks"
)

// Span is a signed magnitude with a unit, used for due-date offsets and
// nudge timing.
type Span struct {
	Value int    `yaml:"value" json:"value"`
	Unit  string `yaml:"unit" json:"unit"`
}

// Duration converts the span to a time.Duration. Unknown units are treated
// as days, the authoring default.
func (s Span) Duration() time.Duration {
	switch s.Unit {
	case UnitHours:
		return time.Duration(s.Value) * time.Hour
	case UnitWeeks:
		return time.Duration(s.Value) * 7 * 24 * time.Hour
	default:
		return time.Duration(s.Value) * 24 * time.Hour
	}
}

// DueOffset positions a task's due date relative to an anchor.
type DueOffset struct {
	Anchor string `yaml:"anchor" json:"anchor"`
	Span   `yaml:",inline"`
}

// TriggerCondition is a single predicate over a triggering entity's fields.
type TriggerCondition struct {
	Field    string `yaml:"field" json:"field"`
	Operator string `yaml:"operator" json:"operator"`
	Value    any    `yaml:"value" json:"value"`
}

// TriggerSpec describes the business event that starts a workflow.
type TriggerSpec struct {
	EntityType string             `yaml:"entity_type" json:"entity_type"`
	Event      string             `yaml:"event" json:"event"`
	Conditions []TriggerCondition `yaml:"conditions" json:"conditions,omitempty"`
}

// BriefSpec describes the "creates a brief" side effect of a task.
type BriefSpec struct {
	TitleTemplate string `yaml:"title_template" json:"title_template"`
	BriefType     string `yaml:"brief_type" json:"brief_type"`
}

// TaskTemplate is a node in a template's task DAG.
type TaskTemplate struct {
	ID             string     `yaml:"id" json:"id"`
	Name           string     `yaml:"name" json:"name"`
	Role           string     `yaml:"role" json:"role"`
	DependsOn      []string   `yaml:"depends_on" json:"depends_on,omitempty"`
	Offset         DueOffset  `yaml:"offset" json:"offset"`
	EstimatedHours float64    `yaml:"estimated_hours" json:"estimated_hours"`
	CreatesBrief   *BriefSpec `yaml:"creates_brief" json:"creates_brief,omitempty"`
}

// Nudge trigger types.
const (
	NudgeBeforeDue = "before_due"
	NudgeOnDue     = "on_due"
	NudgeAfterDue  = "after_due"
)

// Nudge recipient role tags, resolved to concrete users at scheduling time.
const (
	RecipientAssignee = "assignee"
	RecipientOwner    = "owner"
	RecipientManager  = "manager"
	RecipientCreator  = "creator"
)

// NudgeRule defines a reminder relative to a task's due date. An empty
// TaskIDs list applies the rule to every task in the template.
type NudgeRule struct {
	ID         string   `yaml:"id" json:"id"`
	TaskIDs    []string `yaml:"task_ids" json:"task_ids,omitempty"`
	Trigger    string   `yaml:"trigger" json:"trigger"`
	Offset     Span     `yaml:"offset" json:"offset"`
	Recipients []string `yaml:"recipients" json:"recipients"`
	Channels   []string `yaml:"channels" json:"channels"`
	Message    string   `yaml:"message" json:"message"`
}

// StageGate is an approval checkpoint attached to a task. Gates are carried
// in templates and surfaced in instance detail; they do not alter engine
// transitions.
type StageGate struct {
	TaskID     string             `yaml:"task_id" json:"task_id"`
	Name       string             `yaml:"name" json:"name"`
	Conditions []TriggerCondition `yaml:"conditions" json:"conditions,omitempty"`
}

// WorkflowTemplate is a versioned, immutable-once-published definition of a
// task graph, its trigger, and its reminder rules. Exactly one published
// version is active per logical template name at a time.
type WorkflowTemplate struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Version     int            `yaml:"version" json:"version"`
	Published   bool           `yaml:"published" json:"published"`
	Description string         `yaml:"description" json:"description,omitempty"`
	Trigger     TriggerSpec    `yaml:"trigger" json:"trigger"`
	Tasks       []TaskTemplate `yaml:"tasks" json:"tasks"`
	NudgeRules  []NudgeRule    `yaml:"nudge_rules" json:"nudge_rules,omitempty"`
	StageGates  []StageGate    `yaml:"stage_gates" json:"stage_gates,omitempty"`

	// Populated by the loader, not authored.
	Checksum   string `yaml:"-" json:"-"`
	SourceFile string `yaml:"-" json:"-"`
}

// Task returns the task template with the given ID, or nil.
func (t *WorkflowTemplate) Task(taskID string) *TaskTemplate {
	for i := range t.Tasks {
		if t.Tasks[i].ID == taskID {
			return &t.Tasks[i]
		}
	}
	return nil
}

// Key identifies one template version, e.g. "client-onboarding@3".
func (t *WorkflowTemplate) Key() string {
	return fmt.Sprintf("%s@%d", t.ID, t.Version)
}
