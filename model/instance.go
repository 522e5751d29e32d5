package model

import "time"

// Workflow instance status constants.
const (
	InstanceStatusActive    = "active"
	InstanceStatusCompleted = "completed"
	InstanceStatusCancelled = "cancelled"
)

// Workflow task status constants.
const (
	TaskStatusPending    = "pending"
	TaskStatusReady      = "ready"
	TaskStatusInProgress = "in_progress"
	TaskStatusBlocked    = "blocked"
	TaskStatusCompleted  = "completed"
	TaskStatusCancelled  = "cancelled"
	TaskStatusSkipped    = "skipped"
)

// WorkflowInstance is one live run of a template against a triggering
// business entity. Progress is derived from task counts and recomputed on
// every completion; it is never authoritative on its own.
type WorkflowInstance struct {
	ID              string         `json:"id"`
	TemplateID      string         `json:"template_id"`
	TemplateVersion int            `json:"template_version"`
	OrgID           string         `json:"org_id"`
	OwnerID         string         `json:"owner_id"`
	CreatedByID     string         `json:"created_by_id"`
	EntityType      string         `json:"entity_type"`
	EntityID        string         `json:"entity_id"`
	Trigger         map[string]any `json:"trigger,omitempty"`
	Deadline        *time.Time     `json:"deadline,omitempty"`
	Status          string         `json:"status"`
	Progress        int            `json:"progress"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	CancelledAt     *time.Time     `json:"cancelled_at,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Version         int            `json:"version"`
}

// WorkflowTask is a concrete, dated, assigned instantiation of a task
// template. DependsOnIDs is copied from the template at instantiation so
// later template edits never corrupt a running instance.
type WorkflowTask struct {
	ID             string     `json:"id"`
	InstanceID     string     `json:"instance_id"`
	OrgID          string     `json:"org_id"`
	TemplateTaskID string     `json:"template_task_id"`
	Name           string     `json:"name"`
	Role           string     `json:"role"`
	AssigneeID     string     `json:"assignee_id,omitempty"`
	AssignmentNote string     `json:"assignment_note,omitempty"`
	DueAt          time.Time  `json:"due_at"`
	Status         string     `json:"status"`
	DependsOnIDs   []string   `json:"depends_on_ids,omitempty"`
	EstimatedHours float64    `json:"estimated_hours"`
	BlockedReason  string     `json:"blocked_reason,omitempty"`
	BriefID        string     `json:"brief_id,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Terminal reports whether the task is in a state no transition leaves.
func (t *WorkflowTask) Terminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusCancelled, TaskStatusSkipped:
		return true
	}
	return false
}

// InstanceSummary is the list-view shape of a workflow instance.
type InstanceSummary struct {
	ID         string     `json:"id"`
	TemplateID string     `json:"template_id"`
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	Progress   int        `json:"progress"`
	OwnerID    string     `json:"owner_id"`
	Deadline   *time.Time `json:"deadline,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// InstanceDetail is an instance with its tasks and stage gates.
type InstanceDetail struct {
	Instance WorkflowInstance `json:"instance"`
	Tasks    []WorkflowTask   `json:"tasks"`
	Gates    []StageGate      `json:"gates,omitempty"`
}

// InstanceFilters are optional filters for listing workflow instances.
type InstanceFilters struct {
	TemplateID string
	Status     string
	Page       int
	PageSize   int
}
