package model

import "time"

// Activity types recorded by the engine. The activity log is append-only:
// entries are never mutated or deleted.
const (
	ActivityWorkflowStarted   = "WORKFLOW_STARTED"
	ActivityTaskCreated       = "TASK_CREATED"
	ActivityTaskStarted       = "TASK_STARTED"
	ActivityTaskCompleted     = "TASK_COMPLETED"
	ActivityTaskBlocked       = "TASK_BLOCKED"
	ActivityTaskUnblocked     = "TASK_UNBLOCKED"
	ActivityTaskReassigned    = "TASK_REASSIGNED"
	ActivityTaskDelayed       = "TASK_DELAYED"
	ActivityTaskSkipped       = "TASK_SKIPPED"
	ActivityNudgeSent         = "NUDGE_SENT"
	ActivityNudgeAcknowledged = "NUDGE_ACKNOWLEDGED"
	ActivityWorkflowCompleted = "WORKFLOW_COMPLETED"
	ActivityWorkflowCancelled = "WORKFLOW_CANCELLED"
	ActivityBriefCreated      = "BRIEF_CREATED"
)

// WorkflowActivity is one append-only audit record of an engine action.
type WorkflowActivity struct {
	ID          string         `json:"id"`
	OrgID       string         `json:"org_id"`
	InstanceID  string         `json:"instance_id"`
	TaskID      string         `json:"task_id,omitempty"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	ActorID     string         `json:"actor_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
