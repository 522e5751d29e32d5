package model

import "time"

// Delivery channel constants.
const (
	ChannelEmail = "email"
	ChannelSlack = "slack"
	ChannelInApp = "in_app"
)

// WorkflowNudge is a scheduled reminder derived from a rule and a task's
// due date. A nudge is sent at most once; SentAt is stamped together with
// the send attempt.
type WorkflowNudge struct {
	ID             string     `json:"id"`
	OrgID          string     `json:"org_id"`
	InstanceID     string     `json:"instance_id"`
	TaskID         string     `json:"task_id"`
	RuleID         string     `json:"rule_id"`
	RecipientID    string     `json:"recipient_id"`
	Channel        string     `json:"channel"`
	Message        string     `json:"message"`
	ScheduledAt    time.Time  `json:"scheduled_at"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	Failed         bool       `json:"failed"`
	FailReason     string     `json:"fail_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Notification is the payload handed to the delivery transport. The engine
// only depends on a deliver capability; transports own retries per channel.
type Notification struct {
	Type        string         `json:"type"`
	RecipientID string         `json:"recipient_id"`
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	ActionURL   string         `json:"action_url,omitempty"`
	Channels    []string       `json:"channels"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
