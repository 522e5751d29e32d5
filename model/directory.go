package model

import "time"

// User is an org member as seen by the auto-assigner. RoleLabel is the
// free-text job title maintained in the people directory; Department is a
// normalized tag.
type User struct {
	ID                  string  `yaml:"id" json:"id"`
	OrgID               string  `yaml:"org_id" json:"org_id"`
	Name                string  `yaml:"name" json:"name"`
	Email               string  `yaml:"email" json:"email"`
	RoleLabel           string  `yaml:"role_label" json:"role_label"`
	Department          string  `yaml:"department" json:"department"`
	ManagerID           string  `yaml:"manager_id" json:"manager_id,omitempty"`
	WeeklyCapacityHours float64 `yaml:"weekly_capacity_hours" json:"weekly_capacity_hours"`
	Active              bool    `yaml:"active" json:"active"`
}

// LeaveRequest is an absence window. Only approved leave affects assignment.
type LeaveRequest struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	Approved bool      `json:"approved"`
}

// Covers reports whether the leave window contains the given day.
func (l LeaveRequest) Covers(day time.Time) bool {
	d := day.Truncate(24 * time.Hour)
	return !d.Before(l.StartsAt.Truncate(24*time.Hour)) && !d.After(l.EndsAt.Truncate(24*time.Hour))
}

// TimeEntry is a logged unit of work used to compute a user's current load.
type TimeEntry struct {
	ID     string    `json:"id"`
	UserID string    `json:"user_id"`
	Day    time.Time `json:"day"`
	Hours  float64   `json:"hours"`
}
