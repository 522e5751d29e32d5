// Package assign selects task owners by role fit and available capacity.
package assign

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/atelierops/pulse/internal/clock"
	"github.com/atelierops/pulse/model"
)

// Directory is the persistence port for people data: org members, their
// logged hours, and approved leave.
type Directory interface {
	// ActiveUsers returns all active members of an org.
	ActiveUsers(ctx context.Context, orgID string) ([]model.User, error)

	// User returns one org member by ID. Returns NOT_FOUND if the user does
	// not exist or belongs to a different org.
	User(ctx context.Context, orgID, userID string) (model.User, error)

	// LoggedHours sums a user's time entries in [from, to).
	LoggedHours(ctx context.Context, userID string, from, to time.Time) (float64, error)

	// ApprovedLeave returns the user's approved leave windows covering day.
	ApprovedLeave(ctx context.Context, userID string, day time.Time) ([]model.LeaveRequest, error)
}

// Skill match scores. Label match dominates department match, which
// dominates capacity, so a less-loaded generalist never outranks a
// role-matched specialist.
const (
	scoreLabelMatch      = 100
	scoreDepartmentMatch = 50
)

// Assignment is the outcome of an assignee search. An empty AssigneeID with
// a populated Reason records a miss without aborting instantiation.
type Assignment struct {
	AssigneeID string `json:"assignee_id,omitempty"`
	Reason     string `json:"reason"`
}

// Assigner scores candidate users for a role and due date.
type Assigner struct {
	dir Directory
	clk clock.Clock
}

// NewAssigner creates an Assigner.
func NewAssigner(dir Directory, clk clock.Clock) *Assigner {
	return &Assigner{dir: dir, clk: clk}
}

type candidate struct {
	user     model.User
	skill    int
	capacity float64
	onLeave  bool
}

// FindBestAssignee selects an owner for a task. An explicit user ID that
// resolves to an active org member wins unconditionally. Otherwise
// candidates matching the role's label or department are ranked by skill
// match then available capacity for the ISO week of the due date.
// Candidates on approved leave are excluded unless every candidate is on
// leave, in which case the best is returned with a reassignment warning.
func (a *Assigner) FindBestAssignee(ctx context.Context, orgID, role, explicitUserID string, dueAt *time.Time) (Assignment, error) {
	if explicitUserID != "" {
		user, err := a.dir.User(ctx, orgID, explicitUserID)
		if err == nil && user.Active {
			return Assignment{AssigneeID: user.ID, Reason: "explicit"}, nil
		}
	}

	spec, ok := model.Roles[role]
	if !ok {
		// Publish-time validation rejects unknown roles; reaching this means
		// the template predates the role table. Record a miss, do not abort.
		return Assignment{Reason: fmt.Sprintf("unknown assignee role %q", role)}, nil
	}

	cands, err := a.candidates(ctx, orgID, spec, dueAt)
	if err != nil {
		return Assignment{}, err
	}
	if len(cands) == 0 {
		return Assignment{Reason: fmt.Sprintf("no active users match role %q (department %s)", role, spec.Department)}, nil
	}

	rankCandidates(cands)

	for _, c := range cands {
		if !c.onLeave {
			return Assignment{
				AssigneeID: c.user.ID,
				Reason:     fmt.Sprintf("best fit: skill %d, %.1fh free this week", c.skill, c.capacity),
			}, nil
		}
	}

	// Everyone is on leave: degrade gracefully rather than leave the task
	// unowned.
	best := cands[0]
	return Assignment{
		AssigneeID: best.user.ID,
		Reason:     "all candidates on approved leave for the due date; may need reassignment",
	}, nil
}

// FindBackupAssignee returns a same-department alternate for a task,
// excluding the current assignee and anyone on approved leave. Candidates
// whose label matches the role are preferred.
func (a *Assigner) FindBackupAssignee(ctx context.Context, orgID, role, excludeUserID string, dueAt *time.Time) (Assignment, error) {
	spec, ok := model.Roles[role]
	if !ok {
		return Assignment{Reason: fmt.Sprintf("unknown assignee role %q", role)}, nil
	}

	cands, err := a.candidates(ctx, orgID, spec, dueAt)
	if err != nil {
		return Assignment{}, err
	}

	filtered := cands[:0]
	for _, c := range cands {
		if c.user.ID == excludeUserID || c.onLeave {
			continue
		}
		filtered = append(filtered, c)
	}
	if len(filtered) == 0 {
		return Assignment{Reason: fmt.Sprintf("no available backup in department %s", spec.Department)}, nil
	}

	rankCandidates(filtered)
	best := filtered[0]
	return Assignment{
		AssigneeID: best.user.ID,
		Reason:     fmt.Sprintf("backup: skill %d, %.1fh free this week", best.skill, best.capacity),
	}, nil
}

// CapacityCheck reports whether a user has room for additional estimated
// hours in the current week, and their utilization percentage.
type CapacityCheck struct {
	HasCapacity    bool    `json:"has_capacity"`
	UtilizationPct float64 `json:"utilization_pct"`
	RemainingHours float64 `json:"remaining_hours"`
}

// CheckUserCapacity is the capacity gate used by callers that do not need
// full assignment.
func (a *Assigner) CheckUserCapacity(ctx context.Context, orgID, userID string, estimatedHours float64) (CapacityCheck, error) {
	user, err := a.dir.User(ctx, orgID, userID)
	if err != nil {
		return CapacityCheck{}, err
	}

	from, to := weekBounds(a.clk.Now())
	logged, err := a.dir.LoggedHours(ctx, userID, from, to)
	if err != nil {
		return CapacityCheck{}, err
	}

	remaining := user.WeeklyCapacityHours - logged
	var pct float64
	if user.WeeklyCapacityHours > 0 {
		pct = logged / user.WeeklyCapacityHours * 100
	}
	return CapacityCheck{
		HasCapacity:    remaining >= estimatedHours,
		UtilizationPct: pct,
		RemainingHours: remaining,
	}, nil
}

// candidates pools role/department matches and annotates each with skill
// score, free capacity for the due week, and leave status.
func (a *Assigner) candidates(ctx context.Context, orgID string, spec model.RoleSpec, dueAt *time.Time) ([]candidate, error) {
	users, err := a.dir.ActiveUsers(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}

	due := a.clk.Now()
	if dueAt != nil {
		due = dueAt.UTC()
	}
	from, to := weekBounds(due)

	var cands []candidate
	for _, u := range users {
		skill := 0
		if spec.MatchesLabel(u.RoleLabel) {
			skill = scoreLabelMatch
		} else if u.Department == spec.Department {
			skill = scoreDepartmentMatch
		} else {
			continue
		}

		logged, err := a.dir.LoggedHours(ctx, u.ID, from, to)
		if err != nil {
			return nil, fmt.Errorf("logged hours for %s: %w", u.ID, err)
		}
		leave, err := a.dir.ApprovedLeave(ctx, u.ID, due)
		if err != nil {
			return nil, fmt.Errorf("leave for %s: %w", u.ID, err)
		}

		cands = append(cands, candidate{
			user:     u,
			skill:    skill,
			capacity: u.WeeklyCapacityHours - logged,
			onLeave:  len(leave) > 0,
		})
	}
	return cands, nil
}

// rankCandidates orders by skill match descending, then free capacity
// descending, then user ID for determinism.
func rankCandidates(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].skill != cands[j].skill {
			return cands[i].skill > cands[j].skill
		}
		if cands[i].capacity != cands[j].capacity {
			return cands[i].capacity > cands[j].capacity
		}
		return cands[i].user.ID < cands[j].user.ID
	})
}

// weekBounds returns the ISO week [Monday 00:00, next Monday 00:00)
// containing t, in UTC.
func weekBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday belongs to the preceding Monday's week
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, -(weekday - 1))
	return start, start.AddDate(0, 0, 7)
}
