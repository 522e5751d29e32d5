package assign

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/atelierops/pulse/internal/clock"
	"github.com/atelierops/pulse/model"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) // a Monday

func newTestAssigner() (*Assigner, *MemoryDirectory) {
	dir := NewMemoryDirectory()
	return NewAssigner(dir, clock.NewFake(testNow)), dir
}

func seedUser(dir *MemoryDirectory, id, label, dept string, capacity float64) {
	dir.PutUser(model.User{
		ID:                  id,
		OrgID:               "org-1",
		Name:                id,
		RoleLabel:           label,
		Department:          dept,
		WeeklyCapacityHours: capacity,
		Active:              true,
	})
}

func TestFindBestAssignee_explicitWins(t *testing.T) {
	a, dir := newTestAssigner()
	seedUser(dir, "u-dana", "Senior Designer", "creative", 40)
	seedUser(dir, "u-omar", "Finance Lead", "operations", 40)

	got, err := a.FindBestAssignee(context.Background(), "org-1", "designer", "u-omar", nil)
	if err != nil {
		t.Fatalf("FindBestAssignee error: %v", err)
	}
	if got.AssigneeID != "u-omar" {
		t.Errorf("AssigneeID = %q, want u-omar", got.AssigneeID)
	}
	if got.Reason != "explicit" {
		t.Errorf("Reason = %q, want explicit", got.Reason)
	}
}

func TestFindBestAssignee_skillDominatesCapacity(t *testing.T) {
	a, dir := newTestAssigner()
	// Label match with a busy week vs. department-only match with a free week.
	seedUser(dir, "u-busy", "Senior Designer", "creative", 40)
	seedUser(dir, "u-free", "Production Assistant", "creative", 40)
	dir.AddTimeEntry(model.TimeEntry{UserID: "u-busy", Day: testNow, Hours: 30})

	due := testNow.Add(48 * time.Hour)
	got, err := a.FindBestAssignee(context.Background(), "org-1", "designer", "", &due)
	if err != nil {
		t.Fatalf("FindBestAssignee error: %v", err)
	}
	if got.AssigneeID != "u-busy" {
		t.Errorf("AssigneeID = %q, want u-busy (skill match dominates capacity)", got.AssigneeID)
	}
}

func TestFindBestAssignee_capacityBreaksTies(t *testing.T) {
	a, dir := newTestAssigner()
	seedUser(dir, "u-loaded", "Designer", "creative", 40)
	seedUser(dir, "u-light", "Designer", "creative", 40)
	dir.AddTimeEntry(model.TimeEntry{UserID: "u-loaded", Day: testNow, Hours: 35})
	dir.AddTimeEntry(model.TimeEntry{UserID: "u-light", Day: testNow, Hours: 5})

	due := testNow.Add(24 * time.Hour)
	got, err := a.FindBestAssignee(context.Background(), "org-1", "designer", "", &due)
	if err != nil {
		t.Fatalf("FindBestAssignee error: %v", err)
	}
	if got.AssigneeID != "u-light" {
		t.Errorf("AssigneeID = %q, want u-light", got.AssigneeID)
	}
}

func TestFindBestAssignee_leaveExcluded(t *testing.T) {
	a, dir := newTestAssigner()
	seedUser(dir, "u-away", "Designer", "creative", 40)
	seedUser(dir, "u-here", "Designer", "creative", 40)
	due := testNow.Add(24 * time.Hour)
	dir.AddLeave(model.LeaveRequest{
		UserID: "u-away", Approved: true,
		StartsAt: due.Add(-24 * time.Hour), EndsAt: due.Add(72 * time.Hour),
	})

	got, err := a.FindBestAssignee(context.Background(), "org-1", "designer", "", &due)
	if err != nil {
		t.Fatalf("FindBestAssignee error: %v", err)
	}
	if got.AssigneeID != "u-here" {
		t.Errorf("AssigneeID = %q, want u-here", got.AssigneeID)
	}
}

func TestFindBestAssignee_allOnLeaveDegrades(t *testing.T) {
	a, dir := newTestAssigner()
	seedUser(dir, "u-away", "Designer", "creative", 40)
	due := testNow.Add(24 * time.Hour)
	dir.AddLeave(model.LeaveRequest{
		UserID: "u-away", Approved: true,
		StartsAt: due.Add(-24 * time.Hour), EndsAt: due.Add(72 * time.Hour),
	})

	got, err := a.FindBestAssignee(context.Background(), "org-1", "designer", "", &due)
	if err != nil {
		t.Fatalf("FindBestAssignee error: %v", err)
	}
	if got.AssigneeID != "u-away" {
		t.Errorf("AssigneeID = %q, want u-away (graceful degradation)", got.AssigneeID)
	}
	if !strings.Contains(got.Reason, "reassignment") {
		t.Errorf("Reason = %q, want leave-conflict warning", got.Reason)
	}
}

func TestFindBestAssignee_noCandidates(t *testing.T) {
	a, dir := newTestAssigner()
	seedUser(dir, "u-omar", "Finance Lead", "operations", 40)

	got, err := a.FindBestAssignee(context.Background(), "org-1", "designer", "", nil)
	if err != nil {
		t.Fatalf("FindBestAssignee error: %v", err)
	}
	if got.AssigneeID != "" {
		t.Errorf("AssigneeID = %q, want empty", got.AssigneeID)
	}
	if got.Reason == "" {
		t.Error("expected diagnostic reason")
	}
}

func TestFindBestAssignee_unknownRole(t *testing.T) {
	a, dir := newTestAssigner()
	seedUser(dir, "u-dana", "Designer", "creative", 40)

	got, err := a.FindBestAssignee(context.Background(), "org-1", "astronaut", "", nil)
	if err != nil {
		t.Fatalf("FindBestAssignee error: %v", err)
	}
	if got.AssigneeID != "" {
		t.Errorf("AssigneeID = %q, want empty", got.AssigneeID)
	}
}

func TestFindBackupAssignee(t *testing.T) {
	a, dir := newTestAssigner()
	seedUser(dir, "u-primary", "Designer", "creative", 40)
	seedUser(dir, "u-backup", "Junior Designer", "creative", 40)
	seedUser(dir, "u-away", "Designer", "creative", 40)
	due := testNow.Add(24 * time.Hour)
	dir.AddLeave(model.LeaveRequest{
		UserID: "u-away", Approved: true,
		StartsAt: due, EndsAt: due.Add(24 * time.Hour),
	})

	got, err := a.FindBackupAssignee(context.Background(), "org-1", "designer", "u-primary", &due)
	if err != nil {
		t.Fatalf("FindBackupAssignee error: %v", err)
	}
	if got.AssigneeID != "u-backup" {
		t.Errorf("AssigneeID = %q, want u-backup", got.AssigneeID)
	}
}

func TestCheckUserCapacity(t *testing.T) {
	a, dir := newTestAssigner()
	seedUser(dir, "u-dana", "Designer", "creative", 40)
	dir.AddTimeEntry(model.TimeEntry{UserID: "u-dana", Day: testNow, Hours: 30})

	check, err := a.CheckUserCapacity(context.Background(), "org-1", "u-dana", 8)
	if err != nil {
		t.Fatalf("CheckUserCapacity error: %v", err)
	}
	if !check.HasCapacity {
		t.Error("expected capacity for 8h with 10h remaining")
	}
	if check.UtilizationPct != 75 {
		t.Errorf("UtilizationPct = %v, want 75", check.UtilizationPct)
	}

	check, err = a.CheckUserCapacity(context.Background(), "org-1", "u-dana", 16)
	if err != nil {
		t.Fatalf("CheckUserCapacity error: %v", err)
	}
	if check.HasCapacity {
		t.Error("expected no capacity for 16h with 10h remaining")
	}
}

func TestWeekBounds(t *testing.T) {
	// Wednesday.
	from, to := weekBounds(time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC))
	if from != time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) {
		t.Errorf("from = %v", from)
	}
	if to != time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC) {
		t.Errorf("to = %v", to)
	}

	// Sunday belongs to the preceding week.
	from, _ = weekBounds(time.Date(2026, 3, 8, 1, 0, 0, 0, time.UTC))
	if from != time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) {
		t.Errorf("sunday from = %v", from)
	}
}
