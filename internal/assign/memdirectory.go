package assign

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atelierops/pulse/model"
)

// MemoryDirectory is an in-memory Directory for tests and single-node
// deployments seeded from configuration.
type MemoryDirectory struct {
	mu      sync.RWMutex
	users   map[string]model.User
	entries []model.TimeEntry
	leave   []model.LeaveRequest
}

// NewMemoryDirectory creates an empty MemoryDirectory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{users: make(map[string]model.User)}
}

// PutUser adds or replaces a user.
func (d *MemoryDirectory) PutUser(u model.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

// AddTimeEntry records logged hours.
func (d *MemoryDirectory) AddTimeEntry(e model.TimeEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, e)
}

// AddLeave records a leave request.
func (d *MemoryDirectory) AddLeave(l model.LeaveRequest) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.leave = append(d.leave, l)
}

// ActiveUsers returns all active members of an org.
func (d *MemoryDirectory) ActiveUsers(_ context.Context, orgID string) ([]model.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var result []model.User
	for _, u := range d.users {
		if u.OrgID == orgID && u.Active {
			result = append(result, u)
		}
	}
	return result, nil
}

// User returns one org member by ID.
func (d *MemoryDirectory) User(_ context.Context, orgID, userID string) (model.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[userID]
	if !ok || u.OrgID != orgID {
		return model.User{}, model.NewNotFoundError(fmt.Sprintf("user %q not found", userID))
	}
	return u, nil
}

// LoggedHours sums the user's time entries in [from, to).
func (d *MemoryDirectory) LoggedHours(_ context.Context, userID string, from, to time.Time) (float64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var total float64
	for _, e := range d.entries {
		if e.UserID != userID {
			continue
		}
		if e.Day.Before(from) || !e.Day.Before(to) {
			continue
		}
		total += e.Hours
	}
	return total, nil
}

// ApprovedLeave returns approved leave windows covering day.
func (d *MemoryDirectory) ApprovedLeave(_ context.Context, userID string, day time.Time) ([]model.LeaveRequest, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var result []model.LeaveRequest
	for _, l := range d.leave {
		if l.UserID == userID && l.Approved && l.Covers(day) {
			result = append(result, l)
		}
	}
	return result, nil
}
