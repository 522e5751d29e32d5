// Package schedule turns a task-template dependency graph and a target
// deadline into concrete per-task due dates. All functions are pure apart
// from reads of the injected clock.
package schedule

import (
	"fmt"
	"time"

	"github.com/atelierops/pulse/internal/clock"
	"github.com/atelierops/pulse/model"
)

const (
	// defaultHorizon substitutes for a missing deadline.
	defaultHorizon = 30 * 24 * time.Hour
	// minGap is the smallest spacing enforced between a task and its
	// dependencies, and the clamp distance for past due dates.
	minGap = 24 * time.Hour
)

// TaskDate is the computed scheduling result for one task template.
type TaskDate struct {
	DueAt    time.Time `json:"due_at"`
	CanStart bool      `json:"can_start"`
}

// Calculator computes task due dates.
type Calculator struct {
	clk     clock.Clock
	horizon time.Duration
}

// NewCalculator creates a Calculator using the given clock.
func NewCalculator(clk clock.Clock) *Calculator {
	return &Calculator{clk: clk, horizon: defaultHorizon}
}

// SetHorizonDays overrides the fallback horizon used when a workflow has
// no deadline. Non-positive values are ignored.
func (c *Calculator) SetHorizonDays(days int) {
	if days > 0 {
		c.horizon = time.Duration(days) * 24 * time.Hour
	}
}

// TaskDates computes a due date and a can-start flag for every task.
// A nil deadline is replaced by now plus the configured horizon. The result
// always satisfies two invariants: no due date is in the past, and every
// task's due date is strictly after the due dates of all its dependencies.
// A cyclic graph is a fatal configuration error.
func (c *Calculator) TaskDates(tasks []model.TaskTemplate, deadline *time.Time) (map[string]TaskDate, error) {
	result := make(map[string]TaskDate, len(tasks))
	if len(tasks) == 0 {
		return result, nil
	}

	now := c.clk.Now()
	target := now.Add(c.horizon)
	if deadline != nil {
		target = deadline.UTC()
	}

	byID := indexTasks(tasks)
	order, err := topoSort(tasks, byID)
	if err != nil {
		return nil, err
	}

	// Back-propagate from the deadline: dependents before dependencies.
	due := make(map[string]time.Time, len(tasks))
	for i := len(order) - 1; i >= 0; i-- {
		t := byID[order[i]]
		due[t.ID] = c.offsetDue(t, byID, due, now, target)
	}

	// Clamp: a task can never be due in the past.
	for id, d := range due {
		if d.Before(now) {
			due[id] = now.Add(minGap)
		}
	}

	// Forward pass: enforce strict ordering past dependencies even when the
	// authored offsets are inconsistent.
	for _, id := range order {
		t := byID[id]
		latest := latestDependencyDue(t, byID, due)
		if latest != nil && !due[id].After(*latest) {
			due[id] = latest.Add(minGap)
		}
	}

	for _, t := range tasks {
		result[t.ID] = TaskDate{
			DueAt:    due[t.ID],
			CanStart: len(knownDeps(&t, byID)) == 0,
		}
	}
	return result, nil
}

// offsetDue resolves one task's due date from its authored offset.
func (c *Calculator) offsetDue(t *model.TaskTemplate, byID map[string]*model.TaskTemplate, due map[string]time.Time, now, target time.Time) time.Time {
	off := t.Offset.Duration()
	switch t.Offset.Anchor {
	case model.AnchorWorkflowStart:
		return now.Add(off)
	case model.AnchorPreviousTask:
		for _, dep := range knownDeps(t, byID) {
			if d, ok := due[dep]; ok {
				return d.Add(off)
			}
		}
		// Dependency result not available yet; fall back to deadline-relative.
		return target.Add(-off)
	default:
		return target.Add(-off)
	}
}

// RecalculateForDelay cascades one task's new due date forward to all its
// transitive dependents. Dependents keep their current dates unless the
// ordering invariant would break, in which case they are pushed past their
// latest dependency. The input map is not mutated.
func (c *Calculator) RecalculateForDelay(tasks []model.TaskTemplate, current map[string]time.Time, delayedID string, newDue time.Time) (map[string]time.Time, error) {
	byID := indexTasks(tasks)
	order, err := topoSort(tasks, byID)
	if err != nil {
		return nil, err
	}

	due := make(map[string]time.Time, len(current))
	for id, d := range current {
		due[id] = d
	}
	due[delayedID] = newDue.UTC()

	for _, id := range order {
		if id == delayedID {
			continue
		}
		t := byID[id]
		latest := latestDependencyDue(t, byID, due)
		if latest != nil && !due[id].After(*latest) {
			due[id] = latest.Add(minGap)
		}
	}
	return due, nil
}

// CriticalPath returns the longest chain of dependent tasks weighted by
// estimated hours, along with its total effort. Ties keep the first path
// found in task order.
func (c *Calculator) CriticalPath(tasks []model.TaskTemplate) ([]string, float64, error) {
	byID := indexTasks(tasks)
	if _, err := topoSort(tasks, byID); err != nil {
		return nil, 0, err
	}

	// Dependents adjacency for walking away from sinks.
	dependents := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		for _, dep := range knownDeps(&t, byID) {
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	memo := make(map[string]pathResult, len(tasks))
	var walk func(id string) pathResult
	walk = func(id string) pathResult {
		if r, ok := memo[id]; ok {
			return r
		}
		t := byID[id]
		best := pathResult{path: []string{id}, hours: t.EstimatedHours}
		for _, dep := range knownDeps(t, byID) {
			sub := walk(dep)
			if sub.hours+t.EstimatedHours > best.hours {
				best = pathResult{
					path:  append(append([]string{}, sub.path...), id),
					hours: sub.hours + t.EstimatedHours,
				}
			}
		}
		memo[id] = best
		return best
	}

	var best pathResult
	for _, t := range tasks {
		if len(dependents[t.ID]) > 0 {
			continue // not a sink
		}
		if r := walk(t.ID); r.hours > best.hours {
			best = r
		}
	}
	return best.path, best.hours, nil
}

type pathResult struct {
	path  []string
	hours float64
}

// BufferDays returns the whole days of slack between a task's due date and
// the earliest due date among its direct dependents. A task with no
// dependents has no downstream pressure and reports zero.
func (c *Calculator) BufferDays(tasks []model.TaskTemplate, due map[string]time.Time, taskID string) int {
	byID := indexTasks(tasks)
	own, ok := due[taskID]
	if !ok {
		return 0
	}

	var earliest *time.Time
	for _, t := range tasks {
		for _, dep := range knownDeps(&t, byID) {
			if dep != taskID {
				continue
			}
			d, ok := due[t.ID]
			if !ok {
				continue
			}
			if earliest == nil || d.Before(*earliest) {
				earliest = &d
			}
		}
	}
	if earliest == nil {
		return 0
	}

	days := int(earliest.Sub(own).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// indexTasks builds an ID lookup over the task slice.
func indexTasks(tasks []model.TaskTemplate) map[string]*model.TaskTemplate {
	byID := make(map[string]*model.TaskTemplate, len(tasks))
	for i := range tasks {
		byID[tasks[i].ID] = &tasks[i]
	}
	return byID
}

// knownDeps returns the task's dependencies that resolve to a known task.
// Unresolvable references are rejected at publish time; at runtime they are
// skipped for traversal rather than treated as fatal.
func knownDeps(t *model.TaskTemplate, byID map[string]*model.TaskTemplate) []string {
	var deps []string
	for _, dep := range t.DependsOn {
		if _, ok := byID[dep]; ok {
			deps = append(deps, dep)
		}
	}
	return deps
}

// latestDependencyDue returns the latest due date among the task's known
// dependencies, or nil if it has none.
func latestDependencyDue(t *model.TaskTemplate, byID map[string]*model.TaskTemplate, due map[string]time.Time) *time.Time {
	var latest *time.Time
	for _, dep := range knownDeps(t, byID) {
		d, ok := due[dep]
		if !ok {
			continue
		}
		if latest == nil || d.After(*latest) {
			latest = &d
		}
	}
	return latest
}

// topoSort orders tasks with dependencies before dependents and detects
// cycles via DFS coloring.
func topoSort(tasks []model.TaskTemplate, byID map[string]*model.TaskTemplate) ([]string, error) {
	const (
		white = 0 // unvisited
		grey  = 1 // on stack
		black = 2 // done
	)
	color := make(map[string]int, len(tasks))
	order := make([]string, 0, len(tasks))

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case grey:
			return model.NewDependencyCycleError(
				fmt.Sprintf("task %q participates in a dependency cycle", id),
			)
		case black:
			return nil
		}
		color[id] = grey
		for _, dep := range knownDeps(byID[id], byID) {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		order = append(order, id)
		return nil
	}

	for _, t := range tasks {
		if err := visit(t.ID); err != nil {
			return nil, err
		}
	}
	return order, nil
}
