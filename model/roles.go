package model

import "strings"

// RoleSpec maps a closed assignee role tag to a department and the label
// fragments that identify a matching user. Matching is case-insensitive
// substring matching against a user's free-text role label.
type RoleSpec struct {
	Role       string
	Department string
	Labels     []string
}

// Roles is the closed set of assignee roles a task template may reference.
// Template validation rejects anything outside this table, so assignment
// never has to cope with an unknown tag at runtime.
var Roles = map[string]RoleSpec{
	"account_manager": {Role: "account_manager", Department: "client_services", Labels: []string{"account manager", "account director"}},
	"project_manager": {Role: "project_manager", Department: "delivery", Labels: []string{"project manager", "producer"}},
	"strategist":      {Role: "strategist", Department: "strategy", Labels: []string{"strategist", "planner"}},
	"copywriter":      {Role: "copywriter", Department: "creative", Labels: []string{"copywriter", "writer"}},
	"designer":        {Role: "designer", Department: "creative", Labels: []string{"designer", "art director"}},
	"developer":       {Role: "developer", Department: "engineering", Labels: []string{"developer", "engineer"}},
	"finance":         {Role: "finance", Department: "operations", Labels: []string{"finance", "accountant"}},
}

// KnownRole reports whether the role tag exists in the role table.
func KnownRole(role string) bool {
	_, ok := Roles[role]
	return ok
}

// MatchesLabel reports whether a user's free-text role label matches one of
// the role's label fragments.
func (rs RoleSpec) MatchesLabel(label string) bool {
	lower := strings.ToLower(label)
	for _, frag := range rs.Labels {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}
