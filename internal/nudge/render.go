package nudge

import (
	"fmt"
	"strings"
	"time"
)

// renderMessage substitutes the supported placeholders in a rule's message
// template. The relative phrase is computed against the nudge's fire time,
// which is when the recipient will read it.
func renderMessage(tmpl, taskName string, dueAt, fireAt time.Time) string {
	msg := strings.ReplaceAll(tmpl, "{{taskName}}", taskName)
	msg = strings.ReplaceAll(msg, "{{dueDate}}", dueAt.Format("Mon, 2 Jan 2006"))
	msg = strings.ReplaceAll(msg, "{{dueDateRelative}}", relativeDays(dueAt, fireAt))
	return msg
}

// relativeDays phrases the distance from ref to due in whole days.
func relativeDays(due, ref time.Time) string {
	days := int(due.Sub(ref).Hours() / 24)
	switch {
	case days < 0:
		n := -days
		if n == 1 {
			return "1 day overdue"
		}
		return fmt.Sprintf("%d days overdue", n)
	case days == 0:
		return "today"
	case days == 1:
		return "tomorrow"
	default:
		return fmt.Sprintf("in %d days", days)
	}
}
