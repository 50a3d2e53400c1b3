// Package compose renders outbound chat messages from rule findings. Pure
// string formatting; missing payload fields degrade to placeholders.
package compose

import (
	"fmt"
	"strings"

	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/domain"
)

func payload(f domain.Finding, key, def string) string {
	if v, ok := f.Payload[key]; ok && v != "" {
		return v
	}
	return def
}

// line renders the per-rule fragment used both standalone and as a bullet in
// a combined message.
func line(task domain.Task, f domain.Finding) string {
	switch f.Rule {
	case domain.MissingLogtime:
		return "This task has been sitting in CI Testing without any logged time. Please update your worklog."
	case domain.MissingDescription:
		reporter := task.ReporterEmail
		if reporter == "" {
			reporter = "reporter"
		}
		return fmt.Sprintf("This task has no description yet. %s, please add one so the team is not left guessing.", reporter)
	case domain.PreVersionReminder:
		return fmt.Sprintf("This task belongs to version %s releasing in %s day(s). If it is not on UAT yet, please check it soon.",
			payload(f, "fv_name", "?"), payload(f, "days", "?"))
	case domain.PostVersionAlert:
		return fmt.Sprintf("This task belongs to version %s whose release date (%s) has passed, but it is not marked Complete. Please follow up.",
			payload(f, "fv_name", "?"), payload(f, "release_date", "?"))
	case domain.AssigneeChanged:
		return "This task was just assigned to you. Time to pick it up."
	case domain.DueDateOverdue:
		return fmt.Sprintf("This task is overdue by %s day(s) (due %s). Please update the due date or close it out.",
			payload(f, "days_overdue", "?"), payload(f, "due_date", "?"))
	case domain.RecentlyCreated:
		return "This task was just created and may need your attention."
	}
	return "This task needs a look."
}

// Single renders a one-rule notification.
func Single(task domain.Task, f domain.Finding) string {
	return fmt.Sprintf("[%s] %s\n%s\n%s", task.Key, task.Summary, line(task, f), task.URL)
}

// Combined renders one message for all findings a recipient has on a task,
// one bullet per rule. With a single finding it falls back to Single.
func Combined(task domain.Task, findings []domain.Finding) string {
	if len(findings) == 0 {
		return fmt.Sprintf("[%s] %s\n%s", task.Key, task.Summary, task.URL)
	}
	if len(findings) == 1 {
		return Single(task, findings[0])
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", task.Key, task.Summary)
	for _, f := range findings {
		fmt.Fprintf(&b, "- %s\n", line(task, f))
	}
	fmt.Fprintf(&b, "%s", task.URL)
	return b.String()
}
