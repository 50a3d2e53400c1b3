package rules

import (
	"strconv"
	"strings"
	"time"

	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/config"
	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/domain"
)

// Config carries every threshold the evaluators read. Evaluators never touch
// process-wide state; the orchestrator builds one Config per cycle.
type Config struct {
	CITestingWait      time.Duration
	PreVersionDays     int
	AssigneeChangeWait time.Duration
	CreatedWait        time.Duration

	Allowed  map[domain.RuleCode][]string
	Excluded map[domain.RuleCode][]string

	Loc *time.Location
}

// FromApp maps the loaded app configuration onto the evaluator Config.
func FromApp(rc config.Rules, loc *time.Location) Config {
	cfg := Config{
		CITestingWait:      time.Duration(rc.CITestingWaitMinutes) * time.Minute,
		PreVersionDays:     rc.PreVersionDays,
		AssigneeChangeWait: time.Duration(rc.AssigneeChangeWaitMinutes) * time.Minute,
		CreatedWait:        time.Duration(rc.CreatedWaitMinutes) * time.Minute,
		Allowed:            map[domain.RuleCode][]string{},
		Excluded:           map[domain.RuleCode][]string{},
		Loc:                loc,
	}
	for rule, p := range rc.Projects {
		code := domain.RuleCode(rule)
		if len(p.Allowed) > 0 {
			cfg.Allowed[code] = p.Allowed
		}
		if len(p.Excluded) > 0 {
			cfg.Excluded[code] = p.Excluded
		}
	}
	if cfg.Loc == nil {
		cfg.Loc = time.Local
	}
	return cfg
}

func (c Config) loc() *time.Location {
	if c.Loc != nil {
		return c.Loc
	}
	return time.Local
}

func containsFold(list []string, s string) bool {
	s = strings.TrimSpace(s)
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), s) {
			return true
		}
	}
	return false
}

// projectInScope applies the per-rule include/exclude tables. An empty allow
// list admits every project; exclusion always wins.
func projectInScope(cfg Config, rule domain.RuleCode, project string) bool {
	if allowed := cfg.Allowed[rule]; len(allowed) > 0 {
		if project == "" || !containsFold(allowed, project) {
			return false
		}
	}
	if project != "" && containsFold(cfg.Excluded[rule], project) {
		return false
	}
	return true
}

// recipient resolves primary then fallback, empty when neither is set.
func recipient(primary, fallback string) string {
	if strings.TrimSpace(primary) != "" {
		return strings.TrimSpace(primary)
	}
	return strings.TrimSpace(fallback)
}

func finding(rule domain.RuleCode, task domain.Task, to string, payload map[string]string) *domain.Finding {
	return &domain.Finding{Rule: rule, TaskKey: task.Key, Recipient: to, Payload: payload}
}

// EvaluateMissingLogtime flags tasks parked in a CI-testing status without any
// worklog. A missing or unparseable status-change timestamp counts as a hit,
// stale data must not suppress the reminder.
func EvaluateMissingLogtime(task domain.Task, cfg Config, now time.Time) *domain.Finding {
	if !projectInScope(cfg, domain.MissingLogtime, task.Project) {
		return nil
	}
	status := strings.ToUpper(strings.TrimSpace(task.Status))
	if !strings.Contains(status, "READY CI TESTING") {
		return nil
	}
	if task.HasWorklog {
		return nil
	}
	to := recipient(task.AssigneeEmail, task.ReporterEmail)
	if task.LastStatusChangedAt == "" {
		return finding(domain.MissingLogtime, task, to, map[string]string{"status": status})
	}
	changedAt, ok := ParseFlexible(task.LastStatusChangedAt, cfg.loc())
	if !ok {
		return finding(domain.MissingLogtime, task, to, map[string]string{"status": status})
	}
	if now.Sub(changedAt) >= cfg.CITestingWait {
		return finding(domain.MissingLogtime, task, to, map[string]string{"status": status})
	}
	return nil
}

// EvaluateMissingDescription flags tasks whose description is absent or blank
// after trimming. Notifies the reporter.
func EvaluateMissingDescription(task domain.Task, cfg Config, now time.Time) *domain.Finding {
	if !projectInScope(cfg, domain.MissingDescription, task.Project) {
		return nil
	}
	if strings.TrimSpace(task.Description) != "" {
		return nil
	}
	to := recipient(task.ReporterEmail, task.AssigneeEmail)
	return finding(domain.MissingDescription, task, to, nil)
}

// uatExempt are the statuses that suppress the short-horizon release reminder:
// a task already deploying or in UAT does not need a nudge.
var uatExempt = []string{"DEPLOYING", "UAT", "UAT TESTING", "READY UAT"}

// releaseDate resolves a fix-version's release date, preferring the YYYYMMDD
// token embedded in the name over the explicit releaseDate field.
func releaseDate(task domain.Task, name string, loc *time.Location) (time.Time, bool) {
	if t, ok := ReleaseDateFromName(name, loc); ok {
		return t, true
	}
	if s, ok := task.ReleaseDates[name]; ok {
		return ParseFlexible(s, loc)
	}
	return time.Time{}, false
}

// EvaluatePreVersionReminder reminds the assignee ahead of a fix-version
// release date. Two triggers per version, first match wins: within 2 days and
// not yet in a deploy/UAT status, or within the configured pre-release window.
func EvaluatePreVersionReminder(task domain.Task, cfg Config, now time.Time) *domain.Finding {
	if !projectInScope(cfg, domain.PreVersionReminder, task.Project) {
		return nil
	}
	if len(task.FixVersions) == 0 {
		return nil
	}
	status := strings.ToUpper(strings.TrimSpace(task.Status))
	to := recipient(task.AssigneeEmail, task.ReporterEmail)
	for _, name := range task.FixVersions {
		if name == "" {
			continue
		}
		release, ok := releaseDate(task, name, cfg.loc())
		if !ok {
			continue
		}
		daysUntil := daysBetween(now, release, cfg.loc())
		if daysUntil >= 0 && daysUntil <= 2 {
			if containsFold(uatExempt, status) {
				continue
			}
			return finding(domain.PreVersionReminder, task, to, map[string]string{
				"fv_name": name,
				"days":    strconv.Itoa(daysUntil),
				"status":  status,
			})
		}
		if daysUntil > 0 && daysUntil <= cfg.PreVersionDays {
			return finding(domain.PreVersionReminder, task, to, map[string]string{
				"fv_name": name,
				"days":    strconv.Itoa(daysUntil),
			})
		}
	}
	return nil
}

// EvaluatePostVersionAlert flags tasks whose fix-version release date has
// passed while the task is still not Complete.
func EvaluatePostVersionAlert(task domain.Task, cfg Config, now time.Time) *domain.Finding {
	if !projectInScope(cfg, domain.PostVersionAlert, task.Project) {
		return nil
	}
	if len(task.FixVersions) == 0 {
		return nil
	}
	status := strings.ToUpper(strings.TrimSpace(task.Status))
	if status == "COMPLETE" {
		return nil
	}
	to := recipient(task.AssigneeEmail, task.ReporterEmail)
	for _, name := range task.FixVersions {
		if name == "" {
			continue
		}
		release, ok := releaseDate(task, name, cfg.loc())
		if !ok {
			continue
		}
		if daysBetween(release, now, cfg.loc()) > 0 {
			return finding(domain.PostVersionAlert, task, to, map[string]string{
				"fv_name":      name,
				"release_date": dateOnly(release, cfg.loc()).Format("2006-01-02"),
			})
		}
	}
	return nil
}

// EvaluateAssigneeChanged fires once shortly after an assignee change so the
// new assignee notices the handover. The window is inclusive on both ends and
// a future change timestamp never hits.
func EvaluateAssigneeChanged(task domain.Task, cfg Config, now time.Time) *domain.Finding {
	if !projectInScope(cfg, domain.AssigneeChanged, task.Project) {
		return nil
	}
	if strings.TrimSpace(task.AssigneeEmail) == "" {
		return nil
	}
	changedAt, ok := ParseFlexible(task.LastAssigneeChangedAt, cfg.loc())
	if !ok {
		return nil
	}
	diff := now.Sub(changedAt)
	if diff < 0 || diff > cfg.AssigneeChangeWait {
		return nil
	}
	return finding(domain.AssigneeChanged, task, strings.TrimSpace(task.AssigneeEmail), map[string]string{
		"assignee_email": strings.TrimSpace(task.AssigneeEmail),
		"changed_at":     task.LastAssigneeChangedAt,
	})
}

// EvaluateDueDateOverdue flags tasks strictly past their due date, comparing
// calendar dates in the configured zone. Due today is not overdue.
func EvaluateDueDateOverdue(task domain.Task, cfg Config, now time.Time) *domain.Finding {
	if !projectInScope(cfg, domain.DueDateOverdue, task.Project) {
		return nil
	}
	due, ok := ParseFlexible(task.DueDate, cfg.loc())
	if !ok {
		return nil
	}
	overdue := daysBetween(due, now, cfg.loc())
	if overdue <= 0 {
		return nil
	}
	to := recipient(task.AssigneeEmail, task.ReporterEmail)
	return finding(domain.DueDateOverdue, task, to, map[string]string{
		"due_date":     dateOnly(due, cfg.loc()).Format("2006-01-02"),
		"days_overdue": strconv.Itoa(overdue),
	})
}

// EvaluateRecentlyCreated fires once shortly after a task is created so the
// assignee (or the reporter when unassigned) picks it up.
func EvaluateRecentlyCreated(task domain.Task, cfg Config, now time.Time) *domain.Finding {
	if !projectInScope(cfg, domain.RecentlyCreated, task.Project) {
		return nil
	}
	createdAt, ok := ParseFlexible(task.Created, cfg.loc())
	if !ok {
		return nil
	}
	diff := now.Sub(createdAt)
	if diff < 0 || diff > cfg.CreatedWait {
		return nil
	}
	to := recipient(task.AssigneeEmail, task.ReporterEmail)
	return finding(domain.RecentlyCreated, task, to, map[string]string{
		"created_at": task.Created,
	})
}

// Evaluator is one rule function. All seven share this shape and are pure.
type Evaluator func(task domain.Task, cfg Config, now time.Time) *domain.Finding

// All returns the evaluators in the order of domain.AllRules.
func All() []Evaluator {
	return []Evaluator{
		EvaluateMissingLogtime,
		EvaluateMissingDescription,
		EvaluatePreVersionReminder,
		EvaluatePostVersionAlert,
		EvaluateAssigneeChanged,
		EvaluateDueDateOverdue,
		EvaluateRecentlyCreated,
	}
}

// EvaluateAll runs every rule against one task and returns the findings that
// resolved to a recipient; recipientless findings are dropped here.
func EvaluateAll(task domain.Task, cfg Config, now time.Time) []domain.Finding {
	var out []domain.Finding
	for _, eval := range All() {
		if f := eval(task, cfg, now); f != nil && f.Recipient != "" {
			out = append(out, *f)
		}
	}
	return out
}
