package domain

// RuleCode identifies one of the fixed reminder rules.
type RuleCode string

const (
	MissingLogtime     RuleCode = "missing_logtime"
	MissingDescription RuleCode = "missing_description"
	PreVersionReminder RuleCode = "pre_version_reminder"
	PostVersionAlert   RuleCode = "post_version_alert"
	AssigneeChanged    RuleCode = "assignee_changed"
	DueDateOverdue     RuleCode = "due_date_overdue"
	RecentlyCreated    RuleCode = "recently_created"
)

// AllRules lists every rule code in evaluation order.
var AllRules = []RuleCode{
	MissingLogtime,
	MissingDescription,
	PreVersionReminder,
	PostVersionAlert,
	AssigneeChanged,
	DueDateOverdue,
	RecentlyCreated,
}

// Task is one Jira issue normalized for rule evaluation. Built fresh each
// cycle from the raw payload and discarded afterwards, never persisted.
type Task struct {
	Key      string
	Summary  string
	Status   string
	Project  string
	Type     string
	Priority string

	AssigneeEmail string
	ReporterEmail string

	Description string
	URL         string

	HasWorklog bool
	TotalHours float64

	// FixVersions keeps version names in Jira order. ReleaseDates maps a
	// version name to the releaseDate Jira supplied, when any; it is only
	// consulted when the name itself carries no embedded YYYYMMDD token.
	FixVersions  []string
	ReleaseDates map[string]string

	// Timestamps stay textual; evaluators parse what they need. Updated is
	// pre-formatted for display, the rest are raw from the API.
	Updated               string
	Created               string
	DueDate               string
	LastStatusChangedAt   string
	LastAssigneeChangedAt string
}

// Finding is one rule hit for one task, addressed to one recipient.
// Payload carries rule-specific fragments used by the composer.
type Finding struct {
	Rule      RuleCode
	TaskKey   string
	Recipient string
	Payload   map[string]string
}

// HistoryRecord is one persisted notification attempt. SentAt is kept textual
// so rows with corrupt timestamps still flow through the dedup queries, which
// treat an unparseable SentAt conservatively.
type HistoryRecord struct {
	ID       int64
	TaskKey  string
	Rule     RuleCode
	To       string
	SentAt   string
	Status   string // "sent" | "failed"
	Level    string // "INFO" on success, "WARNING" on failure
	Response string
}

const (
	StatusSent   = "sent"
	StatusFailed = "failed"

	LevelInfo    = "INFO"
	LevelWarning = "WARNING"
)

