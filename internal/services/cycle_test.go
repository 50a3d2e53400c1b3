package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/config"
	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/domain"
)

var ict = time.FixedZone("ICT", 7*3600)

var frozen = time.Date(2026, 3, 10, 10, 0, 0, 0, ict)

type fakeSource struct {
	issues     []map[string]any
	worklogs   map[string][]map[string]any
	changelogs map[string]map[string]any
	pingErr    error
	worklogErr error
}

func (f *fakeSource) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeSource) Projects(ctx context.Context) []string { return []string{"FC"} }

func (f *fakeSource) SearchWindow(ctx context.Context, projects []string, scanDays int) ([]map[string]any, error) {
	return f.issues, nil
}

func (f *fakeSource) Worklogs(ctx context.Context, key string) ([]map[string]any, error) {
	if f.worklogErr != nil {
		return nil, f.worklogErr
	}
	return f.worklogs[key], nil
}

func (f *fakeSource) Changelog(ctx context.Context, key string) (map[string]any, error) {
	if c, ok := f.changelogs[key]; ok {
		return c, nil
	}
	return map[string]any{}, nil
}

type sentMsg struct {
	text    string
	emails  []string
	groupID string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMsg
	fail bool
}

func (f *fakeSender) Send(ctx context.Context, text string, emails []string, groupID string) (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMsg{text: text, emails: emails, groupID: groupID})
	if f.fail {
		return false, "status=502 detail=bad gateway"
	}
	return true, `{"status":"ok"}`
}

type fakeStore struct {
	mu        sync.Mutex
	history   []domain.HistoryRecord
	employees map[string]string
	failBatch bool

	batchCalls  int
	singleCalls int
	finished    bool
	finishedOK  bool
}

func (f *fakeStore) LoadHistory(ctx context.Context) ([]domain.HistoryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.HistoryRecord, len(f.history))
	copy(out, f.history)
	return out, nil
}

func (f *fakeStore) InsertHistoryBatch(ctx context.Context, recs []domain.HistoryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	if f.failBatch {
		return errors.New("batch refused")
	}
	f.history = append(f.history, recs...)
	return nil
}

func (f *fakeStore) InsertHistory(ctx context.Context, rec domain.HistoryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.singleCalls++
	f.history = append(f.history, rec)
	return nil
}

func (f *fakeStore) Employees(ctx context.Context) (map[string]string, error) {
	if f.employees == nil {
		return map[string]string{}, nil
	}
	return f.employees, nil
}

func (f *fakeStore) StartCycleRun(ctx context.Context) (int64, error) { return 1, nil }

func (f *fakeStore) FinishCycleRun(ctx context.Context, id int64, scanned, attempted, sent int, success bool, errStr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = true
	f.finishedOK = success
	return nil
}

func testConfig() config.Config {
	return config.Config{
		AppEnv:       "dev",
		Loc:          ict,
		JiraBaseURL:  "https://jira.example.com",
		JiraProjects: []string{"FC"},
		WorkersJira:  2,
		Rules: config.Rules{
			CITestingWaitMinutes:      5,
			PreVersionDays:            2,
			ResendAfterHours:          3,
			AssigneeChangeWaitMinutes: 60,
			CreatedWaitMinutes:        30,
			CRScanDays:                3,
		},
	}
}

func issueNoDescription(key string) map[string]any {
	return map[string]any{
		"key": key,
		"fields": map[string]any{
			"summary":  "Sync employee roster",
			"status":   map[string]any{"name": "In Progress"},
			"project":  map[string]any{"key": "FC"},
			"assignee": map[string]any{"emailAddress": "dev@fpt.com"},
			"reporter": map[string]any{"emailAddress": "pm@fpt.com"},
		},
	}
}

func issueTwoRules(key string) map[string]any {
	fv := "release/" + frozen.AddDate(0, 0, 2).Format("20060102") + "-v2.0"
	return map[string]any{
		"key": key,
		"fields": map[string]any{
			"summary":                  "Harden payout batch",
			"status":                   map[string]any{"name": "READY CI TESTING"},
			"project":                  map[string]any{"key": "FC"},
			"assignee":                 map[string]any{"emailAddress": "dev@fpt.com"},
			"reporter":                 map[string]any{"emailAddress": "pm@fpt.com"},
			"description":              "batch retries",
			"statuscategorychangedate": frozen.Add(-time.Hour).Format(time.RFC3339),
			"fixVersions":              []any{map[string]any{"name": fv}},
		},
	}
}

func newTestCycle(src *fakeSource, sender *fakeSender, store *fakeStore, cfg config.Config) *Cycle {
	c := NewCycle(cfg, src, sender, store, zerolog.Nop())
	c.now = func() time.Time { return frozen }
	return c
}

func TestCycleDedupIdempotence(t *testing.T) {
	src := &fakeSource{issues: []map[string]any{issueNoDescription("FC-1")}}
	sender := &fakeSender{}
	store := &fakeStore{}
	cfg := testConfig()

	sum, err := newTestCycle(src, sender, store, cfg).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sum.Attempted)
	require.Equal(t, 1, sum.Sent)
	require.Len(t, store.history, 1)

	// Unchanged task set right away: history suppresses the whole group.
	sum2, err := newTestCycle(src, sender, store, cfg).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, sum2.Attempted)
	require.Equal(t, 0, sum2.Sent)
	require.Len(t, store.history, 1, "no new records on the second pass")
	require.Len(t, sender.sent, 1)
}

func TestCycleCombinedMessage(t *testing.T) {
	src := &fakeSource{issues: []map[string]any{issueTwoRules("FC-2")}}
	sender := &fakeSender{}
	store := &fakeStore{}

	sum, err := newTestCycle(src, sender, store, testConfig()).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sum.Attempted, "one combined message, not one per rule")
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	require.Equal(t, []string{"dev@fpt.com"}, msg.emails)
	require.Contains(t, msg.text, "logged time")
	require.Contains(t, msg.text, "releasing in 2 day(s)")

	require.Len(t, store.history, 2, "one record per rule")
	rules := map[domain.RuleCode]bool{}
	for _, rec := range store.history {
		rules[rec.Rule] = true
		require.Equal(t, domain.StatusSent, rec.Status)
		require.Equal(t, domain.LevelInfo, rec.Level)
		require.Equal(t, "dev@fpt.com", rec.To)
	}
	require.True(t, rules[domain.MissingLogtime])
	require.True(t, rules[domain.PreVersionReminder])
}

func TestCycleFailedDispatchDoesNotBlockRetry(t *testing.T) {
	src := &fakeSource{issues: []map[string]any{issueNoDescription("FC-3")}}
	sender := &fakeSender{fail: true}
	store := &fakeStore{}
	cfg := testConfig()

	sum, err := newTestCycle(src, sender, store, cfg).Run(context.Background())
	require.NoError(t, err, "dispatch failure does not fail the cycle")
	require.Equal(t, 1, sum.Attempted)
	require.Equal(t, 0, sum.Sent)
	require.Len(t, store.history, 1)
	require.Equal(t, domain.StatusFailed, store.history[0].Status)
	require.Equal(t, domain.LevelWarning, store.history[0].Level)

	// Failed records are not dedup blockers: the next cycle tries again.
	sender.fail = false
	sum2, err := newTestCycle(src, sender, store, cfg).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sum2.Sent)
}

func TestCycleTestRecipientAllowList(t *testing.T) {
	src := &fakeSource{issues: []map[string]any{issueNoDescription("FC-4")}}
	sender := &fakeSender{}
	store := &fakeStore{}
	cfg := testConfig()
	cfg.TestRecipients = []string{"someone-else@fpt.com"}

	sum, err := newTestCycle(src, sender, store, cfg).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, sum.Attempted)
	require.Empty(t, sender.sent)
	require.Empty(t, store.history, "gated groups leave no history")
}

func TestCycleGroupFallbackFromDirectory(t *testing.T) {
	src := &fakeSource{issues: []map[string]any{issueNoDescription("FC-5")}}
	sender := &fakeSender{}
	store := &fakeStore{employees: map[string]string{"pm@fpt.com": "grp-77"}}

	_, err := newTestCycle(src, sender, store, testConfig()).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	require.Equal(t, "grp-77", sender.sent[0].groupID)
}

func TestCycleBatchFallback(t *testing.T) {
	src := &fakeSource{issues: []map[string]any{issueNoDescription("FC-6")}}
	sender := &fakeSender{}
	store := &fakeStore{failBatch: true}

	_, err := newTestCycle(src, sender, store, testConfig()).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, store.batchCalls)
	require.Equal(t, 1, store.singleCalls, "per-record fallback after batch failure")
	require.Len(t, store.history, 1)
}

func TestCyclePingFailureAborts(t *testing.T) {
	src := &fakeSource{pingErr: errors.New("401 unauthorized"), issues: []map[string]any{issueNoDescription("FC-7")}}
	sender := &fakeSender{}
	store := &fakeStore{}

	_, err := newTestCycle(src, sender, store, testConfig()).Run(context.Background())
	require.Error(t, err)
	require.Empty(t, sender.sent)
	require.True(t, store.finished)
	require.False(t, store.finishedOK)
}

func TestCycleWorklogFailureDegrades(t *testing.T) {
	src := &fakeSource{
		issues:     []map[string]any{issueTwoRules("FC-8")},
		worklogErr: errors.New("timeout"),
	}
	sender := &fakeSender{}
	store := &fakeStore{}

	sum, err := newTestCycle(src, sender, store, testConfig()).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sum.Sent, "worklog fetch failure degrades to no worklog, cycle continues")
	require.True(t, strings.Contains(sender.sent[0].text, "logged time"))
}
