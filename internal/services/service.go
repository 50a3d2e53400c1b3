package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/adapters/jira"
	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/compose"
	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/config"
	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/dedup"
	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/domain"
	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/rules"
)

// Source is the Jira collaborator the cycle pulls from.
type Source interface {
	Ping(ctx context.Context) error
	Projects(ctx context.Context) []string
	SearchWindow(ctx context.Context, projects []string, scanDays int) ([]map[string]any, error)
	Worklogs(ctx context.Context, key string) ([]map[string]any, error)
	Changelog(ctx context.Context, key string) (map[string]any, error)
}

// Sender is the chat collaborator.
type Sender interface {
	Send(ctx context.Context, text string, emails []string, groupID string) (bool, string)
}

// Store is the persistence collaborator: the history ledger, the employee
// directory, and cycle-run bookkeeping.
type Store interface {
	LoadHistory(ctx context.Context) ([]domain.HistoryRecord, error)
	InsertHistoryBatch(ctx context.Context, recs []domain.HistoryRecord) error
	InsertHistory(ctx context.Context, rec domain.HistoryRecord) error
	Employees(ctx context.Context) (map[string]string, error)
	StartCycleRun(ctx context.Context) (int64, error)
	FinishCycleRun(ctx context.Context, id int64, scanned, attempted, sent int, success bool, errStr string) error
}

// Summary is what one cycle reports back.
type Summary struct {
	Scanned   int
	Attempted int
	Sent      int
}

type Cycle struct {
	cfg   config.Config
	rcfg  rules.Config
	src   Source
	chat  Sender
	store Store
	log   zerolog.Logger

	baseURL string
	now     func() time.Time
}

func NewCycle(cfg config.Config, src Source, chat Sender, store Store, log zerolog.Logger) *Cycle {
	return &Cycle{
		cfg:     cfg,
		rcfg:    rules.FromApp(cfg.Rules, cfg.Loc),
		src:     src,
		chat:    chat,
		store:   store,
		log:     log,
		baseURL: cfg.JiraBaseURL,
		now:     time.Now,
	}
}

type groupKey struct {
	taskKey   string
	recipient string
}

type evaluated struct {
	task     domain.Task
	findings []domain.Finding
}

// Run executes one reminder cycle: fetch, evaluate, dedup, dispatch, persist.
// Per-task fetch failures degrade that task; only the preconditions (ping,
// search, history load) abort the cycle.
func (s *Cycle) Run(ctx context.Context) (Summary, error) {
	runID, err := s.store.StartCycleRun(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("cycle: cannot record run start")
	}
	sum, runErr := s.run(ctx)
	if runID != 0 {
		errStr := ""
		if runErr != nil {
			errStr = runErr.Error()
		}
		if err := s.store.FinishCycleRun(ctx, runID, sum.Scanned, sum.Attempted, sum.Sent, runErr == nil, errStr); err != nil {
			s.log.Warn().Err(err).Msg("cycle: cannot record run finish")
		}
	}
	return sum, runErr
}

func (s *Cycle) run(ctx context.Context) (Summary, error) {
	var sum Summary
	now := s.now()

	if err := s.src.Ping(ctx); err != nil {
		return sum, fmt.Errorf("jira ping: %w", err)
	}

	projects := s.cfg.JiraProjects
	if len(projects) == 0 {
		projects = s.src.Projects(ctx)
	}

	issues, err := s.src.SearchWindow(ctx, projects, s.cfg.Rules.CRScanDays)
	if err != nil && len(issues) == 0 {
		return sum, fmt.Errorf("jira search: %w", err)
	}
	if err != nil {
		s.log.Warn().Err(err).Int("partial", len(issues)).Msg("cycle: search returned a partial page set")
	}
	sum.Scanned = len(issues)

	// History is the dedup source; running without it would resend everything
	// currently inside the window, so a load failure aborts the cycle.
	history, err := s.store.LoadHistory(ctx)
	if err != nil {
		return sum, fmt.Errorf("load history: %w", err)
	}
	idx := dedup.NewIndex(history, s.rcfg.Loc)

	employees, err := s.store.Employees(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("cycle: employee directory unavailable, no group fallback this run")
		employees = map[string]string{}
	}

	results := s.evaluateAll(ctx, issues, now)

	groups := map[groupKey][]domain.Finding{}
	tasks := map[string]domain.Task{}
	for _, ev := range results {
		tasks[ev.task.Key] = ev.task
		for _, f := range ev.findings {
			k := groupKey{ev.task.Key, f.Recipient}
			groups[k] = append(groups[k], f)
		}
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].taskKey != keys[j].taskKey {
			return keys[i].taskKey < keys[j].taskKey
		}
		return keys[i].recipient < keys[j].recipient
	})

	resendWindow := time.Duration(s.cfg.Rules.ResendAfterHours) * time.Hour
	var pending []domain.HistoryRecord

	for _, k := range keys {
		findings := groups[k]
		if !s.allowedRecipient(k.recipient) {
			s.log.Debug().Str("to", k.recipient).Msg("cycle: recipient outside test allow-list")
			continue
		}

		// All-or-nothing per (task, recipient): one recent send or one
		// same-day INFO row suppresses the whole group.
		skip := false
		for _, f := range findings {
			if idx.SentWithin(k.taskKey, f.Rule, k.recipient, resendWindow, now) ||
				idx.LoggedToday(k.taskKey, f.Rule, domain.LevelInfo, now) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}

		task := tasks[k.taskKey]
		text := compose.Combined(task, findings)
		ok, resp := s.chat.Send(ctx, text, []string{k.recipient}, employees[k.recipient])
		sum.Attempted++

		status, level := domain.StatusFailed, domain.LevelWarning
		if ok {
			status, level = domain.StatusSent, domain.LevelInfo
			sum.Sent++
		} else {
			s.log.Warn().Str("task", k.taskKey).Str("to", k.recipient).Str("resp", resp).Msg("cycle: dispatch failed")
		}
		for _, f := range findings {
			pending = append(pending, domain.HistoryRecord{
				TaskKey:  k.taskKey,
				Rule:     f.Rule,
				To:       k.recipient,
				SentAt:   now.Format(time.RFC3339),
				Status:   status,
				Level:    level,
				Response: resp,
			})
			idx.Mark(k.taskKey, f.Rule, k.recipient, level, now)
		}
	}

	s.persist(ctx, pending)

	s.log.Info().
		Int("scanned", sum.Scanned).
		Int("attempted", sum.Attempted).
		Int("sent", sum.Sent).
		Msg("cycle: done")
	return sum, nil
}

// evaluateAll normalizes and evaluates every issue through a bounded worker
// pool; the supplementary worklog/changelog fetches dominate cycle latency.
func (s *Cycle) evaluateAll(ctx context.Context, issues []map[string]any, now time.Time) []evaluated {
	workers := s.cfg.WorkersJira
	if workers <= 0 {
		workers = 1
	}
	in := make(chan map[string]any)
	var mu sync.Mutex
	var out []evaluated
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for issue := range in {
				ev := s.evaluateOne(ctx, issue, now)
				if len(ev.findings) == 0 {
					continue
				}
				mu.Lock()
				out = append(out, ev)
				mu.Unlock()
			}
		}()
	}
	for _, issue := range issues {
		in <- issue
	}
	close(in)
	wg.Wait()
	return out
}

func (s *Cycle) evaluateOne(ctx context.Context, issue map[string]any, now time.Time) evaluated {
	key, _ := issue["key"].(string)

	worklogs, err := s.src.Worklogs(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("task", key).Msg("cycle: worklog fetch failed")
		worklogs = nil
	}
	task := jira.Normalize(issue, worklogs, s.baseURL, s.rcfg.Loc)

	// The changelog round trip is only worth it when the task has an
	// assignee; without one the assignee-change rule cannot fire anyway.
	if task.AssigneeEmail != "" {
		if full, err := s.src.Changelog(ctx, key); err != nil {
			s.log.Warn().Err(err).Str("task", key).Msg("cycle: changelog fetch failed")
		} else {
			task.LastAssigneeChangedAt = jira.LastAssigneeChange(full)
		}
	}

	return evaluated{task: task, findings: rules.EvaluateAll(task, s.rcfg, now)}
}

func (s *Cycle) allowedRecipient(email string) bool {
	if len(s.cfg.TestRecipients) == 0 {
		return true
	}
	for _, allowed := range s.cfg.TestRecipients {
		if strings.EqualFold(strings.TrimSpace(allowed), strings.TrimSpace(email)) {
			return true
		}
	}
	return false
}

// persist appends the cycle's records in one batch, falling back to per-row
// inserts so one poison record cannot drop the rest.
func (s *Cycle) persist(ctx context.Context, recs []domain.HistoryRecord) {
	if len(recs) == 0 {
		return
	}
	if err := s.store.InsertHistoryBatch(ctx, recs); err != nil {
		s.log.Warn().Err(err).Int("records", len(recs)).Msg("cycle: batch insert failed, retrying per record")
		for _, rec := range recs {
			if err := s.store.InsertHistory(ctx, rec); err != nil {
				s.log.Error().Err(err).Str("task", rec.TaskKey).Str("rule", string(rec.Rule)).Msg("cycle: history record lost")
			}
		}
	}
}
