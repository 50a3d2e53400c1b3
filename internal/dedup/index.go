package dedup

import (
	"time"

	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/domain"
	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/rules"
)

type tripleKey struct {
	task string
	rule domain.RuleCode
	to   string
}

type pairKey struct {
	task string
	rule domain.RuleCode
}

type mark struct {
	at    time.Time
	level string
}

// Index answers the two dedup queries over history loaded once per cycle.
// The loaded records are immutable for the cycle; sends made during the cycle
// are tracked through Mark so a later task in the same run sees them too.
type Index struct {
	loc       *time.Location
	byTriple  map[tripleKey][]domain.HistoryRecord
	byPair    map[pairKey][]domain.HistoryRecord
	markTrip  map[tripleKey]mark
	markPairs map[pairKey][]mark
}

func NewIndex(records []domain.HistoryRecord, loc *time.Location) *Index {
	if loc == nil {
		loc = time.Local
	}
	idx := &Index{
		loc:       loc,
		byTriple:  make(map[tripleKey][]domain.HistoryRecord, len(records)),
		byPair:    make(map[pairKey][]domain.HistoryRecord, len(records)),
		markTrip:  map[tripleKey]mark{},
		markPairs: map[pairKey][]mark{},
	}
	for _, r := range records {
		tk := tripleKey{r.TaskKey, r.Rule, r.To}
		pk := pairKey{r.TaskKey, r.Rule}
		idx.byTriple[tk] = append(idx.byTriple[tk], r)
		idx.byPair[pk] = append(idx.byPair[pk], r)
	}
	return idx
}

// SentWithin reports whether a successful send for (task, rule, to) happened
// inside the window. Failed attempts never block a resend. A sent record with
// an unparseable timestamp counts as recent, resending forever on corrupt
// data is worse than staying quiet.
func (i *Index) SentWithin(taskKey string, rule domain.RuleCode, to string, window time.Duration, now time.Time) bool {
	tk := tripleKey{taskKey, rule, to}
	if m, ok := i.markTrip[tk]; ok && now.Sub(m.at) < window {
		return true
	}
	for _, r := range i.byTriple[tk] {
		if r.Status != domain.StatusSent {
			continue
		}
		sentAt, ok := rules.ParseFlexible(r.SentAt, i.loc)
		if !ok {
			return true
		}
		if elapsed := now.Sub(sentAt); elapsed >= 0 && elapsed < window {
			return true
		}
	}
	return false
}

// LoggedToday reports whether (task, rule) has a record at the given level on
// the current calendar date in the configured zone, regardless of recipient.
func (i *Index) LoggedToday(taskKey string, rule domain.RuleCode, level string, now time.Time) bool {
	pk := pairKey{taskKey, rule}
	for _, m := range i.markPairs[pk] {
		if m.level == level && sameLocalDate(m.at, now, i.loc) {
			return true
		}
	}
	for _, r := range i.byPair[pk] {
		if r.Level != level {
			continue
		}
		sentAt, ok := rules.ParseFlexible(r.SentAt, i.loc)
		if !ok {
			continue
		}
		if sameLocalDate(sentAt, now, i.loc) {
			return true
		}
	}
	return false
}

// Mark records an in-cycle dispatch so subsequent queries in the same run see
// it without re-reading storage.
func (i *Index) Mark(taskKey string, rule domain.RuleCode, to, level string, now time.Time) {
	tk := tripleKey{taskKey, rule, to}
	pk := pairKey{taskKey, rule}
	i.markTrip[tk] = mark{at: now, level: level}
	i.markPairs[pk] = append(i.markPairs[pk], mark{at: now, level: level})
}

func sameLocalDate(a, b time.Time, loc *time.Location) bool {
	a, b = a.In(loc), b.In(loc)
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
