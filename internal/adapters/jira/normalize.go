package jira

import (
	"strings"
	"time"

	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/domain"
	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/rules"
)

// Normalize converts one raw search-result issue plus its worklog entries
// into the canonical task shape. Every nested field may be absent or null;
// absence maps to the zero value, never a panic.
func Normalize(issue map[string]any, worklogs []map[string]any, baseURL string, loc *time.Location) domain.Task {
	if loc == nil {
		loc = time.Local
	}
	fields, _ := issue["fields"].(map[string]any)
	task := domain.Task{
		Key:                 toStr(issue["key"]),
		Summary:             toStr(at(fields, "summary")),
		Status:              toStr(dig(fields, "status", "name")),
		Project:             toStr(dig(fields, "project", "key")),
		Type:                toStr(dig(fields, "issuetype", "name")),
		Priority:            toStr(dig(fields, "priority", "name")),
		AssigneeEmail:       toStr(dig(fields, "assignee", "emailAddress")),
		ReporterEmail:       toStr(dig(fields, "reporter", "emailAddress")),
		Description:         toStr(at(fields, "description")),
		Created:             toStr(at(fields, "created")),
		DueDate:             toStr(at(fields, "duedate")),
		LastStatusChangedAt: toStr(at(fields, "statuscategorychangedate")),
	}
	if task.Key != "" && baseURL != "" {
		task.URL = strings.TrimRight(baseURL, "/") + "/browse/" + task.Key
	}
	if updated := toStr(at(fields, "updated")); updated != "" {
		if t, ok := rules.ParseFlexible(updated, loc); ok {
			task.Updated = t.In(loc).Format("02/01/2006 15:04")
		} else {
			task.Updated = updated
		}
	}
	if fvs, ok := at(fields, "fixVersions").([]any); ok {
		for _, fv := range fvs {
			m, ok := fv.(map[string]any)
			if !ok {
				continue
			}
			name := toStr(m["name"])
			if name == "" {
				continue
			}
			task.FixVersions = append(task.FixVersions, name)
			if rel := toStr(m["releaseDate"]); rel != "" {
				if task.ReleaseDates == nil {
					task.ReleaseDates = map[string]string{}
				}
				task.ReleaseDates[name] = rel
			}
		}
	}
	task.HasWorklog = len(worklogs) > 0
	for _, w := range worklogs {
		if secs, ok := w["timeSpentSeconds"].(float64); ok {
			task.TotalHours += secs / 3600
		}
	}
	return task
}

// LastAssigneeChange scans an expanded-changelog issue payload newest-first
// and returns the timestamp of the most recent assignee change, or "".
func LastAssigneeChange(issue map[string]any) string {
	changelog, _ := issue["changelog"].(map[string]any)
	histories, _ := changelog["histories"].([]any)
	for i := len(histories) - 1; i >= 0; i-- {
		h, ok := histories[i].(map[string]any)
		if !ok {
			continue
		}
		items, _ := h["items"].([]any)
		for _, it := range items {
			m, ok := it.(map[string]any)
			if !ok {
				continue
			}
			if strings.EqualFold(toStr(m["field"]), "assignee") {
				return toStr(h["created"])
			}
		}
	}
	return ""
}

func at(m map[string]any, key string) any {
	if m == nil {
		return nil
	}
	return m[key]
}

// dig walks nested maps and returns the leaf, nil anywhere along the way.
func dig(m map[string]any, keys ...string) any {
	var cur any = m
	for _, k := range keys {
		mm, ok := cur.(map[string]any)
		if !ok || mm == nil {
			return nil
		}
		cur = mm[k]
	}
	return cur
}

func toStr(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
