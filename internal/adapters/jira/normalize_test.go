package jira

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var ict = time.FixedZone("ICT", 7*3600)

func sampleIssue() map[string]any {
	return map[string]any{
		"key": "FC-42",
		"fields": map[string]any{
			"summary":                  "Fix payout rounding",
			"status":                   map[string]any{"name": "Ready CI Testing"},
			"project":                  map[string]any{"key": "FC"},
			"issuetype":                map[string]any{"name": "Bug"},
			"priority":                 map[string]any{"name": "High"},
			"assignee":                 map[string]any{"emailAddress": "dev@fpt.com"},
			"reporter":                 map[string]any{"emailAddress": "pm@fpt.com"},
			"description":              "rounding drifts by one dong",
			"created":                  "2026-03-10T09:00:00.000+0700",
			"updated":                  "2026-03-10T09:30:00.000+0700",
			"duedate":                  "2026-03-15",
			"statuscategorychangedate": "2026-03-10T09:15:00.000+0700",
			"fixVersions": []any{
				map[string]any{"name": "release/20260320-v1.4", "releaseDate": "2026-03-20"},
				map[string]any{"name": "sprint-12"},
			},
		},
	}
}

func TestNormalize(t *testing.T) {
	worklogs := []map[string]any{
		{"timeSpentSeconds": float64(3600)},
		{"timeSpentSeconds": float64(1800)},
	}
	task := Normalize(sampleIssue(), worklogs, "https://jira.example.com", ict)

	require.Equal(t, "FC-42", task.Key)
	require.Equal(t, "Ready CI Testing", task.Status)
	require.Equal(t, "FC", task.Project)
	require.Equal(t, "dev@fpt.com", task.AssigneeEmail)
	require.Equal(t, "pm@fpt.com", task.ReporterEmail)
	require.Equal(t, "https://jira.example.com/browse/FC-42", task.URL)
	require.Equal(t, "10/03/2026 09:30", task.Updated)
	require.Equal(t, "2026-03-10T09:00:00.000+0700", task.Created)
	require.Equal(t, "2026-03-15", task.DueDate)
	require.True(t, task.HasWorklog)
	require.InDelta(t, 1.5, task.TotalHours, 1e-9)
	require.Equal(t, []string{"release/20260320-v1.4", "sprint-12"}, task.FixVersions)
	require.Equal(t, map[string]string{"release/20260320-v1.4": "2026-03-20"}, task.ReleaseDates)
}

func TestNormalizeToleratesEmptyPayload(t *testing.T) {
	require.NotPanics(t, func() {
		task := Normalize(map[string]any{}, nil, "https://jira.example.com", ict)
		require.Empty(t, task.Key)
		require.Empty(t, task.URL)
		require.False(t, task.HasWorklog)
	})
	require.NotPanics(t, func() {
		task := Normalize(map[string]any{
			"key": "FC-1",
			"fields": map[string]any{
				"assignee":    nil,
				"description": nil,
				"fixVersions": []any{"not-a-map", map[string]any{"noname": true}},
			},
		}, nil, "", ict)
		require.Equal(t, "FC-1", task.Key)
		require.Empty(t, task.AssigneeEmail)
		require.Empty(t, task.FixVersions)
	})
}

func TestLastAssigneeChange(t *testing.T) {
	issue := map[string]any{
		"changelog": map[string]any{
			"histories": []any{
				map[string]any{
					"created": "2026-03-09T08:00:00.000+0700",
					"items": []any{
						map[string]any{"field": "assignee"},
					},
				},
				map[string]any{
					"created": "2026-03-10T08:00:00.000+0700",
					"items": []any{
						map[string]any{"field": "status"},
					},
				},
				map[string]any{
					"created": "2026-03-10T09:00:00.000+0700",
					"items": []any{
						map[string]any{"field": "Assignee"},
					},
				},
			},
		},
	}
	require.Equal(t, "2026-03-10T09:00:00.000+0700", LastAssigneeChange(issue))
}

func TestLastAssigneeChangeAbsent(t *testing.T) {
	require.Equal(t, "", LastAssigneeChange(map[string]any{}))
	require.Equal(t, "", LastAssigneeChange(map[string]any{
		"changelog": map[string]any{"histories": []any{
			map[string]any{"created": "x", "items": []any{map[string]any{"field": "status"}}},
		}},
	}))
}
