package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/config"
)

// searchFields is the field set the normalizer consumes.
const searchFields = "summary,status,assignee,reporter,description,project,issuetype,priority,fixVersions,duedate,created,updated,statuscategorychangedate"

// fallbackProjects is used when discovery fails and no projects are configured.
var fallbackProjects = []string{"FC", "FSS", "PPFP", "FADS"}

type Client struct {
	baseURL  string
	user     string
	token    string
	authType string
	pageSize int
	http     *http.Client
	limiter  *rate.Limiter
	log      zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	rps := cfg.JiraRPS
	if rps <= 0 {
		rps = 5
	}
	pageSize := cfg.JiraPageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.JiraBaseURL, "/"),
		user:     cfg.JiraUsername,
		token:    cfg.JiraToken,
		authType: strings.ToLower(cfg.JiraAuthType),
		pageSize: pageSize,
		http:     &http.Client{Timeout: cfg.HTTPTimeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), rps),
		log:      log,
	}
}

// BrowseURL returns the human-facing link for an issue key.
func (c *Client) BrowseURL(key string) string {
	return c.baseURL + "/browse/" + url.PathEscape(key)
}

func (c *Client) apiURL(path string, q url.Values) string {
	u := c.baseURL + path
	if len(q) > 0 {
		u = u + "?" + q.Encode()
	}
	return u
}

func (c *Client) authorize(req *http.Request) {
	if c.authType == "bearer" {
		req.Header.Set("Authorization", "Bearer "+c.token)
		return
	}
	req.SetBasicAuth(c.user, c.token)
}

func (c *Client) doRaw(ctx context.Context, method, u string, body any) ([]byte, error) {
	if c.baseURL == "" {
		return nil, errors.New("jira: empty baseURL")
	}
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = b
	}
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		var r io.Reader
		if payload != nil {
			r = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, r)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		c.authorize(req)
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
		} else {
			b, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				lastErr = readErr
			} else if resp.StatusCode >= 300 {
				apiErr := fmt.Errorf("jira api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
				// retry only on 429/5xx
				if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
					lastErr = apiErr
				} else {
					return nil, apiErr
				}
			} else {
				return b, nil
			}
		}
		time.Sleep(time.Duration(300*(1<<attempt)) * time.Millisecond)
	}
	return nil, lastErr
}

func (c *Client) doJSON(ctx context.Context, method, u string, body any) (map[string]any, error) {
	b, err := c.doRaw(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ping verifies connectivity and credentials before a cycle starts.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doJSON(ctx, http.MethodGet, c.apiURL("/rest/api/2/myself", nil), nil)
	return err
}

// Projects discovers all visible project keys. On error it falls back to the
// compiled default list so a discovery hiccup does not blank out a cycle.
func (c *Client) Projects(ctx context.Context) []string {
	b, err := c.doRaw(ctx, http.MethodGet, c.apiURL("/rest/api/2/project", nil), nil)
	if err != nil {
		c.log.Warn().Err(err).Msg("jira project discovery failed, using fallback list")
		return fallbackProjects
	}
	var arr []map[string]any
	if err := json.Unmarshal(b, &arr); err != nil {
		c.log.Warn().Err(err).Msg("jira project list unparseable, using fallback list")
		return fallbackProjects
	}
	out := make([]string, 0, len(arr))
	for _, p := range arr {
		if key, _ := p["key"].(string); key != "" {
			out = append(out, key)
		}
	}
	if len(out) == 0 {
		return fallbackProjects
	}
	return out
}

// SearchWindow pages through every issue in the given projects updated within
// the last scanDays days, newest first.
func (c *Client) SearchWindow(ctx context.Context, projects []string, scanDays int) ([]map[string]any, error) {
	if len(projects) == 0 {
		return nil, errors.New("jira: no projects to search")
	}
	jql := fmt.Sprintf("project in (%s) AND updated >= -%dd ORDER BY updated DESC",
		strings.Join(projects, ","), scanDays)
	var issues []map[string]any
	startAt := 0
	for {
		q := url.Values{}
		q.Set("jql", jql)
		q.Set("fields", searchFields)
		q.Set("startAt", fmt.Sprint(startAt))
		q.Set("maxResults", fmt.Sprint(c.pageSize))
		page, err := c.doJSON(ctx, http.MethodGet, c.apiURL("/rest/api/2/search", q), nil)
		if err != nil {
			return issues, err
		}
		batch, _ := page["issues"].([]any)
		for _, it := range batch {
			if m, ok := it.(map[string]any); ok {
				issues = append(issues, m)
			}
		}
		total := toInt(page["total"])
		startAt += len(batch)
		if len(batch) == 0 || startAt >= total {
			return issues, nil
		}
	}
}

// Worklogs fetches the worklog entries of one issue.
func (c *Client) Worklogs(ctx context.Context, key string) ([]map[string]any, error) {
	if key == "" {
		return nil, errors.New("jira: empty issue key")
	}
	out, err := c.doJSON(ctx, http.MethodGet,
		c.apiURL("/rest/api/2/issue/"+url.PathEscape(key)+"/worklog", nil), nil)
	if err != nil {
		return nil, err
	}
	raw, _ := out["worklogs"].([]any)
	logs := make([]map[string]any, 0, len(raw))
	for _, w := range raw {
		if m, ok := w.(map[string]any); ok {
			logs = append(logs, m)
		}
	}
	return logs, nil
}

// Changelog fetches one issue with its changelog expanded; used to find the
// most recent assignee change.
func (c *Client) Changelog(ctx context.Context, key string) (map[string]any, error) {
	if key == "" {
		return nil, errors.New("jira: empty issue key")
	}
	q := url.Values{}
	q.Set("fields", "assignee")
	q.Set("expand", "changelog")
	return c.doJSON(ctx, http.MethodGet, c.apiURL("/rest/api/2/issue/"+url.PathEscape(key), q), nil)
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}
