// Package chat sends notifications through the FPT chat external-bot API.
// Delivery prefers direct userEmails and falls back to the recipient's group
// when one is known.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/config"
)

const maxRetries = 3

type Client struct {
	baseURL string
	botID   string
	token   string
	http    *http.Client
	log     zerolog.Logger
	sleep   func(time.Duration)
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.ChatBaseURL, "/"),
		botID:   strings.Trim(strings.TrimSpace(cfg.ChatBotID), "/"),
		token:   cfg.ChatToken,
		http:    &http.Client{Timeout: cfg.HTTPTimeout},
		log:     log,
		sleep:   time.Sleep,
	}
}

// Send delivers text to the given emails, falling back to groupID when direct
// delivery fails. Returns ok plus an opaque diagnostic for the history ledger.
func (c *Client) Send(ctx context.Context, text string, emails []string, groupID string) (bool, string) {
	if c.botID == "" {
		return false, "missing chat bot id"
	}
	if len(emails) == 0 && groupID == "" {
		return false, "no recipients: emails and group id both empty"
	}
	url := c.baseURL + "/bot/" + c.botID + "/send-message"

	var last string
	switch {
	case len(emails) > 0 && groupID != "":
		// One direct attempt, then retry against the group.
		ok, diag := c.post(ctx, url, payloadEmails(emails, text))
		if ok {
			return true, diag
		}
		last = diag
		for attempt := 1; attempt <= maxRetries; attempt++ {
			if ok, diag := c.post(ctx, url, payloadGroup(groupID, text)); ok {
				return true, diag
			} else {
				last = diag
			}
			c.backoff(attempt)
		}
	case len(emails) > 0:
		for attempt := 1; attempt <= maxRetries; attempt++ {
			if ok, diag := c.post(ctx, url, payloadEmails(emails, text)); ok {
				return true, diag
			} else {
				last = diag
			}
			c.backoff(attempt)
		}
	default:
		for attempt := 1; attempt <= maxRetries; attempt++ {
			if ok, diag := c.post(ctx, url, payloadGroup(groupID, text)); ok {
				return true, diag
			} else {
				last = diag
			}
			c.backoff(attempt)
		}
	}
	return false, last
}

func payloadEmails(emails []string, text string) map[string]any {
	return map[string]any{"userEmails": emails, "text": text}
}

func payloadGroup(groupID, text string) map[string]any {
	return map[string]any{"groupId": groupID, "text": text}
}

func (c *Client) backoff(attempt int) {
	d := time.Duration(1<<attempt) * time.Second
	if d > 8*time.Second {
		d = 8 * time.Second
	}
	c.sleep(d)
}

func (c *Client) post(ctx context.Context, url string, payload map[string]any) (bool, string) {
	b, err := json.Marshal(payload)
	if err != nil {
		return false, err.Error()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Msg("chat send network error")
		return false, err.Error()
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusOK {
		return true, strings.TrimSpace(string(body))
	}
	diag := fmt.Sprintf("status=%d detail=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	c.log.Warn().Int("status", resp.StatusCode).Msg("chat send non-200")
	return false, diag
}
