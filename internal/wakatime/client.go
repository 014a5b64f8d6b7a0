package wakatime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/codepulse/heartbeat-importer/internal/importjob"
)

// UserAgent is one entry of the remote user-agent catalog
type UserAgent struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// Heartbeat is one remote activity sample. Most fields are optional;
// user_agent_id, type and time are always present.
type Heartbeat struct {
	Branch       *string  `json:"branch"`
	Category     *string  `json:"category"`
	CursorPos    *int     `json:"cursorpos"`
	Dependencies []string `json:"dependencies"`
	Entity       *string  `json:"entity"`
	IsWrite      *bool    `json:"is_write"`
	Language     *string  `json:"language"`
	LineNo       *int     `json:"lineno"`
	Lines        *int     `json:"lines"`
	Project      *string  `json:"project"`
	UserAgentID  string   `json:"user_agent_id"`
	Type         string   `json:"type"`
	Time         float64  `json:"time"`
}

// DayBucket is one calendar day's worth of remote heartbeats
type DayBucket struct {
	Data     []Heartbeat `json:"data"`
	Start    string      `json:"start"`
	End      string      `json:"end"`
	Timezone string      `json:"timezone"`
}

type userAgentsResponse struct {
	Data []UserAgent `json:"data"`
}

// Client talks to a WakaTime-compatible API on behalf of one token.
// It performs no retries of its own; whole-job retry is the queue's
// responsibility.
type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client for the given token
func NewClient(baseURL, apiToken string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  baseURL,
		apiToken: apiToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// UserAgents fetches the requester's user-agent catalog
func (c *Client) UserAgents(ctx context.Context) ([]UserAgent, error) {
	body, err := c.get(ctx, "/users/current/user_agents", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user agents: %w", err)
	}

	var resp userAgentsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode user agents: %w", err)
	}

	return resp.Data, nil
}

// HeartbeatsForDay fetches one day's heartbeat bucket
func (c *Client) HeartbeatsForDay(ctx context.Context, day importjob.Date) (*DayBucket, error) {
	query := url.Values{"date": {day.String()}}

	body, err := c.get(ctx, "/users/current/heartbeats", query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch heartbeats for %s: %w", day, err)
	}

	var bucket DayBucket
	if err := json.Unmarshal(body, &bucket); err != nil {
		return nil, fmt.Errorf("failed to decode heartbeats for %s: %w", day, err)
	}

	c.logger.Debug("Fetched day bucket",
		slog.String("date", day.String()),
		slog.Int("heartbeats", len(bucket.Data)),
	)

	return &bucket, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, path)
	}

	return io.ReadAll(resp.Body)
}
