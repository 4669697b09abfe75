// Package agentclient calls the runtime agent that runs on every runtime node.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"deployplane/internal/apperr"
)

// TokenHeader authenticates the control plane to a runtime agent.
const TokenHeader = "X-Runtime-Token"

// placeholderToken is the value shipped in sample configs.
const placeholderToken = "CHANGE_ME"

// Client talks to runtime agents.
type Client struct {
	Token      string
	HTTPClient *http.Client
}

// New creates a Client. timeout bounds every call and is at least a second.
func New(token string, timeout time.Duration) *Client {
	if timeout < time.Second {
		timeout = time.Second
	}
	return &Client{
		Token: strings.TrimSpace(token),
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// StopApp asks the agent at agentBaseURL to remove the containers of appID
// and returns the agent's response body.
func (c *Client) StopApp(ctx context.Context, agentBaseURL, appID string) (map[string]any, error) {
	agentBaseURL = strings.TrimRight(strings.TrimSpace(agentBaseURL), "/")
	if agentBaseURL == "" {
		return nil, apperr.Invalid("agentBaseUrl is required")
	}
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return nil, apperr.Invalid("appId is required")
	}
	if c.Token == "" || c.Token == placeholderToken {
		return nil, apperr.Conflict("agent.token is not configured; cannot call runtime agent stop")
	}

	bodyBytes, err := json.Marshal(map[string]string{"appId": appID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, agentBaseURL+"/agent/apps/stop", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TokenHeader, c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("runtime agent stop request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.Conflict("runtime agent stop failed: http %d", resp.StatusCode)
	}

	out := map[string]any{}
	if len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, &out); err != nil {
			return nil, fmt.Errorf("failed to parse runtime agent response: %w", err)
		}
	}
	if len(out) == 0 {
		out = map[string]any{"appId": appID, "status": "UNKNOWN"}
	}
	return out, nil
}
