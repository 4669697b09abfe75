package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"deployplane/pkg/api"
)

// AdminTokenHeader carries the operator token.
const AdminTokenHeader = "X-Admin-Token"

// Client handles API calls to the deployplane controller.
type Client struct {
	BaseURL    string
	Token      string
	Secret     string
	HTTPClient *http.Client
}

// NewClient creates a new client. token is sent as X-Admin-Token and secret
// as a Bearer token, each only when set.
func NewClient(baseURL, token, secret string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Secret:  secret,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

func (c *Client) do(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Add("Content-Type", "application/json")
	if c.Token != "" {
		httpReq.Header.Add(AdminTokenHeader, c.Token)
	}
	if c.Secret != "" {
		httpReq.Header.Add("Authorization", "Bearer "+c.Secret)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var e api.ErrorResponse
		if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
			apiErr.Code = e.Code
			apiErr.Message = e.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// CreateJob sends POST /deploy/jobs.
func (c *Client) CreateJob(req api.CreateJobRequest) (*api.JobResponse, error) {
	var out api.JobResponse
	if err := c.do(http.MethodPost, "/deploy/jobs", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListJobs sends GET /deploy/jobs?limit=N.
func (c *Client) ListJobs(limit int) ([]api.JobResponse, error) {
	var out []api.JobResponse
	if err := c.do(http.MethodGet, "/deploy/jobs?limit="+strconv.Itoa(limit), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetJob(id string) (*api.JobResponse, error) {
	var out api.JobResponse
	if err := c.do(http.MethodGet, "/deploy/jobs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelJob(id string) (*api.JobResponse, error) {
	var out api.JobResponse
	if err := c.do(http.MethodPost, "/deploy/jobs/"+url.PathEscape(id)+"/cancel", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListNodes() ([]api.NodeResponse, error) {
	var out []api.NodeResponse
	if err := c.do(http.MethodGet, "/admin/runtime-nodes/list", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) UpsertNode(req api.UpsertNodeRequest) (*api.NodeResponse, error) {
	var out api.NodeResponse
	if err := c.do(http.MethodPost, "/admin/runtime-nodes/upsert", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SetNodeEnabled(name string, enabled bool) (*api.NodeResponse, error) {
	var out api.NodeResponse
	req := api.SetNodeEnabledRequest{Name: name, Enabled: enabled}
	if err := c.do(http.MethodPost, "/admin/runtime-nodes/set-enabled", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListPlacements sends GET /admin/runtime-nodes/placements for one node.
func (c *Client) ListPlacements(nodeID int64, offset, limit int) (*api.PlacementsResponse, error) {
	q := url.Values{}
	q.Set("nodeId", strconv.FormatInt(nodeID, 10))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))

	var out api.PlacementsResponse
	if err := c.do(http.MethodGet, "/admin/runtime-nodes/placements?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Reassign(appID string, targetNodeID int64) error {
	return c.do(http.MethodPost, "/admin/runtime-nodes/reassign", api.ReassignRequest{AppID: appID, TargetNodeID: targetNodeID}, nil)
}

func (c *Client) Drain(req api.DrainRequest) (*api.DrainResponse, error) {
	var out api.DrainResponse
	if err := c.do(http.MethodPost, "/admin/runtime-nodes/drain", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListRunners() ([]api.RunnerResponse, error) {
	var out []api.RunnerResponse
	if err := c.do(http.MethodGet, "/admin/runners/list", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) PurgeApp(appID string) (*api.PurgeResponse, error) {
	var out api.PurgeResponse
	if err := c.do(http.MethodPost, "/deploy/apps/purge", api.AppRequest{AppID: appID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) StopApp(appID string) (*api.StopAppResponse, error) {
	var out api.StopAppResponse
	if err := c.do(http.MethodPost, "/deploy/apps/stop", api.AppRequest{AppID: appID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AppStatus(appID string) (*api.AppStatusResponse, error) {
	var out api.AppStatusResponse
	if err := c.do(http.MethodGet, "/deploy/apps/"+url.PathEscape(appID)+"/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
