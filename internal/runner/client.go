package runner

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

	"deployplane/pkg/api"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Controller is the subset of the controller API a runner needs.
type Controller interface {
	Claim(ctx context.Context, runnerID string, lease time.Duration) (*api.JobResponse, error)
	Heartbeat(ctx context.Context, jobID string, req api.HeartbeatJobRequest) (*api.JobResponse, error)
	Report(ctx context.Context, jobID string, req api.ReportJobRequest) (*api.JobResponse, error)
}

// StatusError is returned when the controller answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("controller returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("controller returned status %d: %s", e.StatusCode, e.Message)
}

// statusCode reports the HTTP status carried by err, or 0.
func statusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// Client talks to the controller's runner endpoints.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

// NewClient creates a client for the controller at baseURL. secret is sent as
// a Bearer token when non-empty.
func NewClient(baseURL, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Claim asks for the next pending job. It returns nil when nothing is queued.
func (c *Client) Claim(ctx context.Context, runnerID string, lease time.Duration) (*api.JobResponse, error) {
	seconds := int64(lease / time.Second)
	var out api.ClaimJobResponse
	err := c.do(ctx, http.MethodPost, "/deploy/jobs/claim", api.ClaimJobRequest{
		RunnerID:     runnerID,
		LeaseSeconds: &seconds,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Job, nil
}

func (c *Client) Heartbeat(ctx context.Context, jobID string, req api.HeartbeatJobRequest) (*api.JobResponse, error) {
	var out api.JobResponse
	if err := c.do(ctx, http.MethodPost, "/deploy/jobs/"+url.PathEscape(jobID)+"/heartbeat", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Report(ctx context.Context, jobID string, req api.ReportJobRequest) (*api.JobResponse, error) {
	var out api.JobResponse
	if err := c.do(ctx, http.MethodPost, "/deploy/jobs/"+url.PathEscape(jobID)+"/report", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{StatusCode: resp.StatusCode}
		var apiErr api.ErrorResponse
		if json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr) == nil {
			se.Code = apiErr.Code
			se.Message = apiErr.Error
		}
		return se
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
