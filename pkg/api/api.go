// Package api contains shared JSON request/response structs.
// This package is shared between the CLI, the runner and the Controller.
package api

import (
	"encoding/json"
	"time"
)

// CreateJobRequest is the request body for submitting a deploy job.
type CreateJobRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TransitionJobRequest moves a job to another status.
type TransitionJobRequest struct {
	ToStatus     string `json:"toStatus"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// ClaimJobRequest is sent by a runner polling for work.
// LeaseSeconds defaults to 30 when omitted.
type ClaimJobRequest struct {
	RunnerID     string `json:"runnerId"`
	LeaseSeconds *int64 `json:"leaseSeconds,omitempty"`
}

// ClaimJobResponse wraps the claimed job. Job is nil when nothing was available.
type ClaimJobResponse struct {
	Job *JobResponse `json:"job"`
}

// HeartbeatJobRequest extends the lease of a running job.
// ExtendSeconds defaults to 30 when omitted.
type HeartbeatJobRequest struct {
	RunnerID      string `json:"runnerId"`
	ExtendSeconds *int64 `json:"extendSeconds,omitempty"`
	Phase         string `json:"phase,omitempty"`
	PhaseMessage  string `json:"phaseMessage,omitempty"`
}

// ReportJobRequest is the outcome a runner sends when it is done.
type ReportJobRequest struct {
	RunnerID     string `json:"runnerId"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// RuntimeNodeRef is the node a claimed job deploys to.
type RuntimeNodeRef struct {
	NodeID         int64  `json:"nodeId"`
	Name           string `json:"name"`
	AgentBaseURL   string `json:"agentBaseUrl"`
	GatewayBaseURL string `json:"gatewayBaseUrl"`
}

// JobResponse represents a job in API responses.
type JobResponse struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	Payload       json.RawMessage `json:"payload"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	RunnerID      string          `json:"runnerId,omitempty"`
	LeaseExpireAt *time.Time      `json:"leaseExpireAt,omitempty"`
	RuntimeNode   *RuntimeNodeRef `json:"runtimeNode,omitempty"`
	PreviewURL    string          `json:"previewUrl,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// NodeHeartbeatRequest is sent periodically by a runtime node agent.
type NodeHeartbeatRequest struct {
	NodeName       string   `json:"nodeName"`
	AgentBaseURL   string   `json:"agentBaseUrl,omitempty"`
	GatewayBaseURL string   `json:"gatewayBaseUrl,omitempty"`
	DiskFreePct    *float64 `json:"diskFreePct,omitempty"`
	DiskFreeBytes  *int64   `json:"diskFreeBytes,omitempty"`
	ContainerCount *int     `json:"containerCount,omitempty"`
}

// NodeResponse represents a runtime node in API responses.
type NodeResponse struct {
	NodeID          int64      `json:"nodeId"`
	Name            string     `json:"name"`
	AgentBaseURL    string     `json:"agentBaseUrl"`
	GatewayBaseURL  string     `json:"gatewayBaseUrl"`
	Enabled         bool       `json:"enabled"`
	Weight          int        `json:"weight"`
	LastHeartbeatAt *time.Time `json:"lastHeartbeatAt,omitempty"`
	Health          string     `json:"health"`
	DiskFreePct     *float64   `json:"diskFreePct,omitempty"`
	DiskFreeBytes   *int64     `json:"diskFreeBytes,omitempty"`
	ContainerCount  *int       `json:"containerCount,omitempty"`
}

// UpsertNodeRequest creates or edits a runtime node by name.
type UpsertNodeRequest struct {
	Name           string `json:"name"`
	AgentBaseURL   string `json:"agentBaseUrl,omitempty"`
	GatewayBaseURL string `json:"gatewayBaseUrl,omitempty"`
	Enabled        *bool  `json:"enabled,omitempty"`
	Weight         *int   `json:"weight,omitempty"`
}

// SetNodeEnabledRequest flips a node's enabled flag.
type SetNodeEnabledRequest struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// PlacementItem is one app placed on a node.
type PlacementItem struct {
	AppID        string    `json:"appId"`
	NodeID       int64     `json:"nodeId"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// PlacementsResponse is one page of a node's placements.
type PlacementsResponse struct {
	NodeID int64           `json:"nodeId"`
	Total  int64           `json:"total"`
	Items  []PlacementItem `json:"items"`
}

// ReassignRequest moves one app to another node.
type ReassignRequest struct {
	AppID        string `json:"appId"`
	TargetNodeID int64  `json:"targetNodeId"`
}

// DrainRequest moves a batch of apps off a node. Limit defaults to 100.
type DrainRequest struct {
	SourceNodeID int64 `json:"sourceNodeId"`
	TargetNodeID int64 `json:"targetNodeId"`
	Limit        *int  `json:"limit,omitempty"`
}

// DrainResponse reports how many placements moved.
type DrainResponse struct {
	Moved        int   `json:"moved"`
	SourceNodeID int64 `json:"sourceNodeId"`
	TargetNodeID int64 `json:"targetNodeId"`
}

// RunnerResponse is one row of the runner dashboard.
type RunnerResponse struct {
	RunnerID     string `json:"runnerId"`
	LastSeenAtMs int64  `json:"lastSeenAtMs"`
	Health       string `json:"health"`
}

// AppRequest names an app for purge and stop.
type AppRequest struct {
	AppID string `json:"appId"`
}

// PurgeResponse counts what a purge removed.
type PurgeResponse struct {
	AppID             string `json:"appId"`
	DeletedJobs       int64  `json:"deletedJobs"`
	DeletedAppRuns    int64  `json:"deletedAppRuns"`
	DeletedPlacements int64  `json:"deletedPlacements"`
}

// StopAppResponse describes a stop call and the runtime agent's answer.
type StopAppResponse struct {
	AppID        string         `json:"appId"`
	NodeID       int64          `json:"nodeId"`
	AgentBaseURL string         `json:"agentBaseUrl"`
	Runtime      map[string]any `json:"runtime"`
}

// AppRunResponse is the last-known run of an app.
type AppRunResponse struct {
	NodeID         *int64     `json:"nodeId,omitempty"`
	LastJobID      string     `json:"lastJobId,omitempty"`
	LastJobStatus  string     `json:"lastJobStatus,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
	LastDeployedAt *time.Time `json:"lastDeployedAt,omitempty"`
	LastActiveAt   time.Time  `json:"lastActiveAt"`
}

// AppStatusResponse combines an app's placement and last-known run.
type AppStatusResponse struct {
	AppID     string          `json:"appId"`
	Placement *PlacementItem  `json:"placement,omitempty"`
	Run       *AppRunResponse `json:"run,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
