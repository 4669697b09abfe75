package handlers

import (
	"encoding/json"

	"deployplane/internal/apprun"
	"deployplane/internal/job"
	"deployplane/internal/placement"
	"deployplane/internal/service"
	"deployplane/pkg/api"
)

func toJobResponse(j job.Job) (*api.JobResponse, error) {
	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return nil, err
	}
	return &api.JobResponse{
		ID:            j.ID,
		Type:          string(j.Type),
		Status:        string(j.Status),
		Payload:       payload,
		ErrorMessage:  j.ErrorMessage,
		RunnerID:      j.RunnerID,
		LeaseExpireAt: j.LeaseExpireAt,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}, nil
}

// withRuntimeNode attaches the node a claimed job deploys to.
func withRuntimeNode(resp *api.JobResponse, j job.Job, n placement.Node) {
	resp.RuntimeNode = &api.RuntimeNodeRef{
		NodeID:         n.ID,
		Name:           n.Name,
		AgentBaseURL:   n.AgentBaseURL,
		GatewayBaseURL: n.GatewayBaseURL,
	}
	resp.PreviewURL = placement.PreviewURL(n.GatewayBaseURL, j.AppID(), j.Payload.Text(job.KeyBasePath))
}

func toNodeResponse(n service.NodeStatus) api.NodeResponse {
	return api.NodeResponse{
		NodeID:          n.ID,
		Name:            n.Name,
		AgentBaseURL:    n.AgentBaseURL,
		GatewayBaseURL:  n.GatewayBaseURL,
		Enabled:         n.Enabled,
		Weight:          n.Weight,
		LastHeartbeatAt: n.LastHeartbeatAt,
		Health:          string(n.Health),
		DiskFreePct:     n.DiskFreePct,
		DiskFreeBytes:   n.DiskFreeBytes,
		ContainerCount:  n.ContainerCount,
	}
}

func toPlacementItem(p placement.Placement) api.PlacementItem {
	return api.PlacementItem{AppID: p.AppID, NodeID: p.NodeID, LastActiveAt: p.LastActiveAt}
}

func toAppRunResponse(r apprun.AppRun) *api.AppRunResponse {
	return &api.AppRunResponse{
		NodeID:         r.NodeID,
		LastJobID:      r.LastJobID,
		LastJobStatus:  r.LastJobStatus,
		LastError:      r.LastError,
		LastDeployedAt: r.LastDeployedAt,
		LastActiveAt:   r.LastActiveAt,
	}
}
