package handlers

import (
	"net/http"
	"strconv"

	"deployplane/internal/apperr"
	"deployplane/internal/service"
	"deployplane/pkg/api"
)

const (
	defaultPlacementLimit = 200
	defaultDrainLimit     = 100
)

// NodeHeartbeat handles POST /internal/runtime-nodes/heartbeat.
// Node agents call it periodically; unknown nodes are registered on the fly.
func (h *Handlers) NodeHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req api.NodeHeartbeatRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	n, err := h.Placements.Heartbeat(r.Context(), service.NodeHeartbeat{
		Name:           req.NodeName,
		AgentBaseURL:   req.AgentBaseURL,
		GatewayBaseURL: req.GatewayBaseURL,
		DiskFreePct:    req.DiskFreePct,
		DiskFreeBytes:  req.DiskFreeBytes,
		ContainerCount: req.ContainerCount,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, toNodeResponse(service.NodeStatus{Node: n, Health: h.Placements.Health(n)}))
}

// ---------------------------------------------------------
// Admin Endpoints
// ---------------------------------------------------------

// ListNodes handles GET /admin/runtime-nodes/list.
func (h *Handlers) ListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.Placements.ListNodes(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]api.NodeResponse, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, toNodeResponse(n))
	}
	h.respondJSON(w, http.StatusOK, out)
}

// UpsertNode handles POST /admin/runtime-nodes/upsert.
func (h *Handlers) UpsertNode(w http.ResponseWriter, r *http.Request) {
	var req api.UpsertNodeRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	n, err := h.Placements.UpsertNode(r.Context(), service.NodeUpsert{
		Name:           req.Name,
		AgentBaseURL:   req.AgentBaseURL,
		GatewayBaseURL: req.GatewayBaseURL,
		Enabled:        req.Enabled,
		Weight:         req.Weight,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, toNodeResponse(service.NodeStatus{Node: n, Health: h.Placements.Health(n)}))
}

// SetNodeEnabled handles POST /admin/runtime-nodes/set-enabled.
func (h *Handlers) SetNodeEnabled(w http.ResponseWriter, r *http.Request) {
	var req api.SetNodeEnabledRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	n, err := h.Placements.SetEnabled(r.Context(), req.Name, req.Enabled)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, toNodeResponse(service.NodeStatus{Node: n, Health: h.Placements.Health(n)}))
}

// ListPlacements handles GET /admin/runtime-nodes/placements?nodeId=&offset=&limit=.
func (h *Handlers) ListPlacements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	nodeID, err := strconv.ParseInt(q.Get("nodeId"), 10, 64)
	if err != nil {
		h.fail(w, r, apperr.Invalid("nodeId is required"))
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		h.fail(w, r, apperr.Invalid("offset must be an integer"))
		return
	}
	limit, err := intParam(q.Get("limit"), defaultPlacementLimit)
	if err != nil {
		h.fail(w, r, apperr.Invalid("limit must be an integer"))
		return
	}

	page, err := h.Placements.ListPlacements(r.Context(), nodeID, limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	total, err := h.Placements.CountPlacements(r.Context(), nodeID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := api.PlacementsResponse{NodeID: nodeID, Total: total, Items: make([]api.PlacementItem, 0, len(page))}
	for _, p := range page {
		resp.Items = append(resp.Items, toPlacementItem(p))
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// Reassign handles POST /admin/runtime-nodes/reassign.
func (h *Handlers) Reassign(w http.ResponseWriter, r *http.Request) {
	var req api.ReassignRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Placements.Reassign(r.Context(), req.AppID, req.TargetNodeID); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Drain handles POST /admin/runtime-nodes/drain.
// It moves one batch; callers repeat until moved is zero.
func (h *Handlers) Drain(w http.ResponseWriter, r *http.Request) {
	var req api.DrainRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	limit := defaultDrainLimit
	if req.Limit != nil {
		limit = *req.Limit
	}

	moved, err := h.Placements.Drain(r.Context(), req.SourceNodeID, req.TargetNodeID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, api.DrainResponse{
		Moved:        moved,
		SourceNodeID: req.SourceNodeID,
		TargetNodeID: req.TargetNodeID,
	})
}

// ListRunners handles GET /admin/runners/list.
func (h *Handlers) ListRunners(w http.ResponseWriter, r *http.Request) {
	runners := h.Runners.List()
	out := make([]api.RunnerResponse, 0, len(runners))
	for _, rs := range runners {
		out = append(out, api.RunnerResponse{
			RunnerID:     rs.RunnerID,
			LastSeenAtMs: rs.LastSeenAt.UnixMilli(),
			Health:       rs.Health,
		})
	}
	h.respondJSON(w, http.StatusOK, out)
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
