package handlers

import (
	"net/http"

	"deployplane/pkg/api"
)

// PurgeApp handles POST /deploy/apps/purge.
// Called after an app is deleted; it forgets jobs, runs and placement but
// leaves runtime containers alone.
func (h *Handlers) PurgeApp(w http.ResponseWriter, r *http.Request) {
	var req api.AppRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.Purge.Purge(r.Context(), req.AppID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, api.PurgeResponse{
		AppID:             res.AppID,
		DeletedJobs:       res.DeletedJobs,
		DeletedAppRuns:    res.DeletedAppRuns,
		DeletedPlacements: res.DeletedPlacements,
	})
}

// StopApp handles POST /deploy/apps/stop.
func (h *Handlers) StopApp(w http.ResponseWriter, r *http.Request) {
	var req api.AppRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.Apps.Stop(r.Context(), req.AppID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, api.StopAppResponse{
		AppID:        res.AppID,
		NodeID:       res.NodeID,
		AgentBaseURL: res.AgentBaseURL,
		Runtime:      res.Runtime,
	})
}

// AppStatus handles GET /deploy/apps/{appId}/status.
func (h *Handlers) AppStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.Apps.Status(r.Context(), r.PathValue("appId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := api.AppStatusResponse{AppID: st.AppID}
	if st.Placement != nil {
		item := toPlacementItem(*st.Placement)
		resp.Placement = &item
	}
	if st.Run != nil {
		resp.Run = toAppRunResponse(*st.Run)
	}
	h.respondJSON(w, http.StatusOK, resp)
}
