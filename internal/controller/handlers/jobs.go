package handlers

import (
	"net/http"
	"strconv"

	"deployplane/internal/apperr"
	"deployplane/internal/job"
	"deployplane/pkg/api"
)

// defaultListLimit is used when GET /deploy/jobs has no limit.
const defaultListLimit = 50

// CreateJob handles POST /deploy/jobs.
// It submits a PENDING deploy job.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req api.CreateJobRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	var payload job.Payload
	if len(req.Payload) > 0 {
		if err := payload.UnmarshalJSON(req.Payload); err != nil {
			h.fail(w, r, apperr.Invalid("payload must be a JSON object"))
			return
		}
	}

	created, err := h.Jobs.Create(r.Context(), job.Type(req.Type), payload)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJob(w, r, created)
}

// ListJobs handles GET /deploy/jobs?limit=.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.fail(w, r, apperr.Invalid("limit must be an integer"))
			return
		}
		limit = n
	}

	jobs, err := h.Jobs.List(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]api.JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp, err := toJobResponse(j)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		out = append(out, *resp)
	}
	h.respondJSON(w, http.StatusOK, out)
}

// GetJob handles GET /deploy/jobs/{id}.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.Jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJob(w, r, j)
}

// TransitionJob handles POST /deploy/jobs/{id}/transition.
func (h *Handlers) TransitionJob(w http.ResponseWriter, r *http.Request) {
	var req api.TransitionJobRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	to, err := job.ParseStatus(req.ToStatus)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	j, err := h.Jobs.Transition(r.Context(), r.PathValue("id"), to, req.ErrorMessage)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJob(w, r, j)
}

// CancelJob handles POST /deploy/jobs/{id}/cancel.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.Jobs.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJob(w, r, j)
}

func (h *Handlers) writeJob(w http.ResponseWriter, r *http.Request, j job.Job) {
	resp, err := toJobResponse(j)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}
