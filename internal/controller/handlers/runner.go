package handlers

import (
	"net/http"
	"strings"
	"time"

	"deployplane/internal/apperr"
	"deployplane/internal/job"
	"deployplane/internal/logger"
	"deployplane/pkg/api"
)

const (
	// defaultLeaseSeconds applies to claims and heartbeats that omit a duration.
	defaultLeaseSeconds = 30
	// maxLeaseSeconds caps a single lease or extension at one day.
	maxLeaseSeconds = 24 * 60 * 60
)

// leaseDuration converts a requested lease in seconds. Values above
// maxLeaseSeconds are rejected; non-positive ones are left for the service
// to reject.
func leaseDuration(field string, v *int64) (time.Duration, error) {
	if v == nil {
		return defaultLeaseSeconds * time.Second, nil
	}
	if *v > maxLeaseSeconds {
		return 0, apperr.Invalid("%s must be at most %d", field, maxLeaseSeconds)
	}
	return time.Duration(*v) * time.Second, nil
}

// ---------------------------------------------------------
// Runner Endpoints
// Called by runners with the internal secret.
// ---------------------------------------------------------

// ClaimJob handles POST /deploy/jobs/claim.
// It hands the next job to the runner together with the runtime node the
// job deploys to. {"job": null} means there is nothing to do.
func (h *Handlers) ClaimJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.ClaimJobRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	runnerID := strings.TrimSpace(req.RunnerID)

	if h.ClaimLimiter != nil && runnerID != "" && !h.ClaimLimiter.Allow(runnerID) {
		w.Header().Set("Retry-After", "1")
		h.httpError(w, "Too Many Requests", "rate_limited", http.StatusTooManyRequests)
		return
	}

	lease, err := leaseDuration("leaseSeconds", req.LeaseSeconds)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	claimed, ok, err := h.Jobs.ClaimNext(ctx, runnerID, lease)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Runners.Touch(runnerID)
	if !ok {
		h.respondJSON(w, http.StatusOK, api.ClaimJobResponse{})
		return
	}

	resp, err := toJobResponse(claimed)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if appID := claimed.AppID(); appID != "" {
		node, err := h.Placements.ResolveNode(ctx, appID)
		if err != nil {
			// Fail the job now so it does not sit RUNNING until the lease ends.
			msg := "runtime placement failed: " + err.Error()
			if _, ferr := h.Jobs.Transition(ctx, claimed.ID, job.StatusFailed, msg); ferr != nil {
				logger.FromContext(ctx, h.Logger).Warn("failed to fail unplaceable job",
					"job_id", claimed.ID, "app_id", appID, "error", ferr)
			}
			if apperr.KindOf(err) == apperr.KindInternal {
				h.fail(w, r, err)
				return
			}
			h.fail(w, r, apperr.Conflict("%s", msg))
			return
		}
		withRuntimeNode(resp, claimed, node)
	}

	h.respondJSON(w, http.StatusOK, api.ClaimJobResponse{Job: resp})
}

// HeartbeatJob handles POST /deploy/jobs/{id}/heartbeat.
// The runner calls this to say "I'm still working on it, don't give it to anyone else."
func (h *Handlers) HeartbeatJob(w http.ResponseWriter, r *http.Request) {
	var req api.HeartbeatJobRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	extend, err := leaseDuration("extendSeconds", req.ExtendSeconds)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Runners.Touch(req.RunnerID)

	j, err := h.Jobs.Heartbeat(r.Context(), r.PathValue("id"), req.RunnerID,
		extend, req.Phase, req.PhaseMessage)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJob(w, r, j)
}

// ReportJob handles POST /deploy/jobs/{id}/report.
// The runner calls this when the job finishes or crashes.
func (h *Handlers) ReportJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.ReportJobRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	to, err := job.ParseStatus(req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Runners.Touch(req.RunnerID)

	j, err := h.Jobs.Report(ctx, r.PathValue("id"), req.RunnerID, to, req.ErrorMessage)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.AppRuns.TouchFromJob(ctx, j); err != nil {
		logger.FromContext(ctx, h.Logger).Warn("failed to refresh app run",
			"job_id", j.ID, "app_id", j.AppID(), "error", err)
	}
	h.writeJob(w, r, j)
}
