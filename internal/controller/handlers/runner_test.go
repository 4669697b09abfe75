package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"deployplane/pkg/api"
)

func createJob(t *testing.T, env *testEnv, payload map[string]any) api.JobResponse {
	t.Helper()
	rr := env.do(t, http.MethodPost, "/deploy/jobs", map[string]any{"type": "BUILD_AND_DEPLOY", "payload": payload})
	if rr.Code != http.StatusOK {
		t.Fatalf("create: got %d: %s", rr.Code, rr.Body.String())
	}
	return decodeBody[api.JobResponse](t, rr)
}

func claim(t *testing.T, env *testEnv, runnerID string) *httptest.ResponseRecorder {
	t.Helper()
	return env.do(t, http.MethodPost, "/deploy/jobs/claim", map[string]any{"runnerId": runnerID, "leaseSeconds": 30})
}

func TestClaimJob_NothingAvailable(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/deploy/jobs/claim", api.ClaimJobRequest{RunnerID: "runner-1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != `{"job":null}` {
		t.Errorf("got body %s", got)
	}
}

func TestClaimJob_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing runner", `{"leaseSeconds":30}`},
		{"zero lease", `{"runnerId":"r1","leaseSeconds":0}`},
		{"negative lease", `{"runnerId":"r1","leaseSeconds":-5}`},
		{"lease over a day", `{"runnerId":"r1","leaseSeconds":86401}`},
		{"lease that would overflow", `{"runnerId":"r1","leaseSeconds":9223372036854775807}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := env.do(t, http.MethodPost, "/deploy/jobs/claim", tt.body); rr.Code != http.StatusBadRequest {
				t.Errorf("got status %d want %d", rr.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestClaimJob_AttachesRuntimeNode(t *testing.T) {
	env := newTestEnv(t)
	env.registerNode(t, "node-a", 60)

	created := createJob(t, env, map[string]any{"appId": "app-1"})

	rr := claim(t, env, "runner-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", rr.Code, rr.Body.String())
	}
	got := decodeBody[api.ClaimJobResponse](t, rr)
	if got.Job == nil || got.Job.ID != created.ID {
		t.Fatalf("claimed %+v", got.Job)
	}
	if got.Job.Status != "RUNNING" || got.Job.RunnerID != "runner-1" || got.Job.LeaseExpireAt == nil {
		t.Errorf("unexpected job %+v", got.Job)
	}
	if !got.Job.LeaseExpireAt.Equal(t0.Add(30 * time.Second)) {
		t.Errorf("got lease %v", got.Job.LeaseExpireAt)
	}
	if got.Job.RuntimeNode == nil || got.Job.RuntimeNode.Name != "node-a" {
		t.Fatalf("got runtime node %+v", got.Job.RuntimeNode)
	}
	if got.Job.PreviewURL != "http://node-a.gw/apps/app-1/" {
		t.Errorf("got preview %q", got.Job.PreviewURL)
	}
}

func TestClaimJob_CustomBasePath(t *testing.T) {
	env := newTestEnv(t)
	env.registerNode(t, "node-a", 60)
	createJob(t, env, map[string]any{"appId": "app-1", "basePath": "preview/app-1"})

	got := decodeBody[api.ClaimJobResponse](t, claim(t, env, "runner-1"))
	if got.Job == nil || got.Job.PreviewURL != "http://node-a.gw/preview/app-1/" {
		t.Errorf("got %+v", got.Job)
	}
}

func TestClaimJob_WithoutAppHasNoNode(t *testing.T) {
	env := newTestEnv(t)
	createJob(t, env, nil)

	got := decodeBody[api.ClaimJobResponse](t, claim(t, env, "runner-1"))
	if got.Job == nil {
		t.Fatal("expected a job")
	}
	if got.Job.RuntimeNode != nil || got.Job.PreviewURL != "" {
		t.Errorf("unexpected placement %+v", got.Job)
	}
}

func TestClaimJob_PlacementFailureFailsJob(t *testing.T) {
	env := newTestEnv(t)
	created := createJob(t, env, map[string]any{"appId": "app-1"})

	rr := claim(t, env, "runner-1")
	if rr.Code != http.StatusConflict {
		t.Fatalf("got status %d want %d: %s", rr.Code, http.StatusConflict, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "runtime placement failed: no valid runtime nodes") {
		t.Errorf("got body %s", rr.Body.String())
	}

	job := decodeBody[api.JobResponse](t, env.do(t, http.MethodGet, "/deploy/jobs/"+created.ID, nil))
	if job.Status != "FAILED" || !strings.HasPrefix(job.ErrorMessage, "runtime placement failed") {
		t.Errorf("job not failed: %+v", job)
	}

	// the app is free for a new deploy
	createJob(t, env, map[string]any{"appId": "app-1"})
}

func TestClaimJob_RateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.h.ClaimLimiter = denyAll{}

	rr := env.do(t, http.MethodPost, "/deploy/jobs/claim", api.ClaimJobRequest{RunnerID: "runner-1"})
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("got status %d want %d", rr.Code, http.StatusTooManyRequests)
	}
	if rr.Header().Get("Retry-After") != "1" {
		t.Errorf("got Retry-After %q", rr.Header().Get("Retry-After"))
	}
}

func TestHeartbeatAndReport(t *testing.T) {
	env := newTestEnv(t)
	env.registerNode(t, "node-a", 60)
	created := createJob(t, env, map[string]any{"appId": "app-1"})
	claim(t, env, "runner-1")

	env.clock.Advance(10 * time.Second)
	rr := env.do(t, http.MethodPost, "/deploy/jobs/"+created.ID+"/heartbeat", api.HeartbeatJobRequest{
		RunnerID: "runner-1", Phase: "BUILDING", PhaseMessage: "npm ci",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("heartbeat: got %d: %s", rr.Code, rr.Body.String())
	}
	hb := decodeBody[api.JobResponse](t, rr)
	if !hb.LeaseExpireAt.Equal(t0.Add(40 * time.Second)) {
		t.Errorf("lease not extended by the default 30s: %v", hb.LeaseExpireAt)
	}
	if !strings.Contains(string(hb.Payload), `"phase":"BUILDING"`) {
		t.Errorf("phase not recorded: %s", hb.Payload)
	}

	// another runner cannot touch the job
	if rr := env.do(t, http.MethodPost, "/deploy/jobs/"+created.ID+"/heartbeat", api.HeartbeatJobRequest{RunnerID: "runner-2"}); rr.Code != http.StatusConflict {
		t.Errorf("foreign heartbeat: got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/deploy/jobs/"+created.ID+"/report", api.ReportJobRequest{RunnerID: "runner-2", Status: "SUCCEEDED"}); rr.Code != http.StatusConflict {
		t.Errorf("foreign report: got %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/deploy/jobs/"+created.ID+"/report", api.ReportJobRequest{RunnerID: "runner-1", Status: "SUCCEEDED"})
	if rr.Code != http.StatusOK {
		t.Fatalf("report: got %d: %s", rr.Code, rr.Body.String())
	}
	if done := decodeBody[api.JobResponse](t, rr); done.Status != "SUCCEEDED" || done.RunnerID != "" {
		t.Errorf("unexpected job %+v", done)
	}

	// the report refreshed the app's last-known run
	st := decodeBody[api.AppStatusResponse](t, env.do(t, http.MethodGet, "/deploy/apps/app-1/status", nil))
	if st.Run == nil || st.Run.LastJobStatus != "SUCCEEDED" || st.Run.LastJobID != created.ID {
		t.Errorf("unexpected run %+v", st.Run)
	}

	runners := decodeBody[[]api.RunnerResponse](t, env.do(t, http.MethodGet, "/admin/runners/list", nil))
	if len(runners) != 2 || runners[0].RunnerID != "runner-1" || runners[0].Health != "HEALTHY" {
		t.Errorf("unexpected runners %+v", runners)
	}
}

func TestHeartbeatJob_RejectsOversizedExtension(t *testing.T) {
	env := newTestEnv(t)
	created := createJob(t, env, nil)
	claimed := decodeBody[api.ClaimJobResponse](t, claim(t, env, "runner-1"))
	if claimed.Job == nil {
		t.Fatal("expected a claimed job")
	}

	rr := env.do(t, http.MethodPost, "/deploy/jobs/"+created.ID+"/heartbeat",
		`{"runnerId":"runner-1","extendSeconds":9223372036854775807}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got status %d want %d: %s", rr.Code, http.StatusBadRequest, rr.Body.String())
	}

	got := decodeBody[api.JobResponse](t, env.do(t, http.MethodGet, "/deploy/jobs/"+created.ID, nil))
	if got.LeaseExpireAt == nil || !got.LeaseExpireAt.Equal(*claimed.Job.LeaseExpireAt) {
		t.Errorf("lease changed: %v", got.LeaseExpireAt)
	}

	rr = env.do(t, http.MethodPost, "/deploy/jobs/"+created.ID+"/heartbeat",
		`{"runnerId":"runner-1","extendSeconds":86400}`)
	if rr.Code != http.StatusOK {
		t.Errorf("a one day extension is allowed, got %d", rr.Code)
	}
}

func TestReport_InvalidStatus(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/deploy/jobs/x/report", api.ReportJobRequest{RunnerID: "runner-1", Status: "DONE"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("got status %d want %d", rr.Code, http.StatusBadRequest)
	}
}
