package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	env.h.Store = &mockPinger{err: errors.New("db down")}

	rr := env.do(t, http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("liveness must not depend on the store, got %d", rr.Code)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name        string
		pingErr     error
		seen        []string
		wantStatus  int
		wantRunners int
	}{
		{name: "ready without runners", wantStatus: http.StatusOK},
		{name: "counts healthy runners", seen: []string{"runner-1", "runner-2"}, wantStatus: http.StatusOK, wantRunners: 2},
		{name: "store down", pingErr: errors.New("db down"), wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.h.Store = &mockPinger{err: tt.pingErr}
			for _, id := range tt.seen {
				env.h.Runners.Touch(id)
			}
			// a runner last seen beyond the stale window is not counted
			env.h.Runners.Touch("old-runner")
			env.clock.now = env.clock.now.Add(2 * time.Minute)
			for _, id := range tt.seen {
				env.h.Runners.Touch(id)
			}

			rr := env.do(t, http.MethodGet, "/readyz", nil)
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				var res struct{ Code string }
				json.NewDecoder(rr.Body).Decode(&res)
				if res.Code != "unavailable" {
					t.Errorf("code = %q, want unavailable", res.Code)
				}
				return
			}

			var res healthResponse
			if err := json.NewDecoder(rr.Body).Decode(&res); err != nil {
				t.Fatal(err)
			}
			if res.Status != "ready" || res.HealthyRunners == nil || *res.HealthyRunners != tt.wantRunners {
				t.Errorf("unexpected response %+v", res)
			}
		})
	}
}
