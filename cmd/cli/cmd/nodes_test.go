package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"deployplane/pkg/api"

	"github.com/spf13/viper"
)

func TestNodesList(t *testing.T) {
	resetViper()

	seen := time.Now().Add(-90 * time.Second)
	pct := 42.5
	containers := 7
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/runtime-nodes/list" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]api.NodeResponse{
			{NodeID: 1, Name: "node-a", Enabled: true, Weight: 100, Health: "HEALTHY", LastHeartbeatAt: &seen, DiskFreePct: &pct, ContainerCount: &containers, GatewayBaseURL: "http://a"},
			{NodeID: 2, Name: "node-b", Enabled: false, Weight: 50, Health: "STALE"},
		})
	}))
	defer server.Close()
	viper.Set("url", server.URL)

	output, err := runCLI(t, "nodes", "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"HEALTH", "node-a", "HEALTHY", "42.5%", "7", "1m ago", "node-b", "STALE", "never"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestNodesUpsert(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantWeight *float64
		wantEnable *bool
	}{
		{"urls only leave weight and enabled unset", []string{"nodes", "upsert", "node-a", "--agent-url", "http://a:7001"}, nil, nil},
		{"weight and enabled when given", []string{"nodes", "upsert", "node-a", "--weight", "50", "--enabled=false"}, ptr(50.0), ptr(false)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper()

			var got map[string]any
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/admin/runtime-nodes/upsert" {
					t.Errorf("unexpected path: %s", r.URL.Path)
				}
				json.NewDecoder(r.Body).Decode(&got)
				json.NewEncoder(w).Encode(api.NodeResponse{NodeID: 3, Name: "node-a", Health: "STALE"})
			}))
			defer server.Close()
			viper.Set("url", server.URL)

			output, err := runCLI(t, tt.args...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(output, "Node node-a saved (id 3") {
				t.Errorf("unexpected output: %s", output)
			}

			if got["name"] != "node-a" {
				t.Errorf("unexpected name %v", got["name"])
			}
			if w, ok := got["weight"]; (tt.wantWeight == nil) == ok || (ok && w != *tt.wantWeight) {
				t.Errorf("weight = %v, want %v", w, tt.wantWeight)
			}
			if e, ok := got["enabled"]; (tt.wantEnable == nil) == ok || (ok && e != *tt.wantEnable) {
				t.Errorf("enabled = %v, want %v", e, tt.wantEnable)
			}
		})
	}
}

func TestNodesEnableDisable(t *testing.T) {
	for _, tt := range []struct {
		command string
		enabled bool
		want    string
	}{
		{"enable", true, "is enabled"},
		{"disable", false, "is disabled"},
	} {
		t.Run(tt.command, func(t *testing.T) {
			resetViper()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var req api.SetNodeEnabledRequest
				json.NewDecoder(r.Body).Decode(&req)
				if r.URL.Path != "/admin/runtime-nodes/set-enabled" || req.Name != "node-a" || req.Enabled != tt.enabled {
					t.Errorf("unexpected request %s %+v", r.URL.Path, req)
				}
				json.NewEncoder(w).Encode(api.NodeResponse{Name: req.Name, Enabled: req.Enabled})
			}))
			defer server.Close()
			viper.Set("url", server.URL)

			output, err := runCLI(t, "nodes", tt.command, "node-a")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(output, tt.want) {
				t.Errorf("unexpected output: %s", output)
			}
		})
	}
}

func TestNodesPlacements(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("nodeId") != "1" || q.Get("offset") != "2" || q.Get("limit") != "2" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(api.PlacementsResponse{NodeID: 1, Total: 5, Items: []api.PlacementItem{
			{AppID: "app-2", NodeID: 1}, {AppID: "app-3", NodeID: 1},
		}})
	}))
	defer server.Close()
	viper.Set("url", server.URL)

	output, err := runCLI(t, "nodes", "placements", "1", "--offset", "2", "--limit", "2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"showing 3-4 of 5", "app-2", "app-3"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestNodesPlacements_InvalidNodeID(t *testing.T) {
	resetViper()

	if _, err := runCLI(t, "nodes", "placements", "abc"); err == nil || !strings.Contains(err.Error(), "must be a number") {
		t.Errorf("unexpected error: %v", err)
	}
}

func ptr[T any](v T) *T { return &v }
