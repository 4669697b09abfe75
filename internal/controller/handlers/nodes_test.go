package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"deployplane/pkg/api"
)

func TestNodeHeartbeat(t *testing.T) {
	env := newTestEnv(t)

	if rr := env.do(t, http.MethodPost, "/internal/runtime-nodes/heartbeat", api.NodeHeartbeatRequest{}); rr.Code != http.StatusBadRequest {
		t.Errorf("missing name: got %d", rr.Code)
	}

	env.registerNode(t, "node-a", 20)
	nodes := decodeBody[[]api.NodeResponse](t, env.do(t, http.MethodGet, "/admin/runtime-nodes/list", nil))
	if len(nodes) != 1 {
		t.Fatalf("got %d nodes", len(nodes))
	}
	n := nodes[0]
	if n.Name != "node-a" || !n.Enabled || n.Weight != 100 || n.LastHeartbeatAt == nil {
		t.Errorf("unexpected node %+v", n)
	}
	if n.Health != "DRAINING" {
		t.Errorf("got health %s want DRAINING", n.Health)
	}

	env.clock.Advance(2 * time.Minute)
	nodes = decodeBody[[]api.NodeResponse](t, env.do(t, http.MethodGet, "/admin/runtime-nodes/list", nil))
	if nodes[0].Health != "STALE" {
		t.Errorf("got health %s want STALE", nodes[0].Health)
	}
}

func TestUpsertAndSetEnabled(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/admin/runtime-nodes/upsert", `{"name":"node-b","agentBaseUrl":"http://b:7001","gatewayBaseUrl":"http://b","weight":50}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("upsert: got %d: %s", rr.Code, rr.Body.String())
	}
	n := decodeBody[api.NodeResponse](t, rr)
	if n.NodeID == 0 || n.Weight != 50 || !n.Enabled || n.Health != "STALE" {
		t.Errorf("unexpected node %+v", n)
	}

	rr = env.do(t, http.MethodPost, "/admin/runtime-nodes/set-enabled", api.SetNodeEnabledRequest{Name: "node-b", Enabled: false})
	if rr.Code != http.StatusOK {
		t.Fatalf("set-enabled: got %d", rr.Code)
	}
	if n := decodeBody[api.NodeResponse](t, rr); n.Enabled {
		t.Error("node still enabled")
	}

	if rr := env.do(t, http.MethodPost, "/admin/runtime-nodes/set-enabled", api.SetNodeEnabledRequest{Name: "ghost", Enabled: true}); rr.Code != http.StatusNotFound {
		t.Errorf("unknown node: got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/admin/runtime-nodes/upsert", `{}`); rr.Code != http.StatusBadRequest {
		t.Errorf("missing name: got %d", rr.Code)
	}
}

func TestPlacementsReassignAndDrain(t *testing.T) {
	env := newTestEnv(t)
	env.registerNode(t, "node-1", 80)
	env.registerNode(t, "node-2", 50)

	for i := range 5 {
		createJob(t, env, map[string]any{"appId": fmt.Sprintf("app-%d", i)})
		rr := claim(t, env, "runner-1")
		if rr.Code != http.StatusOK {
			t.Fatalf("claim %d: got %d: %s", i, rr.Code, rr.Body.String())
		}
	}

	page := decodeBody[api.PlacementsResponse](t, env.do(t, http.MethodGet, "/admin/runtime-nodes/placements?nodeId=1&limit=2&offset=1", nil))
	if page.Total != 5 || len(page.Items) != 2 || page.Items[0].AppID != "app-1" {
		t.Errorf("unexpected page %+v", page)
	}

	if rr := env.do(t, http.MethodGet, "/admin/runtime-nodes/placements", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("missing nodeId: got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/admin/runtime-nodes/placements?nodeId=1&limit=x", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit: got %d", rr.Code)
	}

	rr := env.do(t, http.MethodPost, "/admin/runtime-nodes/reassign", api.ReassignRequest{AppID: "app-0", TargetNodeID: 2})
	if rr.Code != http.StatusOK {
		t.Fatalf("reassign: got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := env.do(t, http.MethodPost, "/admin/runtime-nodes/reassign", api.ReassignRequest{AppID: "app-0", TargetNodeID: 9}); rr.Code != http.StatusNotFound {
		t.Errorf("unknown target: got %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/admin/runtime-nodes/drain", api.DrainRequest{SourceNodeID: 1, TargetNodeID: 2})
	if rr.Code != http.StatusOK {
		t.Fatalf("drain: got %d: %s", rr.Code, rr.Body.String())
	}
	drained := decodeBody[api.DrainResponse](t, rr)
	if drained.Moved != 4 || drained.SourceNodeID != 1 || drained.TargetNodeID != 2 {
		t.Errorf("unexpected drain %+v", drained)
	}

	page = decodeBody[api.PlacementsResponse](t, env.do(t, http.MethodGet, "/admin/runtime-nodes/placements?nodeId=2", nil))
	if page.Total != 5 {
		t.Errorf("got %d placements on node 2", page.Total)
	}

	rr = env.do(t, http.MethodPost, "/admin/runtime-nodes/drain", api.DrainRequest{SourceNodeID: 2, TargetNodeID: 2})
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "must differ") {
		t.Errorf("self drain: got %d: %s", rr.Code, rr.Body.String())
	}
}
