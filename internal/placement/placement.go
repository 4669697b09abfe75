// Package placement models runtime nodes, sticky app placements and the
// strategies that pick a node for a new app.
package placement

import (
	"strings"
	"time"
)

// DefaultWeight is assigned to nodes created without an explicit weight.
const DefaultWeight = 100

// Node is a runtime host that runs deployed apps.
type Node struct {
	ID              int64
	Name            string
	AgentBaseURL    string
	GatewayBaseURL  string
	Enabled         bool
	Weight          int
	LastHeartbeatAt *time.Time

	// Telemetry reported by the node agent. Nil means never reported.
	DiskFreePct    *float64
	DiskFreeBytes  *int64
	ContainerCount *int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasEndpoints reports whether both agent and gateway URLs are set.
func (n Node) HasEndpoints() bool {
	return strings.TrimSpace(n.AgentBaseURL) != "" && strings.TrimSpace(n.GatewayBaseURL) != ""
}

// Placement is the sticky assignment of an app to a node.
type Placement struct {
	AppID        string
	NodeID       int64
	LastActiveAt time.Time
}

// Health is the operator-facing label for a node.
type Health string

const (
	HealthHealthy  Health = "HEALTHY"
	HealthStale    Health = "STALE"
	HealthDraining Health = "DRAINING"
	HealthUnknown  Health = "UNKNOWN"
)

// Freshness decides whether a node's last heartbeat is recent enough.
type Freshness struct {
	// Enabled turns the check on. When off every node counts as fresh.
	Enabled bool
	Window  time.Duration
}

// Fresh reports whether n heartbeated within the window at now.
func (f Freshness) Fresh(n Node, now time.Time) bool {
	if !f.Enabled {
		return true
	}
	if n.LastHeartbeatAt == nil {
		return false
	}
	return !n.LastHeartbeatAt.Before(now.Add(-f.Window))
}

// HealthOf labels a node for dashboards. drainPct is the free disk
// percentage below which a fresh node is reported as DRAINING.
func HealthOf(n Node, f Freshness, drainPct float64, now time.Time) Health {
	if !f.Enabled {
		return HealthUnknown
	}
	if !f.Fresh(n, now) {
		return HealthStale
	}
	if n.DiskFreePct != nil && *n.DiskFreePct < drainPct {
		return HealthDraining
	}
	return HealthHealthy
}

// PreviewURL joins the node gateway with the app's base path. basePath
// defaults to /apps/{appId}/ and always ends with a slash.
func PreviewURL(gatewayBaseURL, appID, basePath string) string {
	gw := strings.TrimRight(strings.TrimSpace(gatewayBaseURL), "/")
	if gw == "" || strings.TrimSpace(appID) == "" {
		return ""
	}
	bp := strings.TrimSpace(basePath)
	if bp == "" {
		bp = "/apps/" + strings.TrimSpace(appID)
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	if !strings.HasSuffix(bp, "/") {
		bp += "/"
	}
	return gw + bp
}
