// Package apprun holds the last-known run state of deployed apps.
//
// The projection is rebuilt opportunistically from jobs and placements. It is
// for dashboards and restarts, never a source of truth.
package apprun

import "time"

// StatusStopped is recorded when an operator stops an app.
const StatusStopped = "STOPPED"

// AppRun is the last-known state of one app.
type AppRun struct {
	AppID          string
	NodeID         *int64
	LastJobID      string
	LastJobStatus  string
	LastError      string
	LastDeployedAt *time.Time
	LastActiveAt   time.Time
}
