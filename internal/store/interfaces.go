// Package store defines the persistence contracts of the control plane.
// Implementations live in the memory and postgres subpackages and must
// behave identically; storetest holds the shared contract suite.
package store

import (
	"context"
	"database/sql"
	"time"

	"deployplane/internal/apprun"
	"deployplane/internal/job"
	"deployplane/internal/placement"
)

// MaxClaimAttempts bounds the optimistic claim loop. When every attempt
// loses a version race the claim reports that no job is available.
const MaxClaimAttempts = 20

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// JobStore owns job persistence.
type JobStore interface {
	// Save inserts a job with Version 0 or updates a stored job whose
	// Version still matches. A stale Version is a conflict. The returned job
	// carries the new Version.
	Save(ctx context.Context, j job.Job) (job.Job, error)

	// Get returns a job by id, or a not-found error.
	Get(ctx context.Context, id string) (job.Job, error)

	// List returns up to limit jobs, most recent first.
	List(ctx context.Context, limit int) ([]job.Job, error)

	// ExistsActiveJobForApp reports whether appID has a PENDING job, or a
	// RUNNING job whose lease ends after now.
	//
	// RUNNING jobs with an expired or missing lease are deliberately not
	// counted: a crashed runner must not block redeploys of its app forever,
	// at the cost of a short window where two jobs for one app coexist.
	ExistsActiveJobForApp(ctx context.Context, appID string, now time.Time) (bool, error)

	// ClaimNext binds the oldest PENDING job to runnerID with a lease of
	// leaseDuration from now. Without PENDING work the oldest RUNNING job
	// with an expired or missing lease is reclaimed and claimed instead.
	// ok is false when nothing is claimable; that is not an error.
	ClaimNext(ctx context.Context, runnerID string, leaseDuration time.Duration, now time.Time) (j job.Job, ok bool, err error)

	// DeleteByAppID removes every job of appID and returns how many went.
	DeleteByAppID(ctx context.Context, appID string) (int64, error)

	// CountByStatus counts jobs in status.
	CountByStatus(ctx context.Context, status job.Status) (int64, error)
}

// NodeStore owns runtime nodes.
type NodeStore interface {
	// SaveNode inserts a node with ID 0 (assigning an id) or updates it by ID.
	// Node names are unique.
	SaveNode(ctx context.Context, n placement.Node) (placement.Node, error)
	GetNode(ctx context.Context, id int64) (placement.Node, error)
	GetNodeByName(ctx context.Context, name string) (placement.Node, error)
	// ListNodes returns every node ordered by id.
	ListNodes(ctx context.Context) ([]placement.Node, error)
}

// PlacementStore owns app placements.
type PlacementStore interface {
	// SavePlacement creates or replaces the placement of p.AppID.
	SavePlacement(ctx context.Context, p placement.Placement) error

	// CreatePlacementIfAbsent stores p unless appID already has a placement,
	// and returns whichever placement is stored afterwards.
	CreatePlacementIfAbsent(ctx context.Context, p placement.Placement) (placement.Placement, error)

	GetPlacement(ctx context.Context, appID string) (placement.Placement, error)

	// ListPlacementsByNode pages through a node's placements ordered by app id.
	ListPlacementsByNode(ctx context.Context, nodeID int64, offset, limit int) ([]placement.Placement, error)
	CountPlacementsByNode(ctx context.Context, nodeID int64) (int64, error)
	DeletePlacement(ctx context.Context, appID string) (int64, error)
}

// AppRunStore owns the last-known app run projection.
type AppRunStore interface {
	SaveAppRun(ctx context.Context, r apprun.AppRun) error
	GetAppRun(ctx context.Context, appID string) (apprun.AppRun, error)
	DeleteAppRun(ctx context.Context, appID string) (int64, error)
}

// Store bundles every repository behind one backend.
type Store interface {
	JobStore
	NodeStore
	PlacementStore
	AppRunStore
	Ping(ctx context.Context) error
	Close() error
}
