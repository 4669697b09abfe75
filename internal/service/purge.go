package service

import (
	"context"
	"strings"

	"deployplane/internal/apperr"
	"deployplane/internal/store"
)

// PurgeResult counts what a purge removed.
type PurgeResult struct {
	AppID             string
	DeletedJobs       int64
	DeletedAppRuns    int64
	DeletedPlacements int64
}

// PurgeService forgets everything the control plane knows about an app
// once the app itself is deleted. It does not touch runtime containers.
type PurgeService struct {
	jobs       store.JobStore
	runs       store.AppRunStore
	placements store.PlacementStore
	options
}

// NewPurgeService creates a PurgeService.
func NewPurgeService(jobs store.JobStore, runs store.AppRunStore, placements store.PlacementStore, opts ...Option) *PurgeService {
	return &PurgeService{jobs: jobs, runs: runs, placements: placements, options: buildOptions(opts)}
}

// Purge deletes the jobs, the last-known run and the placement of appID.
// Each step is best-effort; a failed step counts zero and is logged.
func (s *PurgeService) Purge(ctx context.Context, appID string) (PurgeResult, error) {
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return PurgeResult{}, apperr.Invalid("appId is required")
	}
	res := PurgeResult{AppID: appID}
	log := s.log(ctx)

	var err error
	if res.DeletedJobs, err = s.jobs.DeleteByAppID(ctx, appID); err != nil {
		log.Warn("purge jobs failed", "app_id", appID, "error", err)
		res.DeletedJobs = 0
	}
	if res.DeletedAppRuns, err = s.runs.DeleteAppRun(ctx, appID); err != nil {
		log.Warn("purge app run failed", "app_id", appID, "error", err)
		res.DeletedAppRuns = 0
	}
	if res.DeletedPlacements, err = s.placements.DeletePlacement(ctx, appID); err != nil {
		log.Warn("purge placement failed", "app_id", appID, "error", err)
		res.DeletedPlacements = 0
	}
	log.Info("app purged", "app_id", appID, "jobs", res.DeletedJobs, "app_runs", res.DeletedAppRuns, "placements", res.DeletedPlacements)
	return res, nil
}
