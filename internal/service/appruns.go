package service

import (
	"context"
	"strings"

	"deployplane/internal/apperr"
	"deployplane/internal/apprun"
	"deployplane/internal/job"
	"deployplane/internal/store"
)

// AppRunService maintains the last-known run projection of each app.
type AppRunService struct {
	runs       store.AppRunStore
	placements *PlacementService
	options
}

// NewAppRunService creates an AppRunService.
func NewAppRunService(runs store.AppRunStore, placements *PlacementService, opts ...Option) *AppRunService {
	return &AppRunService{runs: runs, placements: placements, options: buildOptions(opts)}
}

// TouchFromJob refreshes the projection of the job's app. Jobs without an
// appId are ignored. LastDeployedAt only moves when the job SUCCEEDED.
func (s *AppRunService) TouchFromJob(ctx context.Context, j job.Job) error {
	appID := j.AppID()
	if appID == "" {
		return nil
	}
	now := s.now()

	run := apprun.AppRun{AppID: appID}
	if prev, err := s.runs.GetAppRun(ctx, appID); err == nil {
		run = prev
	} else if !apperr.Is(err, apperr.KindNotFound) {
		return err
	}

	if p, err := s.placements.EnsurePlacement(ctx, appID); err == nil {
		nodeID := p.NodeID
		run.NodeID = &nodeID
	} else {
		s.log(ctx).Warn("app run without placement", "app_id", appID, "error", err)
	}

	run.LastJobID = j.ID
	run.LastJobStatus = string(j.Status)
	run.LastError = j.ErrorMessage
	if j.Status == job.StatusSucceeded {
		run.LastDeployedAt = &now
	}
	run.LastActiveAt = now
	return s.runs.SaveAppRun(ctx, run)
}

// TouchStopped records that an operator stopped appID.
func (s *AppRunService) TouchStopped(ctx context.Context, appID string) error {
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return apperr.Invalid("appId is required")
	}
	run := apprun.AppRun{AppID: appID}
	if prev, err := s.runs.GetAppRun(ctx, appID); err == nil {
		run = prev
	} else if !apperr.Is(err, apperr.KindNotFound) {
		return err
	}
	run.LastJobStatus = apprun.StatusStopped
	run.LastError = ""
	run.LastActiveAt = s.now()
	return s.runs.SaveAppRun(ctx, run)
}

// Get returns the last-known run of appID.
func (s *AppRunService) Get(ctx context.Context, appID string) (apprun.AppRun, error) {
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return apprun.AppRun{}, apperr.Invalid("appId is required")
	}
	return s.runs.GetAppRun(ctx, appID)
}
