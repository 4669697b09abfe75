package service

import (
	"context"
	"strings"

	"deployplane/internal/apperr"
	"deployplane/internal/apprun"
	"deployplane/internal/placement"
)

// AppStopper stops a deployed app on a runtime node.
type AppStopper interface {
	StopApp(ctx context.Context, agentBaseURL, appID string) (map[string]any, error)
}

// StopResult describes a stop call.
type StopResult struct {
	AppID        string
	NodeID       int64
	AgentBaseURL string
	Runtime      map[string]any
}

// AppStatus combines the placement and the last-known run of an app.
type AppStatus struct {
	AppID     string
	Placement *placement.Placement
	Run       *apprun.AppRun
}

// AppService covers operator actions on deployed apps.
type AppService struct {
	placements *PlacementService
	runs       *AppRunService
	agent      AppStopper
	options
}

// NewAppService creates an AppService.
func NewAppService(placements *PlacementService, runs *AppRunService, agent AppStopper, opts ...Option) *AppService {
	return &AppService{placements: placements, runs: runs, agent: agent, options: buildOptions(opts)}
}

// Stop removes the app's containers from its node and marks the run STOPPED.
func (s *AppService) Stop(ctx context.Context, appID string) (res StopResult, err error) {
	ctx, span := tracer.Start(ctx, "AppService.Stop")
	defer func() { endSpan(span, err) }()

	appID = strings.TrimSpace(appID)
	if appID == "" {
		return StopResult{}, apperr.Invalid("appId is required")
	}
	node, err := s.placements.ResolveNode(ctx, appID)
	if err != nil {
		return StopResult{}, err
	}
	runtime, err := s.agent.StopApp(ctx, node.AgentBaseURL, appID)
	if err != nil {
		return StopResult{}, err
	}
	if err := s.runs.TouchStopped(ctx, appID); err != nil {
		s.log(ctx).Warn("failed to record stopped app", "app_id", appID, "error", err)
	}
	s.log(ctx).Info("app stopped", "app_id", appID, "node_id", node.ID)
	return StopResult{AppID: appID, NodeID: node.ID, AgentBaseURL: node.AgentBaseURL, Runtime: runtime}, nil
}

// Status reports what is known about appID. Missing parts are nil; an app
// with neither a placement nor a run is not found.
func (s *AppService) Status(ctx context.Context, appID string) (AppStatus, error) {
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return AppStatus{}, apperr.Invalid("appId is required")
	}
	out := AppStatus{AppID: appID}

	p, err := s.placements.GetPlacement(ctx, appID)
	switch {
	case err == nil:
		out.Placement = &p
	case !apperr.Is(err, apperr.KindNotFound):
		return AppStatus{}, err
	}

	run, err := s.runs.Get(ctx, appID)
	switch {
	case err == nil:
		out.Run = &run
	case !apperr.Is(err, apperr.KindNotFound):
		return AppStatus{}, err
	}

	if out.Placement == nil && out.Run == nil {
		return AppStatus{}, apperr.NotFound("app not found: %s", appID)
	}
	return out, nil
}
