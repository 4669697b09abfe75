package service

import (
	"context"
	"testing"
	"time"

	"deployplane/internal/apperr"
	"deployplane/internal/apprun"
	"deployplane/internal/job"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runToCompletion creates, claims and reports a job for appID.
func runToCompletion(t *testing.T, f *fixture, appID string, to job.Status, msg string) job.Job {
	t.Helper()
	ctx := context.Background()
	created, err := f.jobs.Create(ctx, job.TypeBuildAndDeploy, appPayload(appID))
	require.NoError(t, err)
	claimed, ok, err := f.jobs.ClaimNext(ctx, "runner-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, created.ID, claimed.ID)
	done, err := f.jobs.Report(ctx, claimed.ID, "runner-1", to, msg)
	require.NoError(t, err)
	return done
}

func TestAppRun_TouchFromJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(0, defaultPlacementConfig())
	node := heartbeatNode(t, f, "node-a", pct(70))

	ok := runToCompletion(t, f, "app-1", job.StatusSucceeded, "")
	require.NoError(t, f.runs.TouchFromJob(ctx, ok))

	run, err := f.runs.Get(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, ok.ID, run.LastJobID)
	assert.Equal(t, "SUCCEEDED", run.LastJobStatus)
	require.NotNil(t, run.NodeID)
	assert.Equal(t, node.ID, *run.NodeID)
	require.NotNil(t, run.LastDeployedAt)
	assert.Equal(t, t0, *run.LastDeployedAt)

	f.clock.Advance(time.Minute)
	heartbeatNode(t, f, "node-a", nil)
	failed := runToCompletion(t, f, "app-1", job.StatusFailed, "npm install failed")
	require.NoError(t, f.runs.TouchFromJob(ctx, failed))

	run, err = f.runs.Get(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, "FAILED", run.LastJobStatus)
	assert.Equal(t, "npm install failed", run.LastError)
	require.NotNil(t, run.LastDeployedAt)
	assert.Equal(t, t0, *run.LastDeployedAt, "a failed deploy keeps the last successful time")
	assert.Equal(t, t0.Add(time.Minute), run.LastActiveAt)
}

func TestAppRun_TouchFromJobWithoutNodes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(0, defaultPlacementConfig())

	created, err := f.jobs.Create(ctx, job.TypeBuildAndDeploy, appPayload("app-1"))
	require.NoError(t, err)
	require.NoError(t, f.runs.TouchFromJob(ctx, created))

	run, err := f.runs.Get(ctx, "app-1")
	require.NoError(t, err)
	assert.Nil(t, run.NodeID)
	assert.Equal(t, "PENDING", run.LastJobStatus)
	assert.Nil(t, run.LastDeployedAt)
}

func TestAppRun_TouchFromJobIgnoresJobsWithoutApp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(0, defaultPlacementConfig())

	created, err := f.jobs.Create(ctx, job.TypeBuildAndDeploy, nil)
	require.NoError(t, err)
	require.NoError(t, f.runs.TouchFromJob(ctx, created))

	_, err = f.runs.Get(ctx, "")
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
}

func TestAppRun_TouchStopped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(0, defaultPlacementConfig())
	heartbeatNode(t, f, "node-a", pct(70))

	failed := runToCompletion(t, f, "app-1", job.StatusFailed, "boom")
	require.NoError(t, f.runs.TouchFromJob(ctx, failed))

	f.clock.Advance(time.Minute)
	require.NoError(t, f.runs.TouchStopped(ctx, "app-1"))

	run, err := f.runs.Get(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, apprun.StatusStopped, run.LastJobStatus)
	assert.Empty(t, run.LastError)
	assert.Equal(t, failed.ID, run.LastJobID)
	assert.NotNil(t, run.NodeID)
	assert.Equal(t, t0.Add(time.Minute), run.LastActiveAt)

	require.NoError(t, f.runs.TouchStopped(ctx, "never-deployed"))
	run, err = f.runs.Get(ctx, "never-deployed")
	require.NoError(t, err)
	assert.Nil(t, run.NodeID)

	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(f.runs.TouchStopped(ctx, " ")))
}
