package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"deployplane/internal/apperr"
	"deployplane/internal/job"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appPayload(appID string) job.Payload {
	return job.Payload{job.KeyAppID: job.String(appID)}
}

func TestCreate_RejectsUnknownType(t *testing.T) {
	f := newFixture(0, defaultPlacementConfig())

	_, err := f.jobs.Create(context.Background(), "", nil)
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))

	_, err = f.jobs.Create(context.Background(), "ROLLBACK", nil)
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
}

func TestCreate_MutualExclusionPerApp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(0, defaultPlacementConfig())

	first, err := f.jobs.Create(ctx, job.TypeBuildAndDeploy, appPayload("app-1"))
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, first.Status)

	_, err = f.jobs.Create(ctx, job.TypeBuildAndDeploy, appPayload("app-1"))
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	// other apps and jobs without an app are unaffected
	_, err = f.jobs.Create(ctx, job.TypeBuildAndDeploy, appPayload("app-2"))
	require.NoError(t, err)
	_, err = f.jobs.Create(ctx, job.TypeBuildAndDeploy, nil)
	require.NoError(t, err)

	_, err = f.jobs.Cancel(ctx, first.ID)
	require.NoError(t, err)
	_, err = f.jobs.Create(ctx, job.TypeBuildAndDeploy, appPayload("app-1"))
	assert.NoError(t, err)
}

func TestCreate_ExpiredLeaseDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(0, defaultPlacementConfig())

	_, err := f.jobs.Create(ctx, job.TypeBuildAndDeploy, appPayload("app-1"))
	require.NoError(t, err)
	_, ok, err := f.jobs.ClaimNext(ctx, "r1", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.jobs.Create(ctx, job.TypeBuildAndDeploy, appPayload("app-1"))
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err), "live lease blocks")

	f.clock.Advance(31 * time.Second)
	_, err = f.jobs.Create(ctx, job.TypeBuildAndDeploy, appPayload("app-1"))
	assert.NoError(t, err, "expired lease must not block redeploys")
}

func TestClaimNext_Validation(t *testing.T) {
	f := newFixture(0, defaultPlacementConfig())

	_, _, err := f.jobs.ClaimNext(context.Background(), " ", time.Second)
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))

	_, _, err = f.jobs.ClaimNext(context.Background(), "r1", 0)
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
}

func TestClaimNext_NothingAvailable(t *testing.T) {
	f := newFixture(0, defaultPlacementConfig())

	_, ok, err := f.jobs.ClaimNext(context.Background(), "r1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLifecycle_ClaimHeartbeatReport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(0, defaultPlacementConfig())

	created, err := f.jobs.Create(ctx, job.TypeBuildAndDeploy, appPayload("app-1"))
	require.NoError(t, err)

	claimed, ok, err := f.jobs.ClaimNext(ctx, "r1", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, created.ID, claimed.ID)
	assert.Equal(t, job.StatusRunning, claimed.Status)
	assert.Equal(t, "r1", claimed.RunnerID)
	require.NotNil(t, claimed.LeaseExpireAt)
	assert.Equal(t, t0.Add(30*time.Second), *claimed.LeaseExpireAt)

	f.clock.Advance(10 * time.Second)
	hb, err := f.jobs.Heartbeat(ctx, created.ID, "r1", 60*time.Second, "  building ", "")
	require.NoError(t, err)
	require.NotNil(t, hb.LeaseExpireAt)
	assert.Equal(t, t0.Add(70*time.Second), *hb.LeaseExpireAt)
	assert.Equal(t, "building", hb.Payload.Text(job.KeyPhase))
	_, hasMessage := hb.Payload[job.KeyPhaseMessage]
	assert.False(t, hasMessage, "blank phase message is not recorded")

	done, err := f.jobs.Report(ctx, created.ID, "r1", job.StatusSucceeded, "")
	require.NoError(t, err)
	assert.Equal(t, job.StatusSucceeded, done.Status)
	assert.Empty(t, done.RunnerID)
	assert.Nil(t, done.LeaseExpireAt)
	assert.Equal(t, "building", done.Payload.Text(job.KeyPhase))
}

func TestReport_WrongRunnerConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(0, defaultPlacementConfig())

	created, err := f.jobs.Create(ctx, job.TypeBuildAndDeploy, appPayload("app-1"))
	require.NoError(t, err)
	_, _, err = f.jobs.ClaimNext(ctx, "r1", time.Minute)
	require.NoError(t, err)
	before, err := f.jobs.Get(ctx, created.ID)
	require.NoError(t, err)

	_, err = f.jobs.Report(ctx, created.ID, "r2", job.StatusSucceeded, "")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	after, err := f.jobs.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after, "job must be unchanged")
}

func TestHeartbeat_WrongRunnerAndValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(0, defaultPlacementConfig())

	created, err := f.jobs.Create(ctx, job.TypeBuildAndDeploy, nil)
	require.NoError(t, err)

	_, err = f.jobs.Heartbeat(ctx, created.ID, "r1", 0, "", "")
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))

	_, err = f.jobs.Heartbeat(ctx, created.ID, "r1", time.Minute, "", "")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err), "PENDING job cannot heartbeat")

	_, _, err = f.jobs.ClaimNext(ctx, "r1", time.Minute)
	require.NoError(t, err)
	_, err = f.jobs.Heartbeat(ctx, created.ID, "r2", time.Minute, "", "")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = f.jobs.Heartbeat(ctx, "missing", "r1", time.Minute, "", "")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestGlobalTimeout(t *testing.T) {
	ctx := context.Background()

	t.Run("heartbeat fails the job without extending", func(t *testing.T) {
		f := newFixture(5*time.Minute, defaultPlacementConfig())
		created, err := f.jobs.Create(ctx, job.TypeBuildAndDeploy, nil)
		require.NoError(t, err)
		_, _, err = f.jobs.ClaimNext(ctx, "r1", time.Hour)
		require.NoError(t, err)

		f.clock.Advance(5 * time.Minute)
		still, err := f.jobs.Heartbeat(ctx, created.ID, "r1", time.Minute, "", "")
		require.NoError(t, err)
		assert.Equal(t, job.StatusRunning, still.Status, "exactly at the limit is still allowed")

		f.clock.Advance(time.Second)
		failed, err := f.jobs.Heartbeat(ctx, created.ID, "r1", time.Minute, "deploying", "")
		require.NoError(t, err)
		assert.Equal(t, job.StatusFailed, failed.Status)
		assert.Equal(t, "task timed out: RUNNING exceeded 300 seconds (job.max_running_seconds)", failed.ErrorMessage)
		assert.Nil(t, failed.LeaseExpireAt)
		_, hasPhase := failed.Payload[job.KeyPhase]
		assert.False(t, hasPhase)
	})

	t.Run("report after the limit cannot succeed", func(t *testing.T) {
		f := newFixture(time.Minute, defaultPlacementConfig())
		created, err := f.jobs.Create(ctx, job.TypeBuildAndDeploy, nil)
		require.NoError(t, err)
		_, _, err = f.jobs.ClaimNext(ctx, "r1", time.Hour)
		require.NoError(t, err)

		f.clock.Advance(2 * time.Minute)
		out, err := f.jobs.Report(ctx, created.ID, "r1", job.StatusSucceeded, "")
		require.NoError(t, err)
		assert.Equal(t, job.StatusFailed, out.Status)
		assert.Equal(t, TimeoutMessage(time.Minute), out.ErrorMessage)
	})

	t.Run("later reports keep the timeout reason", func(t *testing.T) {
		f := newFixture(time.Minute, defaultPlacementConfig())
		created, err := f.jobs.Create(ctx, job.TypeBuildAndDeploy, nil)
		require.NoError(t, err)
		_, _, err = f.jobs.ClaimNext(ctx, "r1", time.Hour)
		require.NoError(t, err)

		f.clock.Advance(2 * time.Minute)
		timedOut, err := f.jobs.Heartbeat(ctx, created.ID, "r1", time.Minute, "", "")
		require.NoError(t, err)
		require.Equal(t, job.StatusFailed, timedOut.Status)

		f.clock.Advance(time.Second)
		for _, runner := range []string{"r1", "r-other"} {
			out, err := f.jobs.Report(ctx, created.ID, runner, job.StatusFailed, "exit 1")
			require.NoError(t, err)
			assert.Equal(t, TimeoutMessage(time.Minute), out.ErrorMessage)
			assert.Equal(t, timedOut.Version, out.Version, "nothing is written")
			assert.Equal(t, timedOut.UpdatedAt, out.UpdatedAt)
		}

		_, err = f.jobs.Report(ctx, created.ID, "r1", job.StatusSucceeded, "")
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

		stored, err := f.jobs.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, TimeoutMessage(time.Minute), stored.ErrorMessage)
	})

	t.Run("disabled", func(t *testing.T) {
		f := newFixture(0, defaultPlacementConfig())
		created, err := f.jobs.Create(ctx, job.TypeBuildAndDeploy, nil)
		require.NoError(t, err)
		_, _, err = f.jobs.ClaimNext(ctx, "r1", 48*time.Hour)
		require.NoError(t, err)

		f.clock.Advance(24 * time.Hour)
		out, err := f.jobs.Report(ctx, created.ID, "r1", job.StatusSucceeded, "")
		require.NoError(t, err)
		assert.Equal(t, job.StatusSucceeded, out.Status)
	})
}

func TestTransition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(0, defaultPlacementConfig())

	created, err := f.jobs.Create(ctx, job.TypeBuildAndDeploy, nil)
	require.NoError(t, err)

	_, err = f.jobs.Transition(ctx, created.ID, job.StatusRunning, "")
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))

	same, err := f.jobs.Transition(ctx, created.ID, job.StatusPending, "")
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, same.Status)

	_, err = f.jobs.Transition(ctx, created.ID, job.StatusSucceeded, "")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err), "PENDING cannot succeed")

	cancelled, err := f.jobs.Cancel(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, cancelled.Status)

	_, err = f.jobs.Cancel(ctx, created.ID)
	assert.NoError(t, err, "self transition is a no-op")

	_, err = f.jobs.Transition(ctx, created.ID, job.StatusPending, "")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	running, err := f.jobs.Create(ctx, job.TypeBuildAndDeploy, nil)
	require.NoError(t, err)
	_, _, err = f.jobs.ClaimNext(ctx, "r1", time.Minute)
	require.NoError(t, err)
	out, err := f.jobs.Transition(ctx, running.ID, job.StatusFailed, " ")
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, out.Status)
	assert.Equal(t, job.DefaultFailMessage, out.ErrorMessage)
}

func TestList_ClampsLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(0, defaultPlacementConfig())

	for i := 0; i < 3; i++ {
		_, err := f.jobs.Create(ctx, job.TypeBuildAndDeploy, nil)
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}

	one, err := f.jobs.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, one, 1)

	all, err := f.jobs.List(ctx, 10_000)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.True(t, all[0].CreatedAt.After(all[2].CreatedAt), "most recent first")
}

func TestClaimNext_ConcurrentRunnersClaimEachJobOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(0, defaultPlacementConfig())

	const jobs = 25
	for i := 0; i < jobs; i++ {
		_, err := f.jobs.Create(ctx, job.TypeBuildAndDeploy, nil)
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		claimed = map[string]int{}
		wg      sync.WaitGroup
	)
	for r := 0; r < 6; r++ {
		wg.Add(1)
		go func(runner string) {
			defer wg.Done()
			for {
				j, ok, err := f.jobs.ClaimNext(ctx, runner, time.Minute)
				if err != nil || !ok {
					return
				}
				mu.Lock()
				claimed[j.ID]++
				mu.Unlock()
			}
		}(string(rune('a' + r)))
	}
	wg.Wait()

	assert.Len(t, claimed, jobs)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "job %s claimed more than once", id)
	}
}
