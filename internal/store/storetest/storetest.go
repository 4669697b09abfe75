// Package storetest is a contract suite every store.Store implementation
// must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"deployplane/internal/apperr"
	"deployplane/internal/apprun"
	"deployplane/internal/job"
	"deployplane/internal/placement"
	"deployplane/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) store.Store

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// Run executes the whole suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("SaveAndGet", func(t *testing.T) { testSaveAndGet(t, newStore(t)) })
	t.Run("StaleSaveConflicts", func(t *testing.T) { testStaleSave(t, newStore(t)) })
	t.Run("ListMostRecentFirst", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("ExistsActiveJobForApp", func(t *testing.T) { testExistsActive(t, newStore(t)) })
	t.Run("ClaimOldestPendingFirst", func(t *testing.T) { testClaimFIFO(t, newStore(t)) })
	t.Run("ClaimReclaimsExpiredLease", func(t *testing.T) { testClaimReclaim(t, newStore(t)) })
	t.Run("ConcurrentClaimsAreExclusive", func(t *testing.T) { testConcurrentClaims(t, newStore(t)) })
	t.Run("DeleteByAppID", func(t *testing.T) { testDeleteByApp(t, newStore(t)) })
	t.Run("Nodes", func(t *testing.T) { testNodes(t, newStore(t)) })
	t.Run("Placements", func(t *testing.T) { testPlacements(t, newStore(t)) })
	t.Run("AppRuns", func(t *testing.T) { testAppRuns(t, newStore(t)) })
}

func mustSave(t *testing.T, s store.JobStore, j job.Job) job.Job {
	t.Helper()
	saved, err := s.Save(context.Background(), j)
	require.NoError(t, err)
	return saved
}

func pendingAt(appID string, created time.Time) job.Job {
	payload := job.Payload{}
	if appID != "" {
		payload[job.KeyAppID] = job.String(appID)
	}
	return job.New(job.TypeBuildAndDeploy, payload, created)
}

func testSaveAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := pendingAt("a1", base)

	saved := mustSave(t, s, j)
	assert.Equal(t, int64(1), saved.Version)

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, job.StatusPending, got.Status)
	assert.Equal(t, "a1", got.AppID())
	assert.Equal(t, int64(1), got.Version)

	_, err = s.Get(ctx, "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func testStaleSave(t *testing.T, s store.Store) {
	ctx := context.Background()
	saved := mustSave(t, s, pendingAt("a1", base))

	first, err := saved.Cancel(base)
	require.NoError(t, err)
	_, err = s.Save(ctx, first)
	require.NoError(t, err)

	// a second writer still holding version 1 loses
	second := saved.WithPayloadPatch(job.Payload{"note": job.String("late")}, base)
	_, err = s.Save(ctx, second)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = s.Save(ctx, pendingAt("a1", base).Clone())
	require.NoError(t, err, "distinct new ids must insert")

	dup := saved
	dup.Version = 0
	_, err = s.Save(ctx, dup)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func testList(t *testing.T, s store.Store) {
	ctx := context.Background()
	var ids []string
	for i := 0; i < 5; i++ {
		j := mustSave(t, s, pendingAt("", base.Add(time.Duration(i)*time.Second)))
		ids = append(ids, j.ID)
	}

	got, err := s.List(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, ids[4], got[0].ID)
	assert.Equal(t, ids[3], got[1].ID)
	assert.Equal(t, ids[2], got[2].ID)
}

func testExistsActive(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := base.Add(time.Minute)

	exists, err := s.ExistsActiveJobForApp(ctx, "a1", now)
	require.NoError(t, err)
	assert.False(t, exists)

	pending := mustSave(t, s, pendingAt("a1", base))
	exists, err = s.ExistsActiveJobForApp(ctx, "a1", now)
	require.NoError(t, err)
	assert.True(t, exists)

	running, err := pending.Claim("r1", now.Add(30*time.Second), now)
	require.NoError(t, err)
	running = mustSave(t, s, running)

	exists, err = s.ExistsActiveJobForApp(ctx, "a1", now.Add(10*time.Second))
	require.NoError(t, err)
	assert.True(t, exists, "live lease blocks")

	exists, err = s.ExistsActiveJobForApp(ctx, "a1", now.Add(30*time.Second))
	require.NoError(t, err)
	assert.True(t, exists, "a lease ending exactly now is still live")

	exists, err = s.ExistsActiveJobForApp(ctx, "a1", now.Add(31*time.Second))
	require.NoError(t, err)
	assert.False(t, exists, "expired lease does not block")

	done, err := running.Succeed(now)
	require.NoError(t, err)
	mustSave(t, s, done)
	exists, err = s.ExistsActiveJobForApp(ctx, "a1", now)
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = s.ExistsActiveJobForApp(ctx, "other", now)
	require.NoError(t, err)
	assert.False(t, exists)
}

func testClaimFIFO(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := base.Add(time.Hour)

	_, ok, err := s.ClaimNext(ctx, "r1", time.Minute, now)
	require.NoError(t, err)
	assert.False(t, ok, "empty store has nothing to claim")

	older := mustSave(t, s, pendingAt("a1", base))
	newer := mustSave(t, s, pendingAt("a2", base.Add(time.Second)))

	got, ok, err := s.ClaimNext(ctx, "r1", 30*time.Second, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, older.ID, got.ID)
	assert.Equal(t, job.StatusRunning, got.Status)
	assert.Equal(t, "r1", got.RunnerID)
	require.NotNil(t, got.LeaseExpireAt)
	assert.True(t, got.LeaseExpireAt.Equal(now.Add(30*time.Second)))

	got, ok, err = s.ClaimNext(ctx, "r2", 30*time.Second, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, newer.ID, got.ID)

	_, ok, err = s.ClaimNext(ctx, "r3", 30*time.Second, now)
	require.NoError(t, err)
	assert.False(t, ok, "both leases are live")
}

func testClaimReclaim(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustSave(t, s, pendingAt("a1", base))

	first, ok, err := s.ClaimNext(ctx, "r1", 30*time.Second, base)
	require.NoError(t, err)
	require.True(t, ok)

	later := base.Add(time.Minute)
	second, ok, err := s.ClaimNext(ctx, "r2", 30*time.Second, later)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "r2", second.RunnerID)

	attempt, err := second.Payload[job.KeyAttempt].Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(2), attempt)

	stored, err := s.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "r2", stored.RunnerID)
}

func testConcurrentClaims(t *testing.T, s store.Store) {
	ctx := context.Background()
	const jobs = 20
	const runners = 8

	for i := 0; i < jobs; i++ {
		mustSave(t, s, pendingAt(fmt.Sprintf("app-%d", i), base.Add(time.Duration(i)*time.Millisecond)))
	}

	var (
		mu      sync.Mutex
		claimed = map[string]string{}
		wg      sync.WaitGroup
	)
	now := base.Add(time.Second)
	for r := 0; r < runners; r++ {
		wg.Add(1)
		go func(runnerID string) {
			defer wg.Done()
			for {
				j, ok, err := s.ClaimNext(ctx, runnerID, time.Hour, now)
				if err != nil {
					t.Errorf("claim failed: %v", err)
					return
				}
				if !ok {
					return
				}
				mu.Lock()
				if prev, dup := claimed[j.ID]; dup {
					t.Errorf("job %s claimed by %s and %s", j.ID, prev, runnerID)
				}
				claimed[j.ID] = runnerID
				mu.Unlock()
			}
		}(fmt.Sprintf("r%d", r))
	}
	wg.Wait()

	assert.Len(t, claimed, jobs)
	running, err := s.CountByStatus(ctx, job.StatusRunning)
	require.NoError(t, err)
	assert.Equal(t, int64(jobs), running)
}

func testDeleteByApp(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustSave(t, s, pendingAt("a1", base))
	mustSave(t, s, pendingAt("a1", base.Add(time.Second)))
	keep := mustSave(t, s, pendingAt("a2", base))

	n, err := s.DeleteByAppID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.DeleteByAppID(ctx, "a1")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.Get(ctx, keep.ID)
	assert.NoError(t, err)
}

func testNodes(t *testing.T, s store.Store) {
	ctx := context.Background()
	pct := 42.5

	n1, err := s.SaveNode(ctx, placement.Node{Name: "node-b", AgentBaseURL: "http://b:7001", GatewayBaseURL: "http://b", Enabled: true, Weight: 100, DiskFreePct: &pct})
	require.NoError(t, err)
	assert.NotZero(t, n1.ID)

	n2, err := s.SaveNode(ctx, placement.Node{Name: "node-a", Enabled: true, Weight: 100})
	require.NoError(t, err)
	assert.NotEqual(t, n1.ID, n2.ID)

	_, err = s.SaveNode(ctx, placement.Node{Name: "node-b"})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	byName, err := s.GetNodeByName(ctx, "node-b")
	require.NoError(t, err)
	assert.Equal(t, n1.ID, byName.ID)
	require.NotNil(t, byName.DiskFreePct)
	assert.InDelta(t, 42.5, *byName.DiskFreePct, 0.001)

	n2.Enabled = false
	_, err = s.SaveNode(ctx, n2)
	require.NoError(t, err)
	got, err := s.GetNode(ctx, n2.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	all, err := s.ListNodes(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Less(t, all[0].ID, all[1].ID)

	_, err = s.GetNode(ctx, 9999)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = s.GetNodeByName(ctx, "nope")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func testPlacements(t *testing.T, s store.Store) {
	ctx := context.Background()

	first, err := s.CreatePlacementIfAbsent(ctx, placement.Placement{AppID: "a1", NodeID: 1, LastActiveAt: base})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.NodeID)

	again, err := s.CreatePlacementIfAbsent(ctx, placement.Placement{AppID: "a1", NodeID: 2, LastActiveAt: base})
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.NodeID, "existing placement is sticky")

	for _, app := range []string{"c", "b", "d"} {
		require.NoError(t, s.SavePlacement(ctx, placement.Placement{AppID: app, NodeID: 1, LastActiveAt: base}))
	}
	require.NoError(t, s.SavePlacement(ctx, placement.Placement{AppID: "z", NodeID: 2, LastActiveAt: base}))

	page, err := s.ListPlacementsByNode(ctx, 1, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "b", page[0].AppID)
	assert.Equal(t, "c", page[1].AppID)

	count, err := s.CountPlacementsByNode(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	require.NoError(t, s.SavePlacement(ctx, placement.Placement{AppID: "a1", NodeID: 2, LastActiveAt: base}))
	moved, err := s.GetPlacement(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), moved.NodeID)

	n, err := s.DeletePlacement(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = s.GetPlacement(ctx, "a1")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func testAppRuns(t *testing.T, s store.Store) {
	ctx := context.Background()
	nodeID := int64(3)

	require.NoError(t, s.SaveAppRun(ctx, apprun.AppRun{AppID: "a1", NodeID: &nodeID, LastJobID: "j1", LastJobStatus: "RUNNING", LastActiveAt: base}))
	require.NoError(t, s.SaveAppRun(ctx, apprun.AppRun{AppID: "a1", NodeID: &nodeID, LastJobID: "j2", LastJobStatus: "SUCCEEDED", LastDeployedAt: &base, LastActiveAt: base}))

	got, err := s.GetAppRun(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "j2", got.LastJobID)
	require.NotNil(t, got.NodeID)
	assert.Equal(t, nodeID, *got.NodeID)
	require.NotNil(t, got.LastDeployedAt)

	n, err := s.DeleteAppRun(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = s.GetAppRun(ctx, "a1")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
