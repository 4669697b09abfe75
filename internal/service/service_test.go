package service

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"deployplane/internal/placement"
	"deployplane/internal/store/memory"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testOpts(c *fakeClock) []Option {
	return []Option{
		WithClock(c.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
}

// fixture wires every service over one memory store.
type fixture struct {
	clock      *fakeClock
	store      *memory.Store
	jobs       *JobService
	placements *PlacementService
	runs       *AppRunService
	purge      *PurgeService
}

func newFixture(maxRunning time.Duration, cfg PlacementConfig) *fixture {
	c := newClock()
	st := memory.New()
	opts := testOpts(c)
	ps := NewPlacementService(st, st, cfg, opts...)
	return &fixture{
		clock:      c,
		store:      st,
		jobs:       NewJobService(st, maxRunning, opts...),
		placements: ps,
		runs:       NewAppRunService(st, ps, opts...),
		purge:      NewPurgeService(st, st, st, opts...),
	}
}

func defaultPlacementConfig() PlacementConfig {
	return PlacementConfig{
		Strategy:         placement.StrategyDiskAware,
		Freshness:        placement.Freshness{Enabled: true, Window: 60 * time.Second},
		DiskFreeMinPct:   15,
		DiskFreeDrainPct: 25,
	}
}

func pct(v float64) *float64 { return &v }
