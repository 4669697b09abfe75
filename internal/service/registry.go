package service

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Runner health labels.
const (
	RunnerHealthy = "HEALTHY"
	RunnerStale   = "STALE"
)

// RunnerSummary is one row of the runner dashboard.
type RunnerSummary struct {
	RunnerID   string
	LastSeenAt time.Time
	Health     string
}

// RunnerRegistry remembers when each runner last talked to the control
// plane. It lives in memory only and refills after a restart.
type RunnerRegistry struct {
	stale    time.Duration
	lastSeen sync.Map // runnerID -> time.Time
	now      func() time.Time
}

// NewRunnerRegistry creates a registry that labels runners STALE after
// stale without contact.
func NewRunnerRegistry(stale time.Duration, opts ...Option) *RunnerRegistry {
	if stale <= 0 {
		stale = 60 * time.Second
	}
	o := options{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}
	return &RunnerRegistry{stale: stale, now: o.now}
}

// Touch marks runnerID as seen now. Blank ids are ignored.
func (r *RunnerRegistry) Touch(runnerID string) {
	runnerID = strings.TrimSpace(runnerID)
	if runnerID == "" {
		return
	}
	r.lastSeen.Store(runnerID, r.now())
}

// List returns every known runner, HEALTHY before STALE, then by id.
func (r *RunnerRegistry) List() []RunnerSummary {
	now := r.now()
	var out []RunnerSummary
	r.lastSeen.Range(func(key, value any) bool {
		seen := value.(time.Time)
		health := RunnerStale
		if seen.After(now.Add(-r.stale)) {
			health = RunnerHealthy
		}
		out = append(out, RunnerSummary{RunnerID: key.(string), LastSeenAt: seen, Health: health})
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Health != out[j].Health {
			return out[i].Health < out[j].Health
		}
		return out[i].RunnerID < out[j].RunnerID
	})
	return out
}
