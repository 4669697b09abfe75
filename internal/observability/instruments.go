package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of the control plane.
const MeterName = "deployplane"

// Instruments groups the counters recorded by the control plane services.
// A zero Instruments is not usable; build one with NewInstruments.
type Instruments struct {
	jobsCreated       metric.Int64Counter
	jobsClaimed       metric.Int64Counter
	claimEmpty        metric.Int64Counter
	jobsTimedOut      metric.Int64Counter
	jobsReported      metric.Int64Counter
	placementsCreated metric.Int64Counter
	placementsMoved   metric.Int64Counter
}

// NewInstruments registers the counters on the global MeterProvider. Before
// InitMetrics runs the global provider is a no-op, which is what tests use.
func NewInstruments() (*Instruments, error) {
	meter := otel.Meter(MeterName)
	var (
		in  Instruments
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&in.jobsCreated, "jobs.created", "Jobs accepted by the control plane"},
		{&in.jobsClaimed, "jobs.claimed", "Jobs handed to a runner"},
		{&in.claimEmpty, "jobs.claim_empty", "Claim polls that found no work"},
		{&in.jobsTimedOut, "jobs.timed_out", "RUNNING jobs failed by the global timeout"},
		{&in.jobsReported, "jobs.reported", "Terminal reports by runners"},
		{&in.placementsCreated, "placements.created", "Sticky placements created"},
		{&in.placementsMoved, "placements.moved", "Placements moved by reassign or drain"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}
	return &in, nil
}

// MustInstruments is NewInstruments for wiring code that cannot recover.
func MustInstruments() *Instruments {
	in, err := NewInstruments()
	if err != nil {
		panic(err)
	}
	return in
}

func (in *Instruments) JobCreated(ctx context.Context)  { in.jobsCreated.Add(ctx, 1) }
func (in *Instruments) JobClaimed(ctx context.Context)  { in.jobsClaimed.Add(ctx, 1) }
func (in *Instruments) ClaimEmpty(ctx context.Context)  { in.claimEmpty.Add(ctx, 1) }
func (in *Instruments) JobTimedOut(ctx context.Context) { in.jobsTimedOut.Add(ctx, 1) }
func (in *Instruments) PlacementCreated(ctx context.Context) {
	in.placementsCreated.Add(ctx, 1)
}

// JobReported counts a runner report, labelled by the resulting status.
func (in *Instruments) JobReported(ctx context.Context, status string) {
	in.jobsReported.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// PlacementsMoved counts placements moved to another node.
func (in *Instruments) PlacementsMoved(ctx context.Context, n int) {
	if n > 0 {
		in.placementsMoved.Add(ctx, int64(n))
	}
}

// RegisterQueueDepth exposes an observable gauge fed by count on every scrape.
func RegisterQueueDepth(count func(ctx context.Context) (int64, error)) error {
	meter := otel.Meter(MeterName)
	_, err := meter.Int64ObservableGauge("jobs.pending",
		metric.WithDescription("Jobs waiting to be claimed"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			n, err := count(ctx)
			if err != nil {
				// a failing store must not break the scrape
				return nil
			}
			obs.Observe(n)
			return nil
		}),
	)
	return err
}
