package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deployplane/internal/apperr"
	"deployplane/internal/job"
	"deployplane/internal/store"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// List bounds for JobService.List.
const (
	MinListLimit = 1
	MaxListLimit = 200
)

// JobService runs the job lifecycle on top of a JobStore.
type JobService struct {
	jobs       store.JobStore
	maxRunning time.Duration
	options
}

// NewJobService creates a JobService. maxRunning <= 0 disables the global
// RUNNING timeout.
func NewJobService(jobs store.JobStore, maxRunning time.Duration, opts ...Option) *JobService {
	return &JobService{jobs: jobs, maxRunning: maxRunning, options: buildOptions(opts)}
}

// Create submits a PENDING job. A job naming an appId is refused while
// another job for that app is still active.
func (s *JobService) Create(ctx context.Context, t job.Type, payload job.Payload) (out job.Job, err error) {
	ctx, span := tracer.Start(ctx, "JobService.Create")
	defer func() { endSpan(span, err) }()

	t, err = job.ParseType(string(t))
	if err != nil {
		return job.Job{}, err
	}

	now := s.now()
	if appID := payload.AppID(); appID != "" {
		span.SetAttributes(attribute.String("app.id", appID))
		active, err := s.jobs.ExistsActiveJobForApp(ctx, appID, now)
		if err != nil {
			return job.Job{}, fmt.Errorf("failed to check active jobs of %s: %w", appID, err)
		}
		if active {
			return job.Job{}, apperr.Conflict("app %s is already being deployed; wait for it to finish or cancel it first", appID)
		}
	}

	out, err = s.jobs.Save(ctx, job.New(t, payload, now))
	if err != nil {
		return job.Job{}, err
	}
	s.metrics.JobCreated(ctx)
	s.log(ctx).Info("job created", "job_id", out.ID, "app_id", out.AppID(), "type", out.Type)
	return out, nil
}

// Get returns a job or a not-found error.
func (s *JobService) Get(ctx context.Context, jobID string) (job.Job, error) {
	if strings.TrimSpace(jobID) == "" {
		return job.Job{}, apperr.Invalid("jobId is required")
	}
	return s.jobs.Get(ctx, jobID)
}

// List returns the most recent jobs. limit is clamped to [1,200].
func (s *JobService) List(ctx context.Context, limit int) ([]job.Job, error) {
	return s.jobs.List(ctx, clamp(limit, MinListLimit, MaxListLimit))
}

// ClaimNext hands the next claimable job to runnerID. ok is false when no
// job is available.
func (s *JobService) ClaimNext(ctx context.Context, runnerID string, lease time.Duration) (out job.Job, ok bool, err error) {
	ctx, span := tracer.Start(ctx, "JobService.ClaimNext",
		trace.WithAttributes(attribute.String("runner.id", runnerID)))
	defer func() { endSpan(span, err) }()

	runnerID = strings.TrimSpace(runnerID)
	if runnerID == "" {
		return job.Job{}, false, apperr.Invalid("runnerId is required")
	}
	if lease <= 0 {
		return job.Job{}, false, apperr.Invalid("leaseDuration must be positive")
	}

	out, ok, err = s.jobs.ClaimNext(ctx, runnerID, lease, s.now())
	if err != nil {
		return job.Job{}, false, err
	}
	if !ok {
		s.metrics.ClaimEmpty(ctx)
		return job.Job{}, false, nil
	}
	span.SetAttributes(attribute.String("job.id", out.ID))
	s.metrics.JobClaimed(ctx)
	s.log(ctx).Info("job claimed", "job_id", out.ID, "runner_id", runnerID, "app_id", out.AppID())
	return out, true, nil
}

// Heartbeat extends the lease of a RUNNING job and records the optional
// progress phase. A job past the global timeout is failed instead and
// returned without extension.
func (s *JobService) Heartbeat(ctx context.Context, jobID, runnerID string, extend time.Duration, phase, phaseMessage string) (out job.Job, err error) {
	ctx, span := tracer.Start(ctx, "JobService.Heartbeat",
		trace.WithAttributes(attribute.String("job.id", jobID), attribute.String("runner.id", runnerID)))
	defer func() { endSpan(span, err) }()

	if extend <= 0 {
		return job.Job{}, apperr.Invalid("extendDuration must be positive")
	}
	current, err := s.Get(ctx, jobID)
	if err != nil {
		return job.Job{}, err
	}

	now := s.now()
	if failed, ok, err := s.failIfTimedOut(ctx, current, now); ok || err != nil {
		return failed, err
	}

	updated, err := current.Heartbeat(runnerID, now.Add(extend), now)
	if err != nil {
		return job.Job{}, err
	}

	patch := job.Payload{}
	if p := strings.TrimSpace(phase); p != "" {
		patch[job.KeyPhase] = job.String(p)
	}
	if m := strings.TrimSpace(phaseMessage); m != "" {
		patch[job.KeyPhaseMessage] = job.String(m)
	}
	if len(patch) > 0 {
		updated = updated.WithPayloadPatch(patch, now)
	}
	return s.jobs.Save(ctx, updated)
}

// Report records the outcome sent by the runner that holds the job.
func (s *JobService) Report(ctx context.Context, jobID, runnerID string, to job.Status, errorMessage string) (out job.Job, err error) {
	ctx, span := tracer.Start(ctx, "JobService.Report",
		trace.WithAttributes(attribute.String("job.id", jobID), attribute.String("job.status", string(to))))
	defer func() { endSpan(span, err) }()

	current, err := s.Get(ctx, jobID)
	if err != nil {
		return job.Job{}, err
	}

	now := s.now()
	if failed, ok, err := s.failIfTimedOut(ctx, current, now); ok || err != nil {
		return failed, err
	}

	if current.Status == job.StatusRunning && current.RunnerID != "" && current.RunnerID != strings.TrimSpace(runnerID) {
		return job.Job{}, apperr.Conflict("runnerId mismatch: job %s is held by another runner", jobID)
	}

	out, err = s.transition(ctx, current, to, errorMessage, now)
	if err != nil {
		return job.Job{}, err
	}
	s.metrics.JobReported(ctx, string(out.Status))
	s.log(ctx).Info("job reported", "job_id", out.ID, "runner_id", runnerID, "status", out.Status)
	return out, nil
}

// Transition moves a job to status to. RUNNING can only be entered through
// ClaimNext.
func (s *JobService) Transition(ctx context.Context, jobID string, to job.Status, errorMessage string) (job.Job, error) {
	current, err := s.Get(ctx, jobID)
	if err != nil {
		return job.Job{}, err
	}
	return s.transition(ctx, current, to, errorMessage, s.now())
}

// Cancel moves a job to CANCELLED.
func (s *JobService) Cancel(ctx context.Context, jobID string) (job.Job, error) {
	return s.Transition(ctx, jobID, job.StatusCancelled, "")
}

func (s *JobService) transition(ctx context.Context, current job.Job, to job.Status, errorMessage string, now time.Time) (job.Job, error) {
	var (
		updated job.Job
		err     error
	)
	switch to {
	case job.StatusRunning:
		return job.Job{}, apperr.Invalid("RUNNING can only be entered by claiming the job")
	case job.StatusSucceeded:
		updated, err = current.Succeed(now)
	case job.StatusFailed:
		updated, err = current.Fail(errorMessage, now)
	case job.StatusCancelled:
		updated, err = current.Cancel(now)
	case job.StatusPending:
		updated, err = current.TransitionTo(job.StatusPending, now)
	default:
		return job.Job{}, apperr.Invalid("unknown job status %q", to)
	}
	if err != nil {
		return job.Job{}, err
	}
	// repeating the current status changes nothing, so nothing is written
	if current.Status == to {
		return current, nil
	}
	return s.jobs.Save(ctx, updated)
}

// failIfTimedOut fails a RUNNING job that has run for longer than
// maxRunning. ok reports whether the job was failed.
func (s *JobService) failIfTimedOut(ctx context.Context, current job.Job, now time.Time) (job.Job, bool, error) {
	if current.Status != job.StatusRunning || s.maxRunning <= 0 {
		return job.Job{}, false, nil
	}
	if now.Sub(current.RunStartedAt()) <= s.maxRunning {
		return job.Job{}, false, nil
	}

	msg := TimeoutMessage(s.maxRunning)
	failed, err := current.Fail(msg, now)
	if err != nil {
		return job.Job{}, false, err
	}
	saved, err := s.jobs.Save(ctx, failed)
	if err != nil {
		return job.Job{}, false, err
	}
	s.metrics.JobTimedOut(ctx)
	s.log(ctx).Warn("job timed out", "job_id", current.ID, "runner_id", current.RunnerID, "max_running", s.maxRunning)
	return saved, true, nil
}

// TimeoutMessage is the error recorded on jobs failed by the global timeout.
func TimeoutMessage(maxRunning time.Duration) string {
	return fmt.Sprintf("task timed out: RUNNING exceeded %d seconds (job.max_running_seconds)", int64(maxRunning/time.Second))
}
