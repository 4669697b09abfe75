// Package job contains the deploy job entity and its state machine.
//
// A Job is a value. Every operation validates against the current state and
// returns a modified copy, leaving the receiver untouched. Stores persist the
// returned value; the Version field is owned by the stores.
package job

import (
	"strings"
	"time"

	"deployplane/internal/apperr"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transition out of s is allowed.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// ParseStatus parses a status name, case-insensitively.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed, StatusCancelled:
		return s, nil
	}
	return "", apperr.Invalid("unknown job status %q", raw)
}

// Type is the operation a job performs.
type Type string

const TypeBuildAndDeploy Type = "BUILD_AND_DEPLOY"

// ParseType parses a job type name, case-insensitively.
func ParseType(raw string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(raw)))
	switch t {
	case TypeBuildAndDeploy:
		return t, nil
	case "":
		return "", apperr.Invalid("job type is required")
	}
	return "", apperr.Invalid("unknown job type %q", raw)
}

// DefaultFailMessage is recorded when a job fails without a reason.
const DefaultFailMessage = "task failed"

// Job is a unit of deploy work.
type Job struct {
	ID            string
	Type          Type
	Status        Status
	Payload       Payload
	ErrorMessage  string
	RunnerID      string
	LeaseExpireAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// Version is the optimistic concurrency token. Zero means never persisted.
	Version int64
}

// New creates a PENDING job with a fresh id.
func New(t Type, payload Payload, now time.Time) Job {
	return Job{
		ID:        uuid.NewString(),
		Type:      t,
		Status:    StatusPending,
		Payload:   payload.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a copy that shares nothing mutable with j.
func (j Job) Clone() Job {
	out := j
	out.Payload = j.Payload.Clone()
	if j.LeaseExpireAt != nil {
		lease := *j.LeaseExpireAt
		out.LeaseExpireAt = &lease
	}
	return out
}

// AppID returns the payload's appId, or "".
func (j Job) AppID() string {
	return j.Payload.AppID()
}

// LeaseExpired reports whether a RUNNING job may be taken over at now.
// A RUNNING job without a lease counts as expired.
func (j Job) LeaseExpired(now time.Time) bool {
	return j.LeaseExpireAt == nil || j.LeaseExpireAt.Before(now)
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusCancelled
	case StatusRunning:
		return to == StatusSucceeded || to == StatusFailed || to == StatusCancelled
	}
	return false
}

// TransitionTo moves the job to status to. Leaving RUNNING clears the runner
// binding and the lease.
func (j Job) TransitionTo(to Status, now time.Time) (Job, error) {
	if !CanTransition(j.Status, to) {
		return Job{}, apperr.Conflict("illegal transition: %s -> %s", j.Status, to)
	}
	if j.Status == to {
		return j.Clone(), nil
	}
	out := j.Clone()
	out.Status = to
	out.UpdatedAt = now
	if to != StatusRunning {
		out.RunnerID = ""
		out.LeaseExpireAt = nil
	}
	return out, nil
}

// Claim binds a PENDING job to runnerID until leaseExpireAt.
func (j Job) Claim(runnerID string, leaseExpireAt time.Time, now time.Time) (Job, error) {
	runnerID = strings.TrimSpace(runnerID)
	if runnerID == "" {
		return Job{}, apperr.Invalid("runnerId is required")
	}
	if leaseExpireAt.IsZero() {
		return Job{}, apperr.Invalid("leaseExpireAt is required")
	}
	if j.Status == StatusRunning {
		return Job{}, apperr.Conflict("job already running")
	}
	out, err := j.TransitionTo(StatusRunning, now)
	if err != nil {
		return Job{}, err
	}
	out.RunnerID = runnerID
	lease := leaseExpireAt
	out.LeaseExpireAt = &lease

	attempt := int64(1)
	if prev, ok := out.Payload[KeyAttempt]; ok && !prev.IsNull() {
		if n, err := prev.Int64(); err == nil {
			attempt = n + 1
		}
	}
	out.Payload[KeyRunStartedAt] = Int(now.UnixMilli())
	out.Payload[KeyAttempt] = Int(attempt)
	return out, nil
}

// Heartbeat extends the lease held by runnerID.
func (j Job) Heartbeat(runnerID string, newLeaseExpireAt time.Time, now time.Time) (Job, error) {
	runnerID = strings.TrimSpace(runnerID)
	if runnerID == "" {
		return Job{}, apperr.Invalid("runnerId is required")
	}
	if newLeaseExpireAt.IsZero() {
		return Job{}, apperr.Invalid("leaseExpireAt is required")
	}
	if j.Status != StatusRunning {
		return Job{}, apperr.Conflict("job is not running: %s", j.Status)
	}
	if j.RunnerID != runnerID {
		return Job{}, apperr.Conflict("job is bound to another runner")
	}
	out := j.Clone()
	lease := newLeaseExpireAt
	out.LeaseExpireAt = &lease
	out.UpdatedAt = now
	return out, nil
}

// Succeed marks the job SUCCEEDED.
func (j Job) Succeed(now time.Time) (Job, error) {
	if j.Status == StatusSucceeded {
		return j.Clone(), nil
	}
	out, err := j.TransitionTo(StatusSucceeded, now)
	if err != nil {
		return Job{}, err
	}
	out.ErrorMessage = ""
	return out, nil
}

// Fail marks the job FAILED with message, or DefaultFailMessage when blank.
// A job that is already FAILED keeps its original message.
func (j Job) Fail(message string, now time.Time) (Job, error) {
	if j.Status == StatusFailed {
		return j.Clone(), nil
	}
	out, err := j.TransitionTo(StatusFailed, now)
	if err != nil {
		return Job{}, err
	}
	if strings.TrimSpace(message) == "" {
		message = DefaultFailMessage
	}
	out.ErrorMessage = message
	return out, nil
}

// Cancel marks the job CANCELLED.
func (j Job) Cancel(now time.Time) (Job, error) {
	if j.Status == StatusCancelled {
		return j.Clone(), nil
	}
	out, err := j.TransitionTo(StatusCancelled, now)
	if err != nil {
		return Job{}, err
	}
	out.ErrorMessage = ""
	return out, nil
}

// ReclaimByLeaseTimeout returns an abandoned RUNNING job to PENDING. The
// attempt counter and the rest of the payload are kept.
func (j Job) ReclaimByLeaseTimeout(now time.Time) (Job, error) {
	if j.Status != StatusRunning {
		return Job{}, apperr.Conflict("job is not running: %s", j.Status)
	}
	if !j.LeaseExpired(now) {
		return Job{}, apperr.Conflict("lease not expired")
	}
	out := j.Clone()
	out.Status = StatusPending
	out.RunnerID = ""
	out.LeaseExpireAt = nil
	out.UpdatedAt = now
	return out, nil
}

// WithPayloadPatch merges patch into the payload. A null value removes the key.
func (j Job) WithPayloadPatch(patch Payload, now time.Time) Job {
	out := j.Clone()
	for k, v := range patch {
		if v.IsNull() {
			delete(out.Payload, k)
			continue
		}
		out.Payload[k] = v.clone()
	}
	out.UpdatedAt = now
	return out
}

// RunStartedAt returns when the current run began: the payload's
// runStartedAt when present and numeric, else CreatedAt.
func (j Job) RunStartedAt() time.Time {
	if v, ok := j.Payload[KeyRunStartedAt]; ok && !v.IsNull() {
		if ms, err := v.Int64(); err == nil {
			return time.UnixMilli(ms)
		}
	}
	return j.CreatedAt
}
