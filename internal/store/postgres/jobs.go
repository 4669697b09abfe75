package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"deployplane/internal/apperr"
	"deployplane/internal/job"
	"deployplane/internal/store"
)

const jobColumns = `id, type, status, payload, error_message, runner_id, lease_expire_at, created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (job.Job, error) {
	var (
		j        job.Job
		payload  []byte
		errMsg   sql.NullString
		runnerID sql.NullString
		lease    sql.NullTime
	)
	if err := row.Scan(&j.ID, &j.Type, &j.Status, &payload, &errMsg, &runnerID, &lease, &j.CreatedAt, &j.UpdatedAt, &j.Version); err != nil {
		return job.Job{}, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &j.Payload); err != nil {
			return job.Job{}, fmt.Errorf("failed to decode payload of job %s: %w", j.ID, err)
		}
	}
	if j.Payload == nil {
		j.Payload = job.Payload{}
	}
	j.ErrorMessage = errMsg.String
	j.RunnerID = runnerID.String
	if lease.Valid {
		t := lease.Time
		j.LeaseExpireAt = &t
	}
	return j, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Save inserts a new job or performs a version-checked update.
func (s *Store) Save(ctx context.Context, j job.Job) (job.Job, error) {
	return s.saveJob(ctx, s.db, j)
}

func (s *Store) saveJob(ctx context.Context, tx store.DBTransaction, j job.Job) (job.Job, error) {
	executor := s.getExecutor(tx)

	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return job.Job{}, fmt.Errorf("failed to encode payload of job %s: %w", j.ID, err)
	}

	if j.Version == 0 {
		res, err := executor.ExecContext(ctx, `
			INSERT INTO deploy_jobs (id, type, app_id, status, payload, error_message, runner_id, lease_expire_at, created_at, updated_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
			ON CONFLICT (id) DO NOTHING
		`,
			j.ID, j.Type, nullString(j.AppID()), j.Status, payload,
			nullString(j.ErrorMessage), nullString(j.RunnerID), nullTime(j.LeaseExpireAt),
			j.CreatedAt, j.UpdatedAt,
		)
		if err != nil {
			return job.Job{}, fmt.Errorf("failed to insert job %s: %w", j.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return job.Job{}, apperr.Conflict("job %s already exists", j.ID)
		}
		out := j.Clone()
		out.Version = 1
		return out, nil
	}

	res, err := executor.ExecContext(ctx, `
		UPDATE deploy_jobs
		SET type = $2, app_id = $3, status = $4, payload = $5, error_message = $6,
		    runner_id = $7, lease_expire_at = $8, updated_at = $9, version = version + 1
		WHERE id = $1 AND version = $10
	`,
		j.ID, j.Type, nullString(j.AppID()), j.Status, payload,
		nullString(j.ErrorMessage), nullString(j.RunnerID), nullTime(j.LeaseExpireAt),
		j.UpdatedAt, j.Version,
	)
	if err != nil {
		return job.Job{}, fmt.Errorf("failed to update job %s: %w", j.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := executor.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM deploy_jobs WHERE id = $1)`, j.ID).Scan(&exists); err != nil {
			return job.Job{}, err
		}
		if !exists {
			return job.Job{}, apperr.NotFound("job not found: %s", j.ID)
		}
		return job.Job{}, apperr.Conflict("job %s was modified concurrently", j.ID)
	}
	out := j.Clone()
	out.Version = j.Version + 1
	return out, nil
}

// Get returns a job by id.
func (s *Store) Get(ctx context.Context, id string) (job.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM deploy_jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return job.Job{}, apperr.NotFound("job not found: %s", id)
	}
	return j, err
}

// List returns up to limit jobs, most recent first.
func (s *Store) List(ctx context.Context, limit int) ([]job.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM deploy_jobs
		ORDER BY created_at DESC, id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs query failed: %w", err)
	}
	defer rows.Close()

	jobs := []job.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs scan failed: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ExistsActiveJobForApp reports whether appID has a PENDING job or a RUNNING
// job with a live lease. Expired RUNNING jobs are ignored on purpose. A lease
// ending exactly at now is still live, matching job.LeaseExpired.
func (s *Store) ExistsActiveJobForApp(ctx context.Context, appID string, now time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM deploy_jobs
			WHERE app_id = $1
			  AND (status = $2 OR (status = $3 AND lease_expire_at >= $4))
		)
	`, appID, job.StatusPending, job.StatusRunning, now).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("active job check failed: %w", err)
	}
	return exists, nil
}

// oldestPending returns the oldest PENDING job.
func (s *Store) oldestPending(ctx context.Context) (job.Job, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM deploy_jobs
		WHERE status = $1
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, job.StatusPending)
	return scanOptional(row)
}

// oldestExpired returns the oldest RUNNING job whose lease has lapsed.
func (s *Store) oldestExpired(ctx context.Context, now time.Time) (job.Job, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM deploy_jobs
		WHERE status = $1 AND (lease_expire_at IS NULL OR lease_expire_at < $2)
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, job.StatusRunning, now)
	return scanOptional(row)
}

func scanOptional(row rowScanner) (job.Job, bool, error) {
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return job.Job{}, false, nil
	}
	if err != nil {
		return job.Job{}, false, err
	}
	return j, true, nil
}

// ClaimNext claims with optimistic concurrency: read the best candidate,
// apply the domain transition, and write it back only if the version is
// unchanged. A lost race retries; after store.MaxClaimAttempts losses the
// caller is told no job is available.
func (s *Store) ClaimNext(ctx context.Context, runnerID string, leaseDuration time.Duration, now time.Time) (job.Job, bool, error) {
	for attempt := 0; attempt < store.MaxClaimAttempts; attempt++ {
		candidate, ok, err := s.oldestPending(ctx)
		if err != nil {
			return job.Job{}, false, fmt.Errorf("claim query failed: %w", err)
		}
		if !ok {
			expired, found, err := s.oldestExpired(ctx, now)
			if err != nil {
				return job.Job{}, false, fmt.Errorf("reclaim query failed: %w", err)
			}
			if !found {
				return job.Job{}, false, nil
			}
			candidate, err = expired.ReclaimByLeaseTimeout(now)
			if err != nil {
				return job.Job{}, false, err
			}
		}

		claimed, err := candidate.Claim(runnerID, now.Add(leaseDuration), now)
		if err != nil {
			return job.Job{}, false, err
		}

		saved, err := s.saveJob(ctx, nil, claimed)
		if apperr.Is(err, apperr.KindConflict) || apperr.Is(err, apperr.KindNotFound) {
			continue
		}
		if err != nil {
			return job.Job{}, false, err
		}
		return saved, true, nil
	}
	return job.Job{}, false, nil
}

// DeleteByAppID removes every job of appID.
func (s *Store) DeleteByAppID(ctx context.Context, appID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM deploy_jobs WHERE app_id = $1`, appID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete jobs of app %s: %w", appID, err)
	}
	return res.RowsAffected()
}

// CountByStatus counts jobs in status.
func (s *Store) CountByStatus(ctx context.Context, status job.Status) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deploy_jobs WHERE status = $1`, status).Scan(&n)
	return n, err
}
