package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"deployplane/internal/apperr"
	"deployplane/internal/apprun"
)

// SaveAppRun upserts the last-known run of an app.
func (s *Store) SaveAppRun(ctx context.Context, r apprun.AppRun) error {
	var nodeID sql.NullInt64
	if r.NodeID != nil {
		nodeID = sql.NullInt64{Int64: *r.NodeID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deploy_app_runs (app_id, node_id, last_job_id, last_job_status, last_error, last_deployed_at, last_active_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (app_id) DO UPDATE
		SET node_id = EXCLUDED.node_id,
		    last_job_id = EXCLUDED.last_job_id,
		    last_job_status = EXCLUDED.last_job_status,
		    last_error = EXCLUDED.last_error,
		    last_deployed_at = EXCLUDED.last_deployed_at,
		    last_active_at = EXCLUDED.last_active_at
	`, r.AppID, nodeID, nullString(r.LastJobID), nullString(r.LastJobStatus), nullString(r.LastError),
		nullTime(r.LastDeployedAt), r.LastActiveAt)
	if err != nil {
		return fmt.Errorf("failed to save app run of %s: %w", r.AppID, err)
	}
	return nil
}

// GetAppRun returns the last-known run of appID.
func (s *Store) GetAppRun(ctx context.Context, appID string) (apprun.AppRun, error) {
	var (
		r        apprun.AppRun
		nodeID   sql.NullInt64
		jobID    sql.NullString
		status   sql.NullString
		lastErr  sql.NullString
		deployed sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT app_id, node_id, last_job_id, last_job_status, last_error, last_deployed_at, last_active_at
		FROM deploy_app_runs WHERE app_id = $1
	`, appID).Scan(&r.AppID, &nodeID, &jobID, &status, &lastErr, &deployed, &r.LastActiveAt)
	if errors.Is(err, sql.ErrNoRows) {
		return apprun.AppRun{}, apperr.NotFound("app run not found: %s", appID)
	}
	if err != nil {
		return apprun.AppRun{}, err
	}
	if nodeID.Valid {
		v := nodeID.Int64
		r.NodeID = &v
	}
	r.LastJobID = jobID.String
	r.LastJobStatus = status.String
	r.LastError = lastErr.String
	if deployed.Valid {
		t := deployed.Time
		r.LastDeployedAt = &t
	}
	return r, nil
}

// DeleteAppRun removes the last-known run of appID.
func (s *Store) DeleteAppRun(ctx context.Context, appID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM deploy_app_runs WHERE app_id = $1`, appID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete app run of %s: %w", appID, err)
	}
	return res.RowsAffected()
}
