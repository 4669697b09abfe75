package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"deployplane/internal/apperr"
	"deployplane/internal/placement"
)

const nodeColumns = `id, name, agent_base_url, gateway_base_url, enabled, weight, last_heartbeat_at, disk_free_pct, disk_free_bytes, container_count, created_at, updated_at`

func scanNode(row rowScanner) (placement.Node, error) {
	var (
		n         placement.Node
		heartbeat sql.NullTime
		diskPct   sql.NullFloat64
		diskBytes sql.NullInt64
		count     sql.NullInt64
	)
	err := row.Scan(&n.ID, &n.Name, &n.AgentBaseURL, &n.GatewayBaseURL, &n.Enabled, &n.Weight,
		&heartbeat, &diskPct, &diskBytes, &count, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return placement.Node{}, err
	}
	if heartbeat.Valid {
		t := heartbeat.Time
		n.LastHeartbeatAt = &t
	}
	if diskPct.Valid {
		v := diskPct.Float64
		n.DiskFreePct = &v
	}
	if diskBytes.Valid {
		v := diskBytes.Int64
		n.DiskFreeBytes = &v
	}
	if count.Valid {
		v := int(count.Int64)
		n.ContainerCount = &v
	}
	return n, nil
}

func nodeArgs(n placement.Node) []interface{} {
	var (
		diskPct   sql.NullFloat64
		diskBytes sql.NullInt64
		count     sql.NullInt64
	)
	if n.DiskFreePct != nil {
		diskPct = sql.NullFloat64{Float64: *n.DiskFreePct, Valid: true}
	}
	if n.DiskFreeBytes != nil {
		diskBytes = sql.NullInt64{Int64: *n.DiskFreeBytes, Valid: true}
	}
	if n.ContainerCount != nil {
		count = sql.NullInt64{Int64: int64(*n.ContainerCount), Valid: true}
	}
	return []interface{}{
		n.Name, n.AgentBaseURL, n.GatewayBaseURL, n.Enabled, n.Weight,
		nullTime(n.LastHeartbeatAt), diskPct, diskBytes, count, n.CreatedAt, n.UpdatedAt,
	}
}

// SaveNode inserts a node when ID is zero, otherwise updates it by id.
func (s *Store) SaveNode(ctx context.Context, n placement.Node) (placement.Node, error) {
	if n.ID == 0 {
		row := s.db.QueryRowContext(ctx, `
			INSERT INTO runtime_nodes (name, agent_base_url, gateway_base_url, enabled, weight, last_heartbeat_at, disk_free_pct, disk_free_bytes, container_count, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id
		`, nodeArgs(n)...)
		if err := row.Scan(&n.ID); err != nil {
			if isUniqueViolation(err) {
				return placement.Node{}, apperr.Conflict("runtime node name already exists: %s", n.Name)
			}
			return placement.Node{}, fmt.Errorf("failed to insert runtime node %s: %w", n.Name, err)
		}
		return n, nil
	}

	args := append([]interface{}{n.ID}, nodeArgs(n)...)
	res, err := s.db.ExecContext(ctx, `
		UPDATE runtime_nodes
		SET name = $2, agent_base_url = $3, gateway_base_url = $4, enabled = $5, weight = $6,
		    last_heartbeat_at = $7, disk_free_pct = $8, disk_free_bytes = $9, container_count = $10,
		    created_at = $11, updated_at = $12
		WHERE id = $1
	`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return placement.Node{}, apperr.Conflict("runtime node name already exists: %s", n.Name)
		}
		return placement.Node{}, fmt.Errorf("failed to update runtime node %d: %w", n.ID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return placement.Node{}, apperr.NotFound("runtime node not found: %d", n.ID)
	}
	return n, nil
}

// GetNode returns a node by id.
func (s *Store) GetNode(ctx context.Context, id int64) (placement.Node, error) {
	n, err := scanNode(s.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM runtime_nodes WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return placement.Node{}, apperr.NotFound("runtime node not found: %d", id)
	}
	return n, err
}

// GetNodeByName returns a node by its unique name.
func (s *Store) GetNodeByName(ctx context.Context, name string) (placement.Node, error) {
	n, err := scanNode(s.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM runtime_nodes WHERE name = $1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return placement.Node{}, apperr.NotFound("runtime node not found: %s", name)
	}
	return n, err
}

// ListNodes returns all nodes ordered by id.
func (s *Store) ListNodes(ctx context.Context) ([]placement.Node, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+nodeColumns+` FROM runtime_nodes ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list runtime nodes query failed: %w", err)
	}
	defer rows.Close()

	nodes := []placement.Node{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("list runtime nodes scan failed: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// SavePlacement upserts the placement of p.AppID.
func (s *Store) SavePlacement(ctx context.Context, p placement.Placement) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runtime_placements (app_id, node_id, last_active_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (app_id) DO UPDATE
		SET node_id = EXCLUDED.node_id, last_active_at = EXCLUDED.last_active_at
	`, p.AppID, p.NodeID, p.LastActiveAt)
	if err != nil {
		return fmt.Errorf("failed to save placement of %s: %w", p.AppID, err)
	}
	return nil
}

// CreatePlacementIfAbsent keeps an existing placement and returns it.
func (s *Store) CreatePlacementIfAbsent(ctx context.Context, p placement.Placement) (placement.Placement, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runtime_placements (app_id, node_id, last_active_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (app_id) DO NOTHING
	`, p.AppID, p.NodeID, p.LastActiveAt)
	if err != nil {
		return placement.Placement{}, fmt.Errorf("failed to create placement of %s: %w", p.AppID, err)
	}
	return s.GetPlacement(ctx, p.AppID)
}

// GetPlacement returns the placement of appID.
func (s *Store) GetPlacement(ctx context.Context, appID string) (placement.Placement, error) {
	var p placement.Placement
	err := s.db.QueryRowContext(ctx,
		`SELECT app_id, node_id, last_active_at FROM runtime_placements WHERE app_id = $1`, appID,
	).Scan(&p.AppID, &p.NodeID, &p.LastActiveAt)
	if errors.Is(err, sql.ErrNoRows) {
		return placement.Placement{}, apperr.NotFound("placement not found: %s", appID)
	}
	return p, err
}

// ListPlacementsByNode pages through a node's placements by app id.
func (s *Store) ListPlacementsByNode(ctx context.Context, nodeID int64, offset, limit int) ([]placement.Placement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT app_id, node_id, last_active_at
		FROM runtime_placements
		WHERE node_id = $1
		ORDER BY app_id ASC
		OFFSET $2 LIMIT $3
	`, nodeID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list placements query failed: %w", err)
	}
	defer rows.Close()

	out := []placement.Placement{}
	for rows.Next() {
		var p placement.Placement
		if err := rows.Scan(&p.AppID, &p.NodeID, &p.LastActiveAt); err != nil {
			return nil, fmt.Errorf("list placements scan failed: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountPlacementsByNode counts a node's placements.
func (s *Store) CountPlacementsByNode(ctx context.Context, nodeID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runtime_placements WHERE node_id = $1`, nodeID).Scan(&n)
	return n, err
}

// DeletePlacement removes the placement of appID.
func (s *Store) DeletePlacement(ctx context.Context, appID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runtime_placements WHERE app_id = $1`, appID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete placement of %s: %w", appID, err)
	}
	return res.RowsAffected()
}
