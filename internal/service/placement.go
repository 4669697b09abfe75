package service

import (
	"context"
	"fmt"
	"strings"

	"deployplane/internal/apperr"
	"deployplane/internal/placement"
	"deployplane/internal/store"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Placement page bounds.
const (
	MinPlacementLimit = 1
	MaxPlacementLimit = 2000
)

// PlacementConfig tunes node selection.
type PlacementConfig struct {
	// Strategy is placement.StrategyDiskAware or placement.StrategyHash.
	Strategy         string
	Freshness        placement.Freshness
	DiskFreeMinPct   float64
	DiskFreeDrainPct float64
}

// NodeHeartbeat is what a runtime node agent reports periodically. Nil
// telemetry and blank URLs leave the stored values unchanged.
type NodeHeartbeat struct {
	Name           string
	AgentBaseURL   string
	GatewayBaseURL string
	DiskFreePct    *float64
	DiskFreeBytes  *int64
	ContainerCount *int
}

// NodeUpsert is an operator edit of a node. Nil fields and blank URLs are
// left unchanged on existing nodes.
type NodeUpsert struct {
	Name           string
	AgentBaseURL   string
	GatewayBaseURL string
	Enabled        *bool
	Weight         *int
}

// NodeStatus is a node with its dashboard health label.
type NodeStatus struct {
	placement.Node
	Health placement.Health
}

// PlacementService maps apps to runtime nodes.
type PlacementService struct {
	nodes      store.NodeStore
	placements store.PlacementStore
	cfg        PlacementConfig
	options
}

// NewPlacementService creates a PlacementService.
func NewPlacementService(nodes store.NodeStore, placements store.PlacementStore, cfg PlacementConfig, opts ...Option) *PlacementService {
	if cfg.Strategy == "" {
		cfg.Strategy = placement.StrategyDiskAware
	}
	return &PlacementService{nodes: nodes, placements: placements, cfg: cfg, options: buildOptions(opts)}
}

// EnsurePlacement returns the sticky placement of appID, choosing a node
// and persisting it on first use.
func (s *PlacementService) EnsurePlacement(ctx context.Context, appID string) (p placement.Placement, err error) {
	ctx, span := tracer.Start(ctx, "PlacementService.EnsurePlacement",
		trace.WithAttributes(attribute.String("app.id", appID)))
	defer func() { endSpan(span, err) }()

	appID = strings.TrimSpace(appID)
	if appID == "" {
		return placement.Placement{}, apperr.Invalid("appId is required")
	}

	p, err = s.placements.GetPlacement(ctx, appID)
	if err == nil {
		return p, nil
	}
	if !apperr.Is(err, apperr.KindNotFound) {
		return placement.Placement{}, err
	}

	chosen, err := s.chooseNode(ctx, appID)
	if err != nil {
		return placement.Placement{}, err
	}
	// Concurrent first resolutions agree on whichever placement landed first.
	p, err = s.placements.CreatePlacementIfAbsent(ctx, placement.Placement{
		AppID:        appID,
		NodeID:       chosen.ID,
		LastActiveAt: s.now(),
	})
	if err != nil {
		return placement.Placement{}, err
	}
	if p.NodeID == chosen.ID {
		s.metrics.PlacementCreated(ctx)
	}
	span.SetAttributes(attribute.Int64("node.id", p.NodeID))
	return p, nil
}

// ResolveNode returns the node that serves appID. The node must still be
// usable; an unhealthy node is reported, not migrated away from.
func (s *PlacementService) ResolveNode(ctx context.Context, appID string) (placement.Node, error) {
	p, err := s.EnsurePlacement(ctx, appID)
	if err != nil {
		return placement.Node{}, err
	}
	n, err := s.nodes.GetNode(ctx, p.NodeID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return placement.Node{}, apperr.NotFound("runtime node not found: nodeId=%d", p.NodeID)
		}
		return placement.Node{}, err
	}
	if !n.Enabled {
		return placement.Node{}, apperr.Conflict("runtime node disabled: nodeId=%d", n.ID)
	}
	if !n.HasEndpoints() {
		return placement.Node{}, apperr.Conflict("runtime node baseUrl empty: nodeId=%d", n.ID)
	}
	if !s.cfg.Freshness.Fresh(n, s.now()) {
		return placement.Node{}, apperr.Conflict("runtime node unhealthy (heartbeat stale), drain it manually: nodeId=%d", n.ID)
	}
	return n, nil
}

func (s *PlacementService) chooseNode(ctx context.Context, appID string) (placement.Node, error) {
	all, err := s.nodes.ListNodes(ctx)
	if err != nil {
		return placement.Node{}, fmt.Errorf("failed to list runtime nodes: %w", err)
	}
	now := s.now()
	var eligible []placement.Node
	for _, n := range all {
		if n.Enabled && n.HasEndpoints() && s.cfg.Freshness.Fresh(n, now) {
			eligible = append(eligible, n)
		}
	}

	var (
		chosen placement.Node
		ok     bool
	)
	switch s.cfg.Strategy {
	case placement.StrategyHash:
		chosen, ok = placement.PickByHash(appID, eligible)
	default:
		chosen, ok = placement.PickByDisk(appID, eligible, s.cfg.DiskFreeMinPct)
	}
	if !ok {
		return placement.Node{}, apperr.Conflict("no valid runtime nodes")
	}
	return chosen, nil
}

// Heartbeat records a node agent heartbeat, creating the node on first sight.
func (s *PlacementService) Heartbeat(ctx context.Context, hb NodeHeartbeat) (placement.Node, error) {
	name := strings.TrimSpace(hb.Name)
	if name == "" {
		return placement.Node{}, apperr.Invalid("nodeName is required")
	}

	n, err := s.heartbeatOnce(ctx, name, hb)
	if apperr.Is(err, apperr.KindConflict) {
		// lost a first-sight race against another heartbeat of the same name
		n, err = s.heartbeatOnce(ctx, name, hb)
	}
	return n, err
}

func (s *PlacementService) heartbeatOnce(ctx context.Context, name string, hb NodeHeartbeat) (placement.Node, error) {
	now := s.now()
	n, err := s.nodes.GetNodeByName(ctx, name)
	switch {
	case apperr.Is(err, apperr.KindNotFound):
		n = placement.Node{Name: name, Enabled: true, Weight: placement.DefaultWeight, CreatedAt: now}
	case err != nil:
		return placement.Node{}, err
	}

	if v := strings.TrimSpace(hb.AgentBaseURL); v != "" {
		n.AgentBaseURL = v
	}
	if v := strings.TrimSpace(hb.GatewayBaseURL); v != "" {
		n.GatewayBaseURL = v
	}
	if hb.DiskFreePct != nil {
		n.DiskFreePct = hb.DiskFreePct
	}
	if hb.DiskFreeBytes != nil {
		n.DiskFreeBytes = hb.DiskFreeBytes
	}
	if hb.ContainerCount != nil {
		n.ContainerCount = hb.ContainerCount
	}
	n.LastHeartbeatAt = &now
	n.UpdatedAt = now
	return s.nodes.SaveNode(ctx, n)
}

// UpsertNode creates or edits a node by name. New nodes default to enabled
// with weight 100.
func (s *PlacementService) UpsertNode(ctx context.Context, u NodeUpsert) (placement.Node, error) {
	name := strings.TrimSpace(u.Name)
	if name == "" {
		return placement.Node{}, apperr.Invalid("name is required")
	}
	now := s.now()
	n, err := s.nodes.GetNodeByName(ctx, name)
	switch {
	case apperr.Is(err, apperr.KindNotFound):
		n = placement.Node{Name: name, Enabled: true, Weight: placement.DefaultWeight, CreatedAt: now}
	case err != nil:
		return placement.Node{}, err
	}

	if u.Enabled != nil {
		n.Enabled = *u.Enabled
	}
	if u.Weight != nil {
		n.Weight = *u.Weight
	}
	if v := strings.TrimSpace(u.AgentBaseURL); v != "" {
		n.AgentBaseURL = v
	}
	if v := strings.TrimSpace(u.GatewayBaseURL); v != "" {
		n.GatewayBaseURL = v
	}
	n.UpdatedAt = now
	return s.nodes.SaveNode(ctx, n)
}

// SetEnabled flips the operator kill switch of a node.
func (s *PlacementService) SetEnabled(ctx context.Context, name string, enabled bool) (placement.Node, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return placement.Node{}, apperr.Invalid("name is required")
	}
	n, err := s.nodes.GetNodeByName(ctx, name)
	if err != nil {
		return placement.Node{}, err
	}
	n.Enabled = enabled
	n.UpdatedAt = s.now()
	saved, err := s.nodes.SaveNode(ctx, n)
	if err != nil {
		return placement.Node{}, err
	}
	s.log(ctx).Info("runtime node toggled", "node", name, "enabled", enabled)
	return saved, nil
}

// ListNodes returns every node, ordered by id, with its health label.
func (s *PlacementService) ListNodes(ctx context.Context) ([]NodeStatus, error) {
	nodes, err := s.nodes.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]NodeStatus, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, NodeStatus{Node: n, Health: s.Health(n)})
	}
	return out, nil
}

// Health labels n for dashboards.
func (s *PlacementService) Health(n placement.Node) placement.Health {
	return placement.HealthOf(n, s.cfg.Freshness, s.cfg.DiskFreeDrainPct, s.now())
}

// GetPlacement returns the current placement of appID without creating one.
func (s *PlacementService) GetPlacement(ctx context.Context, appID string) (placement.Placement, error) {
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return placement.Placement{}, apperr.Invalid("appId is required")
	}
	return s.placements.GetPlacement(ctx, appID)
}

// ListPlacements pages through the apps placed on nodeID, ordered by appId.
func (s *PlacementService) ListPlacements(ctx context.Context, nodeID int64, limit, offset int) ([]placement.Placement, error) {
	if nodeID <= 0 {
		return nil, apperr.Invalid("nodeId is required")
	}
	if offset < 0 {
		offset = 0
	}
	return s.placements.ListPlacementsByNode(ctx, nodeID, offset, clamp(limit, MinPlacementLimit, MaxPlacementLimit))
}

// CountPlacements counts the apps placed on nodeID.
func (s *PlacementService) CountPlacements(ctx context.Context, nodeID int64) (int64, error) {
	if nodeID <= 0 {
		return 0, nil
	}
	return s.placements.CountPlacementsByNode(ctx, nodeID)
}

// Reassign moves appID to targetNodeID.
func (s *PlacementService) Reassign(ctx context.Context, appID string, targetNodeID int64) (err error) {
	ctx, span := tracer.Start(ctx, "PlacementService.Reassign",
		trace.WithAttributes(attribute.String("app.id", appID), attribute.Int64("node.target", targetNodeID)))
	defer func() { endSpan(span, err) }()

	appID = strings.TrimSpace(appID)
	if appID == "" {
		return apperr.Invalid("appId is required")
	}
	if _, err := s.enabledTarget(ctx, targetNodeID); err != nil {
		return err
	}
	if err := s.placements.SavePlacement(ctx, placement.Placement{AppID: appID, NodeID: targetNodeID, LastActiveAt: s.now()}); err != nil {
		return err
	}
	s.metrics.PlacementsMoved(ctx, 1)
	s.log(ctx).Info("placement reassigned", "app_id", appID, "node_id", targetNodeID)
	return nil
}

// Drain moves up to limit placements from sourceNodeID to targetNodeID and
// returns how many moved. Running it again continues where it stopped.
func (s *PlacementService) Drain(ctx context.Context, sourceNodeID, targetNodeID int64, limit int) (moved int, err error) {
	ctx, span := tracer.Start(ctx, "PlacementService.Drain",
		trace.WithAttributes(attribute.Int64("node.source", sourceNodeID), attribute.Int64("node.target", targetNodeID)))
	defer func() { endSpan(span, err) }()

	if sourceNodeID <= 0 || targetNodeID <= 0 {
		return 0, apperr.Invalid("sourceNodeId and targetNodeId are required")
	}
	if sourceNodeID == targetNodeID {
		return 0, apperr.Invalid("sourceNodeId and targetNodeId must differ")
	}
	if _, err := s.enabledTarget(ctx, targetNodeID); err != nil {
		return 0, err
	}

	batch, err := s.placements.ListPlacementsByNode(ctx, sourceNodeID, 0, clamp(limit, MinPlacementLimit, MaxPlacementLimit))
	if err != nil {
		return 0, err
	}
	now := s.now()
	for _, p := range batch {
		if strings.TrimSpace(p.AppID) == "" {
			continue
		}
		if err := s.placements.SavePlacement(ctx, placement.Placement{AppID: p.AppID, NodeID: targetNodeID, LastActiveAt: now}); err != nil {
			s.metrics.PlacementsMoved(ctx, moved)
			return moved, fmt.Errorf("drain stopped after %d placements: %w", moved, err)
		}
		moved++
	}
	s.metrics.PlacementsMoved(ctx, moved)
	s.log(ctx).Info("runtime node drained", "source_node_id", sourceNodeID, "target_node_id", targetNodeID, "moved", moved)
	return moved, nil
}

func (s *PlacementService) enabledTarget(ctx context.Context, nodeID int64) (placement.Node, error) {
	if nodeID <= 0 {
		return placement.Node{}, apperr.Invalid("targetNodeId is required")
	}
	target, err := s.nodes.GetNode(ctx, nodeID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return placement.Node{}, apperr.NotFound("target node not found: nodeId=%d", nodeID)
		}
		return placement.Node{}, err
	}
	if !target.Enabled {
		return placement.Node{}, apperr.Conflict("target node disabled: nodeId=%d", nodeID)
	}
	return target, nil
}
