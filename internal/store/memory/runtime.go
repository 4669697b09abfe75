package memory

import (
	"context"
	"sort"
	"strings"

	"deployplane/internal/apperr"
	"deployplane/internal/apprun"
	"deployplane/internal/placement"
)

func cloneNode(n placement.Node) placement.Node {
	out := n
	if n.LastHeartbeatAt != nil {
		v := *n.LastHeartbeatAt
		out.LastHeartbeatAt = &v
	}
	if n.DiskFreePct != nil {
		v := *n.DiskFreePct
		out.DiskFreePct = &v
	}
	if n.DiskFreeBytes != nil {
		v := *n.DiskFreeBytes
		out.DiskFreeBytes = &v
	}
	if n.ContainerCount != nil {
		v := *n.ContainerCount
		out.ContainerCount = &v
	}
	return out
}

// SaveNode implements store.NodeStore.
func (s *Store) SaveNode(ctx context.Context, n placement.Node) (placement.Node, error) {
	n.Name = strings.TrimSpace(n.Name)
	if n.Name == "" {
		return placement.Node{}, apperr.Invalid("node name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.nodes {
		if existing.Name == n.Name && id != n.ID {
			return placement.Node{}, apperr.Conflict("runtime node name already exists: %s", n.Name)
		}
	}
	if n.ID == 0 {
		s.nextNodeID++
		n.ID = s.nextNodeID
	} else if _, ok := s.nodes[n.ID]; !ok {
		return placement.Node{}, apperr.NotFound("runtime node not found: %d", n.ID)
	}
	s.nodes[n.ID] = cloneNode(n)
	return cloneNode(n), nil
}

// GetNode implements store.NodeStore.
func (s *Store) GetNode(ctx context.Context, id int64) (placement.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return placement.Node{}, apperr.NotFound("runtime node not found: %d", id)
	}
	return cloneNode(n), nil
}

// GetNodeByName implements store.NodeStore.
func (s *Store) GetNodeByName(ctx context.Context, name string) (placement.Node, error) {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if n.Name == name {
			return cloneNode(n), nil
		}
	}
	return placement.Node{}, apperr.NotFound("runtime node not found: %s", name)
}

// ListNodes implements store.NodeStore.
func (s *Store) ListNodes(ctx context.Context) ([]placement.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]placement.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, cloneNode(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SavePlacement implements store.PlacementStore.
func (s *Store) SavePlacement(ctx context.Context, p placement.Placement) error {
	if strings.TrimSpace(p.AppID) == "" {
		return apperr.Invalid("appId is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placements[p.AppID] = p
	return nil
}

// CreatePlacementIfAbsent implements store.PlacementStore.
func (s *Store) CreatePlacementIfAbsent(ctx context.Context, p placement.Placement) (placement.Placement, error) {
	if strings.TrimSpace(p.AppID) == "" {
		return placement.Placement{}, apperr.Invalid("appId is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.placements[p.AppID]; ok {
		return existing, nil
	}
	s.placements[p.AppID] = p
	return p, nil
}

// GetPlacement implements store.PlacementStore.
func (s *Store) GetPlacement(ctx context.Context, appID string) (placement.Placement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.placements[appID]
	if !ok {
		return placement.Placement{}, apperr.NotFound("placement not found: %s", appID)
	}
	return p, nil
}

// ListPlacementsByNode implements store.PlacementStore.
func (s *Store) ListPlacementsByNode(ctx context.Context, nodeID int64, offset, limit int) ([]placement.Placement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []placement.Placement
	for _, p := range s.placements {
		if p.NodeID == nodeID {
			all = append(all, p)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].AppID < all[j].AppID })

	if offset >= len(all) {
		return []placement.Placement{}, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// CountPlacementsByNode implements store.PlacementStore.
func (s *Store) CountPlacementsByNode(ctx context.Context, nodeID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range s.placements {
		if p.NodeID == nodeID {
			n++
		}
	}
	return n, nil
}

// DeletePlacement implements store.PlacementStore.
func (s *Store) DeletePlacement(ctx context.Context, appID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.placements[appID]; !ok {
		return 0, nil
	}
	delete(s.placements, appID)
	return 1, nil
}

// SaveAppRun implements store.AppRunStore.
func (s *Store) SaveAppRun(ctx context.Context, r apprun.AppRun) error {
	if strings.TrimSpace(r.AppID) == "" {
		return apperr.Invalid("appId is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appRuns[r.AppID] = r
	return nil
}

// GetAppRun implements store.AppRunStore.
func (s *Store) GetAppRun(ctx context.Context, appID string) (apprun.AppRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.appRuns[appID]
	if !ok {
		return apprun.AppRun{}, apperr.NotFound("app run not found: %s", appID)
	}
	return r, nil
}

// DeleteAppRun implements store.AppRunStore.
func (s *Store) DeleteAppRun(ctx context.Context, appID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.appRuns[appID]; !ok {
		return 0, nil
	}
	delete(s.appRuns, appID)
	return 1, nil
}
