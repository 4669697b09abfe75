package placement

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf16"
)

// Strategy names accepted in configuration.
const (
	StrategyDiskAware = "disk-aware"
	StrategyHash      = "hash"
)

// ParseStrategy normalises a configured strategy name. Blank means disk-aware.
func ParseStrategy(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "", StrategyDiskAware:
		return StrategyDiskAware, nil
	case StrategyHash:
		return StrategyHash, nil
	}
	return "", fmt.Errorf("unknown placement strategy %q", raw)
}

// StringHash is the 31-multiplier hash over UTF-16 code units with int32
// overflow. Existing deployments route apps by this value, so it must stay
// bit-compatible.
func StringHash(s string) int32 {
	var h int32
	for _, u := range utf16.Encode([]rune(s)) {
		h = 31*h + int32(u)
	}
	return h
}

func floorMod(x int32, n int) int {
	m := int(x) % n
	if m < 0 {
		m += n
	}
	return m
}

// PickByHash sorts candidates by id and returns the one at
// floorMod(StringHash(appID), len). ok is false when candidates is empty.
func PickByHash(appID string, candidates []Node) (Node, bool) {
	if len(candidates) == 0 {
		return Node{}, false
	}
	sorted := append([]Node(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return sorted[floorMod(StringHash(appID), len(sorted))], true
}

// PickByDisk drops nodes whose known free disk is below minPct. Among the
// rest, the node with the most free disk wins, lowest id on ties. When no
// survivor reports disk telemetry the choice falls back to PickByHash over
// the survivors. ok is false when nothing survives.
func PickByDisk(appID string, candidates []Node, minPct float64) (Node, bool) {
	var survivors []Node
	for _, n := range candidates {
		if n.DiskFreePct != nil && *n.DiskFreePct < minPct {
			continue
		}
		survivors = append(survivors, n)
	}
	if len(survivors) == 0 {
		return Node{}, false
	}

	var best *Node
	for i := range survivors {
		n := &survivors[i]
		if n.DiskFreePct == nil {
			continue
		}
		if best == nil || *n.DiskFreePct > *best.DiskFreePct ||
			(*n.DiskFreePct == *best.DiskFreePct && n.ID < best.ID) {
			best = n
		}
	}
	if best != nil {
		return *best, true
	}
	return PickByHash(appID, survivors)
}
