// Package cascade implements the health / diagnostics / restart fan-out
// described in spec.md §4.6, grounded directly on the original's
// templemeads/src/health.rs (full semantics: HEALTH_CACHE, collect_health,
// cascade_health_checks, wait_for_health_updates, mark_disconnected_peers).
package cascade

import "github.com/openportal/mesh/internal/registry"

// downstreamPeers applies spec.md §4.2's cross-zone portal firewall and
// loop-prevention rules to the full peer list: exclude the requester,
// exclude anyone already in the visited chain, and — if this agent is
// itself a Portal — exclude every other Portal peer. Encoded as one helper
// so the rule cannot drift between health, diagnostics, and restart call
// sites (spec.md §9).
func downstreamPeers(selfType registry.AgentType, all []registry.PeerInfo, requester string, visited []string) []registry.PeerInfo {
	visitedSet := make(map[string]bool, len(visited))
	for _, v := range visited {
		visitedSet[v] = true
	}

	out := make([]registry.PeerInfo, 0, len(all))
	for _, p := range all {
		if p.Name == requester || visitedSet[p.Name] {
			continue
		}
		if selfType == registry.TypePortal && p.Type == registry.TypePortal {
			continue
		}
		out = append(out, p)
	}
	return out
}
