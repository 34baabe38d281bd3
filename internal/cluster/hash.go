package cluster

import "github.com/cespare/xxhash/v2"

// owner returns the NodeID responsible for entityID under the current
// topology, per spec.md §4.2: a stable 64-bit hash taken modulo the member
// count. The assignment is deterministic for a given view; when the member
// count changes, most entities map to a different owner.
func owner(view TopologyView, entityID string) (string, bool) {
	n := view.Len()
	if n == 0 {
		return "", false
	}
	h := xxhash.Sum64String(entityID)
	idx := int(h % uint64(n))
	return view.Members[idx].NodeID, true
}

// IsOwner reports whether nodeID currently owns entityID.
func IsOwner(view TopologyView, nodeID, entityID string) bool {
	owned, ok := owner(view, entityID)
	return ok && owned == nodeID
}
