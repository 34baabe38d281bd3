// Package cluster implements spec.md §4.2's ClusterRouter: deterministic,
// hash-based entity ownership across a dynamically advertised set of peer
// nodes.
package cluster

import "sort"

// Member is one advertised peer in the cluster.
type Member struct {
	NodeID   string
	Endpoint string
}

// TopologyView is an immutable snapshot of the current membership, ordered
// by NodeID so that every node computes the same owner for a given entity
// (spec.md §4.2's "all nodes agree on ownership without coordination").
type TopologyView struct {
	Version int64
	Members []Member
}

// newTopologyView builds a TopologyView from an unordered member set,
// sorting by NodeID for a canonical, reproducible ordering.
func newTopologyView(version int64, members map[string]Member) TopologyView {
	out := make([]Member, 0, len(members))
	for _, m := range members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return TopologyView{Version: version, Members: out}
}

// Len reports the member count.
func (v TopologyView) Len() int { return len(v.Members) }

// NodeIDs returns the ordered member NodeIDs.
func (v TopologyView) NodeIDs() []string {
	ids := make([]string, len(v.Members))
	for i, m := range v.Members {
		ids[i] = m.NodeID
	}
	return ids
}

// Endpoint looks up the advertised endpoint for nodeID, if still a member.
func (v TopologyView) Endpoint(nodeID string) (string, bool) {
	for _, m := range v.Members {
		if m.NodeID == nodeID {
			return m.Endpoint, true
		}
	}
	return "", false
}
