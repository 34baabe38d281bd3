package cluster

import "testing"

func threeMemberView() TopologyView {
	return newTopologyView(1, map[string]Member{
		"a": {NodeID: "a", Endpoint: "a:1"},
		"b": {NodeID: "b", Endpoint: "b:1"},
		"c": {NodeID: "c", Endpoint: "c:1"},
	})
}

// TestOwnershipDeterministic is spec.md §8 scenario 4: the same entity ID
// must map to the same owner on every node, given the same topology.
func TestOwnershipDeterministic(t *testing.T) {
	view := threeMemberView()
	first, ok := owner(view, "entity-42")
	if !ok {
		t.Fatal("expected an owner")
	}
	for i := 0; i < 50; i++ {
		got, ok := owner(view, "entity-42")
		if !ok || got != first {
			t.Fatalf("owner(%q) = %q, want %q (deterministic)", "entity-42", got, first)
		}
	}
}

func TestOwnershipEmptyTopology(t *testing.T) {
	view := newTopologyView(1, map[string]Member{})
	if _, ok := owner(view, "entity-42"); ok {
		t.Fatal("expected no owner with an empty topology")
	}
}

func TestIsOwner(t *testing.T) {
	view := threeMemberView()
	owned, _ := owner(view, "entity-42")
	if !IsOwner(view, owned, "entity-42") {
		t.Fatalf("IsOwner should be true for the computed owner %q", owned)
	}
	for _, other := range []string{"a", "b", "c"} {
		if other == owned {
			continue
		}
		if IsOwner(view, other, "entity-42") {
			t.Fatalf("IsOwner should be false for non-owner %q", other)
		}
	}
}

func TestTopologyViewOrderedAcrossRebuild(t *testing.T) {
	v1 := newTopologyView(1, map[string]Member{
		"b": {NodeID: "b", Endpoint: "b:1"},
		"a": {NodeID: "a", Endpoint: "a:1"},
	})
	if v1.Members[0].NodeID != "a" || v1.Members[1].NodeID != "b" {
		t.Fatalf("expected members ordered by NodeID, got %+v", v1.Members)
	}
}
