package cluster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nforgeio/geotracker/internal/errwrap"
)

type stubTopology struct {
	view TopologyView
}

func (s stubTopology) View() TopologyView { return s.view }

type recordingTransport struct {
	mu       sync.Mutex
	forwards []ForwardRequest
	failN    int
}

func (t *recordingTransport) Init(string) error      { return nil }
func (t *recordingTransport) Validate() error         { return nil }
func (t *recordingTransport) Connect(context.Context) error { return nil }
func (t *recordingTransport) Disconnect() error       { return nil }

func (t *recordingTransport) Forward(ctx context.Context, endpoint string, rec ForwardRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failN > 0 {
		t.failN--
		return errors.New("transient failure")
	}
	t.forwards = append(t.forwards, rec)
	return nil
}

func (t *recordingTransport) Query(ctx context.Context, endpoint string, req QueryRequest) (QueryReply, error) {
	return QueryReply{Payload: []byte(endpoint), Complete: true}, nil
}

func twoMemberTopology(selfID string) stubTopology {
	return stubTopology{view: newTopologyView(1, map[string]Member{
		"self": {NodeID: "self", Endpoint: "self:1"},
		"peer": {NodeID: "peer", Endpoint: "peer:1"},
	})}
}

func entityOwnedByPeer(t *testing.T, view TopologyView) string {
	t.Helper()
	for i := 0; i < 1000; i++ {
		id := string(rune('a' + i%26))
		for j := 0; j < i/26+1; j++ {
			id += "x"
		}
		owned, _ := owner(view, id)
		if owned == "peer" {
			return id
		}
	}
	t.Fatal("could not find an entity owned by peer")
	return ""
}

func TestForwardDeliversToOwner(t *testing.T) {
	topo := twoMemberTopology("self")
	transport := &recordingTransport{}
	r := NewRouter("self", topo, transport, RouterConfig{MaxRetries: 2, RetryInterval: time.Millisecond})

	entity := entityOwnedByPeer(t, topo.View())
	err := r.Forward(context.Background(), ForwardRequest{EntityID: entity})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(transport.forwards) != 1 {
		t.Fatalf("expected 1 delivered forward, got %d", len(transport.forwards))
	}
}

func TestForwardRetriesThenSucceeds(t *testing.T) {
	topo := twoMemberTopology("self")
	transport := &recordingTransport{failN: 2}
	r := NewRouter("self", topo, transport, RouterConfig{MaxRetries: 5, RetryInterval: time.Millisecond})

	entity := entityOwnedByPeer(t, topo.View())
	if err := r.Forward(context.Background(), ForwardRequest{EntityID: entity}); err != nil {
		t.Fatalf("Forward: %v", err)
	}
}

func TestForwardSurfacesUnreachableAfterRetriesExhausted(t *testing.T) {
	topo := twoMemberTopology("self")
	transport := &recordingTransport{failN: 1000}
	r := NewRouter("self", topo, transport, RouterConfig{MaxRetries: 2, RetryInterval: time.Millisecond})

	entity := entityOwnedByPeer(t, topo.View())
	err := r.Forward(context.Background(), ForwardRequest{EntityID: entity})
	if !errors.Is(err, errwrap.ErrUnreachable) {
		t.Fatalf("expected errwrap.ErrUnreachable, got %v", err)
	}
}

func TestOwnerReportsLocal(t *testing.T) {
	topo := twoMemberTopology("self")
	r := NewRouter("self", topo, &recordingTransport{}, RouterConfig{})
	nodeID, isLocal := r.Owner("whatever")
	if nodeID != "self" && nodeID != "peer" {
		t.Fatalf("unexpected owner %q", nodeID)
	}
	if isLocal != (nodeID == "self") {
		t.Fatalf("isLocal mismatch for owner %q", nodeID)
	}
}
