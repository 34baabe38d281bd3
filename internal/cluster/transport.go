package cluster

import "context"

// Transport is the capability a Router needs from whatever carries RPCs
// between nodes. The wire protocol itself is left undefined; Transport is
// the seam a concrete implementation plugs into.
type Transport interface {
	// Init prepares the transport for use, given the node's own ID.
	Init(selfID string) error

	// Validate checks the transport is usable before Connect.
	Validate() error

	// Connect establishes whatever session state is needed to start
	// forwarding.
	Connect(ctx context.Context) error

	// Forward submits a fix to the owning node's endpoint and waits for
	// acknowledgement or ctx cancellation.
	Forward(ctx context.Context, endpoint string, rec ForwardRequest) error

	// Query fans a query out to endpoint and returns its reply.
	Query(ctx context.Context, endpoint string, req QueryRequest) (QueryReply, error)

	// Disconnect tears down the transport.
	Disconnect() error
}

// ForwardRequest is a single relocated fix submission (spec.md §6's
// "Forward" RPC).
type ForwardRequest struct {
	EntityID string
	GroupID  string
	FixJSON  []byte // geofix.Fix, serialized by the caller to stay transport-agnostic
}

// QueryRequest fans an entity/group/heat-map query out to a peer (spec.md
// §6's "Query" RPC).
type QueryRequest struct {
	Kind    string // "entity", "group", "heatmap"
	Payload []byte
}

// QueryReply is a peer's response to a QueryRequest.
type QueryReply struct {
	Payload   []byte
	Complete  bool
}
