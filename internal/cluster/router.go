package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nforgeio/geotracker/internal/errwrap"
	"github.com/nforgeio/geotracker/internal/metrics"
)

// RouterConfig controls forward retry behaviour.
type RouterConfig struct {
	MaxRetries    int
	RetryInterval time.Duration
}

// Router is spec.md §4.2's ClusterRouter: it decides which node owns an
// entity and forwards submissions/queries to it, preserving FIFO order per
// (submitter, owner) pair the way a single ordered queue per destination
// naturally does.
type Router struct {
	SelfID     string
	membership TopologyProvider
	transport  Transport
	cfg        RouterConfig
	Metrics    *metrics.Cluster
	Logf       func(format string, v ...interface{})

	qmu    sync.Mutex
	queues map[string]*ownerQueue
}

// TopologyProvider is the view of cluster membership a Router needs.
// *Membership satisfies this; tests supply a stub.
type TopologyProvider interface {
	View() TopologyView
}

// NewRouter builds a Router around an already-started Membership (or test
// stub) and a Transport implementation.
func NewRouter(selfID string, membership TopologyProvider, transport Transport, cfg RouterConfig) *Router {
	return &Router{
		SelfID:     selfID,
		membership: membership,
		transport:  transport,
		cfg:        cfg,
		Logf:       func(string, ...interface{}) {},
		queues:     map[string]*ownerQueue{},
	}
}

// Owner reports which node currently owns entityID, and whether that is
// this node (in which case the caller should just use its local FixCache
// rather than forwarding).
func (r *Router) Owner(entityID string) (nodeID string, isLocal bool) {
	view := r.membership.View()
	if r.Metrics != nil {
		r.Metrics.TopologyVersion.Set(float64(view.Version))
	}
	id, ok := owner(view, entityID)
	if !ok {
		return "", false
	}
	return id, id == r.SelfID
}

// ownerQueue serializes forwards to a single destination node, giving FIFO
// delivery order per (submitter, owner) the way spec.md §5 requires,
// without needing a distinct queue per submitter since all submitters on
// this node share one outbound connection to that owner anyway.
type ownerQueue struct {
	mu sync.Mutex
}

func (r *Router) queueFor(nodeID string) *ownerQueue {
	r.qmu.Lock()
	defer r.qmu.Unlock()
	q, ok := r.queues[nodeID]
	if !ok {
		q = &ownerQueue{}
		r.queues[nodeID] = q
	}
	return q
}

// Forward delivers req to the node that currently owns req.EntityID,
// retrying transient failures before surfacing errwrap.ErrUnreachable per
// spec.md §7.
func (r *Router) Forward(ctx context.Context, req ForwardRequest) error {
	nodeID, isLocal := r.Owner(req.EntityID)
	if nodeID == "" {
		return fmt.Errorf("%w: no cluster members known", errwrap.ErrUnreachable)
	}
	if isLocal {
		return fmt.Errorf("cluster: Forward called for locally-owned entity %q, route locally instead", req.EntityID)
	}
	endpoint, ok := r.membership.View().Endpoint(nodeID)
	if !ok {
		return fmt.Errorf("%w: owner %q left the cluster", errwrap.ErrUnreachable, nodeID)
	}

	q := r.queueFor(nodeID)
	q.mu.Lock()
	defer q.mu.Unlock()

	attempts := 0
	for {
		err := r.transport.Forward(ctx, endpoint, req)
		if err == nil {
			if r.Metrics != nil {
				r.Metrics.Forwards.Inc()
			}
			return nil
		}
		attempts++
		if attempts > r.cfg.MaxRetries || ctx.Err() != nil {
			if r.Metrics != nil {
				r.Metrics.Unreachable.Inc()
			}
			return fmt.Errorf("%w: forwarding to %q: %v", errwrap.ErrUnreachable, nodeID, err)
		}
		select {
		case <-time.After(r.cfg.RetryInterval):
		case <-ctx.Done():
			if r.Metrics != nil {
				r.Metrics.Unreachable.Inc()
			}
			return fmt.Errorf("%w: forwarding to %q: %v", errwrap.ErrUnreachable, nodeID, ctx.Err())
		}
	}
}

// Query fans req out to every current member except self and collects
// replies, reporting Complete=false if any member could not be reached in
// time (spec.md §4.5's partial-result semantics).
func (r *Router) Query(ctx context.Context, req QueryRequest) ([]QueryReply, bool) {
	view := r.membership.View()
	var (
		mu       sync.Mutex
		replies  []QueryReply
		complete = true
		wg       sync.WaitGroup
	)
	for _, m := range view.Members {
		if m.NodeID == r.SelfID {
			continue
		}
		wg.Add(1)
		go func(endpoint string) {
			defer wg.Done()
			reply, err := r.transport.Query(ctx, endpoint, req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				complete = false
				if r.Metrics != nil {
					r.Metrics.FanoutIncomplete.Inc()
				}
				return
			}
			replies = append(replies, reply)
		}(m.Endpoint)
	}
	wg.Wait()
	return replies, complete
}

// QueryOwner sends req directly to the node that owns entityID, for point
// queries (entity/group history) where only one node's answer matters —
// unlike Query's full fan-out, used for heat-map aggregation.
func (r *Router) QueryOwner(ctx context.Context, entityID string, req QueryRequest) (QueryReply, error) {
	nodeID, isLocal := r.Owner(entityID)
	if nodeID == "" {
		return QueryReply{}, fmt.Errorf("%w: no cluster members known", errwrap.ErrUnreachable)
	}
	if isLocal {
		return QueryReply{}, fmt.Errorf("cluster: QueryOwner called for locally-owned entity %q, query locally instead", entityID)
	}
	endpoint, ok := r.membership.View().Endpoint(nodeID)
	if !ok {
		return QueryReply{}, fmt.Errorf("%w: owner %q left the cluster", errwrap.ErrUnreachable, nodeID)
	}
	reply, err := r.transport.Query(ctx, endpoint, req)
	if err != nil {
		if r.Metrics != nil {
			r.Metrics.Unreachable.Inc()
		}
		return QueryReply{}, fmt.Errorf("%w: querying %q: %v", errwrap.ErrUnreachable, nodeID, err)
	}
	return reply, nil
}
