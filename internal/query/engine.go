// Package query implements spec.md §4.5's Query Engine: entity-history,
// group, and heat-map queries, fanned out across the cluster when an
// answer requires data this node doesn't own locally.
package query

import (
	"context"

	"github.com/nforgeio/geotracker/internal/cluster"
	"github.com/nforgeio/geotracker/internal/fixcache"
)

// Router is the subset of cluster.Router the Engine needs. A nil Router
// means single-node mode: every entity is treated as locally owned.
type Router interface {
	Owner(entityID string) (nodeID string, isLocal bool)
	QueryOwner(ctx context.Context, entityID string, req cluster.QueryRequest) (cluster.QueryReply, error)
	Query(ctx context.Context, req cluster.QueryRequest) (replies []cluster.QueryReply, complete bool)
}

// Engine is a thin façade over fixcache.Cache plus cluster.Router fan-out
// (spec.md §4.5: "no teacher analogue — pure aggregation arithmetic").
type Engine struct {
	Cache  *fixcache.Cache
	Router Router
	Logf   func(format string, v ...interface{})
}

// NewEngine constructs an Engine. router may be nil for single-node
// deployments.
func NewEngine(cache *fixcache.Cache, router Router) *Engine {
	return &Engine{
		Cache:  cache,
		Router: router,
		Logf:   func(string, ...interface{}) {},
	}
}
