package query

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/nforgeio/geotracker/internal/cluster"
	"github.com/nforgeio/geotracker/internal/errwrap"
	"github.com/nforgeio/geotracker/internal/geofix"
)

// EntityQueryOptions mirrors spec.md §4.5's entity-history query input.
type EntityQueryOptions struct {
	FixCount      int // >= 1
	MinFixTimeUTC time.Time
	Fields        geofix.Fields
}

type entityQueryPayload struct {
	EntityID string `json:"entityId"`
}

// EntityQuery returns up to opts.FixCount fixes for entityID, newest
// first, with TimeUTC >= opts.MinFixTimeUTC, projected to opts.Fields. It
// fails with errwrap.ErrNotFound if entityID is unknown everywhere.
func (e *Engine) EntityQuery(ctx context.Context, entityID string, opts EntityQueryOptions) ([]geofix.Fix, error) {
	if opts.FixCount < 1 {
		return nil, fmt.Errorf("%w: fixCount must be >= 1", errwrap.ErrValidation)
	}

	var fixes []geofix.Fix
	if e.Router == nil {
		fixes = e.Cache.Fixes(entityID)
	} else if _, isLocal := e.Router.Owner(entityID); isLocal {
		fixes = e.Cache.Fixes(entityID)
	} else {
		remote, err := e.queryRemoteEntity(ctx, entityID)
		if err != nil {
			return nil, err
		}
		fixes = remote
	}

	if len(fixes) == 0 {
		return nil, fmt.Errorf("%w: entity %q", errwrap.ErrNotFound, entityID)
	}

	return projectEntityFixes(fixes, opts), nil
}

func (e *Engine) queryRemoteEntity(ctx context.Context, entityID string) ([]geofix.Fix, error) {
	payload, err := json.Marshal(entityQueryPayload{EntityID: entityID})
	if err != nil {
		return nil, fmt.Errorf("query: marshaling entity query: %w", err)
	}
	reply, err := e.Router.QueryOwner(ctx, entityID, cluster.QueryRequest{Kind: "entity", Payload: payload})
	if err != nil {
		return nil, err
	}
	var fixes []geofix.Fix
	if err := json.Unmarshal(reply.Payload, &fixes); err != nil {
		return nil, fmt.Errorf("query: decoding remote entity reply: %w", err)
	}
	return fixes, nil
}

// ServeEntityQuery answers a cluster.QueryRequest{Kind:"entity"} arriving
// from a peer's Router.QueryOwner call — the server-side half of the
// request/reply pair whose client side is queryRemoteEntity. A concrete
// Transport wires this in as its request handler.
func (e *Engine) ServeEntityQuery(req cluster.QueryRequest) (cluster.QueryReply, error) {
	var payload entityQueryPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return cluster.QueryReply{}, fmt.Errorf("query: decoding entity query request: %w", err)
	}
	fixes := e.Cache.Fixes(payload.EntityID)
	out, err := json.Marshal(fixes)
	if err != nil {
		return cluster.QueryReply{}, fmt.Errorf("query: encoding entity query reply: %w", err)
	}
	return cluster.QueryReply{Payload: out, Complete: true}, nil
}

// projectEntityFixes applies the MinFixTimeUTC filter, sorts newest-first,
// truncates to FixCount, and projects each surviving fix to Fields.
func projectEntityFixes(fixes []geofix.Fix, opts EntityQueryOptions) []geofix.Fix {
	filtered := make([]geofix.Fix, 0, len(fixes))
	for _, f := range fixes {
		if !f.TimeUTC.Before(opts.MinFixTimeUTC) {
			filtered = append(filtered, f)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].TimeUTC.After(filtered[j].TimeUTC) })
	if len(filtered) > opts.FixCount {
		filtered = filtered[:opts.FixCount]
	}
	projected := make([]geofix.Fix, len(filtered))
	for i, f := range filtered {
		projected[i] = f.Project(opts.Fields)
	}
	return projected
}
