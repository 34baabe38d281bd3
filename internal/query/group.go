package query

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nforgeio/geotracker/internal/cluster"
	"github.com/nforgeio/geotracker/internal/geofix"
)

// GroupQueryOptions mirrors spec.md §4.5's group query input.
type GroupQueryOptions struct {
	MinFixTimeUTC time.Time
	FixCount      int // 0 means "no per-entity limit"
}

// EntityFixes is one entity's contribution to a group query reply.
type EntityFixes struct {
	EntityID string       `json:"entityId"`
	Fixes    []geofix.Fix `json:"fixes"`
}

type groupQueryPayload struct {
	GroupID string `json:"groupId"`
}

// GroupQuery returns per-entity fix lists for every entity currently in
// groupID, merged across whichever nodes own member entities. An empty
// group returns an empty, non-error result (spec.md §4.5).
func (e *Engine) GroupQuery(ctx context.Context, groupID string, opts GroupQueryOptions) ([]EntityFixes, bool) {
	result := e.localGroupEntities(groupID, opts)
	complete := true

	if e.Router != nil {
		payload, err := json.Marshal(groupQueryPayload{GroupID: groupID})
		if err != nil {
			e.Logf("query: marshaling group query: %v", err)
			return result, false
		}
		replies, fanoutComplete := e.Router.Query(ctx, cluster.QueryRequest{Kind: "group", Payload: payload})
		complete = fanoutComplete
		for _, reply := range replies {
			var remote []EntityFixes
			if err := json.Unmarshal(reply.Payload, &remote); err != nil {
				e.Logf("query: decoding remote group reply: %v", err)
				complete = false
				continue
			}
			result = append(result, applyGroupOptions(remote, opts)...)
		}
	}

	return result, complete
}

func (e *Engine) localGroupEntities(groupID string, opts GroupQueryOptions) []EntityFixes {
	snapshots := e.Cache.GroupEntities(groupID)
	out := make([]EntityFixes, 0, len(snapshots))
	for _, s := range snapshots {
		fixes := s.Fixes
		if !opts.MinFixTimeUTC.IsZero() {
			filtered := make([]geofix.Fix, 0, len(fixes))
			for _, f := range fixes {
				if !f.TimeUTC.Before(opts.MinFixTimeUTC) {
					filtered = append(filtered, f)
				}
			}
			fixes = filtered
		}
		if opts.FixCount > 0 && len(fixes) > opts.FixCount {
			fixes = fixes[:opts.FixCount]
		}
		out = append(out, EntityFixes{EntityID: s.EntityID, Fixes: fixes})
	}
	return out
}

func applyGroupOptions(in []EntityFixes, opts GroupQueryOptions) []EntityFixes {
	out := make([]EntityFixes, 0, len(in))
	for _, ef := range in {
		fixes := ef.Fixes
		if !opts.MinFixTimeUTC.IsZero() {
			filtered := make([]geofix.Fix, 0, len(fixes))
			for _, f := range fixes {
				if !f.TimeUTC.Before(opts.MinFixTimeUTC) {
					filtered = append(filtered, f)
				}
			}
			fixes = filtered
		}
		if opts.FixCount > 0 && len(fixes) > opts.FixCount {
			fixes = fixes[:opts.FixCount]
		}
		out = append(out, EntityFixes{EntityID: ef.EntityID, Fixes: fixes})
	}
	return out
}

// ServeGroupQuery answers a cluster.QueryRequest{Kind:"group"} arriving
// from a peer — the server-side half of GroupQuery's fan-out.
func (e *Engine) ServeGroupQuery(req cluster.QueryRequest) (cluster.QueryReply, error) {
	var payload groupQueryPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return cluster.QueryReply{}, fmt.Errorf("query: decoding group query request: %w", err)
	}
	result := e.localGroupEntities(payload.GroupID, GroupQueryOptions{})
	out, err := json.Marshal(result)
	if err != nil {
		return cluster.QueryReply{}, fmt.Errorf("query: encoding group query reply: %w", err)
	}
	return cluster.QueryReply{Payload: out, Complete: true}, nil
}
