package query

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/nforgeio/geotracker/internal/cluster"
	"github.com/nforgeio/geotracker/internal/errwrap"
)

// milesToKm converts miles to kilometres per spec.md §4.5 (1 mi ≈ 1.609344 km).
const milesToKm = 1.609344

const (
	kmPerDegreeLat = 111.32
)

// Bounds is a geo rectangle. MinLon must be <= MaxLon: spec.md's Open
// Question decision mandates callers split any query that would otherwise
// cross the antimeridian, rather than this package wrapping longitude.
type Bounds struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// HeatmapQueryOptions mirrors spec.md §4.5's heat-map query input.
type HeatmapQueryOptions struct {
	Bounds       Bounds
	Resolution   float64 // kilometres if ResolutionKm, otherwise miles
	ResolutionKm bool    // true = kilometres, false = miles
	GroupID      string  // optional, "" means no group filter
	MinFixTimeUTC time.Time
	MaxFixTimeUTC time.Time // zero means no upper bound
}

// Grid is a heat-map query's output: a 2-D grid of counts plus the
// metadata needed to interpret cell indices as geo coordinates.
type Grid struct {
	OriginLat, OriginLon     float64
	CellWidthDeg, CellHeightDeg float64
	Cols, Rows               int
	Counts                   [][]int
}

type heatmapQueryPayload struct {
	Bounds        Bounds    `json:"bounds"`
	CellWidthDeg  float64   `json:"cellWidthDeg"`
	CellHeightDeg float64   `json:"cellHeightDeg"`
	Cols          int       `json:"cols"`
	Rows          int       `json:"rows"`
	GroupID       string    `json:"groupId"`
	MinFixTimeUTC time.Time `json:"minFixTimeUtc"`
	MaxFixTimeUTC time.Time `json:"maxFixTimeUtc"`
}

// HeatmapQuery computes a cell-wise count grid local to this node, then
// (if a Router is configured) fans the same grid dimensions out to every
// peer and sums cell-wise, per spec.md §4.5.
func (e *Engine) HeatmapQuery(ctx context.Context, opts HeatmapQueryOptions) (Grid, bool, error) {
	b := opts.Bounds
	if b.MinLon > b.MaxLon {
		return Grid{}, false, fmt.Errorf("%w: mapBounds crosses the antimeridian, split the query", errwrap.ErrValidation)
	}
	if b.MinLat >= b.MaxLat {
		return Grid{}, false, fmt.Errorf("%w: mapBounds has non-positive height", errwrap.ErrValidation)
	}
	if opts.Resolution <= 0 {
		return Grid{}, false, fmt.Errorf("%w: resolution must be > 0", errwrap.ErrValidation)
	}

	resolutionKm := opts.Resolution
	if !opts.ResolutionKm {
		resolutionKm = opts.Resolution * milesToKm
	}

	meanLat := (b.MinLat + b.MaxLat) / 2
	cellHeightDeg := resolutionKm / kmPerDegreeLat
	kmPerDegreeLon := kmPerDegreeLat * math.Cos(meanLat*math.Pi/180)
	if kmPerDegreeLon < 1e-9 {
		kmPerDegreeLon = 1e-9 // near the poles; avoid division by zero
	}
	cellWidthDeg := resolutionKm / kmPerDegreeLon

	cols := int(math.Ceil((b.MaxLon - b.MinLon) / cellWidthDeg))
	rows := int(math.Ceil((b.MaxLat - b.MinLat) / cellHeightDeg))
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}

	grid := Grid{
		OriginLat:     b.MinLat,
		OriginLon:     b.MinLon,
		CellWidthDeg:  cellWidthDeg,
		CellHeightDeg: cellHeightDeg,
		Cols:          cols,
		Rows:          rows,
		Counts:        newCountGrid(rows, cols),
	}

	e.accumulateLocal(&grid, opts)

	complete := true
	if e.Router != nil {
		payload, err := json.Marshal(heatmapQueryPayload{
			Bounds: b, CellWidthDeg: cellWidthDeg, CellHeightDeg: cellHeightDeg,
			Cols: cols, Rows: rows, GroupID: opts.GroupID,
			MinFixTimeUTC: opts.MinFixTimeUTC, MaxFixTimeUTC: opts.MaxFixTimeUTC,
		})
		if err != nil {
			return grid, false, fmt.Errorf("query: marshaling heatmap query: %w", err)
		}
		replies, fanoutComplete := e.Router.Query(ctx, cluster.QueryRequest{Kind: "heatmap", Payload: payload})
		complete = fanoutComplete
		for _, reply := range replies {
			var remote [][]int
			if err := json.Unmarshal(reply.Payload, &remote); err != nil {
				e.Logf("query: decoding remote heatmap reply: %v", err)
				complete = false
				continue
			}
			addGrids(grid.Counts, remote)
		}
	}

	return grid, complete, nil
}

func newCountGrid(rows, cols int) [][]int {
	g := make([][]int, rows)
	for i := range g {
		g[i] = make([]int, cols)
	}
	return g
}

func addGrids(dst, src [][]int) {
	for r := range dst {
		if r >= len(src) {
			break
		}
		for c := range dst[r] {
			if c >= len(src[r]) {
				break
			}
			dst[r][c] += src[r][c]
		}
	}
}

// accumulateLocal adds +1 to the cell containing each locally-owned fix
// that matches opts' group/time filters and falls within bounds.
func (e *Engine) accumulateLocal(grid *Grid, opts HeatmapQueryOptions) {
	var entities []EntityFixes
	if opts.GroupID != "" {
		entities = e.localGroupEntities(opts.GroupID, GroupQueryOptions{})
	} else {
		for _, s := range e.Cache.AllEntities() {
			entities = append(entities, EntityFixes{EntityID: s.EntityID, Fixes: s.Fixes})
		}
	}

	for _, ef := range entities {
		for _, f := range ef.Fixes {
			if !opts.MinFixTimeUTC.IsZero() && f.TimeUTC.Before(opts.MinFixTimeUTC) {
				continue
			}
			if !opts.MaxFixTimeUTC.IsZero() && f.TimeUTC.After(opts.MaxFixTimeUTC) {
				continue
			}
			if f.Latitude < grid.OriginLat || f.Latitude > opts.Bounds.MaxLat {
				continue
			}
			if f.Longitude < grid.OriginLon || f.Longitude > opts.Bounds.MaxLon {
				continue
			}
			row := int((f.Latitude - grid.OriginLat) / grid.CellHeightDeg)
			col := int((f.Longitude - grid.OriginLon) / grid.CellWidthDeg)
			if row >= grid.Rows {
				row = grid.Rows - 1
			}
			if col >= grid.Cols {
				col = grid.Cols - 1
			}
			grid.Counts[row][col]++
		}
	}
}

// ServeHeatmapQuery answers a cluster.QueryRequest{Kind:"heatmap"} arriving
// from a peer, computing this node's local grid at the requested
// dimensions so cell indices line up with the requester's grid.
func (e *Engine) ServeHeatmapQuery(req cluster.QueryRequest) (cluster.QueryReply, error) {
	var payload heatmapQueryPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return cluster.QueryReply{}, fmt.Errorf("query: decoding heatmap query request: %w", err)
	}
	grid := Grid{
		OriginLat:     payload.Bounds.MinLat,
		OriginLon:     payload.Bounds.MinLon,
		CellWidthDeg:  payload.CellWidthDeg,
		CellHeightDeg: payload.CellHeightDeg,
		Cols:          payload.Cols,
		Rows:          payload.Rows,
		Counts:        newCountGrid(payload.Rows, payload.Cols),
	}
	e.accumulateLocal(&grid, HeatmapQueryOptions{
		Bounds: payload.Bounds, GroupID: payload.GroupID,
		MinFixTimeUTC: payload.MinFixTimeUTC, MaxFixTimeUTC: payload.MaxFixTimeUTC,
	})
	out, err := json.Marshal(grid.Counts)
	if err != nil {
		return cluster.QueryReply{}, fmt.Errorf("query: encoding heatmap query reply: %w", err)
	}
	return cluster.QueryReply{Payload: out, Complete: true}, nil
}
