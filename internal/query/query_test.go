package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nforgeio/geotracker/internal/errwrap"
	"github.com/nforgeio/geotracker/internal/fixcache"
	"github.com/nforgeio/geotracker/internal/geofix"
)

func newTestCache(t *testing.T) *fixcache.Cache {
	t.Helper()
	c := fixcache.NewCache(fixcache.Config{
		MaxEntityFixes:    10,
		RetentionInterval: time.Hour,
		PurgeInterval:     time.Hour,
	})
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Stop(context.Background()) })
	return c
}

func TestEntityQueryReturnsNewestFirstProjected(t *testing.T) {
	c := newTestCache(t)
	base := time.Now().UTC().Add(-10 * time.Minute) // within the 1h retention window
	speed1, speed2 := 1.0, 2.0
	c.Add("e1", "", geofix.Fix{TimeUTC: base, Latitude: 1, Longitude: 1, Speed: &speed1})
	c.Add("e1", "", geofix.Fix{TimeUTC: base.Add(time.Minute), Latitude: 2, Longitude: 2, Speed: &speed2})

	engine := NewEngine(c, nil)
	fixes, err := engine.EntityQuery(context.Background(), "e1", EntityQueryOptions{
		FixCount: 10,
		Fields:   geofix.FieldSpeed,
	})
	if err != nil {
		t.Fatalf("EntityQuery: %v", err)
	}
	if len(fixes) != 2 {
		t.Fatalf("expected 2 fixes, got %d", len(fixes))
	}
	if !fixes[0].TimeUTC.Equal(base.Add(time.Minute)) {
		t.Fatalf("expected newest-first ordering, got %+v", fixes)
	}
	if fixes[0].Speed == nil || *fixes[0].Speed != 2.0 {
		t.Fatalf("expected Speed to survive projection, got %+v", fixes[0].Speed)
	}
}

func TestEntityQueryNotFound(t *testing.T) {
	c := newTestCache(t)
	engine := NewEngine(c, nil)
	_, err := engine.EntityQuery(context.Background(), "unknown", EntityQueryOptions{FixCount: 5})
	if !errors.Is(err, errwrap.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGroupQueryEmptyGroupIsNotAnError(t *testing.T) {
	c := newTestCache(t)
	engine := NewEngine(c, nil)
	result, complete := engine.GroupQuery(context.Background(), "nonexistent-group", GroupQueryOptions{})
	if !complete {
		t.Fatal("expected complete=true in single-node mode")
	}
	if len(result) != 0 {
		t.Fatalf("expected an empty result, got %+v", result)
	}
}

func TestGroupQueryReturnsMembers(t *testing.T) {
	c := newTestCache(t)
	now := time.Now().UTC()
	c.Add("e1", "fleet-a", geofix.Fix{TimeUTC: now, Latitude: 1, Longitude: 1})
	c.Add("e2", "fleet-a", geofix.Fix{TimeUTC: now, Latitude: 2, Longitude: 2})

	engine := NewEngine(c, nil)
	result, _ := engine.GroupQuery(context.Background(), "FLEET-A", GroupQueryOptions{})
	if len(result) != 2 {
		t.Fatalf("expected 2 group members, got %d", len(result))
	}
}

// TestHeatmapCellSumMatchesFixCount is the round-trip property from
// spec.md §8: the sum over every heat-map cell equals the number of fixes
// intersecting mapBounds.
func TestHeatmapCellSumMatchesFixCount(t *testing.T) {
	c := newTestCache(t)
	now := time.Now().UTC()
	// 5 fixes inside bounds, 1 clearly outside.
	inside := []geofix.Fix{
		{TimeUTC: now, Latitude: 37.0, Longitude: -122.0},
		{TimeUTC: now, Latitude: 37.1, Longitude: -122.1},
		{TimeUTC: now, Latitude: 37.2, Longitude: -122.2},
		{TimeUTC: now, Latitude: 37.3, Longitude: -122.3},
		{TimeUTC: now, Latitude: 37.4, Longitude: -122.4},
	}
	for i, f := range inside {
		c.Add(entityName(i), "", f)
	}
	c.Add("outside", "", geofix.Fix{TimeUTC: now, Latitude: 10, Longitude: 10})

	engine := NewEngine(c, nil)
	grid, complete, err := engine.HeatmapQuery(context.Background(), HeatmapQueryOptions{
		Bounds:       Bounds{MinLat: 36.5, MaxLat: 37.5, MinLon: -123, MaxLon: -121.5},
		Resolution:   10,
		ResolutionKm: true,
	})
	if err != nil {
		t.Fatalf("HeatmapQuery: %v", err)
	}
	if !complete {
		t.Fatal("expected complete=true in single-node mode")
	}

	sum := 0
	for _, row := range grid.Counts {
		for _, v := range row {
			sum += v
		}
	}
	if sum != len(inside) {
		t.Fatalf("expected cell sum %d, got %d", len(inside), sum)
	}
}

func TestHeatmapRejectsAntimeridianCrossing(t *testing.T) {
	c := newTestCache(t)
	engine := NewEngine(c, nil)
	_, _, err := engine.HeatmapQuery(context.Background(), HeatmapQueryOptions{
		Bounds:       Bounds{MinLat: -1, MaxLat: 1, MinLon: 179, MaxLon: -179},
		Resolution:   10,
		ResolutionKm: true,
	})
	if !errors.Is(err, errwrap.ErrValidation) {
		t.Fatalf("expected ErrValidation for an antimeridian-crossing query, got %v", err)
	}
}

func entityName(i int) string {
	return string(rune('a' + i))
}
