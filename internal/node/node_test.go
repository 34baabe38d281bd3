package node

import (
	"context"
	"testing"
	"time"

	"github.com/nforgeio/geotracker/internal/config"
	"github.com/nforgeio/geotracker/internal/geofix"
	"github.com/nforgeio/geotracker/internal/query"
)

func testConfig() *config.Config {
	return &config.Config{
		ServerEndpoint:          "127.0.0.1:9090",
		GeoFixRetentionInterval: time.Hour,
		GeoFixPurgeInterval:     time.Hour,
		MaxEntityFixes:          10,
		Archiver:                "null",
		BufferSize:              8,
		BufferInterval:          50 * time.Millisecond,
		MaxRetries:              1,
		RetryInterval:           10 * time.Millisecond,
		ShutdownDrainDeadline:   200 * time.Millisecond,
	}
}

// TestSingleNodeLifecycle exercises spec.md §8's ingest-then-query scenario
// with no cluster configured: Start, Add a fix, query it back, Stop.
func TestSingleNodeLifecycle(t *testing.T) {
	n, err := New("node-a", "127.0.0.1:9090", testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := n.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := n.Cache.Add("entity-1", "fleet", geofix.Fix{
		TimeUTC: time.Now().UTC(), Latitude: 10, Longitude: 20,
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	fixes, err := n.Engine.EntityQuery(ctx, "entity-1", query.EntityQueryOptions{FixCount: 1})
	if err != nil {
		t.Fatalf("EntityQuery: %v", err)
	}
	if len(fixes) != 1 {
		t.Fatalf("expected 1 fix, got %d", len(fixes))
	}

	if err := n.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestNewRequiresNodeID(t *testing.T) {
	_, err := New("", "127.0.0.1:9090", testConfig(), nil)
	if err == nil {
		t.Fatal("expected an error for an empty nodeID")
	}
}
