// Package archiver implements the batched, time-and-count-bounded buffer
// between ingest and a pluggable durable sink described in spec.md §4.3.
package archiver

import (
	"time"

	"github.com/nforgeio/geotracker/internal/geofix"
)

// Record is an archival record: a GeoFix plus the entityID/groupID it was
// submitted under (spec.md §3, "Archival record").
type Record struct {
	EntityID string
	GroupID  string
	Fix      geofix.Fix

	// EnqueuedAt is set by Pipeline.Submit and used to decide when the
	// bufferInterval flush trigger fires.
	EnqueuedAt time.Time
}
