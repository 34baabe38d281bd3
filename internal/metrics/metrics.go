// Package metrics wires GeoTracker's counters and gauges into the default
// prometheus registry: one struct of GaugeVec/CounterVec fields per
// subsystem, each registered once at construction and mutated directly by
// its owning component.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultListen is the default bind address for the /metrics endpoint.
const DefaultListen = "127.0.0.1:9233"

// FixCache holds the counters and gauges owned by internal/fixcache.
type FixCache struct {
	Ingested      prometheus.Counter
	Rejected      *prometheus.CounterVec // label "reason": too_old, bad_request
	EntitiesCount prometheus.Gauge
	GroupsCount   prometheus.Gauge
}

// NewFixCache builds and registers a FixCache metrics bundle.
func NewFixCache() *FixCache {
	m := &FixCache{
		Ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geotracker_fixes_ingested_total",
			Help: "Fixes accepted into the fix cache.",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geotracker_fixes_rejected_total",
			Help: "Fixes rejected by the fix cache, by reason.",
		}, []string{"reason"}),
		EntitiesCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geotracker_entities_tracked",
			Help: "Number of entities currently tracked on this node.",
		}),
		GroupsCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geotracker_groups_tracked",
			Help: "Number of groups currently tracked on this node.",
		}),
	}
	prometheus.MustRegister(m.Ingested, m.Rejected, m.EntitiesCount, m.GroupsCount)
	return m
}

// Cluster holds the counters owned by internal/cluster.
type Cluster struct {
	Forwards           prometheus.Counter
	Unreachable        prometheus.Counter
	FanoutIncomplete   prometheus.Counter
	TopologyVersion    prometheus.Gauge
}

// NewCluster builds and registers a Cluster metrics bundle.
func NewCluster() *Cluster {
	m := &Cluster{
		Forwards: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geotracker_route_forwards_total",
			Help: "Submissions forwarded to a remote owner node.",
		}),
		Unreachable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geotracker_route_unreachable_total",
			Help: "Forwarded submissions that exhausted their retry budget.",
		}),
		FanoutIncomplete: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geotracker_query_fanout_incomplete_total",
			Help: "Fan-out queries that missed their deadline on at least one member.",
		}),
		TopologyVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geotracker_topology_version",
			Help: "Current topology view version on this node.",
		}),
	}
	prometheus.MustRegister(m.Forwards, m.Unreachable, m.FanoutIncomplete, m.TopologyVersion)
	return m
}

// Archiver holds the counters owned by internal/archiver.
type Archiver struct {
	Buffered    prometheus.Gauge
	Shed        prometheus.Counter
	FlushResult *prometheus.CounterVec // label "result": ok, retryable, fatal
	Retries     prometheus.Counter
}

// NewArchiver builds and registers an Archiver metrics bundle.
func NewArchiver() *Archiver {
	m := &Archiver{
		Buffered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geotracker_archive_buffered",
			Help: "Records currently sitting in the archive buffer.",
		}),
		Shed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geotracker_archive_shed_total",
			Help: "Records dropped because the archive buffer was full.",
		}),
		FlushResult: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geotracker_archive_flush_total",
			Help: "Archive flush attempts, by result.",
		}, []string{"result"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geotracker_archive_retry_total",
			Help: "Archive flush retries after a retryable error.",
		}),
	}
	prometheus.MustRegister(m.Buffered, m.Shed, m.FlushResult, m.Retries)
	return m
}

// Geocoder holds the counters owned by internal/geocode.
type Geocoder struct {
	Lookups       *prometheus.CounterVec // label "result": hit, miss, private, not_available
	RefreshResult *prometheus.CounterVec // label "result": ok, unchanged, error, decrypt_failed, corrupt
	IndexAge      prometheus.Gauge       // seconds since the live index's Last-Modified, measured when it is installed
}

// NewGeocoder builds and registers a Geocoder metrics bundle.
func NewGeocoder() *Geocoder {
	m := &Geocoder{
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geotracker_geocode_lookups_total",
			Help: "IP geocode lookups, by result.",
		}, []string{"result"}),
		RefreshResult: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geotracker_geocode_refresh_total",
			Help: "Background data-file refresh attempts, by result.",
		}, []string{"result"}),
		IndexAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geotracker_geocode_index_age_seconds",
			Help: "Age of the currently loaded geocode index's Last-Modified timestamp.",
		}),
	}
	prometheus.MustRegister(m.Lookups, m.RefreshResult, m.IndexAge)
	return m
}

// Serve starts the /metrics HTTP listener in a background goroutine.
func Serve(listen string) {
	if listen == "" {
		listen = DefaultListen
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go http.ListenAndServe(listen, mux) //nolint:errcheck
}
