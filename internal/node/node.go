// Package node wires the fix cache, cluster router, archival pipeline,
// optional IP geocoder, and query engine into the single running process
// described by SPEC_FULL.md — the same "one struct, Init/Run/Exit, each
// subsystem logging through a bracketed prefix" shape as lib.Main, scaled
// down to GeoTracker's subsystems.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/nforgeio/geotracker/internal/archiver"
	"github.com/nforgeio/geotracker/internal/cluster"
	"github.com/nforgeio/geotracker/internal/config"
	"github.com/nforgeio/geotracker/internal/fixcache"
	"github.com/nforgeio/geotracker/internal/geocode"
	"github.com/nforgeio/geotracker/internal/geofix"
	"github.com/nforgeio/geotracker/internal/metrics"
	"github.com/nforgeio/geotracker/internal/query"
)

// Node owns every subsystem's lifecycle for one running process.
type Node struct {
	NodeID   string
	Endpoint string
	Cfg      *config.Config

	// Transport carries Forward/Query RPCs between nodes. Passing a
	// non-nil Transport to New overrides the default; leaving it nil with
	// a clusterEndpoint configured falls back to the etcd-backed
	// implementation built from that same endpoint. Single-node
	// deployments (no clusterEndpoint) leave it nil throughout.
	Transport cluster.Transport

	Cache      *fixcache.Cache
	Pipeline   *archiver.Pipeline
	Membership *cluster.Membership
	Router     *cluster.Router
	Geocoder   *geocode.Geocoder
	Engine     *query.Engine

	etcdClient *clientv3.Client
}

// New constructs every subsystem from cfg but starts nothing yet.
func New(nodeID, endpoint string, cfg *config.Config, transport cluster.Transport) (*Node, error) {
	if nodeID == "" {
		return nil, fmt.Errorf("node: nodeID is required")
	}

	n := &Node{
		NodeID:    nodeID,
		Endpoint:  endpoint,
		Cfg:       cfg,
		Transport: transport,
	}

	cacheMetrics := metrics.NewFixCache()
	n.Cache = fixcache.NewCache(fixcache.Config{
		MaxEntityFixes:     cfg.MaxEntityFixes,
		RetentionInterval:  cfg.GeoFixRetentionInterval,
		PurgeInterval:      cfg.GeoFixPurgeInterval,
		ClockSkewTolerance: cfg.ClockSkewTolerance,
	})
	n.Cache.Metrics = cacheMetrics
	n.Cache.Logf = prefixedLogf("FixCache")

	sink, err := archiver.New(cfg.Archiver, cfg.ArchiverArgsForSink())
	if err != nil {
		return nil, fmt.Errorf("node: building archiver sink: %w", err)
	}
	n.Pipeline = archiver.NewPipeline(archiver.Config{
		BufferSize:            cfg.BufferSize,
		BufferInterval:        cfg.BufferInterval,
		MaxRetries:            cfg.MaxRetries,
		RetryInterval:         cfg.RetryInterval,
		ShutdownDrainDeadline: cfg.ShutdownDrainDeadline,
		SpillFilePath:         cfg.SpillFilePath,
	}, sink, nil)
	n.Pipeline.Logf = prefixedLogf("Archiver")
	n.Pipeline.Metrics = metrics.NewArchiver()
	n.Cache.Archiver = n.Pipeline

	if cfg.ClusterEndpoint != "" {
		cli, err := clientv3.New(clientv3.Config{Endpoints: []string{cfg.ClusterEndpoint}})
		if err != nil {
			return nil, fmt.Errorf("node: connecting to cluster endpoint: %w", err)
		}
		n.etcdClient = cli

		n.Membership = cluster.NewMembership(cli, cluster.MembershipConfig{
			Prefix:            "/geotracker/cluster/members/",
			AdvertiseInterval: cfg.SweepInterval,
			Grace:             cfg.BKInterval,
		}, nodeID, endpoint)
		n.Membership.Logf = prefixedLogf("ClusterMembership")

		if n.Transport == nil {
			n.Transport = cluster.NewEtcdTransport(cli, cluster.EtcdTransportConfig{
				Prefix: "/geotracker/cluster/rpc/",
			}, endpoint, n.serveForward, n.serveQuery)
		}

		n.Router = cluster.NewRouter(nodeID, n.Membership, n.Transport, cluster.RouterConfig{
			MaxRetries:    cfg.MaxRetries,
			RetryInterval: cfg.RetryInterval,
		})
		n.Router.Logf = prefixedLogf("ClusterRouter")
		n.Router.Metrics = metrics.NewCluster()
	}

	if cfg.IPGeocodeEnabled {
		n.Geocoder = geocode.NewGeocoder(geocode.Config{
			SourceURI:      cfg.IPGeocodeSourceURI,
			SourceKeyPath:  cfg.IPGeocodeSourceKey,
			PollInterval:   cfg.IPGeocodePollInterval,
			SourceTimeout:  cfg.IPGeocodeSourceTimeout,
			LocalCachePath: cfg.IPGeocodeCachePath,
		}, geocode.NewHTTPFetcher(cfg.IPGeocodeSourceURI, cfg.IPGeocodeSourceTimeout), nil)
		n.Geocoder.Logf = prefixedLogf("Geocoder")
		n.Geocoder.Metrics = metrics.NewGeocoder()
	}

	var router query.Router
	if n.Router != nil {
		router = n.Router
	}
	n.Engine = query.NewEngine(n.Cache, router)
	n.Engine.Logf = prefixedLogf("QueryEngine")

	return n, nil
}

// Start brings every configured subsystem up, in dependency order: the fix
// cache and archival pipeline first (so Add never runs ahead of a
// listening pipeline), then cluster membership, then the optional
// geocoder.
func (n *Node) Start(ctx context.Context) error {
	if err := n.Pipeline.Start(); err != nil {
		return fmt.Errorf("node: starting archiver: %w", err)
	}
	if err := n.Cache.Start(); err != nil {
		return fmt.Errorf("node: starting fix cache: %w", err)
	}
	if n.Membership != nil {
		if err := n.Membership.Start(ctx); err != nil {
			return fmt.Errorf("node: starting cluster membership: %w", err)
		}
	}
	if n.Transport != nil {
		if err := n.Transport.Init(n.NodeID); err != nil {
			return fmt.Errorf("node: initializing transport: %w", err)
		}
		if err := n.Transport.Validate(); err != nil {
			return fmt.Errorf("node: validating transport: %w", err)
		}
		if err := n.Transport.Connect(ctx); err != nil {
			return fmt.Errorf("node: connecting transport: %w", err)
		}
	}
	if n.Geocoder != nil {
		if err := n.Geocoder.Start(ctx); err != nil {
			return fmt.Errorf("node: starting geocoder: %w", err)
		}
	}
	log.Printf("Node: %s: started, serving on %s", n.NodeID, n.Endpoint)
	return nil
}

// Stop tears every subsystem down in reverse order, forcing a final
// archiver flush (spec.md §4.3) before returning.
func (n *Node) Stop(ctx context.Context) error {
	if n.Geocoder != nil {
		n.Geocoder.Stop()
	}
	if n.Transport != nil {
		if err := n.Transport.Disconnect(); err != nil {
			log.Printf("Node: disconnecting transport: %v", err)
		}
	}
	if n.Membership != nil {
		n.Membership.Stop()
	}
	if err := n.Cache.Stop(ctx); err != nil {
		log.Printf("Node: stopping fix cache: %v", err)
	}
	if err := n.Pipeline.Stop(ctx); err != nil {
		return fmt.Errorf("node: stopping archiver: %w", err)
	}
	if n.etcdClient != nil {
		if err := n.etcdClient.Close(); err != nil {
			log.Printf("Node: closing etcd client: %v", err)
		}
	}
	log.Printf("Node: %s: stopped", n.NodeID)
	return nil
}

// serveForward answers a cluster.ForwardRequest arriving over Transport
// for an entity this node owns, the server-side counterpart to
// Router.Forward — it simply replays the fix into the local cache exactly
// as a direct Cache.Add call would.
func (n *Node) serveForward(ctx context.Context, req cluster.ForwardRequest) error {
	var fix geofix.Fix
	if err := json.Unmarshal(req.FixJSON, &fix); err != nil {
		return fmt.Errorf("node: decoding forwarded fix: %w", err)
	}
	return n.Cache.Add(req.EntityID, req.GroupID, fix)
}

// serveQuery answers a cluster.QueryRequest arriving over Transport,
// dispatching by Kind to the matching query.Engine server-side handler.
func (n *Node) serveQuery(ctx context.Context, req cluster.QueryRequest) (cluster.QueryReply, error) {
	switch req.Kind {
	case "entity":
		return n.Engine.ServeEntityQuery(req)
	case "group":
		return n.Engine.ServeGroupQuery(req)
	case "heatmap":
		return n.Engine.ServeHeatmapQuery(req)
	default:
		return cluster.QueryReply{}, fmt.Errorf("node: unknown query kind %q", req.Kind)
	}
}

// prefixedLogf builds a Logf closure in the bracketed-component style the
// teacher uses for log.Printf("Etcd: ...") style messages throughout
// etcd/etcd.go.
func prefixedLogf(component string) func(string, ...interface{}) {
	return func(format string, v ...interface{}) {
		log.Printf(component+": "+format, v...)
	}
}
