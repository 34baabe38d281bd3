// Command geotracker-node runs a single GeoTracker cluster node: loads its
// configuration, starts every subsystem, and runs until interrupted.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/spf13/afero"

	"github.com/nforgeio/geotracker/internal/config"
	"github.com/nforgeio/geotracker/internal/metrics"
	"github.com/nforgeio/geotracker/internal/node"
)

// version is set at compile time via -ldflags.
var version = "dev"

// Args is the CLI parsing structure, grounded on cli.Args's flat
// alexflint/go-arg shape.
type Args struct {
	Config   string `arg:"--config,required" help:"path to the YAML configuration file"`
	NodeID   string `arg:"--node-id" help:"this node's cluster identity; defaults to the hostname"`
	Endpoint string `arg:"--endpoint" help:"address this node advertises to peers, defaults to serverEndpoint"`
}

func (Args) Version() string {
	return "geotracker-node " + version
}

func main() {
	var args Args
	arg.MustParse(&args)

	if err := run(args); err != nil {
		log.Fatalf("geotracker-node: %v", err)
	}
}

func run(args Args) error {
	cfg, err := config.Load(afero.NewOsFs(), args.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	nodeID := args.NodeID
	if nodeID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("resolving default node ID: %w", err)
		}
		nodeID = hostname
	}
	endpoint := args.Endpoint
	if endpoint == "" {
		endpoint = cfg.ServerEndpoint
	}

	// Passing nil lets node.New pick its default transport: the etcd-backed
	// one when clusterEndpoint is configured, or none at all for a
	// single-process deployment serving only locally-owned entities.
	n, err := node.New(nodeID, endpoint, cfg, nil)
	if err != nil {
		return fmt.Errorf("constructing node: %w", err)
	}

	metrics.Serve(cfg.MetricsListen)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("starting node: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	received := <-sig
	log.Printf("geotracker-node: received %s, shutting down", received)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := n.Stop(stopCtx); err != nil {
		return fmt.Errorf("stopping node: %w", err)
	}
	return nil
}
