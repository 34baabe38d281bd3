package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
)

func TestParseMinimalConfig(t *testing.T) {
	var cfg Config
	err := cfg.Parse([]byte(`
serverEndpoint: "0.0.0.0:9090"
geoFixRetentionInterval: 24h
geoFixPurgeInterval: 1h
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.GeoFixRetentionInterval != 24*time.Hour {
		t.Fatalf("expected 24h retention, got %v", cfg.GeoFixRetentionInterval)
	}
	if cfg.MaxEntityFixes != 1 {
		t.Fatalf("expected MaxEntityFixes default of 1, got %d", cfg.MaxEntityFixes)
	}
}

func TestParseRejectsMissingServerEndpoint(t *testing.T) {
	var cfg Config
	err := cfg.Parse([]byte(`
geoFixRetentionInterval: 24h
geoFixPurgeInterval: 1h
`))
	if err == nil {
		t.Fatal("expected an error for a missing serverEndpoint")
	}
}

func TestParseRejectsUnknownClusterTopology(t *testing.T) {
	var cfg Config
	err := cfg.Parse([]byte(`
serverEndpoint: "0.0.0.0:9090"
geoFixRetentionInterval: 24h
geoFixPurgeInterval: 1h
clusterTopology: staticList
`))
	if err == nil {
		t.Fatal("expected an error for an unsupported clusterTopology")
	}
}

func TestParseRejectsIPGeocodeEnabledWithoutSourceURI(t *testing.T) {
	var cfg Config
	err := cfg.Parse([]byte(`
serverEndpoint: "0.0.0.0:9090"
geoFixRetentionInterval: 24h
geoFixPurgeInterval: 1h
ipGeocodeEnabled: true
`))
	if err == nil {
		t.Fatal("expected an error when ipGeocodeEnabled without ipGeocodeSourceUri")
	}
}

func TestArchiverArgsConvert(t *testing.T) {
	var cfg Config
	err := cfg.Parse([]byte(`
serverEndpoint: "0.0.0.0:9090"
geoFixRetentionInterval: 24h
geoFixPurgeInterval: 1h
archiver: sql
archiverArgs:
  sqlDriver: postgres
  sqlDataSource: "postgres://localhost/geotracker"
  sqlInsertTemplate: "insert into fixes values ({{.EntityID}})"
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	args := cfg.ArchiverArgsForSink()
	if args.SQLDriver != "postgres" || args.SQLDataSource == "" || args.SQLInsertTemplate == "" {
		t.Fatalf("expected SQL archiverArgs to carry through, got %+v", args)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	fs := afero.NewMemMapFs()
	err := afero.WriteFile(fs, "/etc/geotracker.yaml", []byte(`
serverEndpoint: "0.0.0.0:9090"
geoFixRetentionInterval: 24h
geoFixPurgeInterval: 1h
`), 0o644)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(fs, "/etc/geotracker.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BufferSize != DefaultBufferSize {
		t.Fatalf("expected default BufferSize, got %d", cfg.BufferSize)
	}
	if cfg.ClusterTopology != "dynamicHashed" {
		t.Fatalf("expected default clusterTopology, got %q", cfg.ClusterTopology)
	}
	if cfg.Archiver != "null" {
		t.Fatalf("expected default archiver, got %q", cfg.Archiver)
	}
}

func TestLoadMissingFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := Load(fs, "/does/not/exist.yaml")
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
