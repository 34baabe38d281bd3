// Package config loads GeoTracker's YAML configuration file: a plain
// struct decoded with gopkg.in/yaml.v2, validated by a Parse method.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/nforgeio/geotracker/internal/archiver"
)

// Config is the recognised options table from spec.md §6.
type Config struct {
	ServerEndpoint  string `yaml:"serverEndpoint"`
	ClusterEndpoint string `yaml:"clusterEndpoint"`
	ClusterTopology string `yaml:"clusterTopology"` // only "dynamicHashed" is implemented

	GeoFixRetentionInterval time.Duration `yaml:"geoFixRetentionInterval"`
	GeoFixPurgeInterval     time.Duration `yaml:"geoFixPurgeInterval"`
	MaxEntityFixes          int           `yaml:"maxEntityFixes"`
	ClockSkewTolerance      time.Duration `yaml:"clockSkewTolerance"`

	Archiver       string         `yaml:"archiver"` // "null", "appLog", "sql"
	ArchiverArgs   ArchiverArgs   `yaml:"archiverArgs"`
	BufferSize     int            `yaml:"bufferSize"`
	BufferInterval time.Duration  `yaml:"bufferInterval"`
	MaxRetries     int            `yaml:"maxRetries"`
	RetryInterval  time.Duration  `yaml:"retryInterval"`
	ShutdownDrainDeadline time.Duration `yaml:"shutdownDrainDeadline"`
	SpillFilePath  string         `yaml:"spillFilePath"`

	IPGeocodeEnabled       bool          `yaml:"ipGeocodeEnabled"`
	IPGeocodeSourceURI     string        `yaml:"ipGeocodeSourceUri"`
	IPGeocodeSourceKey     string        `yaml:"ipGeocodeSourceKey"`
	IPGeocodePollInterval  time.Duration `yaml:"ipGeocodePollInterval"`
	IPGeocodeSourceTimeout time.Duration `yaml:"ipGeocodeSourceTimeout"`
	IPGeocodeCachePath     string        `yaml:"ipGeocodeCachePath"`

	SweepInterval time.Duration `yaml:"sweepInterval"`
	BKInterval    time.Duration `yaml:"bkInterval"`

	MetricsListen string `yaml:"metricsListen"`
}

// ArchiverArgs mirrors archiver.Args for YAML decoding — archiverArgs is
// "implementation-specific config", so every field is optional and the
// selected variant's constructor ignores what it doesn't need.
type ArchiverArgs struct {
	LogPath           string `yaml:"logPath"`
	MaxSegmentSize    int64  `yaml:"maxSegmentSize"`
	MaxAgeDays        int    `yaml:"maxAgeDays"`
	SQLDriver         string `yaml:"sqlDriver"`
	SQLDataSource     string `yaml:"sqlDataSource"`
	SQLInsertTemplate string `yaml:"sqlInsertTemplate"`
}

func (a ArchiverArgs) toArchiverArgs() archiver.Args {
	return archiver.Args{
		LogPath:           a.LogPath,
		MaxSegmentSize:    a.MaxSegmentSize,
		MaxAgeDays:        a.MaxAgeDays,
		SQLDriver:         a.SQLDriver,
		SQLDataSource:     a.SQLDataSource,
		SQLInsertTemplate: a.SQLInsertTemplate,
	}
}

// Parse decodes data into c and validates it.
func (c *Config) Parse(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return c.validate()
}

func (c *Config) validate() error {
	if c.ServerEndpoint == "" {
		return fmt.Errorf("config: serverEndpoint is required")
	}
	if c.ClusterTopology != "" && c.ClusterTopology != "dynamicHashed" {
		return fmt.Errorf("config: unsupported clusterTopology %q", c.ClusterTopology)
	}
	if c.MaxEntityFixes <= 0 {
		c.MaxEntityFixes = 1
	}
	if c.GeoFixRetentionInterval <= 0 {
		return fmt.Errorf("config: geoFixRetentionInterval must be > 0")
	}
	if c.GeoFixPurgeInterval <= 0 {
		return fmt.Errorf("config: geoFixPurgeInterval must be > 0")
	}
	switch c.Archiver {
	case "", "null", "appLog", "sql":
	default:
		return fmt.Errorf("config: unknown archiver %q", c.Archiver)
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.IPGeocodeEnabled && c.IPGeocodeSourceURI == "" {
		return fmt.Errorf("config: ipGeocodeSourceUri is required when ipGeocodeEnabled")
	}
	return nil
}

// ArchiverArgsForSink converts the YAML-decoded options into archiver.Args.
func (c *Config) ArchiverArgsForSink() archiver.Args {
	return c.ArchiverArgs.toArchiverArgs()
}
