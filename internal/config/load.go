package config

import (
	"fmt"
	"time"

	"github.com/spf13/afero"
)

// Default tunables applied by Load when the YAML file leaves them unset,
// matching spec.md §6's described defaults.
const (
	DefaultBufferSize     = 256
	DefaultBufferInterval = 5 * time.Second
	DefaultMaxRetries     = 5
	DefaultRetryInterval  = 2 * time.Second
)

// Load reads and parses the YAML configuration file at path.
func Load(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := &Config{}
	if err := cfg.Parse(data); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.BufferInterval <= 0 {
		cfg.BufferInterval = DefaultBufferInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.ClusterTopology == "" {
		cfg.ClusterTopology = "dynamicHashed"
	}
	if cfg.Archiver == "" {
		cfg.Archiver = "null"
	}
}
