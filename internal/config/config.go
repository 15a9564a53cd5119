// Package config aggregates the per-component configurations and loads them
// from YAML. Load order: defaults, then config.yml, then config.local.yml,
// with later sources overriding earlier ones. Missing files are fine.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aegntic/cldcde-search/internal/analytics"
	"github.com/aegntic/cldcde-search/internal/logging"
	"github.com/aegntic/cldcde-search/internal/popularity"
	"github.com/aegntic/cldcde-search/internal/query"
	"github.com/aegntic/cldcde-search/internal/search/bleve"
	"github.com/aegntic/cldcde-search/internal/syncer"
)

// CatalogConfig points at the primary store.
type CatalogConfig struct {
	// URI is the MongoDB connection string.
	URI string `yaml:"uri"`

	// Database holds one collection per entity family.
	Database string `yaml:"database"`
}

// ApplyDefaults fills unset fields.
func (c *CatalogConfig) ApplyDefaults() {
	if c.URI == "" {
		c.URI = "mongodb://localhost:27017"
	}
	if c.Database == "" {
		c.Database = "cldcde"
	}
}

// PubsubConfig selects and configures the change-event transport.
type PubsubConfig struct {
	// Provider is "nats" or "memory".
	Provider string `yaml:"provider"`

	// URL is the NATS server address. Ignored by the memory provider.
	URL string `yaml:"url"`

	// Stream is the JetStream stream carrying change events.
	Stream string `yaml:"stream"`

	// Consumer is the durable consumer name for the syncer.
	Consumer string `yaml:"consumer"`
}

// ApplyDefaults fills unset fields.
func (c *PubsubConfig) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "nats"
	}
	if c.URL == "" {
		c.URL = "nats://localhost:4222"
	}
	if c.Stream == "" {
		c.Stream = "CHANGES"
	}
	if c.Consumer == "" {
		c.Consumer = "cldcde-syncer"
	}
}

// PopularityConfig bounds the query frequency map.
type PopularityConfig struct {
	Capacity int `yaml:"capacity"`
}

// ApplyDefaults fills unset fields.
func (c *PopularityConfig) ApplyDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = popularity.DefaultCapacity
	}
}

// Config holds the application configuration.
type Config struct {
	Logging logging.Config `yaml:"logging"`

	// Components
	Catalog    CatalogConfig    `yaml:"catalog"`
	Index      bleve.Config     `yaml:"index"`
	Pubsub     PubsubConfig     `yaml:"pubsub"`
	Popularity PopularityConfig `yaml:"popularity"`

	// Services
	Syncer    syncer.Config    `yaml:"syncer"`
	Query     query.Config     `yaml:"query"`
	Analytics analytics.Config `yaml:"analytics"`
}

// applyDefaults runs every component's defaulting pass.
func (c *Config) applyDefaults() {
	c.Logging.ApplyDefaults()
	c.Catalog.ApplyDefaults()
	c.Pubsub.ApplyDefaults()
	c.Popularity.ApplyDefaults()
	c.Syncer.ApplyDefaults()
	c.Query.ApplyDefaults()
	c.Analytics.ApplyDefaults()
}

// DefaultConfig returns a fully defaulted configuration.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from the given files in order, later files
// overriding earlier ones, then applies defaults to whatever is still unset.
// A missing file is skipped; a malformed one is an error.
func Load(paths ...string) (*Config, error) {
	cfg := &Config{}
	for _, path := range paths {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
