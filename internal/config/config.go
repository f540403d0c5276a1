// Package config holds the ingest tuning configuration. Configuration is
// explicit: a JSON file loaded at startup and injected where needed, with
// pointer fields so a partial file overrides only what it names.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config tunes ingestion and the external converter. All fields are
// optional; the Get* accessors supply defaults for absent fields.
type Config struct {
	// ConverterTool is the executable that exports Access containers as CSV.
	ConverterTool *string `json:"converter_tool,omitempty"`
	// ConverterTable overrides the container table the converter exports.
	ConverterTable *string `json:"converter_table,omitempty"`
	// TempDir is where converter working copies are staged.
	TempDir *string `json:"temp_dir,omitempty"`

	// Workers bounds batch ingest concurrency.
	Workers *int `json:"workers,omitempty"`
	// IngestTimeout is a duration string like "5m" bounding one file's
	// ingest, external converter included.
	IngestTimeout *string `json:"ingest_timeout,omitempty"`
}

// Empty returns a Config with every field unset.
func Empty() *Config { return &Config{} }

// Load reads a Config from a JSON file. Fields the file omits stay nil, so
// partial configs are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration values that can be wrong.
func (c *Config) Validate() error {
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", *c.Workers)
	}
	if c.IngestTimeout != nil && *c.IngestTimeout != "" {
		if _, err := time.ParseDuration(*c.IngestTimeout); err != nil {
			return fmt.Errorf("invalid ingest_timeout %q: %w", *c.IngestTimeout, err)
		}
	}
	return nil
}

// GetConverterTool returns the converter executable, empty meaning the
// adapter default.
func (c *Config) GetConverterTool() string {
	if c.ConverterTool == nil {
		return ""
	}
	return *c.ConverterTool
}

// GetConverterTable returns the converter table override, empty meaning the
// adapter default.
func (c *Config) GetConverterTable() string {
	if c.ConverterTable == nil {
		return ""
	}
	return *c.ConverterTable
}

// GetTempDir returns the staging directory, empty meaning the system
// default.
func (c *Config) GetTempDir() string {
	if c.TempDir == nil {
		return ""
	}
	return *c.TempDir
}

// GetWorkers returns the batch worker count, or 0 to let the batch runner
// pick its default.
func (c *Config) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetIngestTimeout returns the per-file ingest budget.
func (c *Config) GetIngestTimeout() time.Duration {
	const def = 5 * time.Minute
	if c.IngestTimeout == nil || *c.IngestTimeout == "" {
		return def
	}
	d, err := time.ParseDuration(*c.IngestTimeout)
	if err != nil {
		return def
	}
	return d
}
