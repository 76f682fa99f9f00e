package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v2"

	"github.com/dshills/nodeflow/graph"
	"github.com/dshills/nodeflow/graph/nodes"
)

// Config represents the structure of the configuration YAML file.
type Config struct {
	// Addr is the listen address of the HTTP server (default: :4000).
	Addr string `yaml:"addr"`
	// UploadDir backs /uploads/, the file node and local image inlining.
	UploadDir string `yaml:"upload_dir"`
	// WorkflowsDir holds workflow definitions as .json or .yaml files.
	WorkflowsDir string `yaml:"workflows_dir"`
	// Timezone is the IANA zone used in start node reports.
	Timezone string `yaml:"timezone"`
	// MaxConcurrent caps the nodes of one batch running at once. Zero is
	// unlimited.
	MaxConcurrent int `yaml:"max_concurrent"`

	Store struct {
		// Driver is memory, sqlite or mysql.
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"store"`

	Log struct {
		// Format is text or json.
		Format string `yaml:"format"`
		// Events additionally prints every engine event to stdout.
		Events bool `yaml:"events"`
	} `yaml:"log"`

	Tracing struct {
		Enabled     bool   `yaml:"enabled"`
		ServiceName string `yaml:"service_name"`
	} `yaml:"tracing"`
}

// defaultConfig returns the configuration used for missing fields.
func defaultConfig() *Config {
	cfg := &Config{
		Addr:         ":4000",
		UploadDir:    nodes.DefaultUploadDir,
		WorkflowsDir: "workflows",
	}
	cfg.Store.Driver = "memory"
	cfg.Log.Format = "text"
	cfg.Tracing.ServiceName = "nodeflow"
	return cfg
}

// loadConfig loads and parses a YAML configuration file over the defaults.
// A missing file is only an error when required is set.
func loadConfig(path string, required bool) (*Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !required:
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides cfg from NODEFLOW_* variables.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("NODEFLOW_ADDR"); v != "" {
		c.Addr = v
	}
	if v := getenv("NODEFLOW_UPLOAD_DIR"); v != "" {
		c.UploadDir = v
	}
	if v := getenv("NODEFLOW_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
}

// validate normalises enumerations and rejects unusable values.
func (c *Config) validate() error {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.DSN == "" {
			c.Store.DSN = "nodeflow.db"
		}
	case "mysql":
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the mysql driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	switch c.Log.Format {
	case "":
		c.Log.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}

	if c.MaxConcurrent < 0 {
		return errors.New("max_concurrent must be >= 0")
	}
	if c.Addr == "" {
		return errors.New("addr is required")
	}
	if _, err := c.location(); err != nil {
		return err
	}
	return nil
}

// location resolves Timezone, defaulting to the engine's report zone.
func (c *Config) location() (*time.Location, error) {
	if c.Timezone == "" {
		return graph.DefaultDisplayLocation(), nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
