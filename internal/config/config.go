// Package config holds the eventlogd server configuration
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aneshas/eventlog"
)

// Supported storage engines
const (
	EngineMemory   = "memory"
	EngineSQLite   = "sqlite"
	EnginePostgres = "postgres"
)

// Config is the top-level server configuration
type Config struct {
	HTTPAddr string        `json:"httpAddr" yaml:"httpAddr"`
	LogLevel string        `json:"logLevel" yaml:"logLevel"`
	Storage  StorageConfig `json:"storage" yaml:"storage"`

	Replication ReplicationConfig `json:"replication" yaml:"replication"`
}

// StorageConfig selects and configures the storage engine
type StorageConfig struct {
	Engine       string        `json:"engine" yaml:"engine"`
	DSN          string        `json:"dsn" yaml:"dsn"`
	Path         string        `json:"path" yaml:"path"`
	Bucket       string        `json:"bucket" yaml:"bucket"`
	Partitions   int           `json:"partitions" yaml:"partitions"`
	PageSize     int           `json:"pageSize" yaml:"pageSize"`
	PollInterval time.Duration `json:"pollInterval" yaml:"pollInterval"`
}

// ReplicationConfig enables the ambar replication endpoint
type ReplicationConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	SourceBucket string `json:"sourceBucket" yaml:"sourceBucket"`
	Username     string `json:"username" yaml:"username"`
	Password     string `json:"password" yaml:"password"`
}

// Default returns built-in defaults
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		LogLevel: "info",
		Storage: StorageConfig{
			Engine:       EngineMemory,
			Bucket:       eventlog.DefaultBucket,
			Partitions:   4,
			PageSize:     100,
			PollInterval: eventlog.DefaultPollInterval,
		},
	}
}

// Load reads configuration from a YAML or JSON file (by extension) on top
// of the defaults. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	switch filepath.Ext(path) {
	case ".json":
		err = json.Unmarshal(b, &cfg)
	default:
		err = yaml.Unmarshal(b, &cfg)
	}

	if err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the config is valid
func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("httpAddr is required")
	}

	if _, err := c.Level(); err != nil {
		return err
	}

	switch c.Storage.Engine {
	case EngineMemory:
	case EngineSQLite:
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for the sqlite engine")
		}
	case EnginePostgres:
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for the postgres engine")
		}
	default:
		return fmt.Errorf("unknown storage.engine %q, use memory|sqlite|postgres", c.Storage.Engine)
	}

	if c.Storage.Partitions < 1 {
		return errors.New("storage.partitions should be at least 1")
	}

	if c.Storage.PageSize < 1 {
		return errors.New("storage.pageSize should be at least 1")
	}

	if c.Storage.PollInterval <= 0 {
		return errors.New("storage.pollInterval should be positive")
	}

	if c.Replication.Enabled && c.Replication.Username == "" {
		return errors.New("replication.username is required when replication is enabled")
	}

	return nil
}

// Level parses the log level
func (c Config) Level() (slog.Level, error) {
	var lvl slog.Level

	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid logLevel: %w", err)
	}

	return lvl, nil
}
