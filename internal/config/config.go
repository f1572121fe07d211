// Package config loads the bufsync configuration file.
//
// Resolution order, lowest to highest precedence:
//
//  1. Defaults
//  2. The YAML file (bufsync.yaml unless another path is given)
//  3. BUFSYNC_* environment variables
//  4. Command-line flags (applied by the CLI)
//
// Environment variables:
//
//	BUFSYNC_DATABASE            path to the SQLite database
//	BUFSYNC_DRIVER              sqlite3|sqlite
//	BUFSYNC_SCHEMA              directory of CUE type declarations
//	BUFSYNC_MAX_LOCAL_SIZE      bytes kept locally after upload (0 keeps none)
//	BUFSYNC_BLOB_DRIVER         fs|memory|s3
//	BUFSYNC_BLOB_ROOT           fs root
//	BUFSYNC_BLOB_S3_BUCKET, BUFSYNC_BLOB_S3_REGION, BUFSYNC_BLOB_S3_ENDPOINT,
//	BUFSYNC_BLOB_S3_PATH_STYLE
//	BUFSYNC_REMOTE_DRIVER       postgres|memory
//	BUFSYNC_REMOTE_DSN          postgres DSN
//	BUFSYNC_METRICS_ADDR        listen address for /metrics
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/bufsync/internal/blob"
	"github.com/roach88/bufsync/internal/dispatch"
	"github.com/roach88/bufsync/internal/store"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "bufsync.yaml"

// Remote drivers.
const (
	RemotePostgres = "postgres"
	RemoteMemory   = "memory"
)

// Config is the complete bufsync configuration.
type Config struct {
	Database     string       `yaml:"database"`
	Driver       string       `yaml:"driver"`
	Schema       string       `yaml:"schema"`
	MaxLocalSize int64        `yaml:"max_local_size"`
	Blob         blob.Config  `yaml:"blob"`
	Remote       RemoteConfig `yaml:"remote"`
	MetricsAddr  string       `yaml:"metrics_addr"`
}

// RemoteConfig selects the remote store.
type RemoteConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`

	// Blob holds remote file content for the postgres remote.
	Blob blob.Config `yaml:"blob"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Database:     "bufsync.db",
		Driver:       store.DriverCGO,
		Schema:       "schema",
		MaxLocalSize: dispatch.DefaultMaxLocalSize,
		Blob:         blob.Config{Driver: blob.DriverFilesystem, Root: "blobs"},
		Remote: RemoteConfig{
			Driver: RemotePostgres,
			Blob:   blob.Config{Driver: blob.DriverFilesystem, Root: "remote-blobs"},
		},
	}
}

// Load reads path on top of Default and applies environment overrides.
// An empty path reads DefaultPath, which may be absent; an explicit path
// must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(bytes.NewReader(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // Reject unknown fields
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides cfg with BUFSYNC_* variables found by lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("BUFSYNC_DATABASE", &cfg.Database)
	str("BUFSYNC_DRIVER", &cfg.Driver)
	str("BUFSYNC_SCHEMA", &cfg.Schema)
	str("BUFSYNC_BLOB_ROOT", &cfg.Blob.Root)
	str("BUFSYNC_BLOB_S3_BUCKET", &cfg.Blob.S3.Bucket)
	str("BUFSYNC_BLOB_S3_REGION", &cfg.Blob.S3.Region)
	str("BUFSYNC_BLOB_S3_ENDPOINT", &cfg.Blob.S3.Endpoint)
	str("BUFSYNC_REMOTE_DRIVER", &cfg.Remote.Driver)
	str("BUFSYNC_REMOTE_DSN", &cfg.Remote.DSN)
	str("BUFSYNC_METRICS_ADDR", &cfg.MetricsAddr)

	if v, ok := lookup("BUFSYNC_BLOB_DRIVER"); ok && v != "" {
		cfg.Blob.Driver = blob.Driver(v)
	}
	if v, ok := lookup("BUFSYNC_BLOB_S3_PATH_STYLE"); ok && v != "" {
		cfg.Blob.S3.PathStyle = strings.EqualFold(v, "true")
	}
	// "0" is a real value here: keep no uploaded content locally.
	if v, ok := lookup("BUFSYNC_MAX_LOCAL_SIZE"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("BUFSYNC_MAX_LOCAL_SIZE: %w", err)
		}
		cfg.MaxLocalSize = n
	}
	return nil
}

// Validate checks driver names and required fields.
func (c Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("config: database is required")
	}
	switch c.Driver {
	case "", store.DriverCGO, store.DriverPureGo:
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Driver)
	}
	if c.MaxLocalSize < 0 {
		return fmt.Errorf("config: max_local_size must not be negative")
	}
	if err := validateBlob("blob", c.Blob); err != nil {
		return err
	}
	switch c.Remote.Driver {
	case RemoteMemory:
	case RemotePostgres:
		if err := validateBlob("remote.blob", c.Remote.Blob); err != nil {
			return err
		}
	default:
		return fmt.Errorf("config: unknown remote driver %q", c.Remote.Driver)
	}
	return nil
}

func validateBlob(field string, b blob.Config) error {
	switch b.Driver {
	case "", blob.DriverFilesystem:
		if b.Root == "" {
			return fmt.Errorf("config: %s.root is required for the fs driver", field)
		}
	case blob.DriverMemory:
	case blob.DriverS3:
		if b.S3.Bucket == "" {
			return fmt.Errorf("config: %s.s3.bucket is required for the s3 driver", field)
		}
	default:
		return fmt.Errorf("config: unknown %s driver %q", field, b.Driver)
	}
	return nil
}
