// Package config loads the server's runtime configuration from a single ini
// file (spec §6, "a single ini file … cache verify-on-retrieval boolean,
// notification coalescing interval"). The directory holding that file is
// selected by the PIMD_CONFIG_DIR environment variable (spec §6, "a single
// variable selects the runtime configuration directory").
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// EnvConfigDir is the environment variable naming the directory that holds
// pimd.ini.
const EnvConfigDir = "PIMD_CONFIG_DIR"

// FileName is the config file's name within the PIMD_CONFIG_DIR directory.
const FileName = "pimd.ini"

// Config is the fully-resolved runtime configuration (spec §6 plus the
// ambient logging/store settings every component needs at startup).
type Config struct {
	Cache struct {
		VerifyOnRetrieval bool `ini:"verify_on_retrieval"`
	} `ini:"cache"`

	Notification struct {
		CoalesceInterval time.Duration `ini:"coalesce_interval"`
		DispatchWorkers  int           `ini:"dispatch_workers"`
	} `ini:"notification"`

	Store struct {
		Path    string `ini:"path"`
		BlobDir string `ini:"blob_dir"`
	} `ini:"store"`

	Server struct {
		Address string `ini:"address"`
	} `ini:"server"`

	Log struct {
		Level    string `ini:"level"`
		Encoding string `ini:"encoding"`
	} `ini:"log"`
}

// Default returns the configuration used when no ini file is present, so a
// freshly unpacked install and package tests both have sane values.
func Default() *Config {
	c := &Config{}
	c.Cache.VerifyOnRetrieval = false
	c.Notification.CoalesceInterval = 50 * time.Millisecond
	c.Notification.DispatchWorkers = 8
	c.Store.Path = "pimd.db"
	c.Store.BlobDir = "blobs"
	c.Server.Address = "localhost:9219"
	c.Log.Level = "info"
	c.Log.Encoding = "console"
	return c
}

// Load reads PIMD_CONFIG_DIR/pimd.ini, falling back to Default() for any
// field the file omits. A missing config directory or file is not an error:
// the server runs on defaults (spec §6 only requires the variable to
// *select* the directory, not that one must exist).
func Load() (*Config, error) {
	dir := os.Getenv(EnvConfigDir)
	if dir == "" {
		return Default(), nil
	}
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile loads a specific ini file, for tests and cmd/pimctl's
// --config-dir override.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	f, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: load %s", path)
	}
	if err := f.MapTo(cfg); err != nil {
		return nil, errors.Wrapf(err, "config: parse %s", path)
	}
	if cfg.Notification.DispatchWorkers <= 0 {
		cfg.Notification.DispatchWorkers = 1
	}
	return cfg, nil
}
