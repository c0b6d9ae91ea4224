// Package config loads umd configuration from the data directory and
// resolves the per-user state paths.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents umd configuration options.
type Config struct {
	// ListenAddr is the address the HTTP server binds to.
	ListenAddr string `yaml:"listen_addr"`

	// Concurrency is the default number of parallel conversion workers.
	Concurrency int `yaml:"concurrency"`

	// MaxFileSizeMB is the ceiling above which files are failed without
	// spawning a converter.
	MaxFileSizeMB int64 `yaml:"max_file_size_mb"`

	// ScanCacheTTL bounds how long a cached scan stays valid.
	ScanCacheTTL time.Duration `yaml:"scan_cache_ttl"`

	// ConverterPath is the binary invoked once per file with the file
	// path appended to ConverterArgs.
	ConverterPath string `yaml:"converter_path"`

	// ConverterArgs are fixed arguments placed before the file path.
	ConverterArgs []string `yaml:"converter_args"`

	// LogLevel sets logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// DataDir overrides the resolved state directory. Empty means the
	// UMD_HOME / ~/.umd resolution applies.
	DataDir string `yaml:"data_dir"`

	// WatchEnabled starts the filesystem watcher that invalidates scan
	// cache entries when files under cached roots change.
	WatchEnabled bool `yaml:"watch_enabled"`
}

// ConfigFileName is the config file looked up inside the data directory.
const ConfigFileName = "config.yaml"

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:    "127.0.0.1:8750",
		Concurrency:   3,
		MaxFileSizeMB: 25,
		ScanCacheTTL:  5 * time.Minute,
		ConverterPath: "umd-convert",
		LogLevel:      "info",
		WatchEnabled:  false,
	}
}

// Load reads config.yaml from the data directory, applying defaults for
// missing fields. A missing config file is not an error; a malformed one
// is.
func Load(dataDir string) (*Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(dataDir, ConfigFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults backfills zero values left by a sparse config file.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.MaxFileSizeMB <= 0 {
		c.MaxFileSizeMB = def.MaxFileSizeMB
	}
	if c.ScanCacheTTL <= 0 {
		c.ScanCacheTTL = def.ScanCacheTTL
	}
	if c.ConverterPath == "" {
		c.ConverterPath = def.ConverterPath
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}

// MaxFileSizeBytes converts the configured ceiling to bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	return c.MaxFileSizeMB * 1024 * 1024
}

// Save writes the config back to the data directory.
func (c *Config) Save(dataDir string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	path := filepath.Join(dataDir, ConfigFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
