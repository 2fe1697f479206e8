package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/libsync/internal/arch"
)

// Config is the top-level configuration
type Config struct {
	Store StoreConfig `yaml:"store"`
	Sync  SyncConfig  `yaml:"sync"`
	Watch WatchConfig `yaml:"watch"`
}

// StoreConfig holds persisted state settings
type StoreConfig struct {
	DBPath string `yaml:"db_path"`
}

// SyncConfig holds extraction settings
type SyncConfig struct {
	DestDir string `yaml:"dest_dir"`
	// Arch forces an architecture tag; empty means detect from the host.
	Arch               string   `yaml:"arch"`
	CPUInfoPath        string   `yaml:"cpuinfo_path"`
	Workers            int      `yaml:"workers"`
	ArchiveConcurrency int      `yaml:"archive_concurrency"`
	Archives           []string `yaml:"archives"`
}

// WatchConfig holds settings for the watch command
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	// Listen is the address of the status API; empty disables it.
	Listen string `yaml:"listen"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			DBPath: "/var/lib/libsync/libsync.db",
		},
		Sync: SyncConfig{
			DestDir:            "/var/lib/libsync/lib",
			Arch:               "",
			CPUInfoPath:        arch.DefaultCPUInfoPath,
			Workers:            0,
			ArchiveConcurrency: 2,
			Archives:           []string{},
		},
		Watch: WatchConfig{
			Debounce: time.Second,
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"libsync.yaml",
		"/etc/libsync/libsync.yaml",
	}

	// Add user config path
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "libsync", "libsync.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Validate checks values that cannot be used as given
func (c *Config) Validate() error {
	if _, err := c.ArchOverride(); err != nil {
		return err
	}
	if c.Sync.DestDir == "" {
		return fmt.Errorf("sync.dest_dir must not be empty")
	}
	if c.Sync.ArchiveConcurrency < 0 {
		return fmt.Errorf("sync.archive_concurrency must not be negative: %d", c.Sync.ArchiveConcurrency)
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative: %s", c.Watch.Debounce)
	}
	return nil
}

// ArchOverride returns the configured architecture tag, or nil when the tag
// should be detected.
func (c *Config) ArchOverride() (*arch.Tag, error) {
	if c.Sync.Arch == "" {
		return nil, nil
	}
	tag, err := arch.ParseTag(c.Sync.Arch)
	if err != nil {
		return nil, fmt.Errorf("sync.arch: %w", err)
	}
	return &tag, nil
}

// Marshal renders the config as YAML
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}

// Set assigns a single value addressed by its dotted YAML key, for example
// "sync.workers". The result is validated.
func (c *Config) Set(key, value string) error {
	switch key {
	case "store.db_path":
		c.Store.DBPath = value
	case "sync.dest_dir":
		c.Sync.DestDir = value
	case "sync.arch":
		c.Sync.Arch = value
	case "sync.cpuinfo_path":
		c.Sync.CPUInfoPath = value
	case "sync.workers", "sync.archive_concurrency":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if key == "sync.workers" {
			c.Sync.Workers = n
		} else {
			c.Sync.ArchiveConcurrency = n
		}
	case "sync.archives":
		c.Sync.Archives = nil
		for _, a := range strings.Split(value, ",") {
			if a = strings.TrimSpace(a); a != "" {
				c.Sync.Archives = append(c.Sync.Archives, a)
			}
		}
	case "watch.debounce":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		c.Watch.Debounce = d
	case "watch.listen":
		c.Watch.Listen = value
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return c.Validate()
}

// Save writes the config to path as YAML, creating parent directories
func (c *Config) Save(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
