// Package config loads the declarative backend, routing and sync
// configuration from YAML files and POLYSTORE_-prefixed environment
// variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/polystore/polystore/internal/database/adapter"
)

// ConnectionConfig is the engine connection block of one backend entry.
type ConnectionConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	SSL      bool   `mapstructure:"ssl"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// OptionsConfig is the pool/timeout block of one backend entry.
type OptionsConfig struct {
	PoolSize int           `mapstructure:"pool_size"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Retries  int           `mapstructure:"retries"`
}

// BackendConfig declares one storage backend.
type BackendConfig struct {
	Type       string           `mapstructure:"type"`
	Connection ConnectionConfig `mapstructure:"connection"`
	Options    OptionsConfig    `mapstructure:"options"`
}

// RouteConfig assigns a collection to a primary backend. Entries here take
// precedence over the built-in defaults.
type RouteConfig struct {
	Collection  string `mapstructure:"collection"`
	Backend     string `mapstructure:"backend"`
	Priority    int    `mapstructure:"priority"`
	SyncEnabled bool   `mapstructure:"sync_enabled"`
}

// SyncConfig tunes the synchronization service.
type SyncConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	Strategy           string        `mapstructure:"strategy"`
	ConflictResolution string        `mapstructure:"conflict_resolution"`
	SyncInterval       time.Duration `mapstructure:"sync_interval"`
	BatchSize          int           `mapstructure:"batch_size"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	QueueCapacity      int           `mapstructure:"queue_capacity"`
}

// SelectorConfig tunes routing and health probing.
type SelectorConfig struct {
	ProbeInterval          time.Duration `mapstructure:"probe_interval"`
	RouteCacheTTL          time.Duration `mapstructure:"route_cache_ttl"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
}

// Config is the full service configuration.
type Config struct {
	LogLevel string          `mapstructure:"log_level"`
	Backends []BackendConfig `mapstructure:"backends"`
	Routes   []RouteConfig   `mapstructure:"routes"`
	Sync     SyncConfig      `mapstructure:"sync"`
	Selector SelectorConfig  `mapstructure:"selector"`
}

// Load reads configuration from path (or from ./polystore.yaml and
// $HOME/.polystore/ when path is empty), applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("polystore")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.polystore")
	}

	v.SetEnvPrefix("POLYSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine when no explicit path was given; env vars
		// and defaults still apply.
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || path != "" {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.strategy", "batched")
	v.SetDefault("sync.conflict_resolution", "latest-wins")
	v.SetDefault("sync.sync_interval", 5*time.Minute)
	v.SetDefault("sync.batch_size", 100)
	v.SetDefault("sync.max_attempts", 10)
	v.SetDefault("sync.queue_capacity", 4096)
	v.SetDefault("selector.probe_interval", 30*time.Second)
	v.SetDefault("selector.route_cache_ttl", 30*time.Minute)
	v.SetDefault("selector.max_consecutive_failures", 3)
}

// Validate checks backend types and route references.
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("config: at least one backend is required")
	}
	declared := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		if !adapter.BackendType(b.Type).Valid() {
			return fmt.Errorf("config: backends[%d]: unknown backend type %q", i, b.Type)
		}
		if declared[b.Type] {
			return fmt.Errorf("config: backends[%d]: duplicate backend type %q", i, b.Type)
		}
		declared[b.Type] = true
		if b.Connection.Host == "" {
			return fmt.Errorf("config: backends[%d]: connection.host is required", i)
		}
		if b.Connection.Database == "" {
			return fmt.Errorf("config: backends[%d]: connection.database is required", i)
		}
	}
	seen := make(map[string]bool, len(c.Routes))
	for i, r := range c.Routes {
		if r.Collection == "" {
			return fmt.Errorf("config: routes[%d]: collection is required", i)
		}
		if seen[r.Collection] {
			return fmt.Errorf("config: routes[%d]: duplicate route for collection %q", i, r.Collection)
		}
		seen[r.Collection] = true
		if !declared[r.Backend] {
			return fmt.Errorf("config: routes[%d]: route targets undeclared backend %q", i, r.Backend)
		}
	}
	switch c.Sync.ConflictResolution {
	case "", "latest-wins", "manual", "custom":
	default:
		return fmt.Errorf("config: unknown conflict resolution strategy %q", c.Sync.ConflictResolution)
	}
	return nil
}
