// Package config loads the file configuration of a query manager: the
// database connection, the result cache, logging and query defaults.
package config

import (
	"time"

	"github.com/syssam/loom/cache"
	"github.com/syssam/loom/find"
)

// Config is the configuration of a manager.
type Config struct {
	BaseDir string `yaml:"-"` // Directory of the loaded file, for relative paths
	Dialect string `yaml:"dialect"`
	// Driver is the database/sql driver name. Defaults to the dialect.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// Schema is the path of the YAML entity schema.
	Schema               string      `yaml:"schema"`
	Pool                 PoolConfig  `yaml:"pool"`
	Cache                CacheConfig `yaml:"cache"`
	Log                  LogConfig   `yaml:"log"`
	RelationLoadStrategy string      `yaml:"relation_load_strategy"`
	// SessionVars are set on the connection of every statement, e.g.
	// search_path on PostgreSQL or time_zone on MySQL.
	SessionVars map[string]string `yaml:"session_vars"`
}

// PoolConfig holds connection pool settings. Zero values keep the
// database/sql defaults.
type PoolConfig struct {
	MaxOpen         int           `yaml:"max_open"`
	MaxIdle         int           `yaml:"max_idle"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
	// AlwaysEnabled caches every query, not only those asking for it.
	AlwaysEnabled bool          `yaml:"always_enabled"`
	Type          string        `yaml:"type"` // memory or database
	Duration      time.Duration `yaml:"duration"`
	MaxEntries    int           `yaml:"max_entries"`
	Table         string        `yaml:"table"`
	TableSchema   string        `yaml:"table_schema"`
	// Synchronize creates the cache table on startup.
	Synchronize bool `yaml:"synchronize"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level         string        `yaml:"level"`
	Format        string        `yaml:"format"` // text or json
	SlowThreshold time.Duration `yaml:"slow_threshold"`
	// Debug logs every statement.
	Debug bool `yaml:"debug"`
}

// Cache types.
const (
	CacheMemory   = "memory"
	CacheDatabase = "database"
)

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		Cache: CacheConfig{
			Type:     CacheMemory,
			Duration: time.Second,
			Table:    cache.DefaultTable,
		},
		Log: LogConfig{
			Level:         "info",
			Format:        "text",
			SlowThreshold: 100 * time.Millisecond,
		},
		RelationLoadStrategy: string(find.LoadByQuery),
	}
}
