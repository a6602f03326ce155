package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/syssam/loom/dialect"
	"github.com/syssam/loom/dialect/sql"
	"github.com/syssam/loom/find"
)

// Load reads the configuration file at path, interpolating ${VAR} and
// ${VAR:-default} references with getenv, and validates it. A relative
// schema path is resolved against the directory of the file.
func Load(path string, getenv func(string) string) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve path: %w", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg, err := Parse(data, getenv)
	if err != nil {
		return nil, err
	}
	cfg.BaseDir = filepath.Dir(abs)
	if cfg.Schema != "" && !filepath.IsAbs(cfg.Schema) {
		cfg.Schema = filepath.Join(cfg.BaseDir, cfg.Schema)
	}
	return cfg, nil
}

// Parse decodes and validates a configuration document. Unknown keys are
// rejected.
func Parse(data []byte, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(interpolateEnv(data, getenv)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// interpolateEnv replaces ${VAR} by its value, or by the default of
// ${VAR:-default} when unset or empty.
func interpolateEnv(data []byte, getenv func(string) string) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		parts := envPattern.FindSubmatch(match)
		value := getenv(string(parts[1]))
		if value == "" && len(parts[2]) > 0 {
			value = string(parts[2])
		}
		return []byte(value)
	})
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []string
	if c.Dialect == "" {
		errs = append(errs, "dialect is required")
	} else if _, err := dialect.For(c.Dialect); err != nil {
		errs = append(errs, fmt.Sprintf("unknown dialect %q", c.Dialect))
	}
	if c.Pool.MaxOpen < 0 || c.Pool.MaxIdle < 0 {
		errs = append(errs, "pool: max_open and max_idle must not be negative")
	}
	if c.Pool.MaxOpen > 0 && c.Pool.MaxIdle > c.Pool.MaxOpen {
		errs = append(errs, fmt.Sprintf("pool: max_idle %d exceeds max_open %d", c.Pool.MaxIdle, c.Pool.MaxOpen))
	}
	switch c.Cache.Type {
	case CacheMemory, CacheDatabase:
	default:
		errs = append(errs, fmt.Sprintf("cache: unknown type %q (must be memory or database)", c.Cache.Type))
	}
	if c.Cache.Duration < 0 {
		errs = append(errs, "cache: duration must not be negative")
	}
	if c.Cache.Type == CacheDatabase && c.Cache.Table == "" {
		errs = append(errs, "cache: table is required for database caches")
	}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log: invalid level %q (must be debug, info, warn or error)", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Sprintf("log: invalid format %q (must be text or json)", c.Log.Format))
	}
	switch find.RelationLoadStrategy(strings.ToLower(c.RelationLoadStrategy)) {
	case find.LoadByQuery, find.LoadByJoin:
	default:
		errs = append(errs, fmt.Sprintf("relation_load_strategy must be query or join, got %q", c.RelationLoadStrategy))
	}
	if c.Dialect != "" {
		if err := sql.ValidateVars(c.Dialect, c.SessionVars); err != nil {
			errs = append(errs, "session_vars: "+err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
