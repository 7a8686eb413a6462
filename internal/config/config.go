// Package config reads the service configuration from the environment.
// Command line flags override what is read here.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config holds the configuration of the pgform service.
type Config struct {
	Port       int    `env:"PGFORM_PORT,default=8080" description:"HTTP listen port"`
	DBDriver   string `env:"PGFORM_DB_DRIVER,default=sqlite" description:"save store driver: sqlite or pgx"`
	DBDSN      string `env:"PGFORM_DB_DSN,default=file:pgform.db" description:"save store connection string"`
	SchemaDir  string `env:"PGFORM_SCHEMA_DIR" description:"directory of node schema files loaded over the built-in nodes"`
	CatalogDir string `env:"PGFORM_CATALOG_DIR" description:"directory of YAML option catalogs merged over the built-in ones"`
	LogLevel   string `env:"PGFORM_LOG_LEVEL,default=info" description:"logrus level"`

	OptionsTTL time.Duration `env:"PGFORM_OPTIONS_TTL,default=5m" description:"lifetime of cached option lists"`
	OptionsURL string        `env:"PGFORM_OPTIONS_URL" description:"base URL of a remote options provider; empty serves the catalogs"`
	SaveURL    string        `env:"PGFORM_SAVE_URL" description:"URL of a remote persistence provider; empty saves to the store"`

	SessionIdle   time.Duration `env:"PGFORM_SESSION_IDLE,default=30m" description:"idle time after which a dialog session is closed"`
	SessionMaxAge time.Duration `env:"PGFORM_SESSION_MAX_AGE,default=24h" description:"maximum age of a dialog session"`
}

// Load decodes the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks values that cannot be expressed in tags.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "pgx", "postgres":
	default:
		return fmt.Errorf("config: unknown database driver %q", c.DBDriver)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.OptionsTTL <= 0 {
		return fmt.Errorf("config: options ttl must be positive, got %s", c.OptionsTTL)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }
