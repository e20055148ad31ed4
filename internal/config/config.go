package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all environmentally dependent settings for the catalog.
type Config struct {
	HTTPAddr string `env:"CATALOG_HTTP_ADDR" envDefault:":8000"`
	LogLevel string `env:"CATALOG_LOG_LEVEL" envDefault:"info"`

	DBDriver string `env:"CATALOG_DB_DRIVER" envDefault:"sqlite"`
	DBDSN    string `env:"CATALOG_DB_DSN" envDefault:"file:catalog.db?cache=shared"`

	TimeZone string `env:"CATALOG_TIME_ZONE" envDefault:"UTC"`
	PageSize int    `env:"CATALOG_PAGE_SIZE" envDefault:"10"`

	SessionCookie string        `env:"CATALOG_SESSION_COOKIE" envDefault:"sessionid"`
	SessionTTL    time.Duration `env:"CATALOG_SESSION_TTL" envDefault:"336h"`
	SessionSecure bool          `env:"CATALOG_SESSION_SECURE" envDefault:"false"`

	LoginMaxFailures int           `env:"CATALOG_LOGIN_MAX_FAILURES" envDefault:"5"`
	LoginLockout     time.Duration `env:"CATALOG_LOGIN_LOCKOUT" envDefault:"15m"`

	ShutdownTimeout time.Duration `env:"CATALOG_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	OPDSURL      string `env:"CATALOG_OPDS_URL"`
	OPDSUsername string `env:"CATALOG_OPDS_USERNAME"`
	OPDSPassword string `env:"CATALOG_OPDS_PASSWORD"`
}

// Validate ensures that all required configuration is present and valid.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("CATALOG_DB_DRIVER must be one of sqlite, postgres, mysql (got %q)", c.DBDriver)
	}

	if c.DBDSN == "" {
		return fmt.Errorf("CATALOG_DB_DSN is required")
	}

	if c.HTTPAddr == "" {
		return fmt.Errorf("CATALOG_HTTP_ADDR is required")
	}

	if c.PageSize < 1 {
		return fmt.Errorf("CATALOG_PAGE_SIZE must be at least 1")
	}

	if c.SessionCookie == "" {
		return fmt.Errorf("CATALOG_SESSION_COOKIE is required")
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("CATALOG_SESSION_TTL must be positive")
	}

	if c.LoginMaxFailures < 1 {
		return fmt.Errorf("CATALOG_LOGIN_MAX_FAILURES must be at least 1")
	}

	if c.LoginLockout <= 0 {
		return fmt.Errorf("CATALOG_LOGIN_LOCKOUT must be positive")
	}

	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("CATALOG_TIME_ZONE is invalid: %w", err)
	}

	return nil
}

// Location returns the time zone used to decide what "today" is.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Debug reports whether verbose logging was requested.
func (c *Config) Debug() bool {
	return strings.EqualFold(c.LogLevel, "debug")
}

// Load parses the environment (and a .env file when present) into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	c := &Config{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return c, nil
}
