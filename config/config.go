// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store drivers understood by the service.
const (
	DriverSQLite   = "sqlite"
	DriverAzTables = "aztables"
)

// Config holds every setting of the task API.
type Config struct {
	ListenAddr string   `env:"LISTEN_ADDR" envDefault:":8080"`
	Debug      bool     `env:"DEBUG"`
	LogFormat  string   `env:"LOG_FORMAT" envDefault:"text"`
	CORSOrigin []string `env:"CORS_ALLOW_ORIGINS" envSeparator:"," envDefault:"*"`

	StoreDriver             string `env:"STORE_DRIVER" envDefault:"sqlite"`
	SQLitePath              string `env:"SQLITE_PATH" envDefault:"tasks.db"`
	StorageConnectionString string `env:"STORAGE_CONNECTION_STRING"`
	TasksTable              string `env:"TASKS_TABLE" envDefault:"tasks"`
	UsersTable              string `env:"USERS_TABLE" envDefault:"users"`
	TaskEventsQueue         string `env:"TASK_EVENTS_QUEUE"`

	RedisConnectionString string        `env:"REDIS_CONNECTION_STRING"`
	TasksCacheTTL         time.Duration `env:"TASKS_CACHE_TTL" envDefault:"5m"`
	DeduperTTL            time.Duration `env:"DEDUPER_TTL" envDefault:"24h"`

	JWTSecret    string        `env:"JWT_SECRET"`
	JWTIssuer    string        `env:"JWT_ISSUER" envDefault:"task-tracker"`
	TokenTTL     time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	JWKSURL      string        `env:"AUTH_JWKS_URL"`
	Audience     string        `env:"AUTH_AUDIENCE"`
	JWKSIssuer   string        `env:"AUTH_ISSUER"`
	JWKSCacheTTL time.Duration `env:"JWKS_CACHE_TTL" envDefault:"15m"`

	// AuthRateLimit is the sustained requests/second allowed per client IP on
	// the register and login routes. Zero disables limiting.
	AuthRateLimit float64 `env:"AUTH_RATE_LIMIT" envDefault:"5"`

	EventWorkers int `env:"EVENT_WORKERS" envDefault:"4"`
	EventBuffer  int `env:"EVENT_BUFFER" envDefault:"256"`
}

// Load parses the environment into a validated Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects combinations the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite driver"))
		}
	case DriverAzTables:
		if c.StorageConnectionString == "" {
			errs = append(errs, errors.New("STORAGE_CONNECTION_STRING is required for the aztables driver"))
		}
		if c.TasksTable == "" || c.UsersTable == "" {
			errs = append(errs, errors.New("TASKS_TABLE and USERS_TABLE are required for the aztables driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver))
	}
	if c.TaskEventsQueue != "" && c.StorageConnectionString == "" {
		errs = append(errs, errors.New("TASK_EVENTS_QUEUE requires STORAGE_CONNECTION_STRING"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.JWKSURL != "" && c.Audience == "" {
		errs = append(errs, errors.New("AUTH_AUDIENCE is required with AUTH_JWKS_URL"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be greater than zero"))
	}
	if c.TasksCacheTTL < 0 {
		errs = append(errs, errors.New("TASKS_CACHE_TTL must not be negative"))
	}
	if c.DeduperTTL <= 0 {
		errs = append(errs, errors.New("DEDUPER_TTL must be greater than zero"))
	}
	if c.AuthRateLimit < 0 {
		errs = append(errs, errors.New("AUTH_RATE_LIMIT must not be negative"))
	}
	if c.EventWorkers <= 0 || c.EventBuffer < 0 {
		errs = append(errs, errors.New("EVENT_WORKERS must be positive and EVENT_BUFFER non-negative"))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unsupported LOG_FORMAT %q", c.LogFormat))
	}
	return errors.Join(errs...)
}
