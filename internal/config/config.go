package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	DatabaseSQLite   = "sqlite"
	DatabasePostgres = "postgres"

	MailboxMemory = "memory"
	MailboxRedis  = "redis"

	// DefaultJWTSecret must be replaced outside of development.
	DefaultJWTSecret = "change-me-in-production"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	DatabaseDriver string `mapstructure:"database_driver" yaml:"database_driver"`
	DatabasePath   string `mapstructure:"database_path" yaml:"database_path"`
	DatabaseURL    string `mapstructure:"database_url" yaml:"database_url"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	TokenTTL    time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`

	PersistTimeout     time.Duration `mapstructure:"persist_timeout" yaml:"persist_timeout"`
	HistoryLimit       int           `mapstructure:"history_limit" yaml:"history_limit"`
	MaxMessageBytes    int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	OutboxLimit        int           `mapstructure:"outbox_limit" yaml:"outbox_limit"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	AllowedOrigins     []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`

	MailboxBackend string        `mapstructure:"mailbox_backend" yaml:"mailbox_backend"`
	RedisURL       string        `mapstructure:"redis_url" yaml:"redis_url"`
	MailboxTTL     time.Duration `mapstructure:"mailbox_ttl" yaml:"mailbox_ttl"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",

		DatabaseDriver: DatabaseSQLite,
		DatabasePath:   "parcelchat.db",

		JWTSecret:   DefaultJWTSecret,
		JWTIssuer:   "parcelchat",
		JWTAudience: "parcelchat-clients",
		TokenTTL:    24 * time.Hour,

		PersistTimeout:     10 * time.Second,
		HistoryLimit:       20,
		MaxMessageBytes:    64 << 10,
		OutboxLimit:        256,
		RateLimitPerMinute: 120,
		AllowedOrigins:     []string{},

		MailboxBackend: MailboxMemory,
		RedisURL:       "redis://localhost:6379/0",
		MailboxTTL:     7 * 24 * time.Hour,
	}
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.DatabaseDriver {
	case DatabaseSQLite:
		if c.DatabasePath == "" {
			errs = append(errs, errors.New("database_path is required for sqlite"))
		}
	case DatabasePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("database_url is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database_driver %q", c.DatabaseDriver))
	}

	switch c.MailboxBackend {
	case MailboxMemory:
	case MailboxRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("redis_url is required for the redis mailbox"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mailbox_backend %q", c.MailboxBackend))
	}

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret must not be empty"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("token_ttl must be positive"))
	}
	if c.PersistTimeout <= 0 {
		errs = append(errs, errors.New("persist_timeout must be positive"))
	}
	return errors.Join(errs...)
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DatabaseDriver != "" {
		c.DatabaseDriver = other.DatabaseDriver
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.DatabaseURL != "" {
		c.DatabaseURL = other.DatabaseURL
	}
	if other.MailboxBackend != "" {
		c.MailboxBackend = other.MailboxBackend
	}
	if other.RedisURL != "" {
		c.RedisURL = other.RedisURL
	}
}
