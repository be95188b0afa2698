package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix            = "PARCELCHAT"
	envConfigDefaultPath = "PARCELCHAT_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
// A missing config file is created with the defaults.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.JWTSecret == DefaultJWTSecret && logger != nil {
		logger.Warn().Msg("jwt_secret is the built-in default; set PARCELCHAT_JWT_SECRET")
	}

	return cfg, configPath, nil
}

// setDefaults registers every key so env vars are picked up even when the
// config file does not mention it.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("read_header_timeout", cfg.ReadHeaderTimeout)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("database_driver", cfg.DatabaseDriver)
	v.SetDefault("database_path", cfg.DatabasePath)
	v.SetDefault("database_url", cfg.DatabaseURL)
	v.SetDefault("jwt_secret", cfg.JWTSecret)
	v.SetDefault("jwt_issuer", cfg.JWTIssuer)
	v.SetDefault("jwt_audience", cfg.JWTAudience)
	v.SetDefault("token_ttl", cfg.TokenTTL)
	v.SetDefault("persist_timeout", cfg.PersistTimeout)
	v.SetDefault("history_limit", cfg.HistoryLimit)
	v.SetDefault("max_message_bytes", cfg.MaxMessageBytes)
	v.SetDefault("outbox_limit", cfg.OutboxLimit)
	v.SetDefault("rate_limit_per_minute", cfg.RateLimitPerMinute)
	v.SetDefault("allowed_origins", cfg.AllowedOrigins)
	v.SetDefault("mailbox_backend", cfg.MailboxBackend)
	v.SetDefault("redis_url", cfg.RedisURL)
	v.SetDefault("mailbox_ttl", cfg.MailboxTTL)
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

// fileConfig is the on-disk form; durations are written as strings like "10s".
type fileConfig struct {
	Addr               string   `yaml:"addr"`
	ReadHeaderTimeout  string   `yaml:"read_header_timeout"`
	ShutdownTimeout    string   `yaml:"shutdown_timeout"`
	LogLevel           string   `yaml:"log_level"`
	DatabaseDriver     string   `yaml:"database_driver"`
	DatabasePath       string   `yaml:"database_path"`
	DatabaseURL        string   `yaml:"database_url"`
	JWTSecret          string   `yaml:"jwt_secret"`
	JWTIssuer          string   `yaml:"jwt_issuer"`
	JWTAudience        string   `yaml:"jwt_audience"`
	TokenTTL           string   `yaml:"token_ttl"`
	PersistTimeout     string   `yaml:"persist_timeout"`
	HistoryLimit       int      `yaml:"history_limit"`
	MaxMessageBytes    int64    `yaml:"max_message_bytes"`
	OutboxLimit        int      `yaml:"outbox_limit"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
	MailboxBackend     string   `yaml:"mailbox_backend"`
	RedisURL           string   `yaml:"redis_url"`
	MailboxTTL         string   `yaml:"mailbox_ttl"`
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(fileConfig{
		Addr:               cfg.Addr,
		ReadHeaderTimeout:  cfg.ReadHeaderTimeout.String(),
		ShutdownTimeout:    cfg.ShutdownTimeout.String(),
		LogLevel:           cfg.LogLevel,
		DatabaseDriver:     cfg.DatabaseDriver,
		DatabasePath:       cfg.DatabasePath,
		DatabaseURL:        cfg.DatabaseURL,
		JWTSecret:          cfg.JWTSecret,
		JWTIssuer:          cfg.JWTIssuer,
		JWTAudience:        cfg.JWTAudience,
		TokenTTL:           cfg.TokenTTL.String(),
		PersistTimeout:     cfg.PersistTimeout.String(),
		HistoryLimit:       cfg.HistoryLimit,
		MaxMessageBytes:    cfg.MaxMessageBytes,
		OutboxLimit:        cfg.OutboxLimit,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		AllowedOrigins:     cfg.AllowedOrigins,
		MailboxBackend:     cfg.MailboxBackend,
		RedisURL:           cfg.RedisURL,
		MailboxTTL:         cfg.MailboxTTL.String(),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
