// Package config loads and validates the wallpaperd configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (WALLPAPERD_* plus the compatibility names
//     documented below)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/wallpaperd/wallpaperd/pkg/api"
	"github.com/wallpaperd/wallpaperd/pkg/consumer"
	"github.com/wallpaperd/wallpaperd/pkg/events/natsbus"
	"github.com/wallpaperd/wallpaperd/pkg/ratelimit"
	"github.com/wallpaperd/wallpaperd/pkg/reconcile"
	s3store "github.com/wallpaperd/wallpaperd/pkg/store/object/s3"
	"github.com/wallpaperd/wallpaperd/pkg/upload"
	"github.com/wallpaperd/wallpaperd/pkg/wallpaper/store"
)

// Config represents the wallpaperd configuration.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Database configures the metadata store (SQLite or PostgreSQL).
	Database store.Config `mapstructure:"database" yaml:"database"`

	// S3 configures the object store holding wallpaper bytes.
	S3 s3store.Config `mapstructure:"s3" yaml:"s3"`

	// NATS configures the JetStream event bus.
	NATS natsbus.Config `mapstructure:"nats" yaml:"nats"`

	// RateLimit configures the per-user upload window.
	RateLimit RateLimitConfig `mapstructure:"ratelimit" yaml:"ratelimit"`

	// Reconcile configures the repair loops.
	Reconcile reconcile.Config `mapstructure:"reconcile" yaml:"reconcile"`

	// Upload carries the validation policy and the concurrency bound.
	Upload UploadConfig `mapstructure:"upload" yaml:"upload"`

	// Consumer configures the optional in-process read-model consumer.
	Consumer ConsumerConfig `mapstructure:"consumer" yaml:"consumer"`

	// Server configures the operational HTTP server.
	Server api.ServerConfig `mapstructure:"server" yaml:"server"`

	// Metrics enables the Prometheus registry and the /metrics endpoint.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// RateLimitConfig configures the upload rate limiter.
type RateLimitConfig struct {
	ratelimit.Config `mapstructure:",squash" yaml:",inline"`

	// RedisURL selects the Redis-backed limiter when set (REDIS_URL,
	// e.g. redis://localhost:6379/0). Empty selects the in-process
	// limiter, which shares no state across instances.
	RedisURL string `mapstructure:"redis_url" yaml:"redis_url"`
}

// UploadConfig configures the upload orchestrator.
type UploadConfig struct {
	// Policy holds the validation limits.
	Policy upload.Policy `mapstructure:"policy" yaml:"policy"`

	// MaxConcurrent bounds in-flight uploads per process.
	MaxConcurrent int `mapstructure:"max_concurrent" validate:"gte=0" yaml:"max_concurrent"`
}

// ConsumerConfig configures the read-model consumer.
type ConsumerConfig struct {
	consumer.Config `mapstructure:",squash" yaml:",inline"`

	// Enabled starts the consumer inside this process.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// MetricsConfig controls the Prometheus registry.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string skips the file and
//     uses environment plus defaults)
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyCompatEnv(&cfg)
	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variable support and the
// config file location.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the WALLPAPERD_ prefix with underscores.
	// Example: WALLPAPERD_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("WALLPAPERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	}
}

// applyCompatEnv applies the flat environment variable names shared with
// the rest of the deployment (compose files, Helm charts). These take
// precedence over both file and WALLPAPERD_* values.
func applyCompatEnv(cfg *Config) {
	setString := func(dst *string, name string) {
		if val := os.Getenv(name); val != "" {
			*dst = val
		}
	}

	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setString(&cfg.S3.AccessKeyID, "S3_ACCESS_KEY_ID")
	setString(&cfg.S3.SecretAccessKey, "S3_SECRET_ACCESS_KEY")
	setString(&cfg.S3.Bucket, "S3_BUCKET")
	setString(&cfg.S3.Region, "S3_REGION")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "NATS_STREAM")
	setString(&cfg.RateLimit.RedisURL, "REDIS_URL")

	if val := os.Getenv("RATE_LIMIT_MAX"); val != "" {
		if n, err := parseInt(val); err == nil {
			cfg.RateLimit.Max = n
		}
	}
	setDurationMs(&cfg.RateLimit.Window, "RATE_LIMIT_WINDOW_MS")
	setDurationMs(&cfg.Reconcile.StuckUploadAge, "RECONCILE_STUCK_UPLOAD_AGE_MS")
	setDurationMs(&cfg.Reconcile.MissingEventAge, "RECONCILE_MISSING_EVENT_AGE_MS")
	setDurationMs(&cfg.Reconcile.OrphanIntentAge, "RECONCILE_ORPHAN_INTENT_AGE_MS")
}

func setDurationMs(dst *time.Duration, name string) {
	if val := os.Getenv(name); val != "" {
		if ms, err := parseInt(val); err == nil && ms > 0 {
			*dst = time.Duration(ms) * time.Millisecond
		}
	}
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

// configDecodeHooks returns the decode hooks for custom types, currently
// only duration strings ("30s", "5m").
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	)
}
