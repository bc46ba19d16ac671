package config

import (
	"time"

	"github.com/wallpaperd/wallpaperd/pkg/upload"
)

// ApplyDefaults fills in missing configuration with default values.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}

	cfg.Database.ApplyDefaults()
	cfg.NATS.ApplyDefaults()
	cfg.RateLimit.ApplyDefaults()
	cfg.Reconcile.ApplyDefaults()
	cfg.Upload.Policy.ApplyDefaults()
	cfg.Server.ApplyDefaults()

	if cfg.Consumer.Enabled {
		if cfg.Consumer.Durable == "" {
			cfg.Consumer.Durable = "wallpaperd-readmodel"
		}
		cfg.Consumer.Config.ApplyDefaults()
	}

	if cfg.Upload.MaxConcurrent == 0 {
		cfg.Upload.MaxConcurrent = upload.DefaultMaxConcurrent
	}
}

// GetDefaultConfig returns a fully defaulted configuration.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
