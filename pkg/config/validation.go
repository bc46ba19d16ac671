package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against the struct-level validation
// tags plus the cross-field rules that tags cannot express.
func Validate(cfg *Config) error {
	validate := validator.New()

	if err := validate.Struct(cfg); err != nil {
		return err
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if cfg.S3.Bucket == "" {
		return fmt.Errorf("s3: bucket is required (S3_BUCKET)")
	}

	if cfg.RateLimit.Max < 1 {
		return fmt.Errorf("ratelimit: max must be at least 1")
	}
	if cfg.RateLimit.Window <= 0 {
		return fmt.Errorf("ratelimit: window must be positive")
	}

	if cfg.Reconcile.MaxAttempts < 1 {
		return fmt.Errorf("reconcile: max_attempts must be at least 1")
	}

	return nil
}
