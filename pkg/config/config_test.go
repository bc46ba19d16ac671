package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wallpaperd/wallpaperd/pkg/wallpaper/store"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("S3_BUCKET", "wallpapers")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Logging.Level != "INFO" || cfg.Logging.Format != "text" || cfg.Logging.Output != "stdout" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %s", cfg.ShutdownTimeout)
	}
	if cfg.Database.Type != store.DatabaseTypeSQLite {
		t.Errorf("Database.Type = %s", cfg.Database.Type)
	}
	if cfg.RateLimit.Max != 10 || cfg.RateLimit.Window != time.Minute {
		t.Errorf("ratelimit defaults = %+v", cfg.RateLimit)
	}
	if cfg.Reconcile.StuckUploadAge != 10*time.Minute {
		t.Errorf("StuckUploadAge = %s", cfg.Reconcile.StuckUploadAge)
	}
	if cfg.Reconcile.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d", cfg.Reconcile.MaxAttempts)
	}
	if cfg.Upload.MaxConcurrent != 32 {
		t.Errorf("MaxConcurrent = %d", cfg.Upload.MaxConcurrent)
	}
	if cfg.Upload.Policy.MaxBytesImage != 50*1024*1024 {
		t.Errorf("MaxBytesImage = %d", cfg.Upload.Policy.MaxBytesImage)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Consumer.Enabled {
		t.Error("consumer should be disabled by default")
	}
}

func TestLoadCompatEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://wallpaperd:secret@db:5432/wallpaperd")
	t.Setenv("S3_ENDPOINT", "http://minio:9000")
	t.Setenv("S3_BUCKET", "wallpapers-prod")
	t.Setenv("NATS_URL", "nats://broker:4222")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("RATE_LIMIT_MAX", "25")
	t.Setenv("RATE_LIMIT_WINDOW_MS", "5000")
	t.Setenv("RECONCILE_STUCK_UPLOAD_AGE_MS", "60000")
	t.Setenv("RECONCILE_MISSING_EVENT_AGE_MS", "120000")
	t.Setenv("RECONCILE_ORPHAN_INTENT_AGE_MS", "3600000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.URL != "postgres://wallpaperd:secret@db:5432/wallpaperd" {
		t.Errorf("Database.URL = %q", cfg.Database.URL)
	}
	if cfg.Database.Type != store.DatabaseTypePostgres {
		t.Errorf("Database.Type = %s, want postgres inferred from URL", cfg.Database.Type)
	}
	if cfg.S3.Endpoint != "http://minio:9000" || cfg.S3.Bucket != "wallpapers-prod" {
		t.Errorf("S3 = %+v", cfg.S3)
	}
	if cfg.NATS.URL != "nats://broker:4222" {
		t.Errorf("NATS.URL = %q", cfg.NATS.URL)
	}
	if cfg.RateLimit.RedisURL != "redis://cache:6379/0" {
		t.Errorf("RedisURL = %q", cfg.RateLimit.RedisURL)
	}
	if cfg.RateLimit.Max != 25 {
		t.Errorf("RateLimit.Max = %d", cfg.RateLimit.Max)
	}
	if cfg.RateLimit.Window != 5*time.Second {
		t.Errorf("RateLimit.Window = %s", cfg.RateLimit.Window)
	}
	if cfg.Reconcile.StuckUploadAge != time.Minute {
		t.Errorf("StuckUploadAge = %s", cfg.Reconcile.StuckUploadAge)
	}
	if cfg.Reconcile.MissingEventAge != 2*time.Minute {
		t.Errorf("MissingEventAge = %s", cfg.Reconcile.MissingEventAge)
	}
	if cfg.Reconcile.OrphanIntentAge != time.Hour {
		t.Errorf("OrphanIntentAge = %s", cfg.Reconcile.OrphanIntentAge)
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("S3_BUCKET", "wallpapers")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
logging:
  level: DEBUG
  format: json
ratelimit:
  max: 3
  window: 30s
reconcile:
  stuck_upload_age: 2m
upload:
  max_concurrent: 4
consumer:
  enabled: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.RateLimit.Max != 3 || cfg.RateLimit.Window != 30*time.Second {
		t.Errorf("ratelimit = %+v", cfg.RateLimit)
	}
	if cfg.Reconcile.StuckUploadAge != 2*time.Minute {
		t.Errorf("StuckUploadAge = %s", cfg.Reconcile.StuckUploadAge)
	}
	if cfg.Upload.MaxConcurrent != 4 {
		t.Errorf("MaxConcurrent = %d", cfg.Upload.MaxConcurrent)
	}
	if !cfg.Consumer.Enabled {
		t.Error("consumer should be enabled")
	}
	if cfg.Consumer.Durable != "wallpaperd-readmodel" {
		t.Errorf("Consumer.Durable = %q", cfg.Consumer.Durable)
	}
}

func TestLoadMissingBucket(t *testing.T) {
	t.Setenv("S3_BUCKET", "")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error without a bucket")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := GetDefaultConfig()
		cfg.S3.Bucket = "wallpapers"
		return cfg
	}

	t.Run("default config with bucket passes", func(t *testing.T) {
		if err := Validate(valid()); err != nil {
			t.Errorf("Validate: %v", err)
		}
	})

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"zero shutdown timeout", func(c *Config) { c.ShutdownTimeout = 0 }},
		{"zero rate limit", func(c *Config) { c.RateLimit.Max = 0 }},
		{"negative window", func(c *Config) { c.RateLimit.Window = -time.Second }},
		{"zero reconcile attempts", func(c *Config) { c.Reconcile.MaxAttempts = 0 }},
		{"no sqlite path", func(c *Config) { c.Database.Path = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
