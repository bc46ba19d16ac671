package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wallpaperd/wallpaperd/internal/clock"
	"github.com/wallpaperd/wallpaperd/pkg/wallpaper"
)

// DatabaseType defines the supported database backends.
type DatabaseType string

const (
	// DatabaseTypeSQLite uses SQLite (single-node, tests).
	DatabaseTypeSQLite DatabaseType = "sqlite"

	// DatabaseTypePostgres uses PostgreSQL (production).
	DatabaseTypePostgres DatabaseType = "postgres"
)

// Config contains database configuration.
type Config struct {
	Type DatabaseType `mapstructure:"type" yaml:"type"`

	// Path is the SQLite database file (":memory:" for tests).
	Path string `mapstructure:"path" yaml:"path"`

	// URL is the PostgreSQL connection string (DATABASE_URL).
	URL string `mapstructure:"url" yaml:"url"`

	MaxOpenConns int `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Type == "" {
		if c.URL != "" {
			c.Type = DatabaseTypePostgres
		} else {
			c.Type = DatabaseTypeSQLite
		}
	}
	if c.Type == DatabaseTypeSQLite && c.Path == "" {
		c.Path = "wallpaperd.db"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Type {
	case DatabaseTypeSQLite:
		if c.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case DatabaseTypePostgres:
		if c.URL == "" {
			return fmt.Errorf("postgres connection url is required")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Type)
	}
	return nil
}

// GORMStore implements the Store interface using GORM.
// It supports both SQLite and PostgreSQL backends via the same codebase.
type GORMStore struct {
	db     *gorm.DB
	config *Config
	clock  clock.Clock
}

// New creates a new wallpaper metadata store based on the configuration.
// It creates the schema via GORM AutoMigrate plus a raw statement for the
// partial unique index that backs per-user content deduplication.
func New(config *Config, clk clock.Clock) (*GORMStore, error) {
	if config == nil {
		config = &Config{}
	}
	if clk == nil {
		clk = clock.System()
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	var dialector gorm.Dialector
	switch config.Type {
	case DatabaseTypeSQLite:
		// WAL for concurrent readers, busy_timeout to ride out the single
		// writer.
		dsn := config.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		dialector = sqlite.Open(dsn)

	case DatabaseTypePostgres:
		dialector = postgres.Open(config.URL)

	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database: %w", err)
	}
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)

	store := &GORMStore{
		db:     db,
		config: config,
		clock:  clk,
	}

	if err := store.Migrate(); err != nil {
		return nil, err
	}

	return store, nil
}

// Migrate creates or updates the wallpapers schema.
func (s *GORMStore) Migrate() error {
	if err := s.db.AutoMigrate(&wallpaper.Wallpaper{}); err != nil {
		return fmt.Errorf("failed to run database migration: %w", err)
	}

	// GORM cannot express a partial unique index portably, so the
	// deduplication constraint is created with raw SQL. Both SQLite and
	// PostgreSQL support the WHERE clause on CREATE UNIQUE INDEX.
	if err := s.db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_wallpapers_user_content_active " +
			"ON wallpapers (user_id, content_hash) " +
			"WHERE upload_state IN ('stored', 'processing', 'completed')",
	).Error; err != nil {
		return fmt.Errorf("failed to create dedup index: %w", err)
	}

	return nil
}

// DB returns the underlying GORM database connection.
// This is useful for advanced queries or testing.
func (s *GORMStore) DB() *gorm.DB {
	return s.db
}

// isUniqueConstraintError checks if the error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// SQLite or PostgreSQL unique constraint errors
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed") ||
		strings.Contains(errStr, "duplicate key value violates unique constraint")
}

// convertNotFoundError converts gorm.ErrRecordNotFound to the appropriate domain error.
func convertNotFoundError(err error, notFoundErr error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFoundErr
	}
	return err
}
