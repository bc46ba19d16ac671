package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wallpaperd/wallpaperd/internal/clock"
	"github.com/wallpaperd/wallpaperd/internal/logger"
	"github.com/wallpaperd/wallpaperd/pkg/wallpaper/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database schema migration and exit",
	Long: `Create or update the wallpapers schema, including the partial unique
index backing per-user content deduplication, then exit. Useful as an
init container step before rolling out new instances.`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// store.New runs the migration as part of opening the database.
	metaStore, err := store.New(&cfg.Database, clock.System())
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	defer metaStore.Close()

	logger.Info("Database migration complete", "type", string(cfg.Database.Type))
	return nil
}
