package main

import (
	"fmt"

	"github.com/cuemby/stormctl/pkg/config"
	"github.com/cuemby/stormctl/pkg/log"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema to the configured store",
	Long: `migrate opens the configured database and runs gorm's AutoMigrate
against the node, tenant-shard, and lease tables. Opening the store
already does this as a side effect of normal startup; this subcommand
exists to apply the schema ahead of time, e.g. in a deploy step that
runs before any stormctl serve replica comes up.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().String("database-dsn", "", "database DSN (overrides STORMCTL_DATABASE_DSN)")
	migrateCmd.Flags().String("database-driver", "", "database driver: postgres or sqlite (overrides STORMCTL_DATABASE_DRIVER)")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if v, _ := cmd.Flags().GetString("database-dsn"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v, _ := cmd.Flags().GetString("database-driver"); v != "" {
		cfg.DatabaseDriver = v
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	log.Logger.Info().Str("driver", cfg.DatabaseDriver).Msg("schema migrated")
	fmt.Println("migration complete")
	return nil
}
