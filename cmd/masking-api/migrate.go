package main

import (
	"context"
	"fmt"

	"github.com/safemasking/masking-api/internal/store"
	"github.com/safemasking/masking-api/pkg/migrations"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate the db",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := setup()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := a.migrate(cmd.Context()); err != nil {
			return err
		}

		zap.S().Named("masking_api").Info("db migrated")
		return nil
	},
}

// migrate applies the goose migrations to postgres. Sqlite, used for local
// runs, gets its schema from the gorm models.
func (a *app) migrate(ctx context.Context) error {
	if a.cfg.Database.Type == store.DbTypePostgres {
		if err := migrations.MigrateStore(a.db, a.cfg.Service.MigrationFolder); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	} else if err := a.store.InitialMigration(ctx); err != nil {
		return fmt.Errorf("running initial migration: %w", err)
	}

	if err := a.store.Seed(); err != nil {
		return fmt.Errorf("seeding the db: %w", err)
	}
	return nil
}
