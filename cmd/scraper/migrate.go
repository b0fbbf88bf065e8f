package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/media-scraper/internal/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt := runtimeFrom(cmd)
			if rt == nil {
				return errors.New("runtime not initialized")
			}
			return runMigrations(rt)
		},
	}
}

func runMigrations(rt *runtime) error {
	res, err := postgres.Migrate(rt.cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	rt.logger.Info("database migrated",
		zap.Uint("version", res.Version),
		zap.Bool("dirty", res.Dirty),
		zap.Bool("changed", res.Changed),
	)
	return nil
}
