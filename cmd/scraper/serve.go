package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/media-scraper/internal/server"
)

func newServeCmd() *cobra.Command {
	var migrateFirst bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the job workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt := runtimeFrom(cmd)
			if rt == nil {
				return errors.New("runtime not initialized")
			}
			if migrateFirst {
				if rt.cfg.DB.DSN == "" {
					rt.logger.Warn("--migrate ignored: no database DSN configured")
				} else if err := runMigrations(rt); err != nil {
					return err
				}
			}
			app, err := server.Build(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("build app: %w", err)
			}
			if err := app.Run(cmd.Context()); err != nil {
				rt.logger.Error("server stopped with error", zap.Error(err))
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&migrateFirst, "migrate", false, "apply database migrations before serving")
	return cmd
}
