package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/media-scraper/internal/config"
	"github.com/JakeFAU/media-scraper/internal/logging"
)

type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// runtime is what every subcommand needs once flags are parsed.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:           "scraper",
		Short:         "Scrapes images and videos from web pages through a Postgres-backed cache.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey, &runtime{cfg: cfg, logger: logger}))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt := runtimeFrom(cmd); rt != nil {
				_ = rt.logger.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")

	cmd.AddCommand(newServeCmd(), newMigrateCmd())
	return cmd
}

func runtimeFrom(cmd *cobra.Command) *runtime {
	if cmd.Context() == nil {
		return nil
	}
	rt, _ := cmd.Context().Value(runtimeKey).(*runtime)
	return rt
}
