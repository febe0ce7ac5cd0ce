package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/IvanBrykalov/imgcache/internal/app"
	"github.com/IvanBrykalov/imgcache/internal/config"
	"github.com/IvanBrykalov/imgcache/internal/logging"
)

type globalFlags struct {
	configFiles []string
	envPrefix   string
}

func rootCommand() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:           "imgcache",
		Short:         "Coalescing image cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringSliceVarP(&flags.configFiles, "config", "c", nil, "YAML config file (repeatable, later files win)")
	root.PersistentFlags().StringVar(&flags.envPrefix, "env-prefix", config.DefaultEnvPrefix, "prefix of environment overrides")

	root.AddCommand(serveCommand(&flags), fetchCommand(&flags))
	return root
}

// bootstrap loads configuration, builds the logger and wires the loader.
func bootstrap(cmd *cobra.Command, flags *globalFlags, adjust func(*config.Config)) (*app.App, config.Config, *slog.Logger, error) {
	cfg, err := config.NewLoader(flags.envPrefix, flags.configFiles...).Load(cmd.Context())
	if err != nil {
		return nil, cfg, nil, err
	}
	if adjust != nil {
		adjust(&cfg)
		if err := cfg.Validate(); err != nil {
			return nil, cfg, nil, err
		}
	}
	logger, err := logging.NewWithWriter(cmd.ErrOrStderr(), cfg.Logging)
	if err != nil {
		return nil, cfg, nil, err
	}
	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, cfg, nil, fmt.Errorf("imgcache: %w", err)
	}
	return a, cfg, logger, nil
}
