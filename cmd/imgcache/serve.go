package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/IvanBrykalov/imgcache/internal/server"
)

func serveCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve images over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cfg, logger, err := bootstrap(cmd, flags, nil)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Warn("shutdown incomplete", slog.Any("error", err))
				}
			}()

			srv, err := server.New(cfg.Server, logger, server.NewHandler(a.Loader, a.Metrics.Handler(), logger))
			if err != nil {
				return err
			}
			if err := srv.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
