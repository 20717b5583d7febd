package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

func newMigrateCmd(load func() (*fileConfig, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply store migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger, err := cfg.newLogger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := openStore(ctx, cfg.Store, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Migrate(ctx); err != nil {
				return err
			}
			logger.Info("migrations applied", slog.String("driver", cfg.Store.Driver))
			return nil
		},
	}
}
