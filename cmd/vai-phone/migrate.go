package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-phone/pkg/gateway/store"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			st, err := store.Open(cmd.Context(), store.Options{
				Driver:      cfg.DatabaseDriver,
				DSN:         cfg.DatabaseDSN,
				Logger:      logger,
				SkipMigrate: true,
			})
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			if err := st.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", cfg.DatabaseDriver)
			return nil
		},
	}
}
