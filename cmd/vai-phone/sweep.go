package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-phone/pkg/gateway/store"
	"github.com/vango-go/vai-phone/pkg/gateway/sweeper"
)

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "End stale conversations once and exit",
		Long:  "Ends every conversation still active after the configured stale-after window. Do not run it against a database with calls in progress on another server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())
			ctx := cmd.Context()

			st, err := store.Open(ctx, store.Options{Driver: cfg.DatabaseDriver, DSN: cfg.DatabaseDSN, Logger: logger})
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			summaries, err := buildSummarizer(ctx, cfg, st, logger)
			if err != nil {
				return fmt.Errorf("build summarizer: %w", err)
			}
			scfg := sweeper.Config{
				Store:      st,
				StaleAfter: cfg.StaleAfter,
				Schedule:   cfg.SweepSchedule,
				Logger:     logger,
			}
			if summaries != nil {
				scfg.Summarizer = summaries
			}
			sw, err := sweeper.New(scfg)
			if err != nil {
				return err
			}

			n, runErr := sw.RunOnce(ctx)
			if summaries != nil {
				summaries.Wait(ctx)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ended %d stale conversations\n", n)
			return runErr
		},
	}
}
