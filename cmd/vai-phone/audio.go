package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-phone/pkg/core/voice"
)

func newAudioCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audio",
		Short: "Inspect or delete call recordings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "ls <conversation-id>",
		Short: "List the recordings of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			files, err := voice.NewRecorder(cfg.AudioDir).List(args[0])
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rm <conversation-id>",
		Short: "Delete every recording of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := voice.NewRecorder(cfg.AudioDir).RemoveConversation(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed recordings for %s\n", args[0])
			return nil
		},
	})
	return cmd
}
