package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"offerbot/internal/config"
)

func NewValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewManager(opts.ConfigPath).Parse()
			if err != nil {
				return err
			}
			if err := cfg.RequireTelegram(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d sources, schedule %s)\n",
				opts.ConfigPath, len(cfg.Sources), cfg.Pipeline.ScheduleOrDefault())
			return nil
		},
	}
}
