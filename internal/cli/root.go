// Package cli is the offerbot command line: the daemon plus one-shot
// maintenance commands that share its config file.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"offerbot/internal/app"
)

const defaultConfigPath = "./config.yaml"

// RootOptions holds the global flags.
type RootOptions struct {
	ConfigPath string
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	run := NewRunCommand(opts)

	cmd := &cobra.Command{
		Use:           "offerbot",
		Short:         "Collects deal offers and posts them to a Telegram channel",
		Long:          "offerbot scrapes RSS feeds and coupon pages on a schedule, deduplicates offers by canonical link and publishes new ones to a Telegram channel.",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Bare "offerbot" runs the daemon.
		RunE: run.RunE,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", configDefault(), "path to the config file (yaml or json)")

	cmd.AddCommand(
		run,
		NewOnceCommand(opts),
		NewIngestCommand(opts),
		NewDeliverCommand(opts),
		NewStatsCommand(opts),
		NewPurgeCommand(opts),
		NewValidateCommand(opts),
	)
	return cmd
}

func configDefault() string {
	if p := os.Getenv("OFFERBOT_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}

// withCore opens a Core for one-shot commands.
func withCore(opts *RootOptions, telegram bool, fn func(*app.Core) error) error {
	return app.WithCore(opts.ConfigPath, app.Options{Telegram: telegram}, fn)
}
