package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"offerbot/internal/app"
	"offerbot/internal/pipeline"
)

func NewOnceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run one ingest and delivery cycle, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCore(opts, true, func(c *app.Core) error {
				res, err := c.Once(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "cycle %s: %s\n", res.ID, res.Outcome)
				printIngest(cmd.OutOrStdout(), res.Report.Ingest)
				printDeliver(cmd.OutOrStdout(), res.Report.Deliver)
				return err
			})
		},
	}
}

func NewIngestCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Fetch every source and store new offers without posting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCore(opts, false, func(c *app.Core) error {
				rep, err := c.Pipe.RunIngestion(cmd.Context(), nil)
				printIngest(cmd.OutOrStdout(), rep)
				return err
			})
		},
	}
}

func NewDeliverCommand(opts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "deliver",
		Short: "Post pending offers to the channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				return errors.New("--limit must be >= 0")
			}
			return withCore(opts, true, func(c *app.Core) error {
				rep, err := c.Pipe.RunDelivery(cmd.Context(), limit)
				printDeliver(cmd.OutOrStdout(), rep)
				return err
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum offers to post (0 = pipeline.batch_size)")
	return cmd
}

func NewStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show stored offer counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCore(opts, false, func(c *app.Core) error {
				st, err := c.Pipe.Stats(cmd.Context())
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "total:   %s\n", humanize.Comma(int64(st.Total)))
				fmt.Fprintf(w, "sent:    %s\n", humanize.Comma(int64(st.Sent)))
				fmt.Fprintf(w, "pending: %s\n", humanize.Comma(int64(st.Pending)))
				return nil
			})
		},
	}
}

func NewPurgeCommand(opts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every stored offer (sent and pending)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to purge without --yes")
			}
			return withCore(opts, false, func(c *app.Core) error {
				return purge(cmd.Context(), cmd.OutOrStdout(), c.Pipe)
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the purge")
	return cmd
}

type purger interface {
	PurgeAll(ctx context.Context) (int64, error)
}

func purge(ctx context.Context, w io.Writer, p purger) error {
	n, err := p.PurgeAll(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "purged %s offers\n", humanize.Comma(n))
	return nil
}

func printIngest(w io.Writer, r pipeline.IngestReport) {
	fmt.Fprintf(w, "ingest: %d fetched, %d new, %d duplicates, %d rejected, %d sources failed\n",
		r.Fetched, r.New, r.Duplicates, r.Rejected, r.Failed)
	for _, s := range r.Sources {
		line := fmt.Sprintf("  %-20s fetched=%d new=%d took=%s", s.Source, s.Fetched, s.New, s.Duration.Round(time.Millisecond))
		if s.Err != nil {
			line += " err=" + s.Err.Error()
		}
		fmt.Fprintln(w, line)
	}
}

func printDeliver(w io.Writer, r pipeline.DeliverReport) {
	fmt.Fprintf(w, "deliver: %d/%d posted (%d photo, %d text), %d failed\n",
		r.Delivered, r.Attempted, r.ViaPhoto, r.ViaText, r.Failed)
}
