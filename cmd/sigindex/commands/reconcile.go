package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/hupe1980/sigindex"
)

type reconcileFlags struct {
	dryRun           bool
	minAge           time.Duration
	concurrency      int
	deletesPerSecond float64
}

func newReconcileCommand(g *globals) *cobra.Command {
	rf := &reconcileFlags{}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Find and delete orphaned blobs",
		Long: `Reconcile lists the blob store, compares it with the checkpoint
records and deletes blobs no record references. Blobs younger than
--min-age are skipped so in-flight commits are not swept. Records that
reference missing blobs are reported as dangling.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.run(cmd, func(ctx context.Context, app *App) error {
				ro := rf.options(cmd, app)
				report, err := app.Store.Reconcile(ctx, ro)
				if err != nil {
					return err
				}
				return renderReport(cmd, g.output, report)
			})
		},
	}

	cmd.Flags().BoolVar(&rf.dryRun, "dry-run", false, "report orphans without deleting them")
	cmd.Flags().DurationVar(&rf.minAge, "min-age", 0, "skip blobs younger than this (default from config)")
	cmd.Flags().IntVar(&rf.concurrency, "concurrency", 0, "parallel blob store calls (default from config)")
	cmd.Flags().Float64Var(&rf.deletesPerSecond, "deletes-per-second", 0, "throttle deletions (default from config)")

	return cmd
}

// options merges the flags over the reconcile section of the config.
func (rf *reconcileFlags) options(cmd *cobra.Command, app *App) sigindex.ReconcileOptions {
	cfg := app.Config.Reconcile
	ro := sigindex.ReconcileOptions{
		MinAge:           cfg.MinAge,
		DryRun:           rf.dryRun,
		Concurrency:      cfg.Concurrency,
		DeletesPerSecond: cfg.DeletesPerSecond,
	}
	if cmd.Flags().Changed("min-age") {
		ro.MinAge = rf.minAge
	}
	if cmd.Flags().Changed("concurrency") {
		ro.Concurrency = rf.concurrency
	}
	if cmd.Flags().Changed("deletes-per-second") {
		ro.DeletesPerSecond = rf.deletesPerSecond
	}
	return ro
}

func renderReport(cmd *cobra.Command, format string, r *sigindex.ReconcileReport) error {
	return render(cmd.OutOrStdout(), format, r,
		table.Row{"Handle", "Size", "Created", "Action"},
		func(t table.Writer) {
			actions := make(map[string]string, len(r.Orphans))
			for _, o := range r.Skipped {
				actions[string(o.Handle)] = "skipped"
			}
			for _, h := range r.Deleted {
				actions[string(h)] = "deleted"
			}
			for _, h := range r.Failed {
				actions[string(h)] = "failed"
			}
			for _, o := range r.Orphans {
				action, ok := actions[string(o.Handle)]
				if !ok {
					action = "orphan"
				}
				created := "unknown"
				if !o.Created.IsZero() {
					created = humanize.Time(o.Created)
				}
				t.AppendRow(table.Row{o.Handle, humanize.IBytes(uint64(o.Size)), created, action})
			}
			for _, rec := range r.Dangling {
				t.AppendRow(table.Row{rec.BlobRef, "-", "-", "dangling " + rec.SignalType})
			}
			t.AppendFooter(table.Row{
				fmt.Sprintf("scanned %d", r.Scanned),
				fmt.Sprintf("referenced %d", r.Referenced),
				fmt.Sprintf("orphans %d", len(r.Orphans)),
				"reclaimed " + humanize.IBytes(uint64(r.ReclaimedBytes)),
			})
		})
}
