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

func newStatusCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List checkpoint records and blob liveness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.run(cmd, func(ctx context.Context, app *App) error {
				statuses, err := app.Store.Status(ctx)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), g.output, statuses,
					table.Row{"Signal Type", "Signals", "Item ID", "Item TS", "Modified", "Blob", "Live"},
					func(t table.Writer) {
						for _, st := range statuses {
							t.AppendRow(statusRow(st))
						}
						t.AppendFooter(table.Row{fmt.Sprintf("Total: %d", len(statuses))})
					})
			})
		},
	}
}

func statusRow(st sigindex.Status) table.Row {
	modified := "-"
	if !st.LastModified.IsZero() {
		modified = humanize.Time(st.LastModified)
	}
	blob := "-"
	if st.HasBlob() {
		blob = st.BlobRef.String()
	}
	ts := "-"
	if st.UpdatedToItemTS != 0 {
		ts = time.Unix(st.UpdatedToItemTS, 0).UTC().Format(time.RFC3339)
	}
	return table.Row{st.SignalType, humanize.Comma(st.SignalCount), st.UpdatedToItemID, ts, modified, blob, st.Live}
}
