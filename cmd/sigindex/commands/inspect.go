package commands

import (
	"context"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type inspectResult struct {
	SignalType string              `json:"signal_type" yaml:"signal_type"`
	Hashes     int                 `json:"hashes" yaml:"hashes"`
	Entries    int64               `json:"entries" yaml:"entries"`
	SizeBytes  uint64              `json:"size_bytes" yaml:"size_bytes"`
	Matches    map[string][]uint64 `json:"matches,omitempty" yaml:"matches,omitempty"`
}

func newInspectCommand(g *globals) *cobra.Command {
	var hashes []string

	cmd := &cobra.Command{
		Use:   "inspect <signal-type>",
		Short: "Load an index and print its size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, app *App) error {
				idx, err := app.Store.Load(ctx, args[0])
				if err != nil {
					return err
				}

				res := inspectResult{
					SignalType: args[0],
					Hashes:     idx.Hashes(),
					Entries:    idx.Len(),
					SizeBytes:  idx.SizeInBytes(),
				}
				if len(hashes) > 0 {
					res.Matches = make(map[string][]uint64, len(hashes))
					for _, h := range hashes {
						res.Matches[h] = idx.Query(h)
					}
				}

				return render(cmd.OutOrStdout(), g.output, res,
					table.Row{"Field", "Value"},
					func(t table.Writer) {
						t.AppendRow(table.Row{"signal type", res.SignalType})
						t.AppendRow(table.Row{"hashes", humanize.Comma(int64(res.Hashes))})
						t.AppendRow(table.Row{"entries", humanize.Comma(res.Entries)})
						t.AppendRow(table.Row{"size", humanize.IBytes(res.SizeBytes)})
						for _, h := range hashes {
							t.AppendRow(table.Row{h, formatIDs(res.Matches[h])})
						}
					})
			})
		},
	}

	cmd.Flags().StringSliceVar(&hashes, "hash", nil, "query the ids stored under a hash (repeatable)")

	return cmd
}

func formatIDs(ids []uint64) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}
	return strings.Join(parts, " ")
}
