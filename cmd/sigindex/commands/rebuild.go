package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/hupe1980/sigindex"
	"github.com/hupe1980/sigindex/checkpoint"
	"github.com/hupe1980/sigindex/signalindex"
)

var (
	// ErrMissingItems is returned when rebuild is called without --items.
	ErrMissingItems = errors.New("--items is required")

	// ErrNegativeItemID is returned for an item whose id is below zero.
	ErrNegativeItemID = errors.New("negative item id")
)

// jsonItem is one line of an items file.
type jsonItem struct {
	SignalType string   `json:"signal_type"`
	ID         int64    `json:"id"`
	Timestamp  int64    `json:"timestamp"`
	Hashes     []string `json:"hashes"`
}

// jsonlSource reads items from a JSON Lines file. Lines naming another
// signal type are ignored; lines without one belong to every type.
type jsonlSource struct {
	path string
}

func (s jsonlSource) ItemsAfter(ctx context.Context, signalType string, after checkpoint.Checkpoint) iter.Seq2[sigindex.Item, error] {
	return func(yield func(sigindex.Item, error) bool) {
		f, err := os.Open(s.path)
		if err != nil {
			yield(sigindex.Item{}, err)
			return
		}
		defer f.Close()

		dec := json.NewDecoder(bufio.NewReader(f))
		for line := 1; ; line++ {
			if err := ctx.Err(); err != nil {
				yield(sigindex.Item{}, err)
				return
			}

			var it jsonItem
			if err := dec.Decode(&it); err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				yield(sigindex.Item{}, fmt.Errorf("%s: item %d: %w", s.path, line, err))
				return
			}
			if it.ID < 0 {
				yield(sigindex.Item{}, fmt.Errorf("%s: item %d: %w: %d", s.path, line, ErrNegativeItemID, it.ID))
				return
			}
			if it.SignalType != "" && it.SignalType != signalType {
				continue
			}
			if !after.IsZero() && after.Before(it.Timestamp, it.ID) {
				continue
			}
			if !yield(sigindex.Item{ID: it.ID, Timestamp: it.Timestamp, Hashes: it.Hashes}, nil) {
				return
			}
		}
	}
}

var indexFolder = sigindex.Folder[*signalindex.Index]{
	New:  signalindex.New,
	Fold: foldItem,
	Len:  func(idx *signalindex.Index) int64 { return idx.Len() },
}

func foldItem(idx *signalindex.Index, item sigindex.Item) *signalindex.Index {
	for _, h := range item.Hashes {
		idx.Add(h, uint64(item.ID))
	}
	return idx
}

type rebuildResult struct {
	SignalType        string `json:"signal_type" yaml:"signal_type"`
	Items             int    `json:"items" yaml:"items"`
	Full              bool   `json:"full" yaml:"full"`
	Committed         bool   `json:"committed" yaml:"committed"`
	SignalCount       int64  `json:"signal_count" yaml:"signal_count"`
	LastItemID        int64  `json:"last_item_id" yaml:"last_item_id"`
	LastItemTimestamp int64  `json:"last_item_timestamp" yaml:"last_item_timestamp"`
	BlobRef           string `json:"blob_ref,omitempty" yaml:"blob_ref,omitempty"`
}

func newRebuildCommand(g *globals) *cobra.Command {
	var items string

	cmd := &cobra.Command{
		Use:   "rebuild <signal-type>...",
		Short: "Fold new items from a JSONL file into an index",
		Long: `Rebuild resumes each signal type from its checkpoint, folds in the
items of --items that are newer than the checkpoint and commits the
result. Items must be ordered by (timestamp, id).

Each line of the items file is a JSON object:
  {"signal_type": "md5", "id": 42, "timestamp": 1700000000, "hashes": ["..."]}`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if items == "" {
				return ErrMissingItems
			}
			return g.run(cmd, func(ctx context.Context, app *App) error {
				rb, err := sigindex.NewRebuilder(app.Store, jsonlSource{path: items}, indexFolder)
				if err != nil {
					return err
				}

				results := make([]rebuildResult, 0, len(args))
				for _, st := range args {
					res, err := rb.Rebuild(ctx, st)
					if err != nil {
						return err
					}
					results = append(results, rebuildResult{
						SignalType:        res.SignalType,
						Items:             res.Items,
						Full:              res.Full,
						Committed:         res.Committed,
						SignalCount:       res.Checkpoint.TotalHashCount,
						LastItemID:        res.Checkpoint.LastItemID,
						LastItemTimestamp: res.Checkpoint.LastItemTimestamp,
						BlobRef:           res.Record.BlobRef.String(),
					})
				}

				return render(cmd.OutOrStdout(), g.output, results,
					table.Row{"Signal Type", "Items", "Full", "Committed", "Signals", "Last ID", "Blob"},
					func(t table.Writer) {
						for _, r := range results {
							t.AppendRow(table.Row{r.SignalType, r.Items, r.Full, r.Committed, r.SignalCount, r.LastItemID, r.BlobRef})
						}
					})
			})
		},
	}

	cmd.Flags().StringVarP(&items, "items", "i", "", "JSON Lines file with items")

	return cmd
}
