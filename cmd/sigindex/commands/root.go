package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/sigindex/internal/config"
)

// Output formats.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// ErrUnknownFormat is returned for an unsupported --output value.
var ErrUnknownFormat = errors.New("unknown output format")

// globals holds the persistent flags shared by all commands.
type globals struct {
	configPath string
	output     string
}

// NewRootCommand creates the sigindex command tree.
func NewRootCommand() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:   "sigindex",
		Short: "Manage persisted signal indexes",
		Long: `sigindex commits, loads and reconciles signal indexes kept in a blob
store and tracked by checkpoint records.

Commands:
  status     List checkpoint records and blob liveness
  liveness   Check whether a signal type has a loadable index
  inspect    Load an index and print its size
  enable     Create an empty record for a signal type
  disable    Remove a record and reclaim its blob
  rebuild    Fold new items from a JSONL file into an index
  reconcile  Find and delete orphaned blobs`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			switch g.output {
			case formatTable, formatJSON, formatYAML:
				return nil
			default:
				return fmt.Errorf("%w: %q", ErrUnknownFormat, g.output)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file (default .sigindex.yaml)")
	rootCmd.PersistentFlags().StringVarP(&g.output, "output", "o", formatTable, "output format: table, json or yaml")

	rootCmd.AddCommand(
		newStatusCommand(g),
		newLivenessCommand(g),
		newInspectCommand(g),
		newEnableCommand(g),
		newDisableCommand(g),
		newRebuildCommand(g),
		newReconcileCommand(g),
	)

	return rootCmd
}

// run loads the configuration, wires the backends and calls fn.
// Metrics are written after fn returns, even when it failed.
func (g *globals) run(cmd *cobra.Command, fn func(ctx context.Context, app *App) error) (err error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	app, err := Open(ctx, cfg, NewLogger(cfg.Log, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, app.WriteMetrics(), app.Close())
	}()

	return fn(ctx, app)
}
