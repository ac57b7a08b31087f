package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newEnableCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "enable <signal-type>...",
		Short: "Create an empty record for each signal type",
		Long: `Enable creates an empty checkpoint record for each signal type.
Existing records are left unchanged.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, app *App) error {
				for _, st := range args {
					rec, err := app.Store.Enable(ctx, st)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "enabled %s (%s)\n", rec.SignalType, rec.Checkpoint())
				}
				return nil
			})
		},
	}
}

func newDisableCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "disable <signal-type>...",
		Short: "Remove the record of each signal type and reclaim its blob",
		Long: `Disable deletes the checkpoint record of each signal type and then
deletes the blob it referenced. Unknown signal types are ignored. A blob
that cannot be deleted is logged and left for reconcile.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, app *App) error {
				for _, st := range args {
					rec, err := app.Store.Disable(ctx, st)
					if err != nil {
						return err
					}
					if rec.SignalType == "" {
						fmt.Fprintf(cmd.OutOrStdout(), "%s: not enabled\n", st)
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "disabled %s\n", st)
				}
				return nil
			})
		},
	}
}
