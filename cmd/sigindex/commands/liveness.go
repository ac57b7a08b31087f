package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// ErrNotLive is returned by liveness --fail when no index can be loaded.
var ErrNotLive = errors.New("index not live")

type livenessResult struct {
	SignalType string `json:"signal_type" yaml:"signal_type"`
	Live       bool   `json:"live" yaml:"live"`
}

func newLivenessCommand(g *globals) *cobra.Command {
	var fail bool

	cmd := &cobra.Command{
		Use:   "liveness <signal-type>",
		Short: "Check whether a signal type has a loadable index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, app *App) error {
				live, err := app.Store.Liveness(ctx, args[0])
				if err != nil {
					return err
				}
				res := livenessResult{SignalType: args[0], Live: live}
				if g.output == formatTable {
					state := "live"
					if !live {
						state = "not live"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", res.SignalType, state)
				} else if err := render(cmd.OutOrStdout(), g.output, res, nil, nil); err != nil {
					return err
				}
				if fail && !live {
					return fmt.Errorf("%s: %w", args[0], ErrNotLive)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&fail, "fail", false, "exit with an error when the index is not live")

	return cmd
}
