package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vango-dev/urlsync/internal/errors"
	"github.com/vango-dev/urlsync/internal/scenario"
)

func replayCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "replay <scenario.yaml>",
		Short: "Replay a scripted scenario on a virtual clock",
		Long: `Replay runs the steps of a scenario file against an in-memory
browser on a virtual clock and prints every history entry with its time
offset, followed by the final URL.

Steps: set, delete, increment, advance, back, unmount.`,
		Example: `  urlsync replay scenarios/burst.yaml
  urlsync replay -v scenarios/burst.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("U060").
					WithDetail("replay takes exactly one scenario file.").
					WithExample("urlsync replay scenarios/burst.yaml")
			}

			sc, err := scenario.LoadFile(args[0])
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			if verbose {
				logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
			}

			res, err := sc.Run(logger)
			if err != nil {
				return err
			}
			res.Print(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log engine activity to stderr")

	return cmd
}
