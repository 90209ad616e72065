package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/indexer"
	"github.com/quarrylabs/quarry/internal/output"
)

func newWatchCmd() *cobra.Command {
	var skipInitial bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the project and sync on change",
		Long: `Watch runs an initial sync, then monitors the project for file changes and
re-syncs after each quiet period. Press Ctrl-C to stop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output.New(os.Stdout)

			svc, err := openService(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			if !skipInitial {
				report, err := svc.Sync(ctx, indexer.SyncOptions{})
				if err != nil {
					return err
				}
				out.Successf("initial sync: %d created, %d modified, %d deleted",
					report.FilesCreated, report.FilesModified, report.FilesDeleted)
			}

			out.Status(" ", "watching for changes (Ctrl-C to stop)")
			err = svc.Watch(ctx)
			if errors.Is(err, context.Canceled) {
				out.Status(" ", "stopped")
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&skipInitial, "skip-initial", false, "Skip the initial sync before watching")
	return cmd
}
