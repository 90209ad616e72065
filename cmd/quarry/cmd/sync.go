package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/indexer"
	"github.com/quarrylabs/quarry/internal/output"
	"github.com/quarrylabs/quarry/internal/pipeline"
)

func newSyncCmd() *cobra.Command {
	var force bool
	var quiet bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Detect changes and update the index",
		Long: `Sync scans the project for created, modified, deleted, and moved files,
then pushes the changes through the indexing pipeline. Unchanged files are
skipped, so repeated syncs are cheap.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output.New(os.Stdout)

			svc, err := openService(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			stopProgress := func() {}
			if !quiet {
				progress := make(chan pipeline.ProgressEvent, 64)
				done := make(chan struct{})
				svc.SetProgress(progress)
				go func() {
					defer close(done)
					for ev := range progress {
						out.Progress(ev.Current, ev.Total, string(ev.Stage)+" "+ev.Ref)
					}
					out.ProgressDone()
				}()
				stopProgress = func() {
					close(progress)
					<-done
				}
			}

			report, err := svc.Sync(ctx, indexer.SyncOptions{Force: force})
			stopProgress()
			if err != nil {
				return err
			}

			out.Successf("sync complete in %s", report.Duration.Round(time.Millisecond))
			out.Statusf(" ", "created %d, modified %d, deleted %d, moved %d, unchanged %d",
				report.FilesCreated, report.FilesModified, report.FilesDeleted,
				report.FilesMoved, report.FilesUnchanged)
			out.Statusf(" ", "chunks: +%d -%d", report.ChunksAdded, report.ChunksRemoved)

			if report.HasFailures() {
				out.Warningf("%d file(s) failed:", len(report.FailedPaths))
				for _, p := range report.FailedPaths {
					out.Statusf(" ", "  %s", p)
				}
				return fmt.Errorf("%d file(s) failed to index", len(report.FailedPaths))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-hash every file instead of trusting modification times")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")
	return cmd
}
