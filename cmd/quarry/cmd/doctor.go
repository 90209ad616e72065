package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/output"
	"github.com/quarrylabs/quarry/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var sweep bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system requirements and index health",
		Long: `Doctor runs environment checks (disk space, memory, permissions, embedding
service reachability) and verifies that the metadata, vector, and sparse
stores agree with each other. With --sweep, orphaned index entries left
behind by an interrupted sync are removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output.New(os.Stdout)

			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			root, err := config.FindProjectRoot(wd)
			if err != nil {
				return err
			}
			cfg, err := config.Load(root)
			if err != nil {
				return err
			}

			checker := preflight.New(cfg.Embeddings)
			results := checker.RunAll(ctx, root)
			for _, r := range results {
				out.Statusf("["+r.Status.String()+"]", "%s: %s", r.Name, r.Message)
				if r.Details != "" {
					out.Statusf(" ", "       %s", r.Details)
				}
			}
			if preflight.HasCriticalFailures(results) {
				return fmt.Errorf("system check failed")
			}

			svc, err := openService(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			report, err := svc.CheckConsistency(ctx, sweep)
			if err != nil {
				return err
			}

			out.Newline()
			if report.Clean() {
				out.Successf("index consistent: %d chunk(s) checked", report.Checked)
				return nil
			}

			byKind := map[string]int{}
			for _, issue := range report.Issues {
				byKind[string(issue.Kind)]++
			}
			kinds := make([]string, 0, len(byKind))
			for kind := range byKind {
				kinds = append(kinds, kind)
			}
			sort.Strings(kinds)
			out.Warningf("%d inconsistency(ies) across %d chunk(s):", len(report.Issues), report.Checked)
			for _, kind := range kinds {
				out.Statusf(" ", "  %s: %d", kind, byKind[kind])
			}
			if report.Swept > 0 {
				out.Successf("swept %d orphaned index entr(ies)", report.Swept)
			} else if !sweep {
				out.Statusf(" ", "run 'quarry doctor --sweep' to remove orphaned entries")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&sweep, "sweep", false, "Remove orphaned index entries")
	return cmd
}
