// Package cmd provides the CLI commands for quarry.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/indexer"
	"github.com/quarrylabs/quarry/internal/logging"
	"github.com/quarrylabs/quarry/internal/profiling"
	"github.com/quarrylabs/quarry/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()

	profileCPU   string
	profileMem   string
	profileTrace string
	profSession  *profiling.Session
)

// NewRootCmd creates the root command for the quarry CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quarry",
		Short: "Incremental hybrid search index for codebases",
		Long: `Quarry maintains a chunk-level hybrid search index over a project:
content-addressed change detection feeds a staged indexing pipeline, and
queries combine dense and keyword retrieval with rank fusion.

Run 'quarry sync' in a project directory to build or update the index,
then 'quarry search <query>' to query it.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("quarry version {{.Version}}\n")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write a CPU profile to the given file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write a heap profile to the given file on exit")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write an execution trace to the given file")
	cmd.PersistentPreRunE = func(c *cobra.Command, args []string) error {
		if err := setupLogging(c, args); err != nil {
			return err
		}
		return startProfiling()
	}
	cmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		err := stopProfiling()
		if loggingCleanup != nil {
			loggingCleanup()
		}
		return err
	}

	cmd.AddCommand(
		newSyncCmd(),
		newSearchCmd(),
		newWatchCmd(),
		newDatasetsCmd(),
		newDoctorCmd(),
		newLogsCmd(),
		newInitCmd(),
		newVersionCmd(),
	)
	return cmd
}

func startProfiling() error {
	s, err := profiling.StartSession(profileCPU, profileMem, profileTrace)
	if err != nil {
		return fmt.Errorf("failed to start profiling: %w", err)
	}
	if s.Active() {
		profSession = s
	}
	return nil
}

func stopProfiling() error {
	if profSession == nil {
		return nil
	}
	err := profSession.Stop()
	profSession = nil
	return err
}

func setupLogging(*cobra.Command, []string) error {
	cfg := logging.DefaultConfig()
	cfg.WriteToStderr = false
	if debugMode {
		cfg.Level = "debug"
	}

	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		// Logging to file is best-effort; fall back to stderr.
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
		return nil
	}
	slog.SetDefault(logger)
	loggingCleanup = cleanup
	return nil
}

// openService locates the project root from the working directory, loads
// configuration, and opens the indexer service.
func openService(ctx context.Context) (*indexer.Service, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	root, err := config.FindProjectRoot(wd)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	svc, err := indexer.Open(ctx, root, cfg, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	return svc, nil
}

// Execute runs the root command with the given context.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
