package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/logging"
)

func newLogsCmd() *cobra.Command {
	var file string
	var lines int
	var showPath bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent log output",
		Long: `Logs prints the tail of the quarry log file. Logging goes to
~/.quarry/logs/quarry.log by default; use --file to read another location.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := logging.FindLogFile(file)
			if err != nil {
				return err
			}
			if showPath {
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read log file: %w", err)
			}
			for _, line := range tailLines(string(data), lines) {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Log file to read (default: the global quarry log)")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVar(&showPath, "path", false, "Print the log file path instead of its contents")
	return cmd
}

// tailLines returns the last n non-empty-terminated lines of s.
func tailLines(s string, n int) []string {
	all := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(all) == 1 && all[0] == "" {
		return nil
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}
