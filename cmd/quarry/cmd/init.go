package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/output"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default .quarry.yaml to the current directory",
		Long: `Init writes a .quarry.yaml with the default configuration so it can be
edited and checked in. The file also marks the directory as a project root
for commands run from subdirectories.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.New(os.Stdout)

			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			path := filepath.Join(wd, config.ProjectConfigName)

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", config.ProjectConfigName)
			}

			if err := config.NewConfig().WriteYAML(path); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			out.Successf("wrote %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}
