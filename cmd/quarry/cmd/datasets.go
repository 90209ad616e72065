package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newDatasetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "datasets",
		Short: "List the datasets of this project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			svc, err := openService(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			datasets, err := svc.Datasets(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tOWNER\tVISIBILITY")
			for _, ds := range datasets {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ds.ID, ds.Name, ds.OwnerID, ds.Visibility)
			}
			return w.Flush()
		},
	}
}
