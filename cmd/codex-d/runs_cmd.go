package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs",
	}
	lsCmd := &cobra.Command{
		Use:   "ls",
		Short: "List known runs, most recent last",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := resolveClient(cmd.Context())
			if err != nil {
				return err
			}
			cwd := flags.cwd
			runs, err := c.ListRuns(cmd.Context(), cwd, all)
			if err != nil {
				return err
			}

			if flags.outputFormat == "jsonl" || flags.outputFormat == "json" {
				for _, r := range runs {
					printJSONLine(r)
				}
				return nil
			}
			for _, r := range runs {
				fmt.Printf("%s\t%s\t%s\n", r.ID(), r.Status(), r["cwd"])
			}
			return nil
		},
	}
	lsCmd.Flags().BoolVar(&all, "all", false, "bypass the default recent-run window")
	cmd.AddCommand(lsCmd)
	return cmd
}
