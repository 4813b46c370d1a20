package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var runsLimit int

var qpusCmd = &cobra.Command{
	Use:   "qpus",
	Short: "List the configured QPUs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(os.Stderr)
		if err != nil {
			return err
		}
		defer a.Close()

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tBACKEND\tREMOTE\tFEEDBACK\tMAX QUDITS")
		for _, q := range a.engine.Platform().List() {
			fmt.Fprintf(tw, "%d\t%s\t%t\t%t\t%d\n", q.ID, q.Backend,
				q.Capabilities.Remote, q.Capabilities.ConditionalFeedback, q.Capabilities.MaxQudits)
		}
		return tw.Flush()
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent sampling runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		runs, total, err := db.ListRuns(cmd.Context(), runsLimit, 0)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tKERNEL\tQPU\tSHOTS\tPATH\tSTATUS\tCREATED")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n", r.ID, r.Kernel, r.QPU, r.Shots,
				r.Path, r.Status, r.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d of %d runs\n", len(runs), total)
		return nil
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "l", 20, "maximum number of runs to show")
}
