package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/clusterconfig/internal/journal"
)

var historyCmd = &cobra.Command{
	Use:     "history",
	GroupID: "advanced",
	Short:   "List remote updates recorded in a journal",
	Long: `List the remote updates recorded by --journal, newest first.

Examples:
  ccctl serve --journal updates.db      # record while serving
  ccctl history --journal updates.db    # inspect later
  ccctl history --journal updates.db --prune 1000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if journalFlag == "" {
			return fmt.Errorf("--journal is required")
		}
		limit, _ := cmd.Flags().GetInt("limit")
		prune, _ := cmd.Flags().GetInt("prune")

		j, err := journal.Open(journalFlag)
		if err != nil {
			return err
		}
		defer j.Close()

		ctx := cmd.Context()
		if prune > 0 {
			n, err := j.Prune(ctx, prune)
			if err != nil {
				return err
			}
			fmt.Printf("Pruned %d entries\n", n)
		}

		entries, err := j.Recent(ctx, zoneFlag, limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No updates recorded")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RECEIVED\tZONE\tPROTOCOL\tKIND\tSIZE\tVERSION\tREPLICA")
		for _, e := range entries {
			kind := "full"
			switch {
			case e.Patch:
				kind = "patch"
			case e.Subtrees > 0:
				kind = fmt.Sprintf("%d subtrees", e.Subtrees)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				e.ReceivedAt.Local().Format(time.DateTime),
				e.Zone, e.Protocol, kind, e.Size,
				e.Version.UTC().Format(time.RFC3339), e.Replica)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of entries")
	historyCmd.Flags().Int("prune", 0, "Keep only this many newest entries before listing")
	rootCmd.AddCommand(historyCmd)
}
