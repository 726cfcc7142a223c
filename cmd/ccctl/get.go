package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:     "get [path...]",
	GroupID: "query",
	Short:   "Print the merged settings at one or more paths",
	Long: `Print the merged settings at each path as JSON.

Paths use "/" between segments and ignore case. With no path the whole
zone is printed. A path with nothing configured prints null.

Examples:
  ccctl get                      # whole zone
  ccctl get app/database         # one subtree
  ccctl get --zone prod app/db   # another zone`,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		showVersion, _ := cmd.Flags().GetBool("version")

		sess, err := openSession()
		if err != nil {
			return err
		}
		defer sess.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		for _, path := range splitPaths(args) {
			node, version, err := sess.client.GetWithVersion(ctx, path)
			if err != nil {
				return fmt.Errorf("failed to get %q: %w", path, err)
			}
			if showVersion {
				fmt.Fprintf(os.Stdout, "# %s version %d\n", path, version)
			}
			if err := enc.Encode(node); err != nil {
				return fmt.Errorf("failed to encode settings: %w", err)
			}
		}
		return nil
	},
}

func init() {
	getCmd.Flags().Duration("timeout", 30*time.Second, "How long to wait for settings")
	getCmd.Flags().Bool("version", false, "Print the snapshot version before each value")
	rootCmd.AddCommand(getCmd)
}
