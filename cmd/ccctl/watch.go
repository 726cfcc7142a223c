package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/clusterconfig"
)

var watchCmd = &cobra.Command{
	Use:     "watch [path]",
	GroupID: "query",
	Short:   "Print the settings at a path every time they change",
	Long: `Watch one path and print a JSON line for each distinct value.

Each line carries the snapshot version, the time it was seen and the
settings. Press Ctrl+C to stop.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := splitPaths(args)[0]

		sess, err := openSession()
		if err != nil {
			return err
		}
		defer sess.Close()

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		w := sess.client.ObserveWithVersions(path)
		defer w.Close()

		enc := json.NewEncoder(os.Stdout)
		for {
			v, err := w.Next(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || clusterconfig.IsDisposed(err) {
					return nil
				}
				return fmt.Errorf("watch of %q ended: %w", path, err)
			}
			line := struct {
				Path     string    `json:"path"`
				Version  int64     `json:"version"`
				Seen     time.Time `json:"seen"`
				Settings any       `json:"settings"`
			}{path, v.Version, time.Now(), v.Settings}
			if err := enc.Encode(line); err != nil {
				return fmt.Errorf("failed to encode settings: %w", err)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
