package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/steveyegge/clusterconfig"
	"github.com/steveyegge/clusterconfig/internal/dashboard"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "advanced",
	Short:   "Start a WebSocket dashboard over a running client",
	Long: `Start a dashboard server backed by a cluster config client.

Endpoints:
  /ws?path=<path>   settings at <path>, pushed on every change
  /health           zone, snapshot version and client count
  /metrics          Prometheus metrics of the update loop

Every WebSocket connection also receives a remote_update message for each
payload accepted from the cluster config service.

Example usage:
  ccctl serve                     # listen on :8080
  ccctl serve --addr :9090`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		// The client exists before the server does.
		var server atomic.Pointer[dashboard.Server]
		sess, err := openSession(func(ev clusterconfig.UpdateEvent) {
			if s := server.Load(); s != nil {
				s.OnRemoteUpdate(ev)
			}
		})
		if err != nil {
			return err
		}
		defer sess.Close()

		srv, err := dashboard.NewServer(dashboard.FromClient(sess.client), &dashboard.Config{
			Addr:   addr,
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create dashboard: %w", err)
		}
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		server.Store(srv)

		fmt.Printf("Dashboard server started on http://%s\n", srv.Addr())
		fmt.Printf("WebSocket endpoint: ws://%s/ws?path=<path>\n", srv.Addr())
		fmt.Printf("Health check: http://%s/health\n", srv.Addr())
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := sess.client.WaitForInitialization(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Warn("Initial settings update failed")
		}
		<-ctx.Done()

		fmt.Println("\nShutting down dashboard server...")
		if err := srv.Stop(); err != nil {
			return fmt.Errorf("error during shutdown: %w", err)
		}
		fmt.Println("Dashboard server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "Address to listen on")
	rootCmd.AddCommand(serveCmd)
}
