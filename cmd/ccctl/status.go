package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/steveyegge/clusterconfig"
)

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Width(14)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "query",
	Short:   "Check that the zone can be fetched",
	Long: `Run one update and report the zone, the snapshot version and
where settings come from.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")

		s, err := clientSettings()
		if err != nil {
			return err
		}

		var remoteUpdates atomic.Int64
		sess, err := openSession(func(clusterconfig.UpdateEvent) { remoteUpdates.Add(1) })
		if err != nil {
			return err
		}
		defer sess.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		started := time.Now()
		initErr := sess.client.WaitForInitialization(ctx)
		took := time.Since(started)

		row := func(label, value string) string {
			return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
		}
		enabled := func(b bool) string {
			if b {
				return okStyle.Render("enabled")
			}
			return dimStyle.Render("disabled")
		}

		state := okStyle.Render("ok") + dimStyle.Render(fmt.Sprintf(" (%s)", took.Round(time.Millisecond)))
		if initErr != nil {
			state = failStyle.Render(initErr.Error())
		}

		rows := []string{
			row("Zone", sess.client.Zone()),
			row("Local", enabled(s.EnableLocalSettings)+dimStyle.Render(" "+s.LocalFolder)),
			row("Cluster", enabled(s.EnableClusterSettings)),
			row("Status", state),
		}
		if initErr == nil {
			rows = append(rows,
				row("Version", fmt.Sprintf("%d", sess.client.Version())),
				row("Remote", fmt.Sprintf("%d update(s) accepted", remoteUpdates.Load())),
			)
		}
		fmt.Println(boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)))

		if initErr != nil {
			return fmt.Errorf("zone %s is not available", sess.client.Zone())
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Duration("timeout", 30*time.Second, "How long to wait for the first update")
	rootCmd.AddCommand(statusCmd)
}
