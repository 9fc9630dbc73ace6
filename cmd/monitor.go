package cmd

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/harper/till/pkg/monitor"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live dashboard for the sync queue and receipts",
	Long: `Launch a live-updating dashboard showing:
- Outbound queue: pending, retrying and failed events
- Receipts: local receipts and their server confirmation
- Sync history: recent push/pull cycles

Key bindings:
  Tab / 1-3   Switch panels
  j/k         Move selection
  s           Sync now
  r           Force refresh
  q           Quit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		creds, err := requireAuth()
		if err != nil {
			return err
		}
		orch := newOrchestrator(db, creds)

		interval, _ := cmd.Flags().GetDuration("interval")
		if interval < 500*time.Millisecond {
			interval = 2 * time.Second
		}

		model := monitor.NewModel(db, orch, interval, versionStr)

		p := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("error running monitor: %w", err)
		}
		return nil
	},
}

func init() {
	monitorCmd.Flags().Duration("interval", 2*time.Second, "refresh interval")
}
