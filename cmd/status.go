package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue and sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		showFailed, _ := cmd.Flags().GetBool("failed")
		showHistory, _ := cmd.Flags().GetBool("history")

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		counts, err := db.CountsByStatus()
		if err != nil {
			return err
		}
		state, err := db.GetSyncState()
		if err != nil {
			return err
		}

		fmt.Println("queue:")
		for _, status := range []string{"queued", "pushing", "failed_retry", "failed_permanent", "applied", "duplicate_ignored"} {
			if n := counts[status]; n > 0 {
				fmt.Printf("  %-18s %d\n", status, n)
			}
		}
		if len(counts) == 0 {
			fmt.Println("  empty")
		}

		if state.LastSyncAt != "" {
			fmt.Printf("last sync: %s\n", state.LastSyncAt)
		} else {
			fmt.Println("last sync: never")
		}
		if state.Cursor != "" {
			fmt.Printf("cursor:    %s\n", state.Cursor)
		}

		if showFailed {
			failed, err := db.ListFailed(20)
			if err != nil {
				return err
			}
			if len(failed) > 0 {
				fmt.Println("\nfailed events:")
				for _, ev := range failed {
					fmt.Printf("  %s  %-16s attempts=%d  %s\n", ev.Envelope.EventID, ev.Envelope.Type, ev.AttemptCount, ev.LastError)
				}
			}
		}

		if showHistory {
			history, err := db.SyncHistory(10)
			if err != nil {
				return err
			}
			if len(history) > 0 {
				fmt.Println("\nrecent syncs:")
				for _, h := range history {
					line := fmt.Sprintf("  %s  pushed=%d applied=%d dup=%d failed=%d pulled=%d",
						h.StartedAt, h.Pushed, h.Applied, h.Duplicates, h.Failed, h.Pulled)
					if h.Error != "" {
						line += "  error=" + h.Error
					}
					fmt.Println(line)
				}
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("failed", false, "list permanently failed events")
	statusCmd.Flags().Bool("history", false, "show recent sync cycles")
}
