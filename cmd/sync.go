package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/harper/till/internal/clientdb"
	"github.com/harper/till/internal/orchestrator"
	"github.com/harper/till/internal/posconfig"
	"github.com/harper/till/internal/syncclient"
	"github.com/spf13/cobra"
)

func newOrchestrator(db *clientdb.ClientDB, creds *posconfig.AuthCredentials) *orchestrator.Orchestrator {
	client := syncclient.New(posconfig.GetServerURL(), creds.Token, creds.StoreID)
	return orchestrator.New(db, client, creds.DeviceID)
}

// syncAfterMutation runs a quick sync after a command enqueued work.
// Errors are logged, not returned: the event is durably queued either way.
func syncAfterMutation(db *clientdb.ClientDB, creds *posconfig.AuthCredentials) {
	if !posconfig.GetAutoSyncEnabled() {
		return
	}

	orch := newOrchestrator(db, creds)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := orch.SyncNow(ctx); err != nil {
		slog.Debug("post-mutation sync", "err", err)
	}
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push queued events and pull catalog changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")
		retryID, _ := cmd.Flags().GetString("retry")

		creds, err := requireAuth()
		if err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if retryID != "" {
			if err := db.Requeue(retryID); err != nil {
				return err
			}
			fmt.Printf("requeued %s\n", retryID)
		}

		orch := newOrchestrator(db, creds)

		if watch {
			fmt.Println("watching for queued events (ctrl-c to stop)")
			ctx := cmd.Context()
			if _, err := orch.SyncNow(ctx); err != nil {
				slog.Warn("initial sync", "err", err)
			}
			orch.Run(ctx, posconfig.GetAutoSyncDebounce(), posconfig.GetAutoSyncInterval())
			return nil
		}

		summary, err := orch.SyncNow(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("pushed %d (applied %d, duplicate %d, retrying %d, failed %d), pulled %d changes\n",
			summary.Pushed, summary.Applied, summary.Duplicates, summary.Retrying, summary.Failed, summary.Pulled)
		return nil
	},
}

func init() {
	syncCmd.Flags().Bool("watch", false, "keep running and sync on every enqueue")
	syncCmd.Flags().String("retry", "", "requeue a permanently failed event by id before syncing")
}
