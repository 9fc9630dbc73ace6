package monitor

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/harper/till/internal/clientdb"
)

// DashboardData is one refresh of everything the monitor shows.
type DashboardData struct {
	Counts   map[string]int
	Pending  []clientdb.QueuedEvent
	Failed   []clientdb.QueuedEvent
	Receipts []clientdb.Receipt
	History  []clientdb.SyncRecord
	State    *clientdb.SyncState
	LoadedAt time.Time
}

type dataLoadedMsg struct {
	data DashboardData
	err  error
}

// loadData reads a dashboard snapshot off the UI goroutine.
func loadData(db *clientdb.ClientDB) tea.Cmd {
	return func() tea.Msg {
		var (
			data DashboardData
			err  error
		)
		data.LoadedAt = time.Now()

		if data.Counts, err = db.CountsByStatus(); err != nil {
			return dataLoadedMsg{err: err}
		}
		if data.Pending, err = db.ListPending(20); err != nil {
			return dataLoadedMsg{err: err}
		}
		if data.Failed, err = db.ListFailed(20); err != nil {
			return dataLoadedMsg{err: err}
		}
		if data.Receipts, err = db.ListReceipts(20); err != nil {
			return dataLoadedMsg{err: err}
		}
		if data.History, err = db.SyncHistory(10); err != nil {
			return dataLoadedMsg{err: err}
		}
		if data.State, err = db.GetSyncState(); err != nil {
			return dataLoadedMsg{err: err}
		}
		return dataLoadedMsg{data: data}
	}
}
