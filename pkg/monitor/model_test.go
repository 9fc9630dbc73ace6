package monitor

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/harper/till/internal/clientdb"
)

func newTestModel(t *testing.T) Model {
	t.Helper()
	db, err := clientdb.Initialize(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return NewModel(db, nil, time.Second, "dev")
}

func loadedModel(t *testing.T, m Model, data DashboardData) Model {
	t.Helper()
	data.LoadedAt = time.Now()
	updated, _ := m.Update(dataLoadedMsg{data: data})
	return updated.(Model)
}

func TestPanelSwitching(t *testing.T) {
	m := newTestModel(t)

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = updated.(Model)
	if m.ActivePanel != PanelReceipts {
		t.Errorf("panel = %d, want receipts", m.ActivePanel)
	}

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'3'}})
	m = updated.(Model)
	if m.ActivePanel != PanelHistory {
		t.Errorf("panel = %d, want history", m.ActivePanel)
	}

	// Wraps back to the first panel.
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = updated.(Model)
	if m.ActivePanel != PanelQueue {
		t.Errorf("panel = %d, want queue", m.ActivePanel)
	}
}

func TestCursorClampedToRows(t *testing.T) {
	m := newTestModel(t)
	m.ActivePanel = PanelReceipts
	m = loadedModel(t, m, DashboardData{
		Receipts: []clientdb.Receipt{
			{ClientTxID: "tx1", Status: clientdb.ReceiptPending, Total: 100},
			{ClientTxID: "tx2", Status: clientdb.ReceiptConfirmed, Total: 200},
		},
	})

	for i := 0; i < 5; i++ {
		updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
		m = updated.(Model)
	}
	if m.Cursor[PanelReceipts] != 1 {
		t.Errorf("cursor = %d, want 1", m.Cursor[PanelReceipts])
	}

	// Data shrinks under the cursor; the cursor follows.
	m = loadedModel(t, m, DashboardData{})
	if m.Cursor[PanelReceipts] != 0 {
		t.Errorf("cursor after shrink = %d, want 0", m.Cursor[PanelReceipts])
	}
}

func TestViewRendersPanels(t *testing.T) {
	m := newTestModel(t)
	m.Width = 80
	m.Height = 40
	m = loadedModel(t, m, DashboardData{
		Counts: map[string]int{clientdb.StatusQueued: 2, "failed_permanent": 1},
		History: []clientdb.SyncRecord{
			{StartedAt: "2026-03-01 09:00:00.000000000", Pushed: 3, Applied: 2, Error: "server unreachable"},
		},
		State: &clientdb.SyncState{Cursor: "2026-03-01 09:00:00.000000000"},
	})

	view := m.View()
	for _, want := range []string{"till monitor", "Queue [1]", "Receipts [2]", "Sync History [3]", "server unreachable"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestQuitKey(t *testing.T) {
	m := newTestModel(t)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("q should quit")
	}
}

func TestFormatCents(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{1234, "12.34"},
		{-250, "-2.50"},
	}
	for _, tt := range tests {
		if got := formatCents(tt.in); got != tt.want {
			t.Errorf("formatCents(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
