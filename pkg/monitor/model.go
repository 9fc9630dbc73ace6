// Package monitor is a live TUI dashboard over the device's sync state:
// the outbound queue, local receipts and recent sync cycles.
package monitor

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/harper/till/internal/clientdb"
	"github.com/harper/till/internal/orchestrator"
	"github.com/harper/till/internal/version"
)

// Panel identifies one dashboard panel.
type Panel int

const (
	PanelQueue Panel = iota
	PanelReceipts
	PanelHistory
	numPanels
)

// Model is the main Bubble Tea model for the monitor TUI.
type Model struct {
	DB   *clientdb.ClientDB
	Orch *orchestrator.Orchestrator

	Width  int
	Height int

	Data        DashboardData
	ActivePanel Panel
	Cursor      map[Panel]int
	LastRefresh time.Time
	Err         error

	Syncing     bool
	LastSummary *orchestrator.Summary
	spinner     spinner.Model

	interval   time.Duration
	versionStr string
	updateNote string // set when a newer release exists
}

// NewModel creates a monitor model for one device database.
func NewModel(db *clientdb.ClientDB, orch *orchestrator.Orchestrator, interval time.Duration, versionStr string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		DB:         db,
		Orch:       orch,
		Cursor:     make(map[Panel]int),
		spinner:    sp,
		interval:   interval,
		versionStr: versionStr,
	}
}

type tickMsg time.Time

type syncDoneMsg struct {
	summary *orchestrator.Summary
	err     error
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) runSync() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		summary, err := m.Orch.SyncNow(ctx)
		return syncDoneMsg{summary: summary, err: err}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		loadData(m.DB),
		tick(m.interval),
		version.CheckAsync(m.versionStr),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		return m, tea.Batch(loadData(m.DB), tick(m.interval))

	case dataLoadedMsg:
		if msg.err != nil {
			m.Err = msg.err
			return m, nil
		}
		m.Err = nil
		m.Data = msg.data
		m.LastRefresh = msg.data.LoadedAt
		m.clampCursors()
		return m, nil

	case syncDoneMsg:
		m.Syncing = false
		m.LastSummary = msg.summary
		m.Err = msg.err
		return m, loadData(m.DB)

	case version.UpdateAvailableMsg:
		m.updateNote = "update available: " + msg.LatestVersion
		return m, nil

	case spinner.TickMsg:
		if !m.Syncing {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "tab":
		m.ActivePanel = (m.ActivePanel + 1) % numPanels
	case "shift+tab":
		m.ActivePanel = (m.ActivePanel + numPanels - 1) % numPanels
	case "1":
		m.ActivePanel = PanelQueue
	case "2":
		m.ActivePanel = PanelReceipts
	case "3":
		m.ActivePanel = PanelHistory

	case "up", "k":
		if m.Cursor[m.ActivePanel] > 0 {
			m.Cursor[m.ActivePanel]--
		}
	case "down", "j":
		if m.Cursor[m.ActivePanel] < m.panelRows(m.ActivePanel)-1 {
			m.Cursor[m.ActivePanel]++
		}

	case "r":
		return m, loadData(m.DB)

	case "s":
		if !m.Syncing {
			m.Syncing = true
			return m, tea.Batch(m.runSync(), m.spinner.Tick)
		}
	}
	return m, nil
}

func (m Model) panelRows(p Panel) int {
	switch p {
	case PanelQueue:
		return len(m.Data.Pending) + len(m.Data.Failed)
	case PanelReceipts:
		return len(m.Data.Receipts)
	case PanelHistory:
		return len(m.Data.History)
	}
	return 0
}

func (m *Model) clampCursors() {
	for p := PanelQueue; p < numPanels; p++ {
		if rows := m.panelRows(p); m.Cursor[p] >= rows {
			if rows == 0 {
				m.Cursor[p] = 0
			} else {
				m.Cursor[p] = rows - 1
			}
		}
	}
}
