package monitor

import (
	"fmt"
	"strings"

	"github.com/harper/till/internal/clientdb"
)

func (m Model) View() string {
	if m.Width == 0 {
		return "loading..."
	}

	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteString("\n")
	b.WriteString(m.panelView(PanelQueue, "Queue [1]", m.queueRows()))
	b.WriteString("\n")
	b.WriteString(m.panelView(PanelReceipts, "Receipts [2]", m.receiptRows()))
	b.WriteString("\n")
	b.WriteString(m.panelView(PanelHistory, "Sync History [3]", m.historyRows()))
	b.WriteString("\n")
	b.WriteString(m.footerView())
	return b.String()
}

func (m Model) headerView() string {
	title := titleStyle.Render("till monitor")

	status := ""
	if m.Syncing {
		status = m.spinner.View() + " syncing"
	} else if m.LastSummary != nil {
		s := m.LastSummary
		status = fmt.Sprintf("last sync: %d pushed, %d applied, %d pulled", s.Pushed, s.Applied, s.Pulled)
		if s.Failed > 0 {
			status += errorStyle.Render(fmt.Sprintf(", %d failed", s.Failed))
		}
	}

	cursor := "never synced"
	if m.Data.State != nil && m.Data.State.Cursor != "" {
		cursor = "cursor " + m.Data.State.Cursor
	}

	line := title + "  " + subtleStyle.Render(cursor)
	if status != "" {
		line += "  " + timestampStyle.Render(status)
	}
	if m.Err != nil {
		line += "\n" + errorStyle.Render("error: "+m.Err.Error())
	}
	return line
}

func (m Model) queueRows() []string {
	counts := m.Data.Counts
	summary := fmt.Sprintf("queued %d  pushing %d  retrying %d  failed %d",
		counts[clientdb.StatusQueued], counts[clientdb.StatusPushing],
		counts["failed_retry"], counts["failed_permanent"])
	rows := []string{subtleStyle.Render(summary)}

	appendEvent := func(ev clientdb.QueuedEvent) {
		line := fmt.Sprintf("%-10s %-14s attempts:%d",
			queueStateStyle(ev.Status).Render(ev.Status), ev.Envelope.Type, ev.AttemptCount)
		if ev.LastError != "" {
			line += "  " + subtleStyle.Render(truncate(ev.LastError, 40))
		}
		rows = append(rows, line)
	}
	for _, ev := range m.Data.Pending {
		appendEvent(ev)
	}
	for _, ev := range m.Data.Failed {
		appendEvent(ev)
	}
	if len(rows) == 1 {
		rows = append(rows, subtleStyle.Render("queue is empty"))
	}
	return rows
}

func (m Model) receiptRows() []string {
	var rows []string
	for _, r := range m.Data.Receipts {
		number := r.ReceiptNumber
		if number == "" {
			number = "(pending)"
		}
		rows = append(rows, fmt.Sprintf("%-10s %-14s %s",
			receiptStateStyle(r.Status).Render(r.Status), number, formatCents(r.Total)))
	}
	if len(rows) == 0 {
		rows = []string{subtleStyle.Render("no receipts yet")}
	}
	return rows
}

func (m Model) historyRows() []string {
	var rows []string
	for _, h := range m.Data.History {
		line := fmt.Sprintf("%s  pushed:%d applied:%d dup:%d failed:%d pulled:%d",
			timestampStyle.Render(h.StartedAt), h.Pushed, h.Applied, h.Duplicates, h.Failed, h.Pulled)
		if h.Error != "" {
			line += "  " + errorStyle.Render(truncate(h.Error, 40))
		}
		rows = append(rows, line)
	}
	if len(rows) == 0 {
		rows = []string{subtleStyle.Render("no sync cycles yet")}
	}
	return rows
}

func (m Model) panelView(p Panel, title string, rows []string) string {
	style := panelStyle
	if p == m.ActivePanel {
		style = activePanelStyle
	}

	cursor := m.Cursor[p]
	var body strings.Builder
	body.WriteString(panelTitleStyle.Render(title))
	body.WriteString("\n")
	for i, row := range rows {
		if p == m.ActivePanel && i == cursor && m.panelRows(p) > 0 {
			row = selectedRowStyle.Render(row)
		}
		body.WriteString(row)
		if i < len(rows)-1 {
			body.WriteString("\n")
		}
	}

	width := m.Width - 2
	if width < 20 {
		width = 20
	}
	return style.Width(width).Render(body.String())
}

func (m Model) footerView() string {
	help := helpStyle.Render("tab/1-3 panels · j/k move · s sync now · r refresh · q quit")
	if m.updateNote != "" {
		help += "  " + updateStyle.Render(m.updateNote)
	}
	return help
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func formatCents(total int64) string {
	sign := ""
	if total < 0 {
		sign = "-"
		total = -total
	}
	return fmt.Sprintf("%s%d.%02d", sign, total/100, total%100)
}
