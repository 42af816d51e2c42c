package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"caseimport/internal/usecase/importer"
)

// Source is the slice of the import service the dashboard reads from.
type Source interface {
	Status(ctx context.Context, batchID string) (importer.BatchStatusView, error)
	Stats(ctx context.Context) importer.QueueStats
	Cancel(ctx context.Context, batchID string) (importer.CancelResult, error)
}

type Options struct {
	BatchIDs        []string
	RefreshInterval time.Duration
	// ExitWhenDone quits once every watched batch is terminal.
	ExitWhenDone bool
}

type batchRow struct {
	id   string
	view importer.BatchStatusView
	err  error
}

type tickMsg struct{}

type snapshotMsg struct {
	stats importer.QueueStats
	rows  []batchRow
}

type cancelDoneMsg struct {
	batchID string
	result  importer.CancelResult
	err     error
}

type model struct {
	ctx             context.Context
	source          Source
	refreshInterval time.Duration
	exitWhenDone    bool

	ids      []string
	rows     []batchRow
	stats    importer.QueueStats
	selected int
	status   string
	loaded   bool
}

func NewModel(ctx context.Context, source Source, options Options) tea.Model {
	interval := options.RefreshInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ids := make([]string, 0, len(options.BatchIDs))
	seen := make(map[string]struct{}, len(options.BatchIDs))
	for _, id := range options.BatchIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return &model{
		ctx:             ctx,
		source:          source,
		refreshInterval: interval,
		exitWhenDone:    options.ExitWhenDone,
		ids:             ids,
		status:          "loading",
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.loadCmd(), m.tickCmd())
}

func (m *model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := message.(type) {
	case tickMsg:
		return m, tea.Batch(m.loadCmd(), m.tickCmd())
	case snapshotMsg:
		m.stats = msg.stats
		m.rows = msg.rows
		m.loaded = true
		if m.selected >= len(m.rows) {
			m.selected = len(m.rows) - 1
		}
		if m.selected < 0 {
			m.selected = 0
		}
		m.status = "refreshed " + time.Now().Format("15:04:05")
		if m.exitWhenDone && allTerminal(m.rows) {
			return m, tea.Quit
		}
		return m, nil
	case cancelDoneMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("cancel %s failed: %v", msg.batchID, msg.err)
		} else {
			m.status = fmt.Sprintf("cancel %s: status=%s signalled=%t dequeued=%t",
				msg.batchID, msg.result.Status, msg.result.Signalled, msg.result.Dequeued)
		}
		return m, m.loadCmd()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "g":
			m.status = "refreshing"
			return m, m.loadCmd()
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
			return m, nil
		case "down", "j":
			if m.selected < len(m.rows)-1 {
				m.selected++
			}
			return m, nil
		case "x":
			return m, m.cancelCmd()
		}
	}
	return m, nil
}

func (m *model) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true)
	sectionStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	selectedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Background(lipgloss.Color("62"))
	failStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	var b strings.Builder
	b.WriteString(titleStyle.Render("Case import monitor"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("batches=%d refresh=%s", len(m.ids), m.refreshInterval)))
	b.WriteString("\n\n")

	b.WriteString(sectionStyle.Render("Queue"))
	b.WriteString("\n")
	broker := "connected"
	if !m.stats.BrokerConnected {
		broker = "disconnected"
	}
	fmt.Fprintf(&b, "depth %d  active workers %d  broker %s (%s)\n",
		m.stats.QueueDepth, m.stats.ActiveWorkers, broker, firstNonEmpty(m.stats.BrokerState, "-"))
	if m.stats.LastError != "" {
		b.WriteString(failStyle.Render("last error: " + m.stats.LastError))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render("Batches"))
	b.WriteString("\n")
	switch {
	case len(m.ids) == 0:
		b.WriteString(dimStyle.Render("- no batches selected"))
		b.WriteString("\n")
	case !m.loaded:
		b.WriteString(dimStyle.Render("- loading"))
		b.WriteString("\n")
	}
	for i, row := range m.rows {
		line := formatRow(row)
		if i == m.selected {
			line = selectedStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if row, ok := m.selectedRow(); ok && row.err == nil && len(row.view.ErrorSummary) > 0 {
		b.WriteString("\n")
		b.WriteString(sectionStyle.Render("Errors " + row.id))
		b.WriteString("\n")
		for _, line := range row.view.ErrorSummary {
			b.WriteString(dimStyle.Render("- " + line))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("keys: j/k select  g refresh  x cancel  q quit"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(m.status))
	b.WriteString("\n")
	return b.String()
}

func (m *model) tickCmd() tea.Cmd {
	return tea.Tick(m.refreshInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m *model) loadCmd() tea.Cmd {
	ids := append([]string(nil), m.ids...)
	return func() tea.Msg {
		rows := make([]batchRow, 0, len(ids))
		for _, id := range ids {
			view, err := m.source.Status(m.ctx, id)
			rows = append(rows, batchRow{id: id, view: view, err: err})
		}
		return snapshotMsg{stats: m.source.Stats(m.ctx), rows: rows}
	}
}

func (m *model) cancelCmd() tea.Cmd {
	row, ok := m.selectedRow()
	if !ok || row.err != nil || row.view.Status.IsTerminal() {
		return nil
	}
	id := row.id
	return func() tea.Msg {
		result, err := m.source.Cancel(m.ctx, id)
		return cancelDoneMsg{batchID: id, result: result, err: err}
	}
}

func (m *model) selectedRow() (batchRow, bool) {
	if m.selected < 0 || m.selected >= len(m.rows) {
		return batchRow{}, false
	}
	return m.rows[m.selected], true
}

func formatRow(row batchRow) string {
	if row.err != nil {
		return fmt.Sprintf("%s  error: %v", row.id, row.err)
	}
	v := row.view
	mode := "live"
	if v.DryRun {
		mode = "dry-run"
	}
	return fmt.Sprintf("%s  %-20s %-7s total=%d ok=%d failed=%d  %s",
		v.BatchID, v.Status, mode, v.TotalRecords, v.SuccessfulRecords, v.FailedRecords, v.Filename)
}

func allTerminal(rows []batchRow) bool {
	if len(rows) == 0 {
		return false
	}
	for _, row := range rows {
		if row.err != nil {
			continue
		}
		if !row.view.Status.IsTerminal() {
			return false
		}
	}
	return true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
