package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"mmos/pkg/health"
	"mmos/pkg/protocol"
	"mmos/pkg/queue"
	"mmos/pkg/registry"
	"mmos/pkg/store"
	"mmos/pkg/watch"
)

// dashRefreshInterval is the periodic refresh independent of store events.
const dashRefreshInterval = 5 * time.Second

// --- Messages ---

type dashDataMsg struct {
	data dashData
	err  error
}

type storeChangedMsg struct{}

type dashTickMsg struct{}

// dashData is one consistent view of everything the dashboard renders.
type dashData struct {
	Report   health.Report
	Workers  []protocol.WorkerSnapshot
	Projects []protocol.ProjectReport
}

// fetchDashData reads the three views. The health report is a single
// transaction; workers and projects may lag it by a beat, which is fine for
// a display.
func fetchDashData(ctx context.Context, db *store.DB) (dashData, error) {
	var d dashData
	var err error

	if d.Report, err = health.New(db).Snapshot(ctx); err != nil {
		return d, err
	}
	if d.Workers, err = registry.New(db).Discover(ctx); err != nil {
		return d, err
	}
	if d.Projects, err = queue.New(db).ProjectStatus(ctx, 0); err != nil {
		return d, err
	}
	return d, nil
}

// --- Styles ---

type dashStyles struct {
	Title   lipgloss.Style
	Section lipgloss.Style
	Warn    lipgloss.Style
	OK      lipgloss.Style
	Muted   lipgloss.Style
	BarDone lipgloss.Style
	BarRest lipgloss.Style
}

func newDashStyles() dashStyles {
	return dashStyles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Section: lipgloss.NewStyle().Bold(true).MarginTop(1),
		Warn:    lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		OK:      lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		BarDone: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		BarRest: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

// --- Model ---

type dashModel struct {
	db     *store.DB
	waiter *watch.Waiter

	data    dashData
	loaded  bool
	loadErr error

	workers table.Model
	styles  dashStyles
	width   int
}

func newDashModel(db *store.DB, waiter *watch.Waiter) dashModel {
	cols := []table.Column{
		{Title: "Worker", Width: 22},
		{Title: "Status", Width: 8},
		{Title: "Type", Width: 12},
		{Title: "Done", Width: 5},
		{Title: "Idle min", Width: 8},
		{Title: "Current task", Width: 28},
	}
	t := table.New(
		table.WithColumns(cols),
		table.WithFocused(true),
		table.WithHeight(8),
	)

	ts := table.DefaultStyles()
	ts.Header = ts.Header.Bold(true).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true)
	ts.Selected = ts.Selected.Foreground(lipgloss.Color("0")).Background(lipgloss.Color("12"))
	t.SetStyles(ts)

	return dashModel{
		db:      db,
		waiter:  waiter,
		workers: t,
		styles:  newDashStyles(),
	}
}

func (m dashModel) Init() tea.Cmd {
	return tea.Batch(m.fetchCmd(), m.watchCmd(), dashTick())
}

func (m dashModel) fetchCmd() tea.Cmd {
	db := m.db
	return func() tea.Msg {
		data, err := fetchDashData(context.Background(), db)
		return dashDataMsg{data: data, err: err}
	}
}

// watchCmd blocks on the store waiter and reports one change. The Update
// loop re-arms it after every message so changes keep flowing.
func (m dashModel) watchCmd() tea.Cmd {
	w := m.waiter
	if w == nil {
		return nil
	}
	return func() tea.Msg {
		if err := w.Wait(context.Background()); err != nil {
			return nil
		}
		return storeChangedMsg{}
	}
}

func dashTick() tea.Cmd {
	return tea.Tick(dashRefreshInterval, func(time.Time) tea.Msg {
		return dashTickMsg{}
	})
}

func (m dashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.fetchCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case dashDataMsg:
		if msg.err != nil {
			m.loadErr = msg.err
			return m, nil
		}
		m.loadErr = nil
		m.loaded = true
		m.data = msg.data
		m.workers.SetRows(workerRows(msg.data.Workers))
		return m, nil

	case storeChangedMsg:
		return m, tea.Batch(m.fetchCmd(), m.watchCmd())

	case dashTickMsg:
		return m, tea.Batch(m.fetchCmd(), dashTick())
	}

	var cmd tea.Cmd
	m.workers, cmd = m.workers.Update(msg)
	return m, cmd
}

func workerRows(workers []protocol.WorkerSnapshot) []table.Row {
	rows := make([]table.Row, len(workers))
	for i, ws := range workers {
		current := "-"
		if ws.CurrentTask != nil {
			current = fmt.Sprintf("#%d %s", ws.CurrentTask.ID, ws.CurrentTask.Description)
		}
		rows[i] = table.Row{
			ws.Worker.InstanceName,
			string(ws.Worker.Status),
			ws.Worker.Type,
			fmt.Sprintf("%d", ws.Worker.TasksCompleted),
			fmt.Sprintf("%d", ws.MinutesInactive),
			current,
		}
	}
	return rows
}

func (m dashModel) View() string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("mmos fleet"))
	b.WriteString("\n")

	if m.loadErr != nil {
		b.WriteString(m.styles.Warn.Render(fmt.Sprintf("load error: %v", m.loadErr)))
		b.WriteString("\n")
	}
	if !m.loaded {
		b.WriteString(m.styles.Muted.Render("loading..."))
		return b.String()
	}

	r := m.data.Report
	b.WriteString(fmt.Sprintf("workers %d (idle %d / busy %d / offline %d)   tasks %d (pending %d / running %d)\n",
		r.Workers.Total, r.Workers.Idle, r.Workers.Busy, r.Workers.Offline,
		r.Tasks.Total, r.Tasks.Pending, r.Tasks.Assigned+r.Tasks.InProgress))

	switch {
	case r.BacklogStalled:
		b.WriteString(m.styles.Warn.Render("backlog stalled: pending tasks, no idle worker"))
		b.WriteString("\n")
	case r.CapacityAvailable:
		b.WriteString(m.styles.OK.Render("capacity available"))
		b.WriteString("\n")
	}

	b.WriteString(m.styles.Section.Render("Workers"))
	b.WriteString("\n")
	if len(m.data.Workers) == 0 {
		b.WriteString(m.styles.Muted.Render("no registered workers"))
		b.WriteString("\n")
	} else {
		b.WriteString(m.workers.View())
		b.WriteString("\n")
	}

	b.WriteString(m.styles.Section.Render("Projects"))
	b.WriteString("\n")
	for _, p := range m.data.Projects {
		b.WriteString(m.renderProjectLine(p))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.styles.Muted.Render("q quit  r refresh"))
	return b.String()
}

// renderProjectLine draws "name [#####.....] 50% (3/6)".
func (m dashModel) renderProjectLine(p protocol.ProjectReport) string {
	const barWidth = 20
	done := 0
	if p.Total > 0 {
		done = p.Completed * barWidth / p.Total
	}
	bar := m.styles.BarDone.Render(strings.Repeat("#", done)) +
		m.styles.BarRest.Render(strings.Repeat(".", barWidth-done))
	return fmt.Sprintf("%-28s [%s] %3d%% (%d/%d)",
		truncateTo(p.Project.Name, 28), bar, p.CompletionRate(), p.Completed, p.Total)
}

func truncateTo(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
