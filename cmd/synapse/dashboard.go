package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/protocol"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/task"
)

// dashTheme defines the visual styling for the synapse dashboard.
type dashTheme struct {
	Primary lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Muted   lipgloss.Color
}

func defaultDashTheme() dashTheme {
	return dashTheme{
		Primary: lipgloss.Color("12"),
		Success: lipgloss.Color("10"),
		Warning: lipgloss.Color("11"),
		Error:   lipgloss.Color("9"),
		Muted:   lipgloss.Color("240"),
	}
}

// tickMsg is sent on every refresh interval.
type tickMsg time.Time

// agentsMsg carries the live registry entries.
type agentsMsg []protocol.AgentEndpoint

// tasksMsg carries recent task records.
type tasksMsg []protocol.Task

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// dashModel is the Bubble Tea model for the synapse dashboard.
type dashModel struct {
	app *app

	theme  dashTheme
	agents []protocol.AgentEndpoint
	tasks  table.Model

	width  int
	height int
}

func newDashModel(a *app) dashModel {
	cols := []table.Column{
		{Title: "TASK", Width: 10},
		{Title: "P", Width: 2},
		{Title: "STATE", Width: 14},
		{Title: "SENDER", Width: 18},
		{Title: "RECEIVER", Width: 18},
		{Title: "BODY", Width: 40},
	}
	t := table.New(table.WithColumns(cols), table.WithFocused(true), table.WithHeight(12))

	theme := defaultDashTheme()
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(theme.Primary)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	t.SetStyles(styles)

	return dashModel{app: a, theme: theme, tasks: t}
}

func (m dashModel) fetchAgentsCmd() tea.Cmd {
	return func() tea.Msg {
		agents, _ := m.app.reg.ListLive(context.Background())
		return agentsMsg(agents)
	}
}

func (m dashModel) fetchTasksCmd() tea.Cmd {
	return func() tea.Msg {
		tasks, _ := m.app.tasks.List(context.Background(), task.Filter{})
		if len(tasks) > 50 {
			tasks = tasks[:50]
		}
		return tasksMsg(tasks)
	}
}

// Init implements tea.Model.
func (m dashModel) Init() tea.Cmd {
	return tea.Batch(m.fetchAgentsCmd(), m.fetchTasksCmd(), tickCmd())
}

// Update implements tea.Model.
func (m dashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		return m, tea.Batch(m.fetchAgentsCmd(), m.fetchTasksCmd(), tickCmd())
	case agentsMsg:
		m.agents = msg
		return m, nil
	case tasksMsg:
		rows := make([]table.Row, 0, len(msg))
		for _, t := range msg {
			rows = append(rows, table.Row{
				shortID(t.ID),
				fmt.Sprintf("%d", t.Priority),
				string(t.State),
				t.Sender,
				t.Receiver,
				truncate(t.Body, 40),
			})
		}
		m.tasks.SetRows(rows)
		return m, nil
	}

	var cmd tea.Cmd
	m.tasks, cmd = m.tasks.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m dashModel) View() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(m.theme.Primary).Render("synapse")
	muted := lipgloss.NewStyle().Foreground(m.theme.Muted)

	agentLines := make([]string, 0, len(m.agents)+1)
	agentLines = append(agentLines, lipgloss.NewStyle().Bold(true).Render("Agents"))
	if len(m.agents) == 0 {
		agentLines = append(agentLines, muted.Render("  none registered"))
	}
	for _, ep := range m.agents {
		name := ep.AgentID
		if ep.CustomName != "" {
			name += " (" + ep.CustomName + ")"
		}
		agentLines = append(agentLines, fmt.Sprintf("  %-30s port %-6d pid %d", name, ep.Port, ep.PID))
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		title,
		"",
		lipgloss.JoinVertical(lipgloss.Left, agentLines...),
		"",
		lipgloss.NewStyle().Bold(true).Render("Tasks"),
		m.tasks.View(),
		"",
		muted.Render("q: quit"),
	)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
