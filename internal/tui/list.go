package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/kylemclaren/chat-tasks/internal/conversation"
	"github.com/kylemclaren/chat-tasks/internal/db"
	"github.com/kylemclaren/chat-tasks/internal/presets"
	"github.com/kylemclaren/chat-tasks/internal/recurrence"
)

// tableColumns returns column definitions sized for the given width
func tableColumns(width int) []table.Column {
	available := width - 4
	if available < 60 {
		available = 60
	}
	if available > maxTableWidth {
		available = maxTableWidth
	}

	statusWidth := 12
	remaining := available - statusWidth - 8

	titleWidth := max(remaining*30/85, 12)
	scheduleWidth := max(remaining*25/85, 15)
	nextWidth := max(remaining*15/85, 12)
	lastWidth := max(remaining*15/85, 12)

	return []table.Column{
		{Title: "Title", Width: titleWidth},
		{Title: "Schedule", Width: scheduleWidth},
		{Title: "Status", Width: statusWidth},
		{Title: "Next Run", Width: nextWidth},
		{Title: "Last Run", Width: lastWidth},
	}
}

func (m *Model) updateTable() {
	tasks := m.displayTasks()
	if len(tasks) == 0 {
		m.table.SetRows([]table.Row{})
		return
	}

	columns := m.table.Columns()
	titleWidth, scheduleWidth := 18, 18
	if len(columns) >= 2 {
		titleWidth = columns[0].Width - 2
		scheduleWidth = columns[1].Width - 2
	}

	rows := make([]table.Row, len(tasks))
	for i, task := range tasks {
		rows[i] = table.Row{
			truncate(task.Title, titleWidth),
			truncate(recurrence.Describe(task.Schedule()), scheduleWidth),
			m.statusLabel(task),
			formatOptionalTime(task.NextRunAt, task.IsActive()),
			formatOptionalTime(task.LastRunAt, true),
		}
	}
	m.table.SetRows(rows)
}

func (m *Model) statusLabel(task *db.Task) string {
	var parts []string
	if ok, found := m.lastStatus[task.ID]; found {
		if ok {
			parts = append(parts, "✓")
		} else {
			parts = append(parts, "✗")
		}
	}
	if m.deps.Scheduler.Running(task.ID) {
		parts = append(parts, "running")
	} else {
		parts = append(parts, string(task.Status))
	}
	return strings.Join(parts, " ")
}

// displayTasks returns the tasks currently shown (filtered or all)
func (m *Model) displayTasks() []*db.Task {
	if m.searchMode && m.searchInput.Value() != "" {
		return m.filteredTasks
	}
	return m.tasks
}

func (m *Model) selectedListTask() *db.Task {
	tasks := m.displayTasks()
	idx := m.table.Cursor()
	if idx < 0 || idx >= len(tasks) {
		return nil
	}
	return tasks[idx]
}

func (m *Model) filterTasks() {
	query := strings.ToLower(strings.TrimSpace(m.searchInput.Value()))
	if query == "" {
		m.filteredTasks = m.tasks
		return
	}
	m.filteredTasks = nil
	for _, task := range m.tasks {
		if strings.Contains(strings.ToLower(task.Title), query) ||
			strings.Contains(strings.ToLower(task.Prompt), query) {
			m.filteredTasks = append(m.filteredTasks, task)
		}
	}
}

func (m *Model) runningCount() int {
	n := 0
	for _, task := range m.tasks {
		if m.deps.Scheduler.Running(task.ID) {
			n++
		}
	}
	return n
}

func (m *Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	if m.confirmDelete {
		return m.updateDeleteConfirm(msg)
	}
	if m.quickMode {
		return m.updateQuick(msg)
	}
	if m.showTemplates {
		return m.updateTemplates(msg)
	}

	if m.searchMode {
		switch msg.String() {
		case "esc":
			m.searchMode = false
			m.searchInput.SetValue("")
			m.searchInput.Blur()
			m.filteredTasks = nil
			m.updateTable()
			return m, nil
		case "enter":
			m.searchInput.Blur()
			return m, nil
		default:
			if m.searchInput.Focused() {
				m.searchInput, cmd = m.searchInput.Update(msg)
				m.filterTasks()
				m.updateTable()
				return m, cmd
			}
		}
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "?":
		m.showHelp = !m.showHelp
		return m, nil
	case "/":
		m.searchMode = true
		m.searchInput.Focus()
		return m, textinput.Blink
	case "a":
		m.currentView = ViewAdd
		m.form.reset()
		return m, textinput.Blink
	case "n":
		m.quickMode = true
		m.quickInput.SetValue("")
		m.quickInput.Focus()
		return m, textinput.Blink
	case "p":
		if len(m.templates) > 0 {
			m.showTemplates = true
			m.templateIndex = 0
		}
		return m, nil
	case "c":
		m.currentView = ViewChat
		return m, m.openChat()
	case "s":
		m.currentView = ViewSettings
		return m, m.loadSettings()
	case "d":
		if task := m.selectedListTask(); task != nil {
			m.confirmDelete = true
			m.deleteTaskID = task.ID
			m.deleteTaskTitle = task.Title
			m.deleteConfirmFocus = 1 // Default to "No"
		}
		return m, nil
	case "t":
		if task := m.selectedListTask(); task != nil {
			return m, m.toggleTask(task.ID)
		}
		return m, nil
	case "r":
		if task := m.selectedListTask(); task != nil {
			return m, m.runTask(task)
		}
		return m, nil
	case "e":
		if task := m.selectedListTask(); task != nil {
			m.currentView = ViewEdit
			m.form.load(task)
			return m, textinput.Blink
		}
		return m, nil
	case "enter":
		if task := m.selectedListTask(); task != nil {
			m.selectedTask = task
			m.currentView = ViewOutput
			return m, m.loadExecutions(task.ID)
		}
		return m, nil
	}

	if len(m.displayTasks()) > 0 {
		m.table, cmd = m.table.Update(msg)
	}
	return m, cmd
}

func (m *Model) updateDeleteConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	reset := func() {
		m.confirmDelete = false
		m.deleteTaskID = 0
		m.deleteTaskTitle = ""
		m.deleteConfirmFocus = 1
	}

	switch msg.String() {
	case "left", "h":
		m.deleteConfirmFocus = 0
	case "right", "l":
		m.deleteConfirmFocus = 1
	case "tab":
		m.deleteConfirmFocus = (m.deleteConfirmFocus + 1) % 2
	case "y", "Y":
		id := m.deleteTaskID
		reset()
		return m, m.deleteTask(id)
	case "enter":
		id, yes := m.deleteTaskID, m.deleteConfirmFocus == 0
		reset()
		if yes {
			return m, m.deleteTask(id)
		}
	case "n", "N", "esc":
		reset()
	}
	return m, nil
}

func (m *Model) updateQuick(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.quickMode = false
		m.quickInput.Blur()
		return m, nil
	case "enter":
		prompt := strings.TrimSpace(m.quickInput.Value())
		if prompt == "" {
			m.setStatus("Prompt is required", true)
			return m, nil
		}
		m.quickMode = false
		m.quickInput.Blur()
		return m, m.quickTask(prompt)
	}
	var cmd tea.Cmd
	m.quickInput, cmd = m.quickInput.Update(msg)
	return m, cmd
}

func (m *Model) updateTemplates(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.templateIndex > 0 {
			m.templateIndex--
		}
	case "down", "j":
		if m.templateIndex < len(m.templates)-1 {
			m.templateIndex++
		}
	case "enter":
		m.showTemplates = false
		m.currentView = ViewAdd
		m.form.reset()
		m.form.fill(m.templates[m.templateIndex].Task())
		return m, textinput.Blink
	case "esc", "p":
		m.showTemplates = false
	}
	return m, nil
}

// Commands

func (m *Model) quickTask(prompt string) tea.Cmd {
	sched := m.deps.Scheduler
	return func() tea.Msg {
		task, err := sched.QuickTask(context.Background(), conversation.Title(prompt), prompt)
		if err != nil {
			return errMsg{err}
		}
		return taskSavedMsg{task}
	}
}

func (m *Model) deleteTask(id int64) tea.Cmd {
	sched := m.deps.Scheduler
	return func() tea.Msg {
		if err := sched.Delete(context.Background(), id); err != nil {
			return errMsg{err}
		}
		return taskDeletedMsg{id}
	}
}

func (m *Model) toggleTask(id int64) tea.Cmd {
	sched := m.deps.Scheduler
	return func() tea.Msg {
		task, err := sched.Toggle(context.Background(), id)
		if err != nil {
			return errMsg{err}
		}
		return taskStatusMsg{task}
	}
}

func (m *Model) runTask(task *db.Task) tea.Cmd {
	sched := m.deps.Scheduler
	return func() tea.Msg {
		if err := sched.RunNow(context.Background(), task.ID); err != nil {
			return errMsg{err}
		}
		return taskStartedMsg{task}
	}
}

// Rendering

func (m Model) renderList() string {
	var b strings.Builder

	b.WriteString(spriteIcon + " " + logoStyle.Render("Chat Tasks"))
	b.WriteString("\n\n")

	if m.searchMode {
		searchStyle := lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accentColor).
			Padding(0, 1)
		b.WriteString(searchStyle.Render("/ " + m.searchInput.View()))
		b.WriteString("\n\n")
	}

	if m.quickMode {
		b.WriteString(inputLabelStyle.Render("Quick task"))
		b.WriteString("  ")
		b.WriteString(subtitleStyle.Render("runs once, an hour from now"))
		b.WriteString("\n")
		b.WriteString(focusedInputStyle.Render(m.quickInput.View()))
		b.WriteString("\n\n")
	}

	if n := m.runningCount(); n > 0 {
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
		b.WriteString(statusRunning.Render(fmt.Sprintf("%d task(s) running", n)))
		b.WriteString("\n\n")
	}

	switch {
	case m.showTemplates:
		b.WriteString(m.renderTemplates())
	case len(m.tasks) == 0:
		b.WriteString(emptyBoxStyle.Render("No tasks yet\n\nPress 'a' to add a task or 'p' to start from a template"))
	case m.searchMode && len(m.displayTasks()) == 0 && m.searchInput.Value() != "":
		b.WriteString(emptyBoxStyle.Render("No tasks match your search\n\nPress 'esc' to clear"))
	default:
		b.WriteString(m.table.View())
	}
	b.WriteString("\n")
	b.WriteString(m.renderStatus())

	b.WriteString("\n")
	if m.showHelp {
		b.WriteString(m.help.FullHelpView(keys.FullHelp()))
	} else {
		b.WriteString(m.help.ShortHelpView(keys.ShortHelp()))
	}
	return b.String()
}

func (m Model) renderTemplates() string {
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accentColor).
		Padding(1, 2)

	var content strings.Builder
	content.WriteString(inputLabelStyle.Render("Start from a template"))
	content.WriteString("\n\n")
	for i, tpl := range m.templates {
		if i == m.templateIndex {
			content.WriteString(lipgloss.NewStyle().
				Background(primaryColor).
				Foreground(lipgloss.Color("#FFFFFF")).
				Bold(true).
				Padding(0, 1).
				Render(tpl.Name))
		} else {
			content.WriteString("  " + tpl.Name)
		}
		content.WriteString("\n")
		content.WriteString(subtitleStyle.Render("  " + describeTemplate(tpl)))
		content.WriteString("\n")
	}
	content.WriteString("\n")
	content.WriteString(helpLine("↑/↓", "navigate", "enter", "use", "esc", "cancel"))
	return box.Render(content.String())
}

func describeTemplate(t presets.Template) string {
	return recurrence.Describe(t.Task().Schedule())
}

// renderDeleteModal renders a centered confirmation dialog
func (m Model) renderDeleteModal() string {
	activeButton := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(primaryColor).
		Padding(0, 3).
		MarginRight(2).
		Bold(true)
	inactiveButton := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#666666")).
		Padding(0, 3).
		MarginRight(2)

	yes, no := inactiveButton.Render("Yes"), activeButton.Render("No")
	if m.deleteConfirmFocus == 0 {
		yes, no = activeButton.Render("Yes"), inactiveButton.Render("No")
	}

	question := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FFFFFF")).
		Render(fmt.Sprintf("Delete task '%s' and its history?", m.deleteTaskTitle))

	modal := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(errorColor).
		Padding(1, 4).
		Align(lipgloss.Center).
		Render(lipgloss.JoinVertical(lipgloss.Center,
			question,
			"",
			lipgloss.JoinHorizontal(lipgloss.Center, yes, no),
			"",
			subtitleStyle.Render("←/→ to select • enter to confirm • esc to cancel"),
		))

	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal,
		lipgloss.WithWhitespaceChars(" "))
}
