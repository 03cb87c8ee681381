package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/kylemclaren/chat-tasks/internal/recurrence"
)

func (m *Model) loadExecutions(taskID int64) tea.Cmd {
	database := m.deps.DB
	return func() tea.Msg {
		execs, err := database.ListExecutionsByTask(taskID, executionLimit)
		if err != nil {
			return errMsg{err}
		}
		return executionsLoadedMsg{execs}
	}
}

func (m *Model) updateOutput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg.String() {
	case "esc", "q":
		m.currentView = ViewList
		return m, nil
	case "f":
		return m, m.loadExecutions(m.selectedTask.ID)
	case "r":
		return m, m.runTask(m.selectedTask)
	case "t":
		return m, m.toggleTask(m.selectedTask.ID)
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) renderOutput() string {
	task := m.selectedTask
	var b strings.Builder

	b.WriteString(spriteIcon + " " + logoStyle.Render(task.Title))
	b.WriteString("  ")
	if task.IsActive() {
		b.WriteString(statusOK.Render("● " + string(task.Status)))
	} else {
		b.WriteString(statusFail.Render("○ " + string(task.Status)))
	}
	b.WriteString("  ")
	b.WriteString(subtitleStyle.Render(recurrence.Describe(task.Schedule())))
	b.WriteString("\n")
	b.WriteString(subtitleStyle.Render(truncate(task.Prompt, max(m.width-8, 20))))
	b.WriteString("\n\n")

	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	b.WriteString(helpLine("↑/↓", "scroll", "r", "run now", "t", "pause/resume", "f", "refresh", "esc", "back"))
	return b.String()
}

func (m Model) renderOutputContent() string {
	if len(m.executions) == 0 {
		return emptyBoxStyle.Render("No runs yet for this task")
	}

	var b strings.Builder
	for i, exec := range m.executions {
		status := statusOK.Render("✓ SUCCESS")
		if !exec.Success {
			status = statusFail.Render("✗ FAILED")
		}
		duration := (time.Duration(exec.DurationMs) * time.Millisecond).String()
		b.WriteString(fmt.Sprintf("%s  %s  (%s)", status, exec.ExecutedAt.Local().Format("2006-01-02 15:04:05"), duration))
		b.WriteString("\n")
		b.WriteString(dividerStyle.Render(strings.Repeat("─", 60)))
		b.WriteString("\n")

		if exec.Response != "" {
			b.WriteString(m.renderMarkdown(exec.Response))
		}
		if exec.ErrorMessage != "" {
			b.WriteString(statusFail.Render("Error: "))
			b.WriteString(exec.ErrorMessage)
			b.WriteString("\n")
		}
		if i < len(m.executions)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m Model) renderMarkdown(text string) string {
	if m.mdRenderer != nil {
		if rendered, err := m.mdRenderer.Render(text); err == nil {
			return rendered
		}
	}
	return text + "\n"
}
