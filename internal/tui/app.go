package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/kylemclaren/chat-tasks/internal/conversation"
	"github.com/kylemclaren/chat-tasks/internal/db"
	"github.com/kylemclaren/chat-tasks/internal/presets"
	"github.com/kylemclaren/chat-tasks/internal/scheduler"
	"github.com/kylemclaren/chat-tasks/internal/settings"
	"github.com/kylemclaren/chat-tasks/internal/stream"
)

// View represents the current view
type View int

const (
	ViewList View = iota
	ViewAdd
	ViewEdit
	ViewOutput
	ViewChat
	ViewSettings
)

// Layout constants
const (
	headerHeight       = 4
	footerHeight       = 4
	minTableHeight     = 5
	maxTableWidth      = 160
	outputHeaderHeight = 5
	outputFooterHeight = 3
	executionLimit     = 20
)

// Deps are the components the TUI drives
type Deps struct {
	DB            *db.DB
	Scheduler     *scheduler.Scheduler
	Conversations *conversation.Service
	Settings      *settings.Provider
	// Stream is optional. When set, outcomes of in-process runs show up as
	// status messages.
	Stream *stream.Manager
}

// Model is the main TUI model
type Model struct {
	deps Deps

	currentView View
	width       int
	height      int

	// List view
	tasks         []*db.Task
	lastStatus    map[int64]bool
	table         table.Model
	searchMode    bool
	searchInput   textinput.Model
	filteredTasks []*db.Task
	spinner       spinner.Model
	help          help.Model
	showHelp      bool

	// Delete confirmation
	confirmDelete      bool
	deleteTaskID       int64
	deleteTaskTitle    string
	deleteConfirmFocus int // 0 = Yes, 1 = No

	// Quick task prompt
	quickMode  bool
	quickInput textinput.Model

	// Template picker
	showTemplates bool
	templateIndex int
	templates     []presets.Template

	form     taskForm
	settings settingsForm
	chat     chatState

	// Output view
	selectedTask *db.Task
	executions   []*db.TaskExecution
	viewport     viewport.Model
	mdRenderer   *glamour.TermRenderer

	events *stream.Client

	// Status
	statusMsg   string
	statusErr   bool
	statusTimer int
}

// NewModel creates a new TUI model
func NewModel(deps Deps) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(warningColor)

	h := help.New()
	h.Styles.ShortKey = helpKeyStyle
	h.Styles.ShortDesc = helpDescStyle

	t := table.New(
		table.WithColumns(tableColumns(100)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	ts := table.DefaultStyles()
	ts.Header = ts.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(dimTextColor).
		BorderBottom(true).
		Bold(true).
		Foreground(accentColor)
	ts.Selected = ts.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(primaryColor).
		Bold(true)
	t.SetStyles(ts)

	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)

	searchInput := textinput.New()
	searchInput.Placeholder = "Search tasks..."
	searchInput.CharLimit = 100
	searchInput.Width = 30

	quickInput := textinput.New()
	quickInput.Placeholder = "What should run in an hour?"
	quickInput.CharLimit = 2000
	quickInput.Width = 60

	templates, _ := presets.Templates()

	m := Model{
		deps:        deps,
		lastStatus:  make(map[int64]bool),
		table:       t,
		searchInput: searchInput,
		quickInput:  quickInput,
		templates:   templates,
		spinner:     s,
		help:        h,
		viewport:    viewport.New(80, 20),
		mdRenderer:  renderer,
		form:        newTaskForm(),
		settings:    newSettingsForm(),
		chat:        newChatState(),
	}
	if deps.Stream != nil {
		m.events = deps.Stream.Subscribe()
	}
	return m
}

// Messages
type tasksLoadedMsg struct {
	tasks    []*db.Task
	statuses map[int64]bool
}
type taskSavedMsg struct{ task *db.Task }
type taskDeletedMsg struct{ id int64 }
type taskStatusMsg struct{ task *db.Task }
type taskStartedMsg struct{ task *db.Task }
type executionsLoadedMsg struct{ execs []*db.TaskExecution }
type streamEventMsg struct{ ev stream.Event }
type errMsg struct{ err error }
type tickMsg time.Time

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.loadTasks(),
		m.spinner.Tick,
		tickCmd(),
		m.waitForEvent(),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) waitForEvent() tea.Cmd {
	if m.events == nil {
		return nil
	}
	client := m.events
	return func() tea.Msg {
		select {
		case ev := <-client.Events:
			return streamEventMsg{ev}
		case <-client.Done:
			return nil
		}
	}
}

func (m *Model) loadTasks() tea.Cmd {
	database := m.deps.DB
	return func() tea.Msg {
		tasks, err := database.ListTasks()
		if err != nil {
			return errMsg{err}
		}
		statuses, err := database.LastExecutionStatuses()
		if err != nil {
			statuses = make(map[int64]bool)
		}
		return tasksLoadedMsg{tasks: tasks, statuses: statuses}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		switch m.currentView {
		case ViewList:
			return m.updateList(msg)
		case ViewAdd, ViewEdit:
			return m.updateForm(msg)
		case ViewOutput:
			return m.updateOutput(msg)
		case ViewChat:
			return m.updateChat(msg)
		case ViewSettings:
			return m.updateSettings(msg)
		}

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		if m.statusTimer > 0 {
			m.statusTimer--
			if m.statusTimer == 0 {
				m.statusMsg = ""
			}
		}
		// Another process may own the dispatcher, so poll the store.
		cmds = append(cmds, tickCmd(), m.loadTasks())

	case tasksLoadedMsg:
		m.tasks = msg.tasks
		m.lastStatus = msg.statuses
		if m.searchMode {
			m.filterTasks()
		}
		m.updateTable()

	case streamEventMsg:
		if n := msg.ev.Notification; n != nil {
			m.setStatus(n.Title+": "+n.Body, !n.Success)
			if m.currentView == ViewOutput && m.selectedTask != nil && m.selectedTask.ID == n.TaskID {
				cmds = append(cmds, m.loadExecutions(n.TaskID))
			}
		}
		cmds = append(cmds, m.waitForEvent(), m.loadTasks())

	case taskSavedMsg:
		m.setStatus("Task saved: "+msg.task.Title, false)
		m.currentView = ViewList
		cmds = append(cmds, m.loadTasks())

	case taskDeletedMsg:
		m.setStatus("Task deleted", false)
		cmds = append(cmds, m.loadTasks())

	case taskStatusMsg:
		m.setStatus(fmt.Sprintf("%s is now %s", msg.task.Title, msg.task.Status), false)
		if m.selectedTask != nil && m.selectedTask.ID == msg.task.ID {
			m.selectedTask = msg.task
		}
		cmds = append(cmds, m.loadTasks())

	case taskStartedMsg:
		m.setStatus("Started: "+msg.task.Title, false)
		m.updateTable()

	case executionsLoadedMsg:
		m.executions = msg.execs
		m.viewport.SetContent(m.renderOutputContent())
		m.viewport.GotoTop()

	case chatReplyMsg, chatChunkMsg, chatHistoryMsg:
		return m.handleChatMsg(msg)

	case settingsLoadedMsg, settingsSavedMsg:
		return m.handleSettingsMsg(msg)

	case errMsg:
		m.setStatus("Error: "+msg.err.Error(), true)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height

	m.table.SetColumns(tableColumns(width))
	tableWidth := width - 4
	if tableWidth > maxTableWidth {
		tableWidth = maxTableWidth
	}
	m.table.SetWidth(tableWidth)

	available := height - headerHeight - footerHeight - 2
	if available < minTableHeight {
		available = minTableHeight
	}
	m.table.SetHeight(available)

	viewportHeight := height - outputHeaderHeight - outputFooterHeight - 2
	if viewportHeight < 5 {
		viewportHeight = 5
	}
	m.viewport.Width = width - 6
	m.viewport.Height = viewportHeight
	m.help.Width = width
	m.form.setWidth(width)
	m.chat.resize(width, height)

	if renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-10),
	); err == nil {
		m.mdRenderer = renderer
	}
}

func (m *Model) setStatus(msg string, isErr bool) {
	m.statusMsg = msg
	m.statusErr = isErr
	m.statusTimer = 5 // seconds
}

func (m Model) View() string {
	var content string

	switch m.currentView {
	case ViewList:
		content = m.renderList()
	case ViewAdd:
		content = m.renderForm("New Task")
	case ViewEdit:
		content = m.renderForm("Edit Task")
	case ViewOutput:
		content = m.renderOutput()
	case ViewChat:
		content = m.renderChat()
	case ViewSettings:
		content = m.renderSettings()
	}

	baseView := appStyle.Render(content)
	if m.confirmDelete {
		return m.renderDeleteModal()
	}
	return baseView
}

func (m Model) renderStatus() string {
	if m.statusMsg == "" {
		return ""
	}
	if m.statusErr {
		return errorMsgStyle.Render("✗ "+m.statusMsg) + "\n"
	}
	return successMsgStyle.Render("✓ "+m.statusMsg) + "\n"
}

// Run starts the TUI application
func Run(ctx context.Context, deps Deps) error {
	m := NewModel(deps)
	if m.events != nil {
		defer deps.Stream.Unsubscribe(m.events.ID)
	}
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
