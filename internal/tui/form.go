package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/kylemclaren/chat-tasks/internal/db"
	"github.com/kylemclaren/chat-tasks/internal/recurrence"
	"github.com/kylemclaren/chat-tasks/internal/scheduler"
)

// Form field indices
const (
	fieldTitle = iota
	fieldPrompt
	fieldFrequency
	fieldTime
	fieldDays
	fieldCron
	fieldDate
	fieldCount
)

const dateLayout = "2006-01-02 15:04"

// frequencyOneTime is the form's label for a task with an absolute due time
const frequencyOneTime = "one-time"

var frequencyOptions = []string{
	frequencyOneTime,
	string(recurrence.Hourly),
	string(recurrence.Daily),
	string(recurrence.Weekly),
	string(recurrence.Custom),
}

var fieldLabels = [fieldCount]string{
	"Title", "Prompt", "Repeats", "Time (HH:MM)", "Days", "Cron Expression", "Run At",
}

var fieldHints = [fieldCount]string{
	"",
	"(multi-line, tab to next field)",
	"←/→ to change",
	"",
	"1 = Sun ... 7 = Sat, comma separated",
	"five fields or @daily",
	"YYYY-MM-DD HH:MM, local time",
}

type taskForm struct {
	inputs     [fieldCount]textinput.Model
	prompt     textarea.Model
	frequency  int
	focus      int
	editing    *db.Task
	validation map[int]string
	width      int
}

func newTaskForm() taskForm {
	f := taskForm{width: 50}
	f.init()
	return f
}

func (f *taskForm) init() {
	for i := range f.inputs {
		in := textinput.New()
		in.CharLimit = 100
		in.Width = f.width
		f.inputs[i] = in
	}
	f.inputs[fieldTitle].Placeholder = "Morning briefing"
	f.inputs[fieldTime].Placeholder = "09:00"
	f.inputs[fieldTime].CharLimit = 5
	f.inputs[fieldDays].Placeholder = "2,4,6"
	f.inputs[fieldCron].Placeholder = "0 9 * * 1-5"
	f.inputs[fieldDate].Placeholder = time.Now().Add(time.Hour).Format(dateLayout)

	f.prompt = textarea.New()
	f.prompt.Placeholder = "Summarise today's top headlines..."
	f.prompt.CharLimit = 4000
	f.prompt.SetWidth(f.width + 2)
	f.prompt.SetHeight(5)
	f.prompt.ShowLineNumbers = false

	f.frequency = 2 // daily
	f.validation = make(map[int]string)
}

func (f *taskForm) setWidth(termWidth int) {
	width := (termWidth - 8) * 80 / 100
	f.width = min(max(width, 40), 100)
	for i := range f.inputs {
		f.inputs[i].Width = f.width
	}
	f.prompt.SetWidth(f.width + 2)
}

func (f *taskForm) reset() {
	f.init()
	f.editing = nil
	f.focusField(fieldTitle)
}

// fill copies a task's fields into the inputs
func (f *taskForm) fill(task *db.Task) {
	f.inputs[fieldTitle].SetValue(task.Title)
	f.prompt.SetValue(task.Prompt)
	f.inputs[fieldTime].SetValue(fmt.Sprintf("%02d:%02d", task.Hour, task.Minute))
	f.inputs[fieldDays].SetValue(recurrence.FormatDays(task.DaysOfWeek))
	f.inputs[fieldCron].SetValue(task.CronExpr)
	if task.ScheduledAt != nil {
		f.inputs[fieldDate].SetValue(task.ScheduledAt.Local().Format(dateLayout))
	}
	f.frequency = frequencyIndex(task)
}

func (f *taskForm) load(task *db.Task) {
	f.reset()
	f.fill(task)
	f.editing = task
}

func frequencyIndex(task *db.Task) int {
	want := string(task.Frequency)
	if task.IsOneOff() {
		want = frequencyOneTime
	}
	for i, opt := range frequencyOptions {
		if opt == want {
			return i
		}
	}
	return 2
}

// visibleFields lists the inputs relevant to the selected frequency
func (f *taskForm) visibleFields() []int {
	fields := []int{fieldTitle, fieldPrompt, fieldFrequency}
	switch frequencyOptions[f.frequency] {
	case frequencyOneTime:
		return append(fields, fieldDate)
	case string(recurrence.Weekly):
		return append(fields, fieldTime, fieldDays)
	case string(recurrence.Custom):
		return append(fields, fieldCron)
	default:
		return append(fields, fieldTime)
	}
}

func (f *taskForm) focusField(field int) {
	for i := range f.inputs {
		f.inputs[i].Blur()
	}
	f.prompt.Blur()
	f.focus = field
	switch field {
	case fieldPrompt:
		f.prompt.Focus()
	case fieldFrequency:
	default:
		f.inputs[field].Focus()
	}
}

func (f *taskForm) move(delta int) {
	fields := f.visibleFields()
	pos := 0
	for i, field := range fields {
		if field == f.focus {
			pos = i
		}
	}
	pos = (pos + delta + len(fields)) % len(fields)
	f.focusField(fields[pos])
}

func (f *taskForm) lastField() bool {
	fields := f.visibleFields()
	return f.focus == fields[len(fields)-1]
}

func parseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, errors.New("use HH:MM")
	}
	return t.Hour(), t.Minute(), nil
}

// build validates the inputs and returns the task they describe
func (f *taskForm) build() (*db.Task, bool) {
	f.validation = make(map[int]string)

	task := &db.Task{Status: db.TaskStatusActive, Source: db.SourceManual}
	if f.editing != nil {
		copied := *f.editing
		task = &copied
	}

	task.Title = strings.TrimSpace(f.inputs[fieldTitle].Value())
	if task.Title == "" {
		f.validation[fieldTitle] = "Title is required"
	}
	task.Prompt = strings.TrimSpace(f.prompt.Value())
	if task.Prompt == "" {
		f.validation[fieldPrompt] = "Prompt is required"
	}

	task.Frequency, task.Hour, task.Minute = "", 0, 0
	task.DaysOfWeek, task.CronExpr, task.ScheduledAt = nil, "", nil

	switch freq := frequencyOptions[f.frequency]; freq {
	case frequencyOneTime:
		task.Type = db.TaskTypeOneTime
		at, err := time.ParseInLocation(dateLayout, strings.TrimSpace(f.inputs[fieldDate].Value()), time.Local)
		if err != nil {
			f.validation[fieldDate] = "use YYYY-MM-DD HH:MM"
		} else {
			at = at.UTC()
			task.ScheduledAt = &at
		}
	default:
		task.Type = db.TaskTypeScheduled
		task.Frequency = recurrence.Frequency(freq)
		if task.Frequency == recurrence.Custom {
			task.CronExpr = strings.TrimSpace(f.inputs[fieldCron].Value())
			if _, err := recurrence.ParseCron(task.CronExpr); err != nil {
				f.validation[fieldCron] = "Invalid cron expression"
			}
			break
		}
		hour, minute, err := parseClock(f.inputs[fieldTime].Value())
		if err != nil {
			f.validation[fieldTime] = err.Error()
		}
		task.Hour, task.Minute = hour, minute
		if task.Frequency == recurrence.Weekly {
			days, err := recurrence.ParseDays(f.inputs[fieldDays].Value())
			switch {
			case err != nil:
				f.validation[fieldDays] = "Days must be 1-7"
			case len(days) == 0:
				f.validation[fieldDays] = "Pick at least one day"
			}
			task.DaysOfWeek = days
		}
	}

	// Editing a finished one-off with a new time brings it back.
	if task.Status == db.TaskStatusCompleted && task.IsOneOff() && task.ScheduledAt != nil &&
		(f.editing.ScheduledAt == nil || !task.ScheduledAt.Equal(*f.editing.ScheduledAt)) {
		task.Status = db.TaskStatusActive
	}
	return task, len(f.validation) == 0
}

func (m *Model) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	f := &m.form

	switch msg.String() {
	case "esc":
		m.currentView = ViewList
		f.reset()
		return m, nil
	case "tab", "down":
		if msg.String() == "tab" || f.focus != fieldPrompt {
			f.move(1)
			return m, textinput.Blink
		}
	case "shift+tab", "up":
		if msg.String() == "shift+tab" || f.focus != fieldPrompt {
			f.move(-1)
			return m, textinput.Blink
		}
	case "left", "right":
		if f.focus == fieldFrequency {
			delta := 1
			if msg.String() == "left" {
				delta = len(frequencyOptions) - 1
			}
			f.frequency = (f.frequency + delta) % len(frequencyOptions)
			return m, nil
		}
	case "ctrl+s":
		return m, m.saveTask()
	case "enter":
		if f.focus == fieldPrompt {
			break
		}
		if f.lastField() {
			return m, m.saveTask()
		}
		f.move(1)
		return m, textinput.Blink
	}

	switch f.focus {
	case fieldPrompt:
		f.prompt, cmd = f.prompt.Update(msg)
	case fieldFrequency:
	default:
		f.inputs[f.focus], cmd = f.inputs[f.focus].Update(msg)
	}
	return m, cmd
}

func (m *Model) saveTask() tea.Cmd {
	task, ok := m.form.build()
	if !ok {
		return nil
	}
	sched := m.deps.Scheduler
	editing := m.form.editing != nil
	return func() tea.Msg {
		ctx := context.Background()
		var err error
		if editing {
			err = sched.UpdateTask(ctx, task)
		} else {
			err = sched.CreateTask(ctx, task)
		}
		if err != nil && !errors.Is(err, scheduler.ErrInvalidSchedule) {
			return errMsg{err}
		}
		return taskSavedMsg{task}
	}
}

func (m Model) renderForm(title string) string {
	f := m.form
	var b strings.Builder

	b.WriteString(spriteIcon + " " + logoStyle.Render(title))
	b.WriteString("\n\n")

	for _, field := range f.visibleFields() {
		b.WriteString(inputLabelStyle.Render(fieldLabels[field]))
		if hint := fieldHints[field]; hint != "" {
			b.WriteString("  ")
			b.WriteString(subtitleStyle.Render(hint))
		}
		if msg, bad := f.validation[field]; bad {
			b.WriteString("  ")
			b.WriteString(errorMsgStyle.Render("✗ " + msg))
		}
		b.WriteString("\n")

		style := blurredInputStyle
		if field == f.focus {
			style = focusedInputStyle
		}
		switch field {
		case fieldPrompt:
			b.WriteString(style.Render(f.prompt.View()))
		case fieldFrequency:
			b.WriteString(style.Render(m.renderFrequency()))
		default:
			b.WriteString(style.Render(f.inputs[field].View()))
		}
		b.WriteString("\n\n")
	}

	if m.statusErr {
		b.WriteString(m.renderStatus())
	}
	b.WriteString("\n")
	b.WriteString(helpLine("tab", "next", "ctrl+s", "save", "esc", "cancel"))
	return b.String()
}

func (m Model) renderFrequency() string {
	parts := make([]string, len(frequencyOptions))
	for i, opt := range frequencyOptions {
		if i == m.form.frequency {
			parts[i] = statusOK.Render("[" + opt + "]")
		} else {
			parts[i] = statusPending.Render(" " + opt + " ")
		}
	}
	return strings.Join(parts, " ")
}
