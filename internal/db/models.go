package db

import (
	"time"

	"github.com/kylemclaren/chat-tasks/internal/recurrence"
)

// TaskType distinguishes one-shot tasks from recurring ones
type TaskType string

const (
	TaskTypeOneTime   TaskType = "one_time"
	TaskTypeScheduled TaskType = "scheduled"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskStatusActive    TaskStatus = "active"
	TaskStatusPaused    TaskStatus = "paused"
	TaskStatusDisabled  TaskStatus = "disabled"
	TaskStatusCompleted TaskStatus = "completed"
)

// Task sources
const (
	SourceManual = "manual"
	SourceQuick  = "quick"
)

// Task represents a prompt that is sent to the model on a schedule
type Task struct {
	ID          int64                `json:"id"`
	Title       string               `json:"title"`
	Prompt      string               `json:"prompt"`
	Type        TaskType             `json:"type"`
	Frequency   recurrence.Frequency `json:"frequency,omitempty"`
	Hour        int                  `json:"hour"`
	Minute      int                  `json:"minute"`
	DaysOfWeek  []int                `json:"days_of_week,omitempty"`
	CronExpr    string               `json:"cron_expr,omitempty"`
	ScheduledAt *time.Time           `json:"scheduled_at,omitempty"`
	Status      TaskStatus           `json:"status"`
	Source      string               `json:"source"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
	LastRunAt   *time.Time           `json:"last_run_at,omitempty"`
	NextRunAt   *time.Time           `json:"next_run_at,omitempty"`
}

// IsOneOff returns true if this task runs at most once
func (t *Task) IsOneOff() bool {
	return t.Type == TaskTypeOneTime || t.Frequency == recurrence.Once
}

// IsActive returns true if the task should hold an armed timer
func (t *Task) IsActive() bool {
	return t.Status == TaskStatusActive
}

// Schedule converts the stored schedule columns into a recurrence descriptor
func (t *Task) Schedule() recurrence.Schedule {
	s := recurrence.Schedule{
		Frequency: t.Frequency,
		Hour:      t.Hour,
		Minute:    t.Minute,
		Days:      t.DaysOfWeek,
		Cron:      t.CronExpr,
	}
	if t.ScheduledAt != nil {
		s.At = *t.ScheduledAt
	}
	if t.Type == TaskTypeOneTime {
		s.Frequency = recurrence.OneShot
	}
	return s
}

// TaskExecution is an immutable record of one attempt to run a task
type TaskExecution struct {
	ID           int64     `json:"id"`
	TaskID       int64     `json:"task_id"`
	TaskTitle    string    `json:"task_title"`
	ExecutedAt   time.Time `json:"executed_at"`
	Prompt       string    `json:"prompt"`
	Response     string    `json:"response"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
}

// Conversation groups chat messages
type Conversation struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageRole identifies the author of a message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is a single chat message within a conversation
type Message struct {
	ID             int64       `json:"id"`
	ConversationID int64       `json:"conversation_id"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	Timestamp      time.Time   `json:"timestamp"`
}

// Timer is a pending due-queue entry
type Timer struct {
	Key     string    `json:"key"`
	DueAt   time.Time `json:"due_at"`
	Payload string    `json:"payload"`
}
