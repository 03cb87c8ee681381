package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// PreviewLength is how many characters of a response a notification shows
const PreviewLength = 100

// Notification is a user-visible message about one task execution.
// Every execution produces a new notification with its own ID.
type Notification struct {
	ID          string    `json:"id"`
	TaskID      int64     `json:"task_id"`
	ExecutionID int64     `json:"execution_id,omitempty"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Response    string    `json:"-"`
	Success     bool      `json:"success"`
	Timestamp   time.Time `json:"timestamp"`
}

// New creates a notification with a fresh ID
func New(taskID int64, title, body string, success bool) Notification {
	return Notification{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Title:     title,
		Body:      body,
		Success:   success,
		Timestamp: time.Now(),
	}
}

// Notifier delivers notifications to the user
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Func adapts a function to Notifier
type Func func(ctx context.Context, n Notification) error

func (f Func) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Multi fans a notification out to several notifiers
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, target := range m {
		if target == nil {
			continue
		}
		if err := target.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes notifications to a structured logger
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(_ context.Context, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if !n.Success {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, n.Title,
		"component", "notify",
		"notification_id", n.ID,
		"task_id", n.TaskID,
		"execution_id", n.ExecutionID,
		"body", n.Body)
	return nil
}

// Preview truncates s to n characters, appending "..." when cut
func Preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
