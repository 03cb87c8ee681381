package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kylemclaren/chat-tasks/internal/chat"
	"github.com/kylemclaren/chat-tasks/internal/db"
	"github.com/kylemclaren/chat-tasks/internal/notify"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Sender sends a chat completion request
type Sender interface {
	Send(ctx context.Context, msgs []chat.Message, cfg chat.ModelConfig) (string, error)
}

// ConfigSource supplies the current model configuration
type ConfigSource interface {
	Load(ctx context.Context) (chat.ModelConfig, error)
}

// Store records execution history
type Store interface {
	CreateExecution(exec *db.TaskExecution) error
}

// Executor sends task prompts to the model and records the outcome
type Executor struct {
	sender   Sender
	config   ConfigSource
	store    Store
	notifier notify.Notifier
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures an Executor
type Option func(*Executor)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// New creates a new executor. A nil notifier discards notifications.
func New(sender Sender, config ConfigSource, store Store, notifier notify.Notifier, opts ...Option) *Executor {
	e := &Executor{
		sender:   sender,
		config:   config,
		store:    store,
		notifier: notifier,
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/kylemclaren/chat-tasks/internal/executor"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.notifier == nil {
		e.notifier = notify.Multi{}
	}
	e.logger = e.logger.With("component", "executor")
	return e
}

// Result represents the result of a task execution
type Result struct {
	Output       string
	Error        error
	Duration     time.Duration
	Execution    *db.TaskExecution
	Notification notify.Notification
}

// Success reports whether the model call succeeded
func (r *Result) Success() bool {
	return r.Error == nil
}

// Execute sends the task prompt as a single user message. Transport and
// configuration failures are recorded in the result. The returned error is
// set only when the execution record could not be persisted.
func (e *Executor) Execute(ctx context.Context, task *db.Task) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "task.execute", trace.WithAttributes(
		attribute.Int64("task.id", task.ID),
		attribute.String("task.title", task.Title),
	))
	defer span.End()

	startTime := e.now()
	output, err := e.call(ctx, task.Prompt)
	duration := e.now().Sub(startTime)

	result := &Result{
		Output:   output,
		Error:    err,
		Duration: duration,
		Execution: &db.TaskExecution{
			TaskID:     task.ID,
			TaskTitle:  task.Title,
			ExecutedAt: startTime,
			Prompt:     task.Prompt,
			Response:   output,
			Success:    err == nil,
			DurationMs: duration.Milliseconds(),
		},
	}
	if err != nil {
		result.Execution.ErrorMessage = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("task execution failed", "task_id", task.ID, "error", err)
	} else {
		e.logger.Info("task executed", "task_id", task.ID, "duration_ms", result.Execution.DurationMs)
	}

	storeErr := e.store.CreateExecution(result.Execution)
	if storeErr != nil {
		storeErr = fmt.Errorf("failed to record execution: %w", storeErr)
		e.logger.Error("failed to record execution", "task_id", task.ID, "error", storeErr)
	}

	result.Notification = Notification(task, result.Execution)
	if nerr := e.notifier.Notify(ctx, result.Notification); nerr != nil {
		e.logger.Warn("failed to deliver notification", "task_id", task.ID, "error", nerr)
	}

	return result, storeErr
}

func (e *Executor) call(ctx context.Context, prompt string) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			output, err = "", fmt.Errorf("panic during model call: %v", r)
		}
	}()
	cfg, err := e.config.Load(ctx)
	if err != nil {
		return "", &chat.Error{Kind: chat.KindConfig, Message: "failed to load configuration", Err: err}
	}
	return e.sender.Send(ctx, []chat.Message{{Role: chat.RoleUser, Content: prompt}}, cfg)
}

// Notification builds the user-visible notification for an execution
func Notification(task *db.Task, exec *db.TaskExecution) notify.Notification {
	if !exec.Success {
		n := notify.New(task.ID, task.Title, "Execution failed: "+exec.ErrorMessage, false)
		n.ExecutionID = exec.ID
		n.Response = exec.ErrorMessage
		return n
	}
	n := notify.New(task.ID, task.Title, notify.Preview(exec.Response, notify.PreviewLength), true)
	n.ExecutionID = exec.ID
	n.Response = exec.Response
	return n
}

// Failure builds a failure notification for an error raised outside the
// model call
func Failure(taskID int64, title string, err error) notify.Notification {
	return notify.New(taskID, title, "Execution failed: "+err.Error(), false)
}
