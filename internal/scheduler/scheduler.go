package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kylemclaren/chat-tasks/internal/db"
	"github.com/kylemclaren/chat-tasks/internal/executor"
	"github.com/kylemclaren/chat-tasks/internal/notify"
	"github.com/kylemclaren/chat-tasks/internal/recurrence"
	"github.com/kylemclaren/chat-tasks/internal/timer"
	"github.com/robfig/cron/v3"
)

var (
	// ErrInvalidSchedule is returned when a task's schedule cannot produce a next run.
	// The task is disabled rather than retried.
	ErrInvalidSchedule = errors.New("invalid schedule")
	// ErrAlreadyRunning is returned when a task already has an execution in flight
	ErrAlreadyRunning = errors.New("task is already running")
)

const keyPrefix = "task:"

// QuickTaskDelay is how far ahead a quick task is scheduled
const QuickTaskDelay = time.Hour

// Store is the task persistence the scheduler needs
type Store interface {
	CreateTask(task *db.Task) error
	GetTask(id int64) (*db.Task, error)
	ListTasks() ([]*db.Task, error)
	UpdateTask(task *db.Task) error
	DeleteTask(id int64) error
	CreateExecution(exec *db.TaskExecution) error
	PruneExecutions(cutoff time.Time) (int64, error)
}

// Runner executes a task once
type Runner interface {
	Execute(ctx context.Context, task *db.Task) (*executor.Result, error)
}

// Publisher is told about task state changes
type Publisher interface {
	PublishTask(taskID int64, status string)
}

// Scheduler arms one timer per active task and reacts when it fires
type Scheduler struct {
	store     Store
	timer     timer.Timer
	runner    Runner
	notifier  notify.Notifier
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	running map[int64]struct{}
	wg      sync.WaitGroup

	cron *cron.Cron
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithNotifier sets the notifier used for failures outside the model call
func WithNotifier(n notify.Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// WithPublisher sets the receiver of task state changes
func WithPublisher(p Publisher) Option {
	return func(s *Scheduler) { s.publisher = p }
}

// New creates a new scheduler
func New(store Store, t timer.Timer, runner Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		timer:    t,
		runner:   runner,
		notifier: notify.Multi{},
		logger:   slog.Default(),
		now:      time.Now,
		running:  make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "scheduler")
	return s
}

// Key returns the timer key for a task
func Key(taskID int64) string {
	return keyPrefix + strconv.FormatInt(taskID, 10)
}

// TaskID parses a timer key produced by Key
func TaskID(key string) (int64, error) {
	if !strings.HasPrefix(key, keyPrefix) {
		return 0, fmt.Errorf("not a task timer key: %q", key)
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(key, keyPrefix), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid task timer key %q: %w", key, err)
	}
	return id, nil
}

// ScheduleAll arms timers for every active task and cancels the rest.
// It keeps going past individual failures and returns them joined.
func (s *Scheduler) ScheduleAll(ctx context.Context) error {
	tasks, err := s.store.ListTasks()
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}

	var errs []error
	for _, task := range tasks {
		if err := s.Schedule(ctx, task); err != nil {
			s.logger.Error("failed to schedule task", "task_id", task.ID, "error", err)
			errs = append(errs, fmt.Errorf("task %d: %w", task.ID, err))
		}
	}
	s.logger.Info("tasks scheduled", "count", len(tasks), "failed", len(errs))
	return errors.Join(errs...)
}

// Schedule computes the next run for an active task, arms its timer and
// persists NextRunAt. Inactive tasks have their timer cancelled. A schedule
// that cannot produce a next run disables the task.
func (s *Scheduler) Schedule(ctx context.Context, task *db.Task) error {
	if !task.IsActive() {
		return s.Cancel(ctx, task.ID)
	}

	next, err := recurrence.Next(task.Schedule(), s.now())
	if err != nil {
		return s.disableInvalid(ctx, task, err)
	}

	if err := s.timer.Arm(ctx, Key(task.ID), next, strconv.FormatInt(task.ID, 10)); err != nil {
		return fmt.Errorf("failed to arm timer: %w", err)
	}
	task.NextRunAt = &next
	if err := s.store.UpdateTask(task); err != nil {
		return fmt.Errorf("failed to save next run: %w", err)
	}
	s.logger.Debug("task armed", "task_id", task.ID, "next_run_at", next)
	return nil
}

func (s *Scheduler) disableInvalid(ctx context.Context, task *db.Task, cause error) error {
	err := fmt.Errorf("%w: %v", ErrInvalidSchedule, cause)
	s.logger.Warn("disabling task with invalid schedule", "task_id", task.ID, "error", cause)

	if cerr := s.timer.Cancel(ctx, Key(task.ID)); cerr != nil {
		s.logger.Warn("failed to cancel timer", "task_id", task.ID, "error", cerr)
	}
	task.Status = db.TaskStatusDisabled
	task.NextRunAt = nil
	if uerr := s.store.UpdateTask(task); uerr != nil {
		return errors.Join(err, fmt.Errorf("failed to disable task: %w", uerr))
	}
	s.publish(task)
	s.notify(ctx, executor.Failure(task.ID, task.Title, err))
	return err
}

// Cancel removes the pending timer for a task. It does not interrupt an
// execution already in flight and is safe to call repeatedly.
func (s *Scheduler) Cancel(ctx context.Context, taskID int64) error {
	if err := s.timer.Cancel(ctx, Key(taskID)); err != nil {
		return fmt.Errorf("failed to cancel timer: %w", err)
	}
	return nil
}

// Fire handles a timer entry delivered by the dispatcher
func (s *Scheduler) Fire(ctx context.Context, e timer.Entry) {
	taskID, err := TaskID(e.Key)
	if err != nil {
		s.logger.Warn("ignoring timer", "key", e.Key, "error", err)
		return
	}
	if err := s.execute(ctx, taskID, true); err != nil && !errors.Is(err, ErrAlreadyRunning) {
		s.logger.Error("scheduled execution failed", "task_id", taskID, "error", err)
	}
}

// Execute runs a task now and applies the resulting status transition.
// A task that no longer exists is ignored.
func (s *Scheduler) Execute(ctx context.Context, taskID int64) error {
	return s.execute(ctx, taskID, false)
}

func (s *Scheduler) execute(ctx context.Context, taskID int64, fired bool) error {
	if !s.acquire(taskID) {
		return ErrAlreadyRunning
	}
	defer s.release(taskID)
	return s.executeLocked(ctx, taskID, fired)
}

// executeLocked expects the caller to hold the in-flight slot for taskID
func (s *Scheduler) executeLocked(ctx context.Context, taskID int64, fired bool) (err error) {
	var title string
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during execution: %v", r)
			s.logger.Error("recovered from panic", "task_id", taskID, "panic", r)
			s.notify(ctx, executor.Failure(taskID, title, err))
		}
	}()

	task, err := s.store.GetTask(taskID)
	if errors.Is(err, db.ErrNotFound) {
		s.logger.Debug("task deleted before execution", "task_id", taskID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load task: %w", err)
	}
	title = task.Title

	if fired && !task.IsActive() {
		s.logger.Debug("skipping inactive task", "task_id", taskID, "status", task.Status)
		return nil
	}

	result, runErr := s.run(ctx, task)
	if result != nil && result.Error != nil {
		s.logger.Warn("task run failed", "task_id", taskID, "error", result.Error)
	}

	// Status edits made while the model call was in flight win over the
	// snapshot taken before it.
	current, err := s.store.GetTask(taskID)
	if errors.Is(err, db.ErrNotFound) {
		s.logger.Debug("task deleted during execution", "task_id", taskID)
		return runErr
	}
	if err != nil {
		return errors.Join(runErr, fmt.Errorf("failed to reload task: %w", err))
	}
	return errors.Join(runErr, s.advance(ctx, current))
}

// run executes task once. A panic in the runner is recorded as a failed
// execution so the task still advances to its next occurrence.
func (s *Scheduler) run(ctx context.Context, task *db.Task) (result *executor.Result, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		result = nil
		err = fmt.Errorf("panic during execution: %v", r)
		s.logger.Error("recovered from panic", "task_id", task.ID, "panic", r)

		exec := &db.TaskExecution{
			TaskID:       task.ID,
			TaskTitle:    task.Title,
			ExecutedAt:   s.now(),
			Prompt:       task.Prompt,
			Success:      false,
			ErrorMessage: err.Error(),
		}
		if serr := s.store.CreateExecution(exec); serr != nil {
			s.logger.Error("failed to record execution", "task_id", task.ID, "error", serr)
		}
		s.notify(ctx, executor.Notification(task, exec))
	}()
	return s.runner.Execute(ctx, task)
}

// advance moves a task to its next state after an attempt
func (s *Scheduler) advance(ctx context.Context, task *db.Task) error {
	now := s.now()
	task.LastRunAt = &now

	if task.IsOneOff() {
		if err := s.Cancel(ctx, task.ID); err != nil {
			s.logger.Warn("failed to cancel timer", "task_id", task.ID, "error", err)
		}
		task.Status = db.TaskStatusCompleted
		task.NextRunAt = nil
		if err := s.store.UpdateTask(task); err != nil {
			return fmt.Errorf("failed to complete task: %w", err)
		}
		s.publish(task)
		return nil
	}

	if !task.IsActive() {
		if err := s.store.UpdateTask(task); err != nil {
			return fmt.Errorf("failed to save last run: %w", err)
		}
		return nil
	}

	err := s.Schedule(ctx, task)
	if errors.Is(err, ErrInvalidSchedule) {
		return nil
	}
	return err
}

// RunNow starts an execution in the background. It fails fast if the task
// does not exist or is already running.
func (s *Scheduler) RunNow(ctx context.Context, taskID int64) error {
	if _, err := s.store.GetTask(taskID); err != nil {
		return fmt.Errorf("task not found: %w", err)
	}
	if !s.acquire(taskID) {
		return ErrAlreadyRunning
	}

	runCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(taskID)
		if err := s.executeLocked(runCtx, taskID, false); err != nil {
			s.logger.Error("manual execution failed", "task_id", taskID, "error", err)
		}
	}()
	return nil
}

// Running reports whether a task has an execution in flight
func (s *Scheduler) Running(taskID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[taskID]
	return ok
}

func (s *Scheduler) acquire(taskID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[taskID]; ok {
		return false
	}
	s.running[taskID] = struct{}{}
	return true
}

func (s *Scheduler) release(taskID int64) {
	s.mu.Lock()
	delete(s.running, taskID)
	s.mu.Unlock()
}

// CreateTask saves a new task and arms it
func (s *Scheduler) CreateTask(ctx context.Context, task *db.Task) error {
	if err := s.store.CreateTask(task); err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	s.publish(task)
	return s.Schedule(ctx, task)
}

// UpdateTask saves an edited task and re-arms it
func (s *Scheduler) UpdateTask(ctx context.Context, task *db.Task) error {
	if err := s.store.UpdateTask(task); err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	s.publish(task)
	return s.Schedule(ctx, task)
}

// QuickTask creates a one-time task due in an hour
func (s *Scheduler) QuickTask(ctx context.Context, title, prompt string) (*db.Task, error) {
	at := s.now().Add(QuickTaskDelay)
	task := &db.Task{
		Title:       title,
		Prompt:      prompt,
		Type:        db.TaskTypeOneTime,
		ScheduledAt: &at,
		Status:      db.TaskStatusActive,
		Source:      db.SourceQuick,
	}
	if err := s.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Toggle pauses an active task or reactivates any other task. Pausing keeps
// NextRunAt.
func (s *Scheduler) Toggle(ctx context.Context, taskID int64) (*db.Task, error) {
	task, err := s.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task.IsActive() {
		task.Status = db.TaskStatusPaused
	} else {
		task.Status = db.TaskStatusActive
	}
	return task, s.setStatus(ctx, task)
}

// Disable stops a task until it is toggled back on
func (s *Scheduler) Disable(ctx context.Context, taskID int64) (*db.Task, error) {
	task, err := s.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	task.Status = db.TaskStatusDisabled
	return task, s.setStatus(ctx, task)
}

func (s *Scheduler) setStatus(ctx context.Context, task *db.Task) error {
	if task.IsActive() {
		if err := s.Schedule(ctx, task); err != nil {
			return err
		}
	} else {
		if err := s.Cancel(ctx, task.ID); err != nil {
			return err
		}
		if err := s.store.UpdateTask(task); err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}
	}
	s.publish(task)
	return nil
}

// Delete cancels a task's timer and removes it with its executions
func (s *Scheduler) Delete(ctx context.Context, taskID int64) error {
	if err := s.Cancel(ctx, taskID); err != nil {
		return err
	}
	if err := s.store.DeleteTask(taskID); err != nil {
		return err
	}
	if s.publisher != nil {
		s.publisher.PublishTask(taskID, "deleted")
	}
	return nil
}

// Prune deletes executions older than the retention window
func (s *Scheduler) Prune(retention time.Duration) (int64, error) {
	n, err := s.store.PruneExecutions(s.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to prune executions: %w", err)
	}
	if n > 0 {
		s.logger.Info("pruned executions", "count", n, "retention", retention)
	}
	return n, nil
}

// StartMaintenance prunes execution history on the given cron spec.
// A non-positive retention disables pruning.
func (s *Scheduler) StartMaintenance(spec string, retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.Prune(retention); err != nil {
			s.logger.Error("maintenance failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid maintenance schedule: %w", err)
	}
	c.Start()

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()
	return nil
}

// Stop halts maintenance and waits for manual runs to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	s.wg.Wait()
}

// Wait blocks until background runs started by RunNow have returned
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) publish(task *db.Task) {
	if s.publisher != nil {
		s.publisher.PublishTask(task.ID, string(task.Status))
	}
}

func (s *Scheduler) notify(ctx context.Context, n notify.Notification) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("failed to deliver notification", "task_id", n.TaskID, "error", err)
	}
}
