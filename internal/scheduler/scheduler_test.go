package scheduler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kylemclaren/chat-tasks/internal/chat"
	"github.com/kylemclaren/chat-tasks/internal/db"
	"github.com/kylemclaren/chat-tasks/internal/executor"
	"github.com/kylemclaren/chat-tasks/internal/notify"
	"github.com/kylemclaren/chat-tasks/internal/recurrence"
	"github.com/kylemclaren/chat-tasks/internal/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type staticConfig chat.ModelConfig

func (s staticConfig) Load(context.Context) (chat.ModelConfig, error) {
	return chat.ModelConfig(s), nil
}

type recorder struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (r *recorder) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	r.got = append(r.got, n)
	r.mu.Unlock()
	return nil
}

func (r *recorder) all() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.got...)
}

type runnerFunc func(ctx context.Context, task *db.Task) (*executor.Result, error)

func (f runnerFunc) Execute(ctx context.Context, task *db.Task) (*executor.Result, error) {
	return f(ctx, task)
}

type harness struct {
	db         *db.DB
	dispatcher *timer.Dispatcher
	sched      *Scheduler
	clock      *clock
	notes      *recorder
}

var start = time.Date(2025, time.March, 3, 8, 0, 0, 0, time.UTC)

// chatServer answers every completion with the given status and body
func chatServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const okBody = `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Here is your summary"},"finish_reason":"stop"}]}`

func newHarness(t *testing.T, runner Runner) *harness {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "sched.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	c := &clock{now: start}
	notes := &recorder{}
	dispatcher := timer.NewDispatcher(timer.NewSQLiteQueue(database), timer.WithClock(c.Now))
	if runner == nil {
		srv := chatServer(t, http.StatusOK, okBody)
		runner = newExecutor(database, srv.URL, notes, c)
	}
	sched := New(database, dispatcher, runner, WithClock(c.Now), WithNotifier(notes))
	return &harness{db: database, dispatcher: dispatcher, sched: sched, clock: c, notes: notes}
}

func newExecutor(database *db.DB, baseURL string, notes notify.Notifier, c *clock) *executor.Executor {
	cfg := chat.DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.APIKey = "sk-test"
	return executor.New(chat.NewTransport(), staticConfig(cfg), database, notes, executor.WithClock(c.Now))
}

func (h *harness) fire(t *testing.T, at time.Time) int {
	t.Helper()
	h.clock.Set(at)
	n := h.dispatcher.DispatchDue(context.Background(), h.sched.Fire)
	h.dispatcher.Wait()
	return n
}

func (h *harness) pending(t *testing.T) []timer.Entry {
	t.Helper()
	entries, err := h.dispatcher.List(context.Background())
	require.NoError(t, err)
	return entries
}

func dailyTask(hour, minute int) *db.Task {
	return &db.Task{
		Title:     "Daily news",
		Prompt:    "Summarize today's news",
		Type:      db.TaskTypeScheduled,
		Frequency: recurrence.Daily,
		Hour:      hour,
		Minute:    minute,
	}
}

func TestKeyRoundTrip(t *testing.T) {
	id, err := TaskID(Key(42))
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = TaskID("conversation:1")
	assert.Error(t, err)
	_, err = TaskID("task:abc")
	assert.Error(t, err)
}

func TestScheduleIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	task := dailyTask(9, 0)
	require.NoError(t, h.sched.CreateTask(context.Background(), task))
	require.NoError(t, h.sched.Schedule(context.Background(), task))
	require.NoError(t, h.sched.Schedule(context.Background(), task))

	entries := h.pending(t)
	require.Len(t, entries, 1)
	assert.Equal(t, Key(task.ID), entries[0].Key)
	assert.True(t, entries[0].DueAt.Equal(start.Add(time.Hour)))

	stored, err := h.db.GetTask(task.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.NextRunAt)
	assert.True(t, stored.NextRunAt.Equal(start.Add(time.Hour)))
}

func TestCancelIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	task := dailyTask(9, 0)
	require.NoError(t, h.sched.CreateTask(context.Background(), task))

	require.NoError(t, h.sched.Cancel(context.Background(), task.ID))
	require.NoError(t, h.sched.Cancel(context.Background(), task.ID))
	require.NoError(t, h.sched.Cancel(context.Background(), 12345))
	assert.Empty(t, h.pending(t))
}

func TestScheduleInactiveTaskCancels(t *testing.T) {
	h := newHarness(t, nil)
	task := dailyTask(9, 0)
	require.NoError(t, h.sched.CreateTask(context.Background(), task))
	require.Len(t, h.pending(t), 1)

	task.Status = db.TaskStatusPaused
	require.NoError(t, h.sched.Schedule(context.Background(), task))
	assert.Empty(t, h.pending(t))
}

func TestOneTimeTaskCompletes(t *testing.T) {
	h := newHarness(t, nil)
	at := start.Add(10 * time.Minute)
	task := &db.Task{Title: "Reminder", Prompt: "Remind me", Type: db.TaskTypeOneTime, ScheduledAt: &at}
	require.NoError(t, h.sched.CreateTask(context.Background(), task))

	assert.Equal(t, 0, h.fire(t, start.Add(5*time.Minute)))
	assert.Equal(t, 1, h.fire(t, at))

	stored, err := h.db.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, db.TaskStatusCompleted, stored.Status)
	assert.Empty(t, h.pending(t))

	execs, err := h.db.ListExecutionsByTask(task.ID, 0)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.True(t, execs[0].Success)
	assert.Equal(t, "Here is your summary", execs[0].Response)
}

func TestDailyTaskAdvances(t *testing.T) {
	h := newHarness(t, nil)
	task := dailyTask(9, 0)
	require.NoError(t, h.sched.CreateTask(context.Background(), task))
	previous := *task.NextRunAt

	assert.Equal(t, 1, h.fire(t, previous))

	stored, err := h.db.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, db.TaskStatusActive, stored.Status)
	require.NotNil(t, stored.LastRunAt)
	assert.True(t, stored.LastRunAt.Equal(previous))
	require.NotNil(t, stored.NextRunAt)
	assert.True(t, stored.NextRunAt.After(previous))
	assert.True(t, stored.NextRunAt.Equal(previous.AddDate(0, 0, 1)))

	execs, err := h.db.ListExecutionsByTask(task.ID, 0)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.True(t, execs[0].Success)

	entries := h.pending(t)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].DueAt.Equal(*stored.NextRunAt))
}

func TestUnauthorizedStillRearms(t *testing.T) {
	database, err := db.New(filepath.Join(t.TempDir(), "sched.db"))
	require.NoError(t, err)
	defer database.Close()

	srv := chatServer(t, http.StatusUnauthorized,
		`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`)
	c := &clock{now: start}
	notes := &recorder{}
	dispatcher := timer.NewDispatcher(timer.NewSQLiteQueue(database), timer.WithClock(c.Now))
	sched := New(database, dispatcher, newExecutor(database, srv.URL, notes, c), WithClock(c.Now))
	h := &harness{db: database, dispatcher: dispatcher, sched: sched, clock: c, notes: notes}

	task := dailyTask(9, 0)
	require.NoError(t, sched.CreateTask(context.Background(), task))
	previous := *task.NextRunAt
	h.fire(t, previous)

	execs, err := database.ListExecutionsByTask(task.ID, 0)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.False(t, execs[0].Success)
	assert.NotEmpty(t, execs[0].ErrorMessage)
	assert.Contains(t, execs[0].ErrorMessage, "401")

	entries := h.pending(t)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].DueAt.After(previous))

	got := notes.all()
	require.Len(t, got, 1)
	assert.False(t, got[0].Success)
}

func TestExecuteMissingTaskIsNoop(t *testing.T) {
	called := false
	h := newHarness(t, runnerFunc(func(context.Context, *db.Task) (*executor.Result, error) {
		called = true
		return &executor.Result{}, nil
	}))

	require.NoError(t, h.sched.Execute(context.Background(), 999))
	assert.False(t, called)

	require.NoError(t, h.dispatcher.Arm(context.Background(), Key(998), start, "998"))
	assert.Equal(t, 1, h.fire(t, start))
	assert.False(t, called)
}

func TestPastOneTimeTaskRunsInAnHour(t *testing.T) {
	h := newHarness(t, nil)
	past := start.Add(-24 * time.Hour)
	task := &db.Task{Title: "Late", Prompt: "p", Type: db.TaskTypeOneTime, ScheduledAt: &past}
	require.NoError(t, h.sched.CreateTask(context.Background(), task))

	require.NotNil(t, task.NextRunAt)
	assert.WithinDuration(t, start.Add(time.Hour), *task.NextRunAt, time.Second)
}

func TestEmptyWeeklyScheduleDisablesTask(t *testing.T) {
	h := newHarness(t, nil)
	task := &db.Task{Title: "Weekly", Prompt: "p", Frequency: recurrence.Weekly, Hour: 18}

	err := h.sched.CreateTask(context.Background(), task)
	require.ErrorIs(t, err, ErrInvalidSchedule)

	stored, err := h.db.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, db.TaskStatusDisabled, stored.Status)
	assert.Nil(t, stored.NextRunAt)
	assert.Empty(t, h.pending(t))

	got := h.notes.all()
	require.Len(t, got, 1)
	assert.False(t, got[0].Success)
}

func TestScheduleAllContinuesPastFailures(t *testing.T) {
	h := newHarness(t, nil)
	bad := &db.Task{Title: "bad", Prompt: "p", Frequency: recurrence.Weekly}
	require.NoError(t, h.db.CreateTask(bad))
	good := dailyTask(9, 0)
	require.NoError(t, h.db.CreateTask(good))
	paused := dailyTask(10, 0)
	paused.Status = db.TaskStatusPaused
	require.NoError(t, h.db.CreateTask(paused))

	err := h.sched.ScheduleAll(context.Background())
	require.ErrorIs(t, err, ErrInvalidSchedule)

	entries := h.pending(t)
	require.Len(t, entries, 1)
	assert.Equal(t, Key(good.ID), entries[0].Key)
}

func TestRunNowRejectsConcurrentRun(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	h := newHarness(t, runnerFunc(func(context.Context, *db.Task) (*executor.Result, error) {
		close(started)
		<-release
		return &executor.Result{Output: "done"}, nil
	}))
	task := dailyTask(9, 0)
	require.NoError(t, h.sched.CreateTask(context.Background(), task))

	require.NoError(t, h.sched.RunNow(context.Background(), task.ID))
	<-started
	assert.True(t, h.sched.Running(task.ID))
	assert.ErrorIs(t, h.sched.RunNow(context.Background(), task.ID), ErrAlreadyRunning)
	assert.ErrorIs(t, h.sched.Execute(context.Background(), task.ID), ErrAlreadyRunning)

	close(release)
	h.sched.Wait()
	assert.False(t, h.sched.Running(task.ID))

	assert.Error(t, h.sched.RunNow(context.Background(), 777))
}

func TestPanicIsRecovered(t *testing.T) {
	h := newHarness(t, runnerFunc(func(context.Context, *db.Task) (*executor.Result, error) {
		panic("boom")
	}))
	task := dailyTask(9, 0)
	require.NoError(t, h.sched.CreateTask(context.Background(), task))

	err := h.sched.Execute(context.Background(), task.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.False(t, h.sched.Running(task.ID))

	got := h.notes.all()
	require.Len(t, got, 1)
	assert.False(t, got[0].Success)
	assert.Equal(t, "Daily news", got[0].Title)

	execs, err := h.db.ListExecutionsByTask(task.ID, 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.False(t, execs[0].Success)
	assert.Contains(t, execs[0].ErrorMessage, "boom")
}

func TestPanicDuringFireStillRearms(t *testing.T) {
	h := newHarness(t, runnerFunc(func(context.Context, *db.Task) (*executor.Result, error) {
		panic("boom")
	}))
	task := dailyTask(9, 0)
	require.NoError(t, h.sched.CreateTask(context.Background(), task))

	assert.Equal(t, 1, h.fire(t, start.Add(time.Hour)))

	pending := h.pending(t)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].DueAt.Equal(time.Date(2025, time.March, 4, 9, 0, 0, 0, time.UTC)))

	stored, err := h.db.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, db.TaskStatusActive, stored.Status)
	require.NotNil(t, stored.LastRunAt)

	execs, err := h.db.ListExecutionsByTask(task.ID, 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.False(t, execs[0].Success)
	assert.Contains(t, execs[0].ErrorMessage, "boom")
}

func TestStatusChangeDuringRunIsKept(t *testing.T) {
	var h *harness
	h = newHarness(t, runnerFunc(func(ctx context.Context, task *db.Task) (*executor.Result, error) {
		_, err := h.sched.Toggle(ctx, task.ID)
		assert.NoError(t, err)
		return &executor.Result{Output: "ok"}, nil
	}))
	task := dailyTask(9, 0)
	require.NoError(t, h.sched.CreateTask(context.Background(), task))

	assert.Equal(t, 1, h.fire(t, start.Add(time.Hour)))

	stored, err := h.db.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, db.TaskStatusPaused, stored.Status)
	require.NotNil(t, stored.LastRunAt)
	assert.Empty(t, h.pending(t))
}

func TestTogglePausesAndResumes(t *testing.T) {
	h := newHarness(t, nil)
	task := dailyTask(9, 0)
	require.NoError(t, h.sched.CreateTask(context.Background(), task))
	next := *task.NextRunAt

	paused, err := h.sched.Toggle(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, db.TaskStatusPaused, paused.Status)
	assert.Empty(t, h.pending(t))

	stored, err := h.db.GetTask(task.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.NextRunAt)
	assert.True(t, stored.NextRunAt.Equal(next))

	resumed, err := h.sched.Toggle(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, db.TaskStatusActive, resumed.Status)
	assert.Len(t, h.pending(t), 1)

	disabled, err := h.sched.Disable(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, db.TaskStatusDisabled, disabled.Status)
	assert.Empty(t, h.pending(t))
}

func TestPausedTaskTimerIsSkipped(t *testing.T) {
	called := false
	h := newHarness(t, runnerFunc(func(context.Context, *db.Task) (*executor.Result, error) {
		called = true
		return &executor.Result{}, nil
	}))
	task := dailyTask(9, 0)
	task.Status = db.TaskStatusPaused
	require.NoError(t, h.db.CreateTask(task))

	require.NoError(t, h.dispatcher.Arm(context.Background(), Key(task.ID), start, ""))
	h.fire(t, start)
	assert.False(t, called)
}

func TestQuickTask(t *testing.T) {
	h := newHarness(t, nil)
	task, err := h.sched.QuickTask(context.Background(), "Quick", "What's new?")
	require.NoError(t, err)

	assert.Equal(t, db.TaskTypeOneTime, task.Type)
	assert.Equal(t, db.SourceQuick, task.Source)
	require.NotNil(t, task.NextRunAt)
	assert.True(t, task.NextRunAt.Equal(start.Add(QuickTaskDelay)))
	assert.Len(t, h.pending(t), 1)
}

func TestDeleteRemovesTimerAndHistory(t *testing.T) {
	h := newHarness(t, nil)
	task := dailyTask(9, 0)
	require.NoError(t, h.sched.CreateTask(context.Background(), task))
	require.NoError(t, h.sched.Execute(context.Background(), task.ID))

	require.NoError(t, h.sched.Delete(context.Background(), task.ID))
	assert.Empty(t, h.pending(t))

	_, err := h.db.GetTask(task.ID)
	assert.True(t, errors.Is(err, db.ErrNotFound))
	n, err := h.db.CountExecutions(task.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPrune(t *testing.T) {
	h := newHarness(t, nil)
	old := &db.TaskExecution{TaskID: 1, TaskTitle: "old", ExecutedAt: start.AddDate(0, 0, -40), Success: true}
	recent := &db.TaskExecution{TaskID: 1, TaskTitle: "recent", ExecutedAt: start.AddDate(0, 0, -1), Success: true}
	require.NoError(t, h.db.CreateExecution(old))
	require.NoError(t, h.db.CreateExecution(recent))

	n, err := h.sched.Prune(30 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.Error(t, h.sched.StartMaintenance("not a cron", time.Hour))
	require.NoError(t, h.sched.StartMaintenance("@hourly", time.Hour))
	h.sched.Stop()
}
