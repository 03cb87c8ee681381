package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/kylemclaren/chat-tasks/internal/recurrence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := New(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestTaskCRUD(t *testing.T) {
	database := newTestDB(t)

	task := &Task{
		Title:      "Weekly report",
		Prompt:     "Summarise my week",
		Frequency:  recurrence.Weekly,
		Hour:       18,
		DaysOfWeek: []int{2, 6},
	}
	require.NoError(t, database.CreateTask(task))
	assert.NotZero(t, task.ID)
	assert.Equal(t, TaskTypeScheduled, task.Type)
	assert.Equal(t, TaskStatusActive, task.Status)
	assert.Equal(t, SourceManual, task.Source)

	got, err := database.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Weekly report", got.Title)
	assert.Equal(t, []int{2, 6}, got.DaysOfWeek)
	assert.Equal(t, recurrence.Weekly, got.Frequency)
	assert.Nil(t, got.NextRunAt)

	next := time.Now().Add(time.Hour).Truncate(time.Second)
	got.NextRunAt = &next
	got.Status = TaskStatusPaused
	require.NoError(t, database.UpdateTask(got))

	got, err = database.GetTask(task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, next.Equal(*got.NextRunAt))
	assert.Equal(t, TaskStatusPaused, got.Status)

	require.NoError(t, database.SetTaskStatus(task.ID, TaskStatusDisabled))
	got, err = database.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusDisabled, got.Status)

	_, err = database.GetTask(9999)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, database.UpdateTask(&Task{ID: 9999}), ErrNotFound)
}

func TestListTasksOrderedByNextRun(t *testing.T) {
	database := newTestDB(t)
	now := time.Now()

	later := now.Add(2 * time.Hour)
	sooner := now.Add(time.Hour)
	for _, task := range []*Task{
		{Title: "unscheduled", Prompt: "p"},
		{Title: "later", Prompt: "p", NextRunAt: &later},
		{Title: "sooner", Prompt: "p", NextRunAt: &sooner, Status: TaskStatusPaused},
	} {
		require.NoError(t, database.CreateTask(task))
	}

	tasks, err := database.ListTasks()
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "sooner", tasks[0].Title)
	assert.Equal(t, "later", tasks[1].Title)
	assert.Equal(t, "unscheduled", tasks[2].Title)

	active, err := database.ListTasksByStatus(TaskStatusActive)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestDeleteTaskPurgesExecutions(t *testing.T) {
	database := newTestDB(t)

	keep := &Task{Title: "keep", Prompt: "p"}
	drop := &Task{Title: "drop", Prompt: "p"}
	require.NoError(t, database.CreateTask(keep))
	require.NoError(t, database.CreateTask(drop))

	require.NoError(t, database.CreateExecution(&TaskExecution{TaskID: keep.ID, TaskTitle: keep.Title, Success: true}))
	require.NoError(t, database.CreateExecution(&TaskExecution{TaskID: drop.ID, TaskTitle: drop.Title, Success: false, ErrorMessage: "boom"}))

	require.NoError(t, database.DeleteTask(drop.ID))

	_, err := database.GetTask(drop.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := database.CountExecutions(drop.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = database.CountExecutions(keep.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestExecutionsHistory(t *testing.T) {
	database := newTestDB(t)
	base := time.Now().Add(-10 * 24 * time.Hour)

	for i := 0; i < 5; i++ {
		require.NoError(t, database.CreateExecution(&TaskExecution{
			TaskID:     1,
			TaskTitle:  "t",
			ExecutedAt: base.Add(time.Duration(i) * 48 * time.Hour),
			Success:    i%2 == 0,
		}))
	}
	require.NoError(t, database.CreateExecution(&TaskExecution{TaskID: 2, TaskTitle: "other", Success: true}))

	byTask, err := database.ListExecutionsByTask(1, 3)
	require.NoError(t, err)
	require.Len(t, byTask, 3)
	assert.True(t, byTask[0].ExecutedAt.After(byTask[1].ExecutedAt))

	all, err := database.ListRecentExecutions(0)
	require.NoError(t, err)
	assert.Len(t, all, 6)
	assert.Equal(t, int64(2), all[0].TaskID)

	statuses, err := database.LastExecutionStatuses()
	require.NoError(t, err)
	assert.True(t, statuses[1])
	assert.True(t, statuses[2])

	removed, err := database.PruneExecutions(time.Now().Add(-5 * 24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	all, err = database.ListRecentExecutions(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestConversations(t *testing.T) {
	database := newTestDB(t)

	first := &Conversation{Title: "first", CreatedAt: time.Now().Add(-time.Hour)}
	second := &Conversation{Title: "second"}
	require.NoError(t, database.CreateConversation(first))
	require.NoError(t, database.CreateConversation(second))

	convs, err := database.ListConversations()
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "second", convs[0].Title)

	first.UpdatedAt = time.Now().Add(time.Minute)
	first.Title = "renamed"
	require.NoError(t, database.UpdateConversation(first))

	convs, err = database.ListConversations()
	require.NoError(t, err)
	assert.Equal(t, "renamed", convs[0].Title)

	t0 := time.Now()
	require.NoError(t, database.CreateMessage(&Message{ConversationID: first.ID, Role: RoleUser, Content: "hi", Timestamp: t0}))
	require.NoError(t, database.CreateMessage(&Message{ConversationID: first.ID, Role: RoleAssistant, Content: "hello", Timestamp: t0.Add(time.Second)}))

	msgs, err := database.ListMessages(first.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[1].Content)

	require.NoError(t, database.DeleteConversation(first.ID))
	msgs, err = database.ListMessages(first.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.ErrorIs(t, database.DeleteConversation(first.ID), ErrNotFound)
}

func TestSettings(t *testing.T) {
	database := newTestDB(t)

	_, err := database.GetSetting("model.name")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, database.SetSettings(map[string]string{
		"model.name":     "gpt-4o",
		"model.base_url": "http://localhost",
		"other":          "x",
	}))
	require.NoError(t, database.SetSetting("model.name", "gpt-4"))

	v, err := database.GetSetting("model.name")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4", v)

	values, err := database.GetSettings("model.")
	require.NoError(t, err)
	assert.Len(t, values, 2)
}

func TestTimerClaim(t *testing.T) {
	database := newTestDB(t)
	now := time.Now()

	require.NoError(t, database.PutTimer(Timer{Key: "task:1", DueAt: now.Add(-time.Second), Payload: "1"}))
	require.NoError(t, database.PutTimer(Timer{Key: "task:2", DueAt: now.Add(time.Hour), Payload: "2"}))
	// Re-arming replaces the previous entry for the key.
	require.NoError(t, database.PutTimer(Timer{Key: "task:2", DueAt: now.Add(-time.Minute), Payload: "2"}))

	timers, err := database.ListTimers()
	require.NoError(t, err)
	require.Len(t, timers, 2)

	claimed, err := database.ClaimDueTimers(now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "task:2", claimed[0].Key)

	claimed, err = database.ClaimDueTimers(now, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	require.NoError(t, database.DeleteTimer("task:404"))
	_, err = database.GetTimer("task:1")
	assert.ErrorIs(t, err, ErrNotFound)
}
