package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/kylemclaren/chat-tasks/internal/recurrence"
)

const taskColumns = `id, title, prompt, type, frequency, hour, minute, days_of_week, cron_expr, scheduled_at,
	status, source, created_at, updated_at, last_run_at, next_run_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	task := &Task{}
	var days string
	err := row.Scan(&task.ID, &task.Title, &task.Prompt, &task.Type, &task.Frequency, &task.Hour, &task.Minute,
		&days, &task.CronExpr, &task.ScheduledAt, &task.Status, &task.Source, &task.CreatedAt, &task.UpdatedAt,
		&task.LastRunAt, &task.NextRunAt)
	if err != nil {
		return nil, err
	}
	task.DaysOfWeek, err = recurrence.ParseDays(days)
	if err != nil {
		return nil, fmt.Errorf("task %d has corrupt days_of_week: %w", task.ID, err)
	}
	return task, nil
}

// CreateTask creates a new task
func (db *DB) CreateTask(task *Task) error {
	now := time.Now().UTC()
	if task.Type == "" {
		task.Type = TaskTypeScheduled
	}
	if task.Status == "" {
		task.Status = TaskStatusActive
	}
	if task.Source == "" {
		task.Source = SourceManual
	}
	task.CreatedAt = now
	task.UpdatedAt = now

	result, err := db.conn.Exec(`
		INSERT INTO tasks (title, prompt, type, frequency, hour, minute, days_of_week, cron_expr, scheduled_at,
			status, source, created_at, updated_at, last_run_at, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.Title, task.Prompt, task.Type, task.Frequency, task.Hour, task.Minute,
		recurrence.FormatDays(task.DaysOfWeek), task.CronExpr, utc(task.ScheduledAt),
		task.Status, task.Source, task.CreatedAt, task.UpdatedAt, utc(task.LastRunAt), utc(task.NextRunAt))
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	task.ID = id
	return nil
}

// GetTask retrieves a task by ID
func (db *DB) GetTask(id int64) (*Task, error) {
	task, err := scanTask(db.conn.QueryRow("SELECT "+taskColumns+" FROM tasks WHERE id = ?", id))
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return task, nil
}

// ListTasks retrieves all tasks ordered by next run, unscheduled tasks last
func (db *DB) ListTasks() ([]*Task, error) {
	return db.queryTasks("SELECT " + taskColumns + " FROM tasks ORDER BY next_run_at IS NULL, next_run_at ASC, id ASC")
}

// ListTasksByStatus retrieves tasks in the given status ordered by next run
func (db *DB) ListTasksByStatus(status TaskStatus) ([]*Task, error) {
	return db.queryTasks("SELECT "+taskColumns+" FROM tasks WHERE status = ? ORDER BY next_run_at IS NULL, next_run_at ASC, id ASC", status)
}

func (db *DB) queryTasks(query string, args ...any) ([]*Task, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// UpdateTask updates a task
func (db *DB) UpdateTask(task *Task) error {
	task.UpdatedAt = time.Now().UTC()
	result, err := db.conn.Exec(`
		UPDATE tasks SET title = ?, prompt = ?, type = ?, frequency = ?, hour = ?, minute = ?, days_of_week = ?,
			cron_expr = ?, scheduled_at = ?, status = ?, source = ?, updated_at = ?, last_run_at = ?, next_run_at = ?
		WHERE id = ?
	`, task.Title, task.Prompt, task.Type, task.Frequency, task.Hour, task.Minute,
		recurrence.FormatDays(task.DaysOfWeek), task.CronExpr, utc(task.ScheduledAt), task.Status, task.Source,
		task.UpdatedAt, utc(task.LastRunAt), utc(task.NextRunAt), task.ID)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// SetTaskStatus changes only the status column
func (db *DB) SetTaskStatus(id int64, status TaskStatus) error {
	result, err := db.conn.Exec("UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?", status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// DeleteTask deletes a task together with its execution history
func (db *DB) DeleteTask(id int64) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM task_executions WHERE task_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete executions: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM tasks WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return tx.Commit()
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
