package db

import (
	"time"
)

const executionColumns = "id, task_id, task_title, executed_at, prompt, response, success, error_message, duration_ms"

// CreateExecution appends an execution record
func (db *DB) CreateExecution(exec *TaskExecution) error {
	if exec.ExecutedAt.IsZero() {
		exec.ExecutedAt = time.Now()
	}
	result, err := db.conn.Exec(`
		INSERT INTO task_executions (task_id, task_title, executed_at, prompt, response, success, error_message, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, exec.TaskID, exec.TaskTitle, exec.ExecutedAt.UTC(), exec.Prompt, exec.Response, exec.Success, exec.ErrorMessage, exec.DurationMs)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	exec.ID = id
	return nil
}

// ListExecutionsByTask retrieves the most recent executions of a task.
// A limit of zero or less returns all of them.
func (db *DB) ListExecutionsByTask(taskID int64, limit int) ([]*TaskExecution, error) {
	return db.queryExecutions(`
		SELECT `+executionColumns+` FROM task_executions WHERE task_id = ?
		ORDER BY executed_at DESC, id DESC LIMIT ?
	`, taskID, sqlLimit(limit))
}

// ListRecentExecutions retrieves the most recent executions across all tasks
func (db *DB) ListRecentExecutions(limit int) ([]*TaskExecution, error) {
	return db.queryExecutions(`
		SELECT `+executionColumns+` FROM task_executions
		ORDER BY executed_at DESC, id DESC LIMIT ?
	`, sqlLimit(limit))
}

// GetExecution retrieves a single execution
func (db *DB) GetExecution(id int64) (*TaskExecution, error) {
	execs, err := db.queryExecutions("SELECT "+executionColumns+" FROM task_executions WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(execs) == 0 {
		return nil, ErrNotFound
	}
	return execs[0], nil
}

// CountExecutions returns how many executions a task has
func (db *DB) CountExecutions(taskID int64) (int, error) {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM task_executions WHERE task_id = ?", taskID).Scan(&n)
	return n, err
}

// DeleteExecutionsByTask removes the history of a task
func (db *DB) DeleteExecutionsByTask(taskID int64) error {
	_, err := db.conn.Exec("DELETE FROM task_executions WHERE task_id = ?", taskID)
	return err
}

// PruneExecutions deletes executions recorded before cutoff and returns the count removed
func (db *DB) PruneExecutions(cutoff time.Time) (int64, error) {
	result, err := db.conn.Exec("DELETE FROM task_executions WHERE executed_at < ?", cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// LastExecutionStatuses returns the success flag of the latest execution of each task
func (db *DB) LastExecutionStatuses() (map[int64]bool, error) {
	rows, err := db.conn.Query(`
		SELECT e.task_id, e.success FROM task_executions e
		INNER JOIN (
			SELECT task_id, MAX(id) AS max_id FROM task_executions GROUP BY task_id
		) latest ON e.id = latest.max_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	statuses := make(map[int64]bool)
	for rows.Next() {
		var taskID int64
		var success bool
		if err := rows.Scan(&taskID, &success); err != nil {
			return nil, err
		}
		statuses[taskID] = success
	}
	return statuses, rows.Err()
}

func (db *DB) queryExecutions(query string, args ...any) ([]*TaskExecution, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*TaskExecution
	for rows.Next() {
		e := &TaskExecution{}
		if err := rows.Scan(&e.ID, &e.TaskID, &e.TaskTitle, &e.ExecutedAt, &e.Prompt, &e.Response, &e.Success, &e.ErrorMessage, &e.DurationMs); err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

// sqlLimit maps "no limit" onto SQLite's -1
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
