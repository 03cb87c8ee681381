package db

import (
	"time"
)

// PutTimer inserts or replaces the timer for key
func (db *DB) PutTimer(t Timer) error {
	_, err := db.conn.Exec(`
		INSERT INTO timers (key, due_at, payload) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET due_at = excluded.due_at, payload = excluded.payload
	`, t.Key, t.DueAt.UnixMilli(), t.Payload)
	return err
}

// DeleteTimer removes the timer for key. Missing keys are not an error.
func (db *DB) DeleteTimer(key string) error {
	_, err := db.conn.Exec("DELETE FROM timers WHERE key = ?", key)
	return err
}

// GetTimer retrieves the pending timer for key
func (db *DB) GetTimer(key string) (*Timer, error) {
	var t Timer
	var due int64
	err := db.conn.QueryRow("SELECT key, due_at, payload FROM timers WHERE key = ?", key).Scan(&t.Key, &due, &t.Payload)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	t.DueAt = time.UnixMilli(due)
	return &t, nil
}

// ListTimers returns every pending timer ordered by due time
func (db *DB) ListTimers() ([]Timer, error) {
	return db.queryTimers("SELECT key, due_at, payload FROM timers ORDER BY due_at ASC")
}

// ClaimDueTimers removes and returns up to limit timers due at or before now.
// A timer re-armed between the read and the delete is left in place, so an
// entry is handed out at most once even with several processes polling.
func (db *DB) ClaimDueTimers(now time.Time, limit int) ([]Timer, error) {
	due, err := db.queryTimers("SELECT key, due_at, payload FROM timers WHERE due_at <= ? ORDER BY due_at ASC LIMIT ?",
		now.UnixMilli(), sqlLimit(limit))
	if err != nil {
		return nil, err
	}

	var claimed []Timer
	for _, t := range due {
		result, err := db.conn.Exec("DELETE FROM timers WHERE key = ? AND due_at = ?", t.Key, t.DueAt.UnixMilli())
		if err != nil {
			return claimed, err
		}
		if n, err := result.RowsAffected(); err == nil && n == 1 {
			claimed = append(claimed, t)
		}
	}
	return claimed, nil
}

func (db *DB) queryTimers(query string, args ...any) ([]Timer, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var timers []Timer
	for rows.Next() {
		var t Timer
		var due int64
		if err := rows.Scan(&t.Key, &due, &t.Payload); err != nil {
			return nil, err
		}
		t.DueAt = time.UnixMilli(due)
		timers = append(timers, t)
	}
	return timers, rows.Err()
}
