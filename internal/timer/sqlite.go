package timer

import (
	"context"
	"errors"
	"time"

	"github.com/kylemclaren/chat-tasks/internal/db"
)

// SQLiteQueue stores timers in the application database so they survive restarts
type SQLiteQueue struct {
	db *db.DB
}

// NewSQLiteQueue creates a queue backed by the timers table
func NewSQLiteQueue(database *db.DB) *SQLiteQueue {
	return &SQLiteQueue{db: database}
}

func (q *SQLiteQueue) Put(_ context.Context, e Entry) error {
	return q.db.PutTimer(db.Timer{Key: e.Key, DueAt: e.DueAt, Payload: e.Payload})
}

func (q *SQLiteQueue) Remove(_ context.Context, key string) error {
	return q.db.DeleteTimer(key)
}

func (q *SQLiteQueue) Claim(_ context.Context, now time.Time, limit int) ([]Entry, error) {
	rows, err := q.db.ClaimDueTimers(now, limit)
	entries := make([]Entry, len(rows))
	for i, r := range rows {
		entries[i] = Entry(r)
	}
	return entries, err
}

func (q *SQLiteQueue) Get(_ context.Context, key string) (*Entry, error) {
	t, err := q.db.GetTimer(key)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotArmed
	}
	if err != nil {
		return nil, err
	}
	e := Entry(*t)
	return &e, nil
}

func (q *SQLiteQueue) List(_ context.Context) ([]Entry, error) {
	rows, err := q.db.ListTimers()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, len(rows))
	for i, r := range rows {
		entries[i] = Entry(r)
	}
	return entries, nil
}
