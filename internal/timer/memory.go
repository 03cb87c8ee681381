package timer

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue is a non-durable queue for tests and single-shot runs
type MemoryQueue struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryQueue creates an empty in-memory queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{entries: make(map[string]Entry)}
}

func (q *MemoryQueue) Put(_ context.Context, e Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries[e.Key] = e
	return nil
}

func (q *MemoryQueue) Remove(_ context.Context, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, key)
	return nil
}

func (q *MemoryQueue) Claim(_ context.Context, now time.Time, limit int) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []Entry
	for _, e := range q.entries {
		if !e.DueAt.After(now) {
			due = append(due, e)
		}
	}
	sortEntries(due)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for _, e := range due {
		delete(q.entries, e.Key)
	}
	return due, nil
}

func (q *MemoryQueue) Get(_ context.Context, key string) (*Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[key]
	if !ok {
		return nil, ErrNotArmed
	}
	return &e, nil
}

func (q *MemoryQueue) List(_ context.Context) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := make([]Entry, 0, len(q.entries))
	for _, e := range q.entries {
		entries = append(entries, e)
	}
	sortEntries(entries)
	return entries, nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].DueAt.Equal(entries[j].DueAt) {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].DueAt.Before(entries[j].DueAt)
	})
}
