package timer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/kylemclaren/chat-tasks/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	fired []Entry
}

func (r *recorder) handle(_ context.Context, e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, e)
}

func (r *recorder) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, len(r.fired))
	for i, e := range r.fired {
		keys[i] = e.Key
	}
	return keys
}

// exerciseQueue runs the same contract checks against every backend
func exerciseQueue(t *testing.T, q Queue) {
	ctx := context.Background()
	now := time.UnixMilli(time.Now().UnixMilli())

	require.NoError(t, q.Put(ctx, Entry{Key: "task:1", DueAt: now.Add(-time.Second), Payload: "1"}))
	require.NoError(t, q.Put(ctx, Entry{Key: "task:2", DueAt: now.Add(time.Hour), Payload: "2"}))
	require.NoError(t, q.Put(ctx, Entry{Key: "task:2", DueAt: now.Add(2 * time.Hour), Payload: "2b"}))

	all, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2, "re-arming a key replaces the pending entry")

	e, err := q.Get(ctx, "task:2")
	require.NoError(t, err)
	assert.Equal(t, "2b", e.Payload)
	assert.True(t, now.Add(2*time.Hour).Equal(e.DueAt))

	claimed, err := q.Claim(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "task:1", claimed[0].Key)
	assert.Equal(t, "1", claimed[0].Payload)

	claimed, err = q.Claim(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed, "a claimed entry is never handed out twice")

	require.NoError(t, q.Remove(ctx, "task:2"))
	require.NoError(t, q.Remove(ctx, "task:2"))
	_, err = q.Get(ctx, "task:2")
	assert.ErrorIs(t, err, ErrNotArmed)
}

func TestMemoryQueue(t *testing.T) {
	exerciseQueue(t, NewMemoryQueue())
}

func TestSQLiteQueue(t *testing.T) {
	database, err := db.New(filepath.Join(t.TempDir(), "timers.db"))
	require.NoError(t, err)
	defer database.Close()

	exerciseQueue(t, NewSQLiteQueue(database))
}

func TestRedisQueue(t *testing.T) {
	addr := os.Getenv("CHAT_TASKS_TEST_REDIS")
	if addr == "" {
		t.Skip("CHAT_TASKS_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	q := NewRedisQueue(client, "chat-tasks-test-"+time.Now().Format("150405.000"))
	require.NoError(t, q.Ping(context.Background()))
	defer client.Del(context.Background(), q.dueKey, q.payloadKey)

	exerciseQueue(t, q)
}

func TestDispatchDue(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	d := NewDispatcher(NewMemoryQueue(), WithClock(func() time.Time { return now }), WithWorkers(2))

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, d.Arm(ctx, key, now.Add(-time.Minute), key))
	}
	require.NoError(t, d.Arm(ctx, "later", now.Add(time.Minute), "later"))

	rec := &recorder{}
	n := d.DispatchDue(ctx, rec.handle)
	d.Wait()

	assert.Equal(t, 3, n)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, rec.keys())

	_, err := d.Pending(ctx, "later")
	assert.NoError(t, err)
}

// flakyQueue claims one entry and then fails, like a delete that errors
// partway through a batch
type flakyQueue struct {
	*MemoryQueue
	failed bool
}

func (q *flakyQueue) Claim(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	if q.failed {
		return q.MemoryQueue.Claim(ctx, now, limit)
	}
	q.failed = true
	entries, err := q.MemoryQueue.Claim(ctx, now, 1)
	if err != nil {
		return nil, err
	}
	return entries, errors.New("database is locked")
}

func TestDispatchDueKeepsEntriesClaimedBeforeAnError(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	q := &flakyQueue{MemoryQueue: NewMemoryQueue()}
	d := NewDispatcher(q, WithClock(func() time.Time { return now }), WithWorkers(4))

	require.NoError(t, d.Arm(ctx, "a", now.Add(-2*time.Minute), "a"))
	require.NoError(t, d.Arm(ctx, "b", now.Add(-time.Minute), "b"))

	rec := &recorder{}
	n := d.DispatchDue(ctx, rec.handle)
	d.Wait()
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"a"}, rec.keys())

	n = d.DispatchDue(ctx, rec.handle)
	d.Wait()
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"a", "b"}, rec.keys())
}

func TestCancelIsIdempotent(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(NewMemoryQueue())

	assert.NoError(t, d.Cancel(ctx, "never-armed"))
	require.NoError(t, d.Arm(ctx, "k", time.Now().Add(-time.Second), ""))
	assert.NoError(t, d.Cancel(ctx, "k"))
	assert.NoError(t, d.Cancel(ctx, "k"))

	rec := &recorder{}
	assert.Zero(t, d.DispatchDue(ctx, rec.handle))
}

func TestRunFiresArmedEntries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(NewMemoryQueue(), WithInterval(time.Hour))

	fired := make(chan Entry, 1)
	done := make(chan struct{})
	go func() {
		d.Run(ctx, func(_ context.Context, e Entry) { fired <- e })
		close(done)
	}()

	// Arm wakes the loop without waiting for the next tick.
	require.NoError(t, d.Arm(ctx, "task:7", time.Now(), "7"))

	select {
	case e := <-fired:
		assert.Equal(t, "task:7", e.Key)
		assert.Equal(t, "7", e.Payload)
	case <-time.After(5 * time.Second):
		t.Fatal("timer did not fire")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
