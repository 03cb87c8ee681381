package stream

import (
	"context"
	"testing"

	"github.com/kylemclaren/chat-tasks/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesReplayAndLiveEvents(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Notify(context.Background(), notify.New(1, "first", "", true)))

	client := m.Subscribe()
	defer m.Unsubscribe(client.ID)

	replayed := <-client.Events
	assert.Equal(t, EventExecution, replayed.Type)
	assert.Equal(t, "first", replayed.Notification.Title)

	m.PublishTask(2, "paused")
	live := <-client.Events
	assert.Equal(t, EventTask, live.Type)
	assert.Equal(t, int64(2), live.TaskID)
	assert.Equal(t, "paused", live.Status)
	assert.False(t, live.Timestamp.IsZero())
}

func TestReplayBufferIsBounded(t *testing.T) {
	m := NewManager()
	for i := 0; i < 150; i++ {
		m.PublishTask(int64(i), "active")
	}
	recent := m.Recent()
	require.Len(t, recent, 100)
	assert.Equal(t, int64(50), recent[0].TaskID)
	assert.Equal(t, int64(149), recent[99].TaskID)
}

func TestUnsubscribeClosesDone(t *testing.T) {
	m := NewManager()
	client := m.Subscribe()
	assert.Equal(t, 1, m.ClientCount())

	m.Unsubscribe(client.ID)
	m.Unsubscribe(client.ID)
	assert.Equal(t, 0, m.ClientCount())

	select {
	case <-client.Done:
	default:
		t.Fatal("done channel not closed")
	}
}

func TestSlowClientDoesNotBlockPublish(t *testing.T) {
	m := NewManager()
	client := m.Subscribe()
	defer m.Unsubscribe(client.ID)

	for i := 0; i < 500; i++ {
		m.PublishTask(int64(i), "active")
	}
	assert.Len(t, client.Events, cap(client.Events))
}
