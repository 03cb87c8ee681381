package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kylemclaren/chat-tasks/internal/notify"
)

// Event types
const (
	EventExecution = "execution"
	EventTask      = "task"
)

// Event is a single item of the outcome stream
type Event struct {
	Type         string               `json:"type"`
	TaskID       int64                `json:"task_id"`
	Notification *notify.Notification `json:"notification,omitempty"`
	Status       string               `json:"status,omitempty"`
	Timestamp    time.Time            `json:"timestamp"`
}

// Client represents a connected SSE or WebSocket client
type Client struct {
	ID     string
	Events chan Event
	Done   chan struct{}
}

// Manager fans execution outcomes out to subscribers and keeps a replay
// buffer so late subscribers see recent history
type Manager struct {
	clients     map[string]*Client
	buffer      []Event
	bufferLimit int
	mu          sync.RWMutex
}

// NewManager creates a new stream manager
func NewManager() *Manager {
	return &Manager{
		clients:     make(map[string]*Client),
		buffer:      make([]Event, 0, 100),
		bufferLimit: 100,
	}
}

// Subscribe registers a client. Buffered events are replayed first.
func (m *Manager) Subscribe() *Client {
	client := &Client{
		ID:     uuid.NewString(),
		Events: make(chan Event, 100),
		Done:   make(chan struct{}),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ev := range m.buffer {
		select {
		case client.Events <- ev:
		default:
			// Client channel full, skip
		}
	}

	m.clients[client.ID] = client
	return client
}

// Unsubscribe removes a client
func (m *Manager) Unsubscribe(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if client, ok := m.clients[clientID]; ok {
		close(client.Done)
		delete(m.clients, clientID)
	}
}

// Publish sends an event to all subscribed clients
func (m *Manager) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Add to buffer (circular if at limit)
	if len(m.buffer) >= m.bufferLimit {
		m.buffer = m.buffer[1:]
	}
	m.buffer = append(m.buffer, ev)

	for _, client := range m.clients {
		select {
		case client.Events <- ev:
		default:
			// Client channel full, skip
		}
	}
}

// PublishTask announces a task state change
func (m *Manager) PublishTask(taskID int64, status string) {
	m.Publish(Event{Type: EventTask, TaskID: taskID, Status: status})
}

// Notify implements notify.Notifier
func (m *Manager) Notify(_ context.Context, n notify.Notification) error {
	m.Publish(Event{Type: EventExecution, TaskID: n.TaskID, Notification: &n, Timestamp: n.Timestamp})
	return nil
}

// Recent returns a copy of the replay buffer, oldest first
func (m *Manager) Recent() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Event, len(m.buffer))
	copy(out, m.buffer)
	return out
}

// ClientCount returns the number of connected clients
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}
