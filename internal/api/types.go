package api

import (
	"time"

	"github.com/kylemclaren/chat-tasks/internal/db"
	"github.com/kylemclaren/chat-tasks/internal/presets"
	"github.com/kylemclaren/chat-tasks/internal/recurrence"
)

// TaskRequest represents a task creation/update request
type TaskRequest struct {
	Title       string               `json:"title"`
	Prompt      string               `json:"prompt"`
	Type        db.TaskType          `json:"type"`                   // one_time or scheduled (default)
	Frequency   recurrence.Frequency `json:"frequency,omitempty"`    // Scheduled tasks only
	Hour        int                  `json:"hour"`
	Minute      int                  `json:"minute"`
	DaysOfWeek  []int                `json:"days_of_week,omitempty"` // 1 = Sunday ... 7 = Saturday
	CronExpr    string               `json:"cron_expr,omitempty"`
	ScheduledAt *string              `json:"scheduled_at,omitempty"` // RFC3339, required for one_time
	Enabled     *bool                `json:"enabled,omitempty"`
}

// QuickTaskRequest creates a one-time task an hour from now
type QuickTaskRequest struct {
	Title  string `json:"title,omitempty"`
	Prompt string `json:"prompt"`
}

// TaskResponse represents a task in API responses
type TaskResponse struct {
	ID             int64                `json:"id"`
	Title          string               `json:"title"`
	Prompt         string               `json:"prompt"`
	Type           db.TaskType          `json:"type"`
	Frequency      recurrence.Frequency `json:"frequency,omitempty"`
	Hour           int                  `json:"hour"`
	Minute         int                  `json:"minute"`
	DaysOfWeek     []int                `json:"days_of_week,omitempty"`
	CronExpr       string               `json:"cron_expr,omitempty"`
	ScheduledAt    *time.Time           `json:"scheduled_at,omitempty"`
	Schedule       string               `json:"schedule"`
	IsOneOff       bool                 `json:"is_one_off"`
	Status         db.TaskStatus        `json:"status"`
	Source         string               `json:"source"`
	Running        bool                 `json:"running"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
	LastRunAt      *time.Time           `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time           `json:"next_run_at,omitempty"`
	LastRunSuccess *bool                `json:"last_run_success,omitempty"`
}

// TaskListResponse represents a list of tasks
type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
	Total int            `json:"total"`
}

// ExecutionsResponse represents a list of executions
type ExecutionsResponse struct {
	Executions []*db.TaskExecution `json:"executions"`
	Total      int                 `json:"total"`
}

// PruneResponse reports how many executions were removed
type PruneResponse struct {
	Deleted int64 `json:"deleted"`
}

// ConversationRequest creates a conversation
type ConversationRequest struct {
	Title string `json:"title,omitempty"`
}

// ConversationListResponse represents a list of conversations
type ConversationListResponse struct {
	Conversations []*db.Conversation `json:"conversations"`
	Total         int                `json:"total"`
}

// MessagesResponse represents a conversation's messages
type MessagesResponse struct {
	ConversationID int64         `json:"conversation_id"`
	Messages       []*db.Message `json:"messages"`
}

// ChatRequest sends a message. A zero conversation_id starts a new
// conversation. Stream switches the response to server-sent events.
type ChatRequest struct {
	ConversationID int64  `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
	Stream         bool   `json:"stream,omitempty"`
}

// SSEChunk is one streamed piece of an assistant reply
type SSEChunk struct {
	Text string `json:"text"`
}

// SettingsResponse represents the model settings. The API key is masked.
type SettingsResponse struct {
	Provider    string  `json:"provider"`
	BaseURL     string  `json:"base_url"`
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// SettingsRequest represents a settings update. Omitted fields keep their
// current value, as does an empty or masked api_key.
type SettingsRequest struct {
	Provider    *string  `json:"provider,omitempty"`
	BaseURL     *string  `json:"base_url,omitempty"`
	APIKey      *string  `json:"api_key,omitempty"`
	Model       *string  `json:"model,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// ModelsResponse lists the models offered by the endpoint
type ModelsResponse struct {
	Models []string `json:"models"`
}

// PresetsResponse lists the built-in templates and provider presets
type PresetsResponse struct {
	Templates []presets.Template `json:"templates"`
	Providers []presets.Provider `json:"providers"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse represents a generic success response
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Clients int    `json:"clients"`
}
