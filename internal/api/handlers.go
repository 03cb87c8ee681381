package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kylemclaren/chat-tasks/internal/conversation"
	"github.com/kylemclaren/chat-tasks/internal/db"
	"github.com/kylemclaren/chat-tasks/internal/recurrence"
	"github.com/kylemclaren/chat-tasks/internal/scheduler"
	"github.com/kylemclaren/chat-tasks/internal/version"
)

const (
	defaultTaskExecutionLimit = 20
	defaultExecutionLimit     = 50
)

// Helper functions

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, status int, message string, details ...string) {
	resp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(status),
	}
	if len(details) > 0 {
		resp.Details = details[0]
	}
	jsonResponse(w, status, resp)
}

// storeError maps a lookup failure to 404 or 500
func storeError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, db.ErrNotFound) {
		errorResponse(w, http.StatusNotFound, what+" not found")
		return
	}
	errorResponse(w, http.StatusInternalServerError, "Failed to load "+what, err.Error())
}

func parseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

func (s *Server) taskToResponse(task *db.Task, lastStatus map[int64]bool) TaskResponse {
	resp := TaskResponse{
		ID:          task.ID,
		Title:       task.Title,
		Prompt:      task.Prompt,
		Type:        task.Type,
		Frequency:   task.Frequency,
		Hour:        task.Hour,
		Minute:      task.Minute,
		DaysOfWeek:  task.DaysOfWeek,
		CronExpr:    task.CronExpr,
		ScheduledAt: task.ScheduledAt,
		Schedule:    recurrence.Describe(task.Schedule()),
		IsOneOff:    task.IsOneOff(),
		Status:      task.Status,
		Source:      task.Source,
		Running:     s.scheduler.Running(task.ID),
		CreatedAt:   task.CreatedAt,
		UpdatedAt:   task.UpdatedAt,
		LastRunAt:   task.LastRunAt,
		NextRunAt:   task.NextRunAt,
	}
	if ok, found := lastStatus[task.ID]; found {
		resp.LastRunSuccess = &ok
	}
	return resp
}

// HealthCheck handles GET /api/v1/health
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if err := s.db.Ping(); err != nil {
		status = "degraded"
	}
	jsonResponse(w, http.StatusOK, HealthResponse{
		Status:  status,
		Version: version.Version,
		Clients: s.streamMgr.ClientCount(),
	})
}

// ListTasks handles GET /api/v1/tasks
func (s *Server) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.db.ListTasks()
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list tasks", err.Error())
		return
	}
	lastStatus, err := s.db.LastExecutionStatuses()
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to load execution status", err.Error())
		return
	}

	resp := TaskListResponse{
		Tasks: make([]TaskResponse, 0, len(tasks)),
		Total: len(tasks),
	}
	for _, task := range tasks {
		resp.Tasks = append(resp.Tasks, s.taskToResponse(task, lastStatus))
	}
	jsonResponse(w, http.StatusOK, resp)
}

// GetTask handles GET /api/v1/tasks/{id}
func (s *Server) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid task ID")
		return
	}
	task, err := s.db.GetTask(id)
	if err != nil {
		storeError(w, err, "Task")
		return
	}
	lastStatus, _ := s.db.LastExecutionStatuses()
	jsonResponse(w, http.StatusOK, s.taskToResponse(task, lastStatus))
}

// CreateTask handles POST /api/v1/tasks
func (s *Server) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	task := &db.Task{Status: db.TaskStatusActive, Source: db.SourceManual}
	if err := applyTaskRequest(task, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.scheduler.CreateTask(r.Context(), task); err != nil {
		if errors.Is(err, scheduler.ErrInvalidSchedule) {
			errorResponse(w, http.StatusUnprocessableEntity, "Task saved but disabled", err.Error())
			return
		}
		errorResponse(w, http.StatusInternalServerError, "Failed to create task", err.Error())
		return
	}
	jsonResponse(w, http.StatusCreated, s.taskToResponse(task, nil))
}

// QuickTask handles POST /api/v1/tasks/quick
func (s *Server) QuickTask(w http.ResponseWriter, r *http.Request) {
	var req QuickTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		errorResponse(w, http.StatusBadRequest, errEmptyPrompt.Error())
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = conversation.Title(req.Prompt)
	}

	task, err := s.scheduler.QuickTask(r.Context(), title, req.Prompt)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to create quick task", err.Error())
		return
	}
	jsonResponse(w, http.StatusCreated, s.taskToResponse(task, nil))
}

// UpdateTask handles PUT /api/v1/tasks/{id}
func (s *Server) UpdateTask(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid task ID")
		return
	}
	task, err := s.db.GetTask(id)
	if err != nil {
		storeError(w, err, "Task")
		return
	}

	var req TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if err := applyTaskRequest(task, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.scheduler.UpdateTask(r.Context(), task); err != nil {
		if errors.Is(err, scheduler.ErrInvalidSchedule) {
			errorResponse(w, http.StatusUnprocessableEntity, "Task saved but disabled", err.Error())
			return
		}
		errorResponse(w, http.StatusInternalServerError, "Failed to update task", err.Error())
		return
	}
	lastStatus, _ := s.db.LastExecutionStatuses()
	jsonResponse(w, http.StatusOK, s.taskToResponse(task, lastStatus))
}

// DeleteTask handles DELETE /api/v1/tasks/{id}
func (s *Server) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid task ID")
		return
	}
	if err := s.scheduler.Delete(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			errorResponse(w, http.StatusNotFound, "Task not found")
			return
		}
		errorResponse(w, http.StatusInternalServerError, "Failed to delete task", err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, SuccessResponse{Success: true, Message: "Task deleted"})
}

// ToggleTask handles POST /api/v1/tasks/{id}/toggle
func (s *Server) ToggleTask(w http.ResponseWriter, r *http.Request) {
	s.changeStatus(w, r, s.scheduler.Toggle)
}

// DisableTask handles POST /api/v1/tasks/{id}/disable
func (s *Server) DisableTask(w http.ResponseWriter, r *http.Request) {
	s.changeStatus(w, r, s.scheduler.Disable)
}

func (s *Server) changeStatus(w http.ResponseWriter, r *http.Request, change func(ctx context.Context, id int64) (*db.Task, error)) {
	id, err := parseID(r)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid task ID")
		return
	}
	task, err := change(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrNotFound):
			errorResponse(w, http.StatusNotFound, "Task not found")
		case errors.Is(err, scheduler.ErrInvalidSchedule):
			errorResponse(w, http.StatusUnprocessableEntity, "Task has no valid schedule", err.Error())
		default:
			errorResponse(w, http.StatusInternalServerError, "Failed to update task", err.Error())
		}
		return
	}
	lastStatus, _ := s.db.LastExecutionStatuses()
	jsonResponse(w, http.StatusOK, s.taskToResponse(task, lastStatus))
}

// RunTask handles POST /api/v1/tasks/{id}/run
func (s *Server) RunTask(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid task ID")
		return
	}
	if _, err := s.db.GetTask(id); err != nil {
		storeError(w, err, "Task")
		return
	}

	if err := s.scheduler.RunNow(r.Context(), id); err != nil {
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			errorResponse(w, http.StatusConflict, "Task is already running")
			return
		}
		errorResponse(w, http.StatusInternalServerError, "Failed to start task", err.Error())
		return
	}
	jsonResponse(w, http.StatusAccepted, SuccessResponse{Success: true, Message: "Task execution started"})
}

// GetTaskExecutions handles GET /api/v1/tasks/{id}/executions
func (s *Server) GetTaskExecutions(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid task ID")
		return
	}
	limit, err := queryInt(r, "limit", defaultTaskExecutionLimit)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.db.GetTask(id); err != nil {
		storeError(w, err, "Task")
		return
	}

	execs, err := s.db.ListExecutionsByTask(id, limit)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list executions", err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, ExecutionsResponse{Executions: nonNil(execs), Total: len(execs)})
}

// ListExecutions handles GET /api/v1/executions
func (s *Server) ListExecutions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultExecutionLimit)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	execs, err := s.db.ListRecentExecutions(limit)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list executions", err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, ExecutionsResponse{Executions: nonNil(execs), Total: len(execs)})
}

// PruneExecutions handles DELETE /api/v1/executions?older_than_days=N
func (s *Server) PruneExecutions(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "older_than_days", 0)
	if err != nil || days < 1 {
		errorResponse(w, http.StatusBadRequest, "older_than_days must be a positive integer")
		return
	}
	n, err := s.scheduler.Prune(time.Duration(days) * 24 * time.Hour)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to prune executions", err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, PruneResponse{Deleted: n})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
