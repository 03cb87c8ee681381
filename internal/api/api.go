package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/kylemclaren/chat-tasks/internal/chat"
	"github.com/kylemclaren/chat-tasks/internal/conversation"
	"github.com/kylemclaren/chat-tasks/internal/db"
	"github.com/kylemclaren/chat-tasks/internal/scheduler"
	"github.com/kylemclaren/chat-tasks/internal/settings"
	"github.com/kylemclaren/chat-tasks/internal/stream"
)

// ModelLister lists the models an endpoint offers
type ModelLister interface {
	ListModels(ctx context.Context, cfg chat.ModelConfig) ([]string, error)
}

// Deps are the components the API serves
type Deps struct {
	DB            *db.DB
	Scheduler     *scheduler.Scheduler
	Conversations *conversation.Service
	Settings      *settings.Provider
	Models        ModelLister
	Stream        *stream.Manager
	Logger        *slog.Logger
}

// Server represents the API server
type Server struct {
	db            *db.DB
	scheduler     *scheduler.Scheduler
	conversations *conversation.Service
	settings      *settings.Provider
	models        ModelLister
	streamMgr     *stream.Manager
	logger        *slog.Logger
	upgrader      websocket.Upgrader
	router        chi.Router
}

// NewServer creates a new API server
func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		db:            d.DB,
		scheduler:     d.Scheduler,
		conversations: d.Conversations,
		settings:      d.Settings,
		models:        d.Models,
		streamMgr:     d.Stream,
		logger:        logger.With("component", "api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CORS)

	// API routes - all at top level to avoid chi subrouter issues with multiple params
	r.Get("/api/v1/health", s.HealthCheck)

	// Tasks
	r.Get("/api/v1/tasks", s.ListTasks)
	r.Post("/api/v1/tasks", s.CreateTask)
	r.Post("/api/v1/tasks/quick", s.QuickTask)
	r.Get("/api/v1/tasks/{id}", s.GetTask)
	r.Put("/api/v1/tasks/{id}", s.UpdateTask)
	r.Delete("/api/v1/tasks/{id}", s.DeleteTask)
	r.Post("/api/v1/tasks/{id}/toggle", s.ToggleTask)
	r.Post("/api/v1/tasks/{id}/disable", s.DisableTask)
	r.Post("/api/v1/tasks/{id}/run", s.RunTask)
	r.Get("/api/v1/tasks/{id}/executions", s.GetTaskExecutions)

	// Execution history
	r.Get("/api/v1/executions", s.ListExecutions)
	r.Delete("/api/v1/executions", s.PruneExecutions)

	// Conversations
	r.Get("/api/v1/conversations", s.ListConversations)
	r.Post("/api/v1/conversations", s.CreateConversation)
	r.Get("/api/v1/conversations/{id}/messages", s.GetMessages)
	r.Delete("/api/v1/conversations/{id}", s.DeleteConversation)
	r.Post("/api/v1/chat", s.Chat)

	// Settings
	r.Get("/api/v1/settings", s.GetSettings)
	r.Put("/api/v1/settings", s.UpdateSettings)
	r.Get("/api/v1/models", s.ListModels)
	r.Get("/api/v1/presets", s.ListPresets)

	// Outcome stream
	r.Get("/api/v1/events", s.Events)
	r.Get("/api/v1/events/ws", s.EventsWebSocket)
}

// Router returns the chi router for use with http.Server
func (s *Server) Router() http.Handler {
	return s.router
}
