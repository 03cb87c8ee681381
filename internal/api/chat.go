package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kylemclaren/chat-tasks/internal/chat"
	"github.com/kylemclaren/chat-tasks/internal/conversation"
	"github.com/kylemclaren/chat-tasks/internal/db"
	"github.com/kylemclaren/chat-tasks/internal/presets"
	"github.com/kylemclaren/chat-tasks/internal/settings"
)

// ListConversations handles GET /api/v1/conversations
func (s *Server) ListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.conversations.List()
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list conversations", err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, ConversationListResponse{Conversations: nonNil(convs), Total: len(convs)})
}

// CreateConversation handles POST /api/v1/conversations
func (s *Server) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req ConversationRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errorResponse(w, http.StatusBadRequest, "Invalid request body", err.Error())
			return
		}
	}
	conv, err := s.conversations.Create(req.Title)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to create conversation", err.Error())
		return
	}
	jsonResponse(w, http.StatusCreated, conv)
}

// GetMessages handles GET /api/v1/conversations/{id}/messages
func (s *Server) GetMessages(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid conversation ID")
		return
	}
	msgs, err := s.conversations.Messages(id)
	if err != nil {
		storeError(w, err, "Conversation")
		return
	}
	jsonResponse(w, http.StatusOK, MessagesResponse{ConversationID: id, Messages: nonNil(msgs)})
}

// DeleteConversation handles DELETE /api/v1/conversations/{id}
func (s *Server) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid conversation ID")
		return
	}
	if err := s.conversations.Delete(id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			errorResponse(w, http.StatusNotFound, "Conversation not found")
			return
		}
		errorResponse(w, http.StatusInternalServerError, "Failed to delete conversation", err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, SuccessResponse{Success: true, Message: "Conversation deleted"})
}

// Chat handles POST /api/v1/chat. With stream set the reply is sent as
// server-sent events: "chunk" events, then "done" with the stored messages
// or "error".
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		errorResponse(w, http.StatusBadRequest, conversation.ErrEmptyMessage.Error())
		return
	}
	if req.ConversationID != 0 {
		if _, err := s.conversations.Get(req.ConversationID); err != nil {
			storeError(w, err, "Conversation")
			return
		}
	}

	if req.Stream {
		s.streamChat(w, r, &req)
		return
	}

	reply, err := s.conversations.Send(r.Context(), req.ConversationID, req.Message, nil)
	if err != nil {
		chatError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, reply)
}

func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req *ChatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		errorResponse(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}
	sseHeaders(w)

	send := func(event string, data any) {
		writeSSE(w, event, data)
		flusher.Flush()
	}

	reply, err := s.conversations.Send(r.Context(), req.ConversationID, req.Message, func(text string) {
		send("chunk", SSEChunk{Text: text})
	})
	if err != nil {
		resp := ErrorResponse{Error: err.Error()}
		var ce *chat.Error
		if errors.As(err, &ce) {
			resp.Code = string(ce.Kind)
		}
		send("error", resp)
		return
	}
	send("done", reply)
}

// chatError maps a failed turn to a status code. Transport failures are
// upstream problems and answer 502, except bad configuration.
func chatError(w http.ResponseWriter, err error) {
	var ce *chat.Error
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		errorResponse(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, db.ErrNotFound):
		errorResponse(w, http.StatusNotFound, "Conversation not found")
	case errors.As(err, &ce) && ce.Kind == chat.KindConfig:
		jsonResponse(w, http.StatusBadRequest, ErrorResponse{Error: "Model is not configured", Code: string(ce.Kind), Details: ce.Message})
	case errors.As(err, &ce):
		jsonResponse(w, http.StatusBadGateway, ErrorResponse{Error: "Model request failed", Code: string(ce.Kind), Details: ce.Error()})
	default:
		errorResponse(w, http.StatusInternalServerError, "Failed to send message", err.Error())
	}
}

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func writeSSE(w http.ResponseWriter, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}

// GetSettings handles GET /api/v1/settings
func (s *Server) GetSettings(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.settings.Load(r.Context())
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to load settings", err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, settingsToResponse(cfg))
}

// UpdateSettings handles PUT /api/v1/settings
func (s *Server) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	cfg, err := s.settings.Load(r.Context())
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to load settings", err.Error())
		return
	}

	if req.Provider != nil {
		cfg.Provider = *req.Provider
	}
	if req.BaseURL != nil {
		cfg.BaseURL = strings.TrimSpace(*req.BaseURL)
	}
	if req.APIKey != nil {
		key := strings.TrimSpace(*req.APIKey)
		if key != "" && key != cfg.MaskedAPIKey() {
			cfg.APIKey = key
		}
	}
	if req.Model != nil {
		cfg.Model = strings.TrimSpace(*req.Model)
	}
	if req.Temperature != nil {
		cfg.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		cfg.MaxTokens = *req.MaxTokens
	}

	if err := s.settings.Save(r.Context(), cfg); err != nil {
		if errors.Is(err, settings.ErrInvalid) {
			errorResponse(w, http.StatusBadRequest, "Invalid settings", err.Error())
			return
		}
		errorResponse(w, http.StatusInternalServerError, "Failed to save settings", err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, settingsToResponse(cfg))
}

func settingsToResponse(cfg chat.ModelConfig) SettingsResponse {
	return SettingsResponse{
		Provider:    cfg.Provider,
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.MaskedAPIKey(),
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
}

// ListModels handles GET /api/v1/models
func (s *Server) ListModels(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.settings.Load(r.Context())
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to load settings", err.Error())
		return
	}
	models, err := s.models.ListModels(r.Context(), cfg)
	if err != nil {
		chatError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, ModelsResponse{Models: nonNil(models)})
}

// ListPresets handles GET /api/v1/presets
func (s *Server) ListPresets(w http.ResponseWriter, r *http.Request) {
	templates, err := presets.Templates()
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to load presets", err.Error())
		return
	}
	providers, err := presets.Providers()
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to load presets", err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, PresetsResponse{Templates: templates, Providers: providers})
}
