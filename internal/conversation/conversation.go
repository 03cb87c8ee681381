package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kylemclaren/chat-tasks/internal/chat"
	"github.com/kylemclaren/chat-tasks/internal/db"
)

// DefaultTitle is given to conversations created without a first message
const DefaultTitle = "New conversation"

// titleLength is how many characters of the first message become the title
const titleLength = 30

// ErrEmptyMessage is returned when Send is called with blank text
var ErrEmptyMessage = errors.New("message is empty")

// Store persists conversations and their messages
type Store interface {
	CreateConversation(conv *db.Conversation) error
	GetConversation(id int64) (*db.Conversation, error)
	UpdateConversation(conv *db.Conversation) error
	ListConversations() ([]*db.Conversation, error)
	DeleteConversation(id int64) error
	CreateMessage(msg *db.Message) error
	ListMessages(conversationID int64) ([]*db.Message, error)
}

// Transport sends a full conversation to the model
type Transport interface {
	Send(ctx context.Context, msgs []chat.Message, cfg chat.ModelConfig) (string, error)
	Stream(ctx context.Context, msgs []chat.Message, cfg chat.ModelConfig, onChunk func(string)) (string, error)
}

// ConfigSource supplies the current model configuration
type ConfigSource interface {
	Load(ctx context.Context) (chat.ModelConfig, error)
}

// Service runs interactive chat conversations
type Service struct {
	store     Store
	transport Transport
	config    ConfigSource
	logger    *slog.Logger
}

// New creates a new conversation service
func New(store Store, transport Transport, config ConfigSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		transport: transport,
		config:    config,
		logger:    logger.With("component", "conversation"),
	}
}

// Reply is the outcome of one user turn
type Reply struct {
	Conversation *db.Conversation `json:"conversation"`
	User         *db.Message      `json:"user"`
	Assistant    *db.Message      `json:"assistant,omitempty"`
}

// Create starts an empty conversation
func (s *Service) Create(title string) (*db.Conversation, error) {
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	conv := &db.Conversation{Title: title}
	if err := s.store.CreateConversation(conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// List returns conversations, most recently updated first
func (s *Service) List() ([]*db.Conversation, error) {
	return s.store.ListConversations()
}

// Get returns a conversation
func (s *Service) Get(id int64) (*db.Conversation, error) {
	return s.store.GetConversation(id)
}

// Messages returns a conversation's messages in order
func (s *Service) Messages(id int64) ([]*db.Message, error) {
	if _, err := s.store.GetConversation(id); err != nil {
		return nil, err
	}
	return s.store.ListMessages(id)
}

// Delete removes a conversation and its messages
func (s *Service) Delete(id int64) error {
	return s.store.DeleteConversation(id)
}

// Send appends text as a user message and asks the model to reply with the
// whole conversation as context. A conversationID of 0 starts a new
// conversation titled after the text. When onChunk is set the reply is
// streamed. The assistant message is stored only when the call succeeds; the
// returned Reply still carries the stored user message on failure.
func (s *Service) Send(ctx context.Context, conversationID int64, text string, onChunk func(string)) (*Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	conv, err := s.open(conversationID, text)
	if err != nil {
		return nil, err
	}

	reply := &Reply{Conversation: conv}
	reply.User = &db.Message{ConversationID: conv.ID, Role: db.RoleUser, Content: text}
	if err := s.store.CreateMessage(reply.User); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	history, err := s.store.ListMessages(conv.ID)
	if err != nil {
		return reply, fmt.Errorf("failed to load messages: %w", err)
	}

	content, err := s.complete(ctx, history, onChunk)
	if err != nil {
		s.logger.Warn("chat request failed", "conversation_id", conv.ID, "error", err)
		return reply, err
	}

	reply.Assistant = &db.Message{ConversationID: conv.ID, Role: db.RoleAssistant, Content: content}
	if err := s.store.CreateMessage(reply.Assistant); err != nil {
		return reply, fmt.Errorf("failed to save reply: %w", err)
	}

	if conv.Title == DefaultTitle {
		conv.Title = Title(text)
	}
	conv.UpdatedAt = time.Now()
	if err := s.store.UpdateConversation(conv); err != nil {
		return reply, fmt.Errorf("failed to update conversation: %w", err)
	}
	return reply, nil
}

func (s *Service) open(id int64, text string) (*db.Conversation, error) {
	if id != 0 {
		return s.store.GetConversation(id)
	}
	conv := &db.Conversation{Title: Title(text)}
	if err := s.store.CreateConversation(conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (s *Service) complete(ctx context.Context, history []*db.Message, onChunk func(string)) (string, error) {
	cfg, err := s.config.Load(ctx)
	if err != nil {
		return "", &chat.Error{Kind: chat.KindConfig, Message: "failed to load configuration", Err: err}
	}

	msgs := make([]chat.Message, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, chat.Message{Role: string(m.Role), Content: m.Content})
	}

	if onChunk != nil {
		return s.transport.Stream(ctx, msgs, cfg, onChunk)
	}
	return s.transport.Send(ctx, msgs, cfg)
}

// Title derives a conversation title from the first user message
func Title(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) > titleLength {
		return string(runes[:titleLength])
	}
	return text
}
