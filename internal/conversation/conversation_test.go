package conversation

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kylemclaren/chat-tasks/internal/chat"
	"github.com/kylemclaren/chat-tasks/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Send(ctx context.Context, msgs []chat.Message, cfg chat.ModelConfig) (string, error) {
	args := m.Called(msgs)
	return args.String(0), args.Error(1)
}

func (m *mockTransport) Stream(ctx context.Context, msgs []chat.Message, cfg chat.ModelConfig, onChunk func(string)) (string, error) {
	args := m.Called(msgs)
	out := args.String(0)
	for _, part := range strings.SplitAfter(out, " ") {
		if part != "" {
			onChunk(part)
		}
	}
	return out, args.Error(1)
}

type staticConfig struct{}

func (staticConfig) Load(context.Context) (chat.ModelConfig, error) {
	return chat.DefaultConfig(), nil
}

func newService(t *testing.T) (*Service, *db.DB, *mockTransport) {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "conv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	tr := new(mockTransport)
	return New(database, tr, staticConfig{}, nil), database, tr
}

func TestSendStartsConversation(t *testing.T) {
	svc, database, tr := newService(t)
	text := "Explain goroutines and channels to a new Go developer please"
	tr.On("Send", []chat.Message{{Role: "user", Content: text}}).Return("Goroutines are...", nil).Once()

	reply, err := svc.Send(context.Background(), 0, text, nil)
	require.NoError(t, err)
	assert.NotZero(t, reply.Conversation.ID)
	assert.Equal(t, []rune(text)[:30], []rune(reply.Conversation.Title))
	require.NotNil(t, reply.Assistant)
	assert.Equal(t, "Goroutines are...", reply.Assistant.Content)

	msgs, err := database.ListMessages(reply.Conversation.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, db.RoleUser, msgs[0].Role)
	assert.Equal(t, db.RoleAssistant, msgs[1].Role)
}

func TestSendCarriesFullContext(t *testing.T) {
	svc, _, tr := newService(t)
	conv, err := svc.Create("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, conv.Title)

	tr.On("Send", mock.Anything).Return("first answer", nil).Once()
	_, err = svc.Send(context.Background(), conv.ID, "first question", nil)
	require.NoError(t, err)

	tr.On("Send", []chat.Message{
		{Role: "user", Content: "first question"},
		{Role: "assistant", Content: "first answer"},
		{Role: "user", Content: "follow up"},
	}).Return("second answer", nil).Once()
	reply, err := svc.Send(context.Background(), conv.ID, "follow up", nil)
	require.NoError(t, err)
	assert.Equal(t, "second answer", reply.Assistant.Content)
	tr.AssertExpectations(t)

	got, err := svc.Get(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "first question", got.Title)
}

func TestSendFailureKeepsOnlyUserMessage(t *testing.T) {
	svc, _, tr := newService(t)
	conv, err := svc.Create("")
	require.NoError(t, err)

	tr.On("Send", mock.Anything).Return("", &chat.Error{Kind: chat.KindHTTP, StatusCode: 500, Message: "upstream"})
	reply, err := svc.Send(context.Background(), conv.ID, "hello", nil)
	require.Error(t, err)
	assert.True(t, chat.IsKind(err, chat.KindHTTP))
	require.NotNil(t, reply)
	assert.Nil(t, reply.Assistant)

	msgs, err := svc.Messages(conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)

	got, err := svc.Get(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, got.Title)
}

func TestSendStreams(t *testing.T) {
	svc, _, tr := newService(t)
	tr.On("Stream", mock.Anything).Return("Hello there friend", nil)

	var chunks []string
	reply, err := svc.Send(context.Background(), 0, "hi", func(s string) { chunks = append(chunks, s) })
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello ", "there ", "friend"}, chunks)
	assert.Equal(t, "Hello there friend", reply.Assistant.Content)
	tr.AssertNotCalled(t, "Send", mock.Anything)
}

func TestSendRejectsEmptyText(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.Send(context.Background(), 0, "   \n", nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	convs, err := svc.List()
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestSendUnknownConversation(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.Send(context.Background(), 42, "hi", nil)
	assert.True(t, errors.Is(err, db.ErrNotFound))
}

func TestDeleteRemovesMessages(t *testing.T) {
	svc, database, tr := newService(t)
	tr.On("Send", mock.Anything).Return("ok", nil)
	reply, err := svc.Send(context.Background(), 0, "hi", nil)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(reply.Conversation.ID))
	msgs, err := database.ListMessages(reply.Conversation.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	_, err = svc.Messages(reply.Conversation.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "short", Title("  short "))
	assert.Equal(t, "multi line text", Title("multi\nline   text"))
	assert.Len(t, []rune(Title(strings.Repeat("語", 40))), 30)
}
