package chat

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) ModelConfig {
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.APIKey = "sk-test"
	return cfg
}

func TestSend(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","model":"gpt-4","choices":[{"index":0,"message":{"role":"assistant","content":"Paris"},"finish_reason":"stop"}],"usage":{"total_tokens":3}}`)
	}))
	defer srv.Close()

	tr := NewTransport()
	content, err := tr.Send(context.Background(), []Message{
		{Role: "SYSTEM", Content: "be brief"},
		{Role: "user", Content: "Capital of France?"},
		{Role: "weird", Content: "?"},
	}, testConfig(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, "Paris", content)

	assert.Equal(t, "gpt-4", got.Model)
	assert.Equal(t, 4096, got.MaxTokens)
	assert.InDelta(t, 0.7, got.Temperature, 0.0001)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, RoleSystem, got.Messages[0].Role)
	assert.Equal(t, RoleUser, got.Messages[1].Role)
	assert.Equal(t, RoleUser, got.Messages[2].Role)
}

func TestSendUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	_, err := NewTransport().Send(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, testConfig(srv.URL))
	require.Error(t, err)

	var chatErr *Error
	require.ErrorAs(t, err, &chatErr)
	assert.Equal(t, KindHTTP, chatErr.Kind)
	assert.Equal(t, http.StatusUnauthorized, chatErr.StatusCode)
	assert.Contains(t, chatErr.Error(), "Incorrect API key")
}

func TestSendNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","choices":[]}`)
	}))
	defer srv.Close()

	_, err := NewTransport().Send(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, testConfig(srv.URL))
	assert.True(t, IsKind(err, KindEmpty))
}

func TestSendInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	_, err := NewTransport().Send(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, cfg)
	assert.True(t, IsKind(err, KindConfig))
	assert.Contains(t, err.Error(), "API key")

	cfg.APIKey = "k"
	cfg.BaseURL = "ftp://nope"
	_, err = NewTransport().Send(context.Background(), nil, cfg)
	assert.True(t, IsKind(err, KindConfig))
}

func TestSendTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewTransport().Send(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, testConfig(url))
	assert.True(t, IsKind(err, KindTransport))
}

func TestStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n"+
			"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n"+
			"data: [DONE]\n")
	}))
	defer srv.Close()

	var chunks []string
	content, err := NewTransport().Stream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, testConfig(srv.URL), func(s string) {
		chunks = append(chunks, s)
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", content)
	assert.Equal(t, []string{"Hel", "lo"}, chunks)
}

func TestStreamSkipsMalformedFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, ": keep-alive\n\n"+
			"data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n"+
			"data: {not json\n\n"+
			"event: message\n"+
			"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n"+
			"data: [DONE]\n\n"+
			"data: {\"choices\":[{\"delta\":{\"content\":\"after done\"}}]}\n")
	}))
	defer srv.Close()

	calls := 0
	content, err := NewTransport().Stream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, testConfig(srv.URL), func(string) {
		calls++
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", content)
	assert.Equal(t, 1, calls)
}

func TestStreamEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := NewTransport().Stream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, testConfig(srv.URL), nil)
	assert.True(t, IsKind(err, KindEmpty))
}

func TestStreamHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"Rate limit reached"}}`)
	}))
	defer srv.Close()

	_, err := NewTransport().Stream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, testConfig(srv.URL), nil)
	var chatErr *Error
	require.ErrorAs(t, err, &chatErr)
	assert.Equal(t, http.StatusTooManyRequests, chatErr.StatusCode)
	assert.Equal(t, "Rate limit reached", chatErr.Message)
}

func TestSendKeepsZeroTemperature(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Temperature = 0
	_, err := NewTransport().Send(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, cfg)
	require.NoError(t, err)

	require.Contains(t, body, "temperature")
	assert.InDelta(t, 0, body["temperature"], 0.0001)
}

func TestWritesAreBoundedByDeadline(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	conn := &writeDeadlineConn{Conn: client, timeout: 20 * time.Millisecond}
	defer conn.Close()

	// nothing reads from server, so the write blocks until the deadline
	_, err := conn.Write([]byte("POST /chat/completions HTTP/1.1\r\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
}

func TestClientCachedUntilConfigChanges(t *testing.T) {
	tr := NewTransport()
	cfg := testConfig("http://localhost:1")

	first := tr.clientFor(cfg)
	assert.Same(t, first, tr.clientFor(cfg))

	changed := cfg
	changed.Temperature = 0.2
	second := tr.clientFor(changed)
	assert.NotSame(t, first, second)
	assert.Same(t, second, tr.clientFor(changed))
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"object":"list","data":[{"id":"gpt-4","object":"model"},{"id":"gpt-4o-mini","object":"model"}]}`)
	}))
	defer srv.Close()

	models, err := NewTransport().ListModels(context.Background(), testConfig(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-4", "gpt-4o-mini"}, models)
}

func TestModelConfigHelpers(t *testing.T) {
	cfg := ModelConfig{Model: "gpt-4o"}.WithDefaults(DefaultConfig())
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, DefaultMaxTokens, cfg.MaxTokens)
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", ModelConfig{BaseURL: DefaultBaseURL + "/"}.Endpoint("/chat/completions"))

	cfg.APIKey = "sk-abcdefgh1234"
	assert.Equal(t, "********1234", cfg.MaskedAPIKey())
}
