package chat

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Connection timeouts for the provider endpoint
const (
	ConnectTimeout = 60 * time.Second
	ReadTimeout    = 120 * time.Second
	WriteTimeout   = 60 * time.Second
)

// Role values accepted by the provider
const (
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
	RoleSystem    = openai.ChatMessageRoleSystem
)

// Message is a role-tagged chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Transport sends chat completion requests to an OpenAI-compatible endpoint.
// The underlying client is rebuilt only when the configuration changes.
type Transport struct {
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer

	mu     sync.Mutex
	cfg    ModelConfig
	client *openai.Client
}

// Option configures a Transport
type Option func(*Transport)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.httpClient = c }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// NewTransport creates a new transport
func NewTransport(opts ...Option) *Transport {
	t := &Transport{
		httpClient: defaultHTTPClient(),
		logger:     slog.Default(),
		tracer:     otel.Tracer("github.com/kylemclaren/chat-tasks/internal/chat"),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "chat")
	return t
}

func defaultHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialWithWriteTimeout(&net.Dialer{Timeout: ConnectTimeout, KeepAlive: 30 * time.Second}, WriteTimeout),
			TLSHandshakeTimeout:   ConnectTimeout,
			ResponseHeaderTimeout: ReadTimeout,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConnsPerHost:   4,
		},
	}
}

// dialWithWriteTimeout bounds every write on dialed connections by timeout
func dialWithWriteTimeout(d *net.Dialer, timeout time.Duration) func(context.Context, string, string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		return &writeDeadlineConn{Conn: conn, timeout: timeout}, nil
	}
}

type writeDeadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *writeDeadlineConn) Write(b []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(b)
}

// clientFor returns the cached client for cfg, rebuilding it if cfg differs
func (t *Transport) clientFor(cfg ModelConfig) *openai.Client {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil && t.cfg == cfg {
		return t.client
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	oc.HTTPClient = t.httpClient
	t.client = openai.NewClientWithConfig(oc)
	t.cfg = cfg
	t.logger.Debug("rebuilt chat client", "provider", cfg.Provider, "base_url", cfg.BaseURL, "model", cfg.Model)
	return t.client
}

func (t *Transport) buildRequest(msgs []Message, cfg ModelConfig, stream bool) openai.ChatCompletionRequest {
	wire := make([]openai.ChatCompletionMessage, len(msgs))
	for i, m := range msgs {
		wire[i] = openai.ChatCompletionMessage{Role: normalizeRole(m.Role), Content: m.Content}
	}
	// go-openai omits a zero temperature, which providers read as their
	// default rather than greedy sampling.
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}
	return openai.ChatCompletionRequest{
		Model:       cfg.Model,
		Messages:    wire,
		Temperature: temperature,
		MaxTokens:   cfg.MaxTokens,
		Stream:      stream,
	}
}

func normalizeRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case RoleAssistant, "ai":
		return RoleAssistant
	case RoleSystem:
		return RoleSystem
	default:
		return RoleUser
	}
}

// Send performs a non-streaming completion and returns the first choice's content
func (t *Transport) Send(ctx context.Context, msgs []Message, cfg ModelConfig) (string, error) {
	ctx, span := t.startSpan(ctx, "chat.send", cfg, len(msgs))
	defer span.End()

	content, err := t.send(ctx, msgs, cfg)
	endSpan(span, err)
	return content, err
}

func (t *Transport) send(ctx context.Context, msgs []Message, cfg ModelConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	resp, err := t.clientFor(cfg).CreateChatCompletion(ctx, t.buildRequest(msgs, cfg, false))
	if err != nil {
		return "", wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Kind: KindEmpty, Message: "response contained no choices"}
	}
	return resp.Choices[0].Message.Content, nil
}

// ListModels returns the model IDs offered by the endpoint
func (t *Transport) ListModels(ctx context.Context, cfg ModelConfig) ([]string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	list, err := t.clientFor(cfg).ListModels(ctx)
	if err != nil {
		return nil, wrapError(err)
	}
	ids := make([]string, len(list.Models))
	for i, m := range list.Models {
		ids[i] = m.ID
	}
	return ids, nil
}

func (t *Transport) startSpan(ctx context.Context, name string, cfg ModelConfig, n int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("llm.provider", cfg.Provider),
		attribute.String("llm.model", cfg.Model),
		attribute.Int("llm.messages", n),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
