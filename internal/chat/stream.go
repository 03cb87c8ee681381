package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	sseDataPrefix = "data:"
	sseDone       = "[DONE]"
)

// Stream performs a streaming completion. onChunk is called for every
// non-empty content fragment; the accumulated text is returned.
// Frames that fail to decode are skipped.
func (t *Transport) Stream(ctx context.Context, msgs []Message, cfg ModelConfig, onChunk func(string)) (string, error) {
	ctx, span := t.startSpan(ctx, "chat.stream", cfg, len(msgs))
	defer span.End()

	content, err := t.stream(ctx, msgs, cfg, onChunk)
	endSpan(span, err)
	return content, err
}

func (t *Transport) stream(ctx context.Context, msgs []Message, cfg ModelConfig, onChunk func(string)) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	body, err := json.Marshal(t.buildRequest(msgs, cfg, true))
	if err != nil {
		return "", &Error{Kind: KindDecode, Message: "failed to encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint("/chat/completions"), bytes.NewReader(body))
	if err != nil {
		return "", &Error{Kind: KindConfig, Message: "failed to create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", &Error{Kind: KindTransport, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", httpError(resp)
	}

	return t.readEvents(resp.Body, onChunk)
}

func (t *Transport) readEvents(r io.Reader, onChunk func(string)) (string, error) {
	var out strings.Builder
	frames := 0

	scanner := bufio.NewScanner(r)
	// Increase buffer size for large JSON lines
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, sseDataPrefix) {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, sseDataPrefix))
		if data == "" {
			continue
		}
		frames++
		if data == sseDone {
			break
		}

		var chunk openai.ChatCompletionStreamResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			t.logger.Debug("skipping malformed stream frame", "error", err)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		text := chunk.Choices[0].Delta.Content
		if text == "" {
			continue
		}
		out.WriteString(text)
		if onChunk != nil {
			onChunk(text)
		}
	}

	if err := scanner.Err(); err != nil {
		return out.String(), &Error{Kind: KindTransport, Message: "stream interrupted: " + err.Error(), Err: err}
	}
	if frames == 0 {
		return "", &Error{Kind: KindEmpty, Message: "response body contained no events"}
	}
	return out.String(), nil
}

// httpError builds an Error from a non-2xx response, using the provider's
// error message when the body carries one
func httpError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var errResp openai.ErrorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error != nil && errResp.Error.Message != "" {
		return &Error{Kind: KindHTTP, StatusCode: resp.StatusCode, Message: errResp.Error.Message}
	}

	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	if len(msg) > 500 {
		msg = msg[:500] + "..."
	}
	return &Error{Kind: KindHTTP, StatusCode: resp.StatusCode, Message: fmt.Sprintf("request failed: %s", msg)}
}
