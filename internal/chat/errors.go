package chat

import (
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// ErrorKind classifies transport failures
type ErrorKind string

const (
	KindConfig    ErrorKind = "config"
	KindHTTP      ErrorKind = "http"
	KindTransport ErrorKind = "transport"
	KindDecode    ErrorKind = "decode"
	KindEmpty     ErrorKind = "empty"
)

// Error is the failure type returned by Transport
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s error (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a transport Error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// wrapError converts go-openai and net errors into *Error
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var chatErr *Error
	if errors.As(err, &chatErr) {
		return chatErr
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = "request failed"
		}
		return &Error{Kind: KindHTTP, StatusCode: apiErr.HTTPStatusCode, Message: msg, Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := "request failed"
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &Error{Kind: KindHTTP, StatusCode: reqErr.HTTPStatusCode, Message: msg, Err: err}
	}

	return &Error{Kind: KindTransport, Message: err.Error(), Err: err}
}
