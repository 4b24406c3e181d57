package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingCredential is returned when a real provider is selected without an API key
	ErrMissingCredential = errors.New("api key is not configured for the selected provider")
	// ErrInvalidURL is returned when the provider endpoint cannot be parsed
	ErrInvalidURL = errors.New("invalid provider url")
	// ErrEncoding is returned when a request body cannot be serialized
	ErrEncoding = errors.New("failed to encode request body")
	// ErrCancelled is returned when the caller cancels an in-flight call
	ErrCancelled = errors.New("request cancelled")
)

// TransportError is a connection, DNS or timeout failure
type TransportError struct {
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPStatusError is a non-2xx response. Body holds a truncated copy for diagnostics.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// APIError is a structured error returned by the provider
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return "provider error: " + e.Message
}

// MalformedResponseError is a body that could not be decoded and carried no structured error
type MalformedResponseError struct {
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// cancelled converts a context error into ErrCancelled, keeping the cause
func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}

// contextError maps a context failure to the error taxonomy.
// Caller cancellation is ErrCancelled; an expired deadline is a transport failure.
func contextError(ctx context.Context, attempts int) error {
	err := context.Cause(ctx)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TransportError{Attempts: attempts, Err: err}
	}
	return cancelled(err)
}

// UserMessage renders err as one human-readable line
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var (
		statusErr    *HTTPStatusError
		apiErr       *APIError
		transportErr *TransportError
		malformedErr *MalformedResponseError
	)

	switch {
	case errors.Is(err, ErrMissingCredential):
		return "The AI provider has no API key. Add one in settings."
	case errors.Is(err, ErrInvalidURL):
		return "The AI provider URL is invalid."
	case errors.Is(err, ErrCancelled):
		return "The request was cancelled."
	case errors.As(err, &statusErr):
		return fmt.Sprintf("The AI provider rejected the request (status %d).", statusErr.StatusCode)
	case errors.As(err, &apiErr):
		return singleLine(apiErr.Message)
	case errors.As(err, &transportErr) && errors.Is(err, context.DeadlineExceeded):
		return "The AI provider did not answer in time."
	case errors.As(err, &transportErr):
		return "Could not reach the AI provider. Check the network and try again."
	case errors.As(err, &malformedErr):
		return "The AI provider sent a response that could not be read."
	default:
		return singleLine(err.Error())
	}
}

func singleLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	return s
}
