package analysis

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind classifies analysis failures
type ErrorKind string

const (
	// KindConfiguration covers an unresolvable provider or a missing credential. Never retried.
	KindConfiguration ErrorKind = "configuration"
	// KindNetwork is a network failure that outlived the transport's retries.
	KindNetwork ErrorKind = "network"
	// KindTimeout means the per-request timer fired first.
	KindTimeout ErrorKind = "timeout"
	// KindProvider is a non-success response status from the backend.
	KindProvider ErrorKind = "provider"
	// KindCancelled means the request was dropped by CancelAll or shutdown.
	KindCancelled ErrorKind = "cancelled"
)

// ErrDispatcherStopped is returned by Enqueue once Run has returned.
var ErrDispatcherStopped = errors.New("dispatcher stopped")

// Error is the structured failure reported for a single analysis request.
type Error struct {
	Kind     ErrorKind
	Message  string
	Provider Provider
	Status   int
	// Body is the raw provider response. It is logged, never shown to users.
	Body  string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NetworkError tells the transport whether to retry; only network failures qualify.
func (e *Error) NetworkError() bool {
	return e.Kind == KindNetwork
}

func NewConfigurationError(format string, args ...interface{}) *Error {
	return &Error{
		Kind:    KindConfiguration,
		Message: fmt.Sprintf(format, args...),
	}
}

func NewProviderError(provider Provider, status int, body string) *Error {
	return &Error{
		Kind:     KindProvider,
		Message:  fmt.Sprintf("%s returned status %d", provider, status),
		Provider: provider,
		Status:   status,
		Body:     body,
	}
}

func NewTimeoutError(timeout time.Duration, cause error) *Error {
	return &Error{
		Kind:    KindTimeout,
		Message: fmt.Sprintf("no response within %v", timeout),
		Cause:   cause,
	}
}

func NewNetworkError(cause error) *Error {
	return &Error{
		Kind:    KindNetwork,
		Message: "request could not be delivered",
		Cause:   cause,
	}
}

func NewCancelledError(cause error) *Error {
	return &Error{
		Kind:    KindCancelled,
		Message: "request cancelled",
		Cause:   cause,
	}
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// UserMessage translates err into text that is safe to show an end user.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "Code analysis failed unexpectedly."
	}

	switch e.Kind {
	case KindConfiguration:
		return "Code analysis is not configured: " + e.Message + "."
	case KindNetwork:
		return "Could not reach the analysis service. Check your connection."
	case KindTimeout:
		return "The analysis service took too long to answer."
	case KindCancelled:
		return "Code analysis was cancelled."
	case KindProvider:
		switch {
		case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
			return "The analysis service rejected the API key."
		case e.Status == http.StatusTooManyRequests:
			return "The analysis service is rate limiting requests. Try again shortly."
		case e.Status >= 500:
			return "The analysis service is temporarily unavailable."
		default:
			return "The analysis service could not process the request."
		}
	}
	return "Code analysis failed."
}
