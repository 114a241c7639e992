package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures across the pipeline. Kinds drive both
// HTTP status mapping and the gateway's retry decision.
type ErrorKind string

const (
	ErrInvalid        ErrorKind = "invalid"
	ErrNotFound       ErrorKind = "not_found"
	ErrQueueFull      ErrorKind = "queue_full"
	ErrPromptTooLarge ErrorKind = "prompt_too_large"
	ErrLLMTimeout     ErrorKind = "llm_timeout"
	ErrLLMRateLimit   ErrorKind = "llm_rate_limit"
	ErrLLMTransient   ErrorKind = "llm_transient"
	ErrLLMAuth        ErrorKind = "llm_auth"
	ErrLLMQuota       ErrorKind = "llm_quota"
	ErrCancelled      ErrorKind = "cancelled"
	ErrIO             ErrorKind = "io_error"
	ErrInternal       ErrorKind = "internal"
)

// Error carries a kind alongside the underlying cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified error.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError classifies an underlying error.
func WrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from an error chain; unclassified errors are
// ErrInternal, nil is the empty kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether the gateway may retry the call.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case ErrLLMTimeout, ErrLLMRateLimit, ErrLLMTransient:
		return true
	}
	return false
}

// ErrTaskCancelled is the cooperative cancellation sentinel. Workers
// translate it to the cancelled terminal state, never to failed.
var ErrTaskCancelled = NewError(ErrCancelled, "任务已取消")
