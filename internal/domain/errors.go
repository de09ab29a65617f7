package domain

import (
	"errors"
	"fmt"
)

var (
	ErrActiveRequest        = errors.New("active request exists")
	ErrEmptyMessage         = errors.New("empty message")
	ErrTimeout              = errors.New("request timed out")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrModelNotFound        = errors.New("model not found")
	ErrDailyLimitReached    = errors.New("daily message limit reached")
)

// TransportError is a failed webhook exchange: a network error or a non-2xx
// status. Unlike ErrTimeout it is retryable.
type TransportError struct {
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("webhook responded with status %d", e.Status)
	}
	return fmt.Sprintf("webhook request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
