package repositories

import (
	"errors"
	"fmt"
)

// CounterErrorCode classifies counter failures. Counters back order number
// allocation, so callers need to tell bad input apart from a sequence that
// has hit its configured ceiling.
type CounterErrorCode string

const (
	// CounterErrorUnknown is an unclassified failure.
	CounterErrorUnknown CounterErrorCode = "counter_unknown"
	// CounterErrorInvalidInput means the caller passed a bad id or step.
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
	// CounterErrorExhausted means the counter reached its configured maximum.
	CounterErrorExhausted CounterErrorCode = "counter_exhausted"
)

// CounterError carries a machine-readable code alongside the message.
type CounterError struct {
	Op      string
	Code    CounterErrorCode
	Message string
	Err     error
}

func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCounterError builds a CounterError; an empty message defaults to the
// code itself.
func NewCounterError(code CounterErrorCode, message string, err error) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{Code: code, Message: message, Err: err}
}

// IsCounterExhausted reports whether err is an exhaustion failure.
func IsCounterExhausted(err error) bool {
	var e *CounterError
	return errors.As(err, &e) && e.Code == CounterErrorExhausted
}
