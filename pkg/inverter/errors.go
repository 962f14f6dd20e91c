package inverter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// AdapterError is a typed failure from an inverter operation. The controller
// retries retryable errors and gives up immediately on fatal ones.
type AdapterError struct {
	Op         string
	StatusCode int
	Err        error
	retryable  bool
}

func (e *AdapterError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("inverter %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("inverter %s: %v", e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the operation is worth repeating.
func (e *AdapterError) Retryable() bool {
	return e.retryable
}

// Retryable classifies any error: timeouts, network failures and 5xx
// responses are transient; auth failures and other 4xx are fatal.
func Retryable(err error) bool {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Retryable()
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// statusError wraps an HTTP status into an AdapterError.
func statusError(op string, code int) *AdapterError {
	return &AdapterError{
		Op:         op,
		StatusCode: code,
		Err:        fmt.Errorf("unexpected status"),
		retryable:  code >= http.StatusInternalServerError,
	}
}

// transportError wraps a transport-level failure, always retryable.
func transportError(op string, err error) *AdapterError {
	return &AdapterError{Op: op, Err: err, retryable: true}
}

// fatalError wraps a non-recoverable failure such as bad credentials.
func fatalError(op string, err error) *AdapterError {
	return &AdapterError{Op: op, Err: err}
}
