package predict

import (
	"errors"
	"fmt"
	"time"
)

// ErrAttemptsExhausted is returned when every attempt failed without leaving a
// more specific error behind.
var ErrAttemptsExhausted = errors.New("prediction failed after multiple attempts")

// ValidationError reports a request rejected before any network call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// TimeoutError reports an attempt aborted by its deadline or by cancellation.
type TimeoutError struct {
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("request timed out after %s, the prediction service may be starting up", e.Timeout)
	}
	return "request timed out, the prediction service may be starting up"
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// NetworkError reports a transport-level failure (DNS, refused connection, reset).
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("could not reach the prediction service: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// BackendError reports a reply the service sent on purpose: a non-2xx status,
// or a 2xx body carrying an "error" field.
type BackendError struct {
	StatusCode int
	Body       string
}

func (e *BackendError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend error: %d", e.StatusCode)
	}
	return fmt.Sprintf("backend error: %d: %s", e.StatusCode, e.Body)
}

// MalformedResponseError reports a 2xx reply whose body is not a JSON object.
type MalformedResponseError struct {
	Body string
	Err  error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("invalid response from the prediction service: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	var timeoutErr *TimeoutError
	var networkErr *NetworkError
	var backendErr *BackendError
	switch {
	case errors.As(err, &timeoutErr), errors.As(err, &networkErr):
		return true
	case errors.As(err, &backendErr):
		return backendErr.StatusCode < 200 || backendErr.StatusCode > 299
	}
	return false
}
