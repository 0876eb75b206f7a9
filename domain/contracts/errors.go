package contracts

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ThrottleError indicates the remote platform rejected a call due to rate
// limiting. RetryAfter carries the server's hint when one was provided.
type ThrottleError struct {
	Operation  string
	RetryAfter time.Duration
	Err        error
}

func (e *ThrottleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("throttled during %s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("throttled during %s", e.Operation)
}

func (e *ThrottleError) Unwrap() error { return e.Err }

// TimeoutError indicates a remote call exceeded its deadline. Retried on
// the same backoff track as throttling.
type TimeoutError struct {
	Operation string
	Err       error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout during %s: %v", e.Operation, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// AccessDeniedError indicates the caller's credentials lack a specific
// permission for one sub-resource. The affected resource is skipped and
// the overall operation continues.
type AccessDeniedError struct {
	Resource string
	Err      error
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied to %s: %v", e.Resource, e.Err)
}

func (e *AccessDeniedError) Unwrap() error { return e.Err }

// IsThrottle reports whether the error is throttle-class, either a typed
// ThrottleError or a response whose text identifies rate limiting.
func IsThrottle(err error) bool {
	if err == nil {
		return false
	}
	var te *ThrottleError
	if errors.As(err, &te) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "server busy") ||
		strings.Contains(msg, "503")
}

// IsTimeout reports whether the error is timeout-class.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// IsAccessDenied reports whether the error is a partial permission denial.
func IsAccessDenied(err error) bool {
	if err == nil {
		return false
	}
	var ae *AccessDeniedError
	if errors.As(err, &ae) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "403") || strings.Contains(msg, "access denied") ||
		strings.Contains(msg, "unauthorized")
}

// RetryAfterHint returns the server-provided retry delay for a throttle
// error, or 0 when none was given.
func RetryAfterHint(err error) time.Duration {
	var te *ThrottleError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}
