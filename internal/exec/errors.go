package exec

import (
	"errors"
	"fmt"
)

// Well-known cancellation reason codes. Budget stops get a dedicated code
// so callers can distinguish cost-control cancellations from failures.
const (
	ReasonBudgetExceeded = "budget-exceeded"
	ReasonUserRequest    = "user-request"
)

// AppError is a typed failure returned by an activity handler.
//
// Class identifies the failure category and is what retry policies match
// against: a class listed in RetryPolicy.NonRetryable fails the call
// immediately, any other class is retried until attempts exhaust.
type AppError struct {
	Class   string
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

// NewAppError creates an AppError with a formatted message.
func NewAppError(class, format string, args ...any) *AppError {
	return &AppError{Class: class, Message: fmt.Sprintf(format, args...)}
}

// ErrorClass extracts the activity error class from an error chain.
// Non-AppError failures report the generic "internal" class.
func ErrorClass(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Class
	}
	return "internal"
}

// CanceledError reports that an execution was cancelled, carrying the
// reason code delivered with the cancellation.
type CanceledError struct {
	Reason string
}

// Error implements the error interface.
func (e *CanceledError) Error() string {
	if e.Reason == "" {
		return "execution cancelled"
	}
	return fmt.Sprintf("execution cancelled: %s", e.Reason)
}

// IsCanceled reports whether the error chain contains a CanceledError.
func IsCanceled(err error) bool {
	var ce *CanceledError
	return errors.As(err, &ce)
}

// CancelReason extracts the cancellation reason, or "" when the error is
// not a cancellation.
func CancelReason(err error) string {
	var ce *CanceledError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ""
}

// NondeterminismError reports that replayed logic issued a command that
// does not match the recorded history at the same position. This is a
// programming error (the process definition changed incompatibly, or it
// consulted a forbidden source of nondeterminism).
type NondeterminismError struct {
	Execution string
	Seq       int64
	Recorded  string // recorded kind/name at this position
	Issued    string // command the replaying logic issued
}

// Error implements the error interface.
func (e *NondeterminismError) Error() string {
	return fmt.Sprintf("nondeterministic replay of %s at seq %d: history has %s, logic issued %s",
		e.Execution, e.Seq, e.Recorded, e.Issued)
}

// IsNondeterminism reports whether the error chain contains a
// NondeterminismError.
func IsNondeterminism(err error) bool {
	var ne *NondeterminismError
	return errors.As(err, &ne)
}
