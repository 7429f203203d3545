package domain

import (
	"errors"
	"fmt"
	"runtime/debug"
)

var (
	// ErrMissingCredential is returned when the session lacks the CSRF credential.
	ErrMissingCredential = errors.New("missing session credential")

	// ErrBudgetExhausted is returned when a run used up its error budget.
	ErrBudgetExhausted = errors.New("error budget exhausted")

	// ErrNoOptions is returned when a case offers no resolution options.
	ErrNoOptions = errors.New("case has no options")

	// ErrOptionOutOfRange is returned when a fallback position is not offered by the case.
	ErrOptionOutOfRange = errors.New("option position out of range")
)

// ErrorKind tags a RemoteError.
type ErrorKind string

const (
	KindConfiguration   ErrorKind = "configuration"
	KindTransient       ErrorKind = "transient"
	KindClassified      ErrorKind = "classified"
	KindBudgetExhausted ErrorKind = "budget_exhausted"
)

// RemoteError is the error variant produced around remote case service calls.
// Optional fields are filled when the error is constructed.
type RemoteError struct {
	Kind            ErrorKind
	Op              string
	Code            ResponseCode
	Message         string
	Cause           error
	StackTrace      string
	TransportDetail string
}

func (e *RemoteError) Error() string {
	switch e.Kind {
	case KindClassified:
		return fmt.Sprintf("%s: code %d: %s", e.Op, e.Code, e.Message)
	case KindTransient:
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Cause)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	default:
		if e.Cause != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Cause)
		}
		return e.Message
	}
}

func (e *RemoteError) Unwrap() error { return e.Cause }

// NewClassifiedError reports a non-zero response code.
func NewClassifiedError(op string, code ResponseCode, message string) *RemoteError {
	return &RemoteError{
		Kind:    KindClassified,
		Op:      op,
		Code:    code,
		Message: message,
	}
}

// NewTransientError reports a network or decoding failure. detail carries
// transport context such as the HTTP status line or a body excerpt.
func NewTransientError(op, message string, cause error, detail string) *RemoteError {
	return &RemoteError{
		Kind:            KindTransient,
		Op:              op,
		Message:         message,
		Cause:           cause,
		StackTrace:      string(debug.Stack()),
		TransportDetail: detail,
	}
}

// NewConfigurationError reports a fatal setup problem.
func NewConfigurationError(message string, cause error) *RemoteError {
	return &RemoteError{
		Kind:    KindConfiguration,
		Message: message,
		Cause:   cause,
	}
}

// NewBudgetExhaustedError reports that a run gave up after too many failures.
func NewBudgetExhaustedError(lastCause error) *RemoteError {
	return &RemoteError{
		Kind:    KindBudgetExhausted,
		Message: "too many failures",
		Cause:   errors.Join(ErrBudgetExhausted, lastCause),
	}
}

// CodeOf returns the response code carried by a classified error.
func CodeOf(err error) (ResponseCode, bool) {
	var re *RemoteError
	if errors.As(err, &re) && re.Kind == KindClassified {
		return re.Code, true
	}
	return 0, false
}

// IsConfiguration reports whether err is a fatal configuration error.
func IsConfiguration(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Kind == KindConfiguration
}
