package risk

import (
	"errors"
	"fmt"
)

// ErrSystemUnavailable means the engine could not check a trade, for example
// because the risk model or the store was unreachable. Callers must treat it
// as "not approved".
var ErrSystemUnavailable = errors.New("system unavailable")

// ValidationFailure is a user-correctable rejection carrying a single reason.
type ValidationFailure struct {
	Code   CheckCode
	Reason string
}

func (e *ValidationFailure) Error() string {
	return e.Reason
}

// ErrorKind classifies an execution failure.
type ErrorKind string

const (
	KindAccountLocked     ErrorKind = "AccountLocked"
	KindRiskLimitBreached ErrorKind = "RiskLimitBreached"
	KindStaleValidation   ErrorKind = "StaleValidation"
	KindMalformedRequest  ErrorKind = "MalformedRequest"
)

// ExecutionError is returned by execute when a precondition does not hold at
// commit time. TradeID is set when the attempt was recorded as REJECTED.
type ExecutionError struct {
	Kind    ErrorKind
	Reason  string
	TradeID string
	cause   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *ExecutionError) Unwrap() error {
	return e.cause
}

// KindForCheck maps a failed validation check to its execution error kind.
func KindForCheck(code CheckCode) ErrorKind {
	switch code {
	case CheckAccountLocked:
		return KindAccountLocked
	case CheckInvalidSize, CheckLimitPrice, CheckStopTarget:
		return KindMalformedRequest
	default:
		return KindRiskLimitBreached
	}
}

// NewExecutionError converts an invalid verdict into an ExecutionError.
func NewExecutionError(v Verdict) *ExecutionError {
	return &ExecutionError{
		Kind:   KindForCheck(v.Code),
		Reason: v.Reason,
		cause:  v.Err(),
	}
}

// StaleValidation builds the error returned when account state moved between
// the client's validation and the commit.
func StaleValidation(reason string) *ExecutionError {
	return &ExecutionError{Kind: KindStaleValidation, Reason: reason}
}

// MalformedRequest builds the error returned for requests that cannot be decoded.
func MalformedRequest(reason string) *ExecutionError {
	return &ExecutionError{Kind: KindMalformedRequest, Reason: reason}
}

// IsKind reports whether err is an ExecutionError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var execErr *ExecutionError
	return errors.As(err, &execErr) && execErr.Kind == kind
}
