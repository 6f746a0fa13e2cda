// Package apperr defines the error taxonomy shared across the copilot
// core (spec §7). Components return these kinds wrapped with context via
// fmt.Errorf("...: %w", err) rather than panicking; background goroutines
// never let an error escape except through a result channel.
package apperr

import "errors"

// Kind classifies an error for recovery-policy dispatch. It is never
// serialized; callers match on it with errors.Is/errors.As against the
// sentinel values below or the typed errors in this package.
type Kind int

const (
	KindUnknown Kind = iota
	KindProviderTransport
	KindProviderAuth
	KindProviderPayment
	KindProviderProtocol
	KindToolNotAllowed
	KindToolExecution
	KindPermissionDenied
	KindDBPersist
	KindCycleDetected
	KindTaskNotFound
	KindDependencyNotFound
	KindInvalidInput
	KindMaxIterations
)

func (k Kind) String() string {
	switch k {
	case KindProviderTransport:
		return "provider_transport"
	case KindProviderAuth:
		return "provider_auth"
	case KindProviderPayment:
		return "provider_payment"
	case KindProviderProtocol:
		return "provider_protocol"
	case KindToolNotAllowed:
		return "tool_not_allowed"
	case KindToolExecution:
		return "tool_execution"
	case KindPermissionDenied:
		return "permission_denied"
	case KindDBPersist:
		return "db_persist"
	case KindCycleDetected:
		return "cycle_detected"
	case KindTaskNotFound:
		return "task_not_found"
	case KindDependencyNotFound:
		return "dependency_not_found"
	case KindInvalidInput:
		return "invalid_input"
	case KindMaxIterations:
		return "max_iterations"
	default:
		return "unknown"
	}
}

// Error is a typed application error carrying a recovery Kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a typed error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a typed error wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// Sentinel errors for simple equality checks (errors.Is) where no extra
// context is needed.
var (
	ErrCycleDetected     = New(KindCycleDetected, "dependency cycle detected")
	ErrTaskNotFound      = New(KindTaskNotFound, "task not found")
	ErrDependencyNotFound = New(KindDependencyNotFound, "dependency not found")
	ErrMaxIterations     = New(KindMaxIterations, "max iterations reached")
)
