// Package errors defines the runtime's error taxonomy: a fixed set of
// kinds (not Go types) that every boundary component constructs instead of
// ad hoc strings, so callers can branch on Kind() rather than parsing
// Error() text.
package errors

import "fmt"

// Kind identifies a taxonomy entry. Kinds are comparable values, not error
// types, so a single Error struct carries any of them.
type Kind string

const (
	KindValidation              Kind = "ValidationError"
	KindUnknownTool             Kind = "UnknownTool"
	KindPolicyDenied            Kind = "PolicyDenied"
	KindConfirmationRejected    Kind = "ConfirmationRejected"
	KindConfirmationTimeout     Kind = "ConfirmationTimeout"
	KindProviderConnection      Kind = "ProviderConnection"
	KindProviderContextOverflow Kind = "ProviderContextOverflow"
	KindProviderStreamError     Kind = "ProviderStreamError"
	KindTransportConnection     Kind = "TransportConnection"
	KindTransportTimeout        Kind = "TransportTimeout"
	KindHookTimeout             Kind = "HookTimeout"
	KindHookCrash               Kind = "HookCrash"
	KindHookUntrusted           Kind = "HookUntrusted"
	KindFileNotFound            Kind = "FileNotFound"
	KindEditTargetNotFound      Kind = "EditTargetNotFound"
	KindEditTargetAmbiguous     Kind = "EditTargetAmbiguous"
	KindShellTimeout            Kind = "ShellTimeout"
	KindShellIdleTimeout        Kind = "ShellIdleTimeout"
	KindShellNonZeroExit        Kind = "ShellNonZeroExit"
	KindSnapshotCorrupt         Kind = "SnapshotCorrupt"
	KindMemoryCritical          Kind = "MemoryCritical"
	KindAborted                 Kind = "Aborted"
)

// retryable holds which kinds the propagation policy treats as transient
// infrastructure failures eligible for a boundary-local retry. Semantic
// failures (validation, policy, confirmation) are never retried.
var retryable = map[Kind]bool{
	KindProviderConnection:      true,
	KindProviderContextOverflow: true,
	KindTransportConnection:     true,
	KindTransportTimeout:        true,
	KindHookTimeout:             true,
	KindHookCrash:               true,
	KindSnapshotCorrupt:         true,
	KindMemoryCritical:          true,
}

// Retryable reports whether a transient failure of this kind should be
// retried by the component that owns the boundary (provider adapter, MCP
// health monitor, hook runner, storage layer) rather than surfaced as-is.
func (k Kind) Retryable() bool {
	return retryable[k]
}

// Error is the concrete error value every taxonomy kind is wrapped in.
type Error struct {
	kind    Kind
	message string
	cause   error
}

// New constructs a taxonomy error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

// Wrap constructs a taxonomy error around an existing cause, preserving it
// for errors.As/errors.Unwrap.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{kind: kind, message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

// Kind returns the taxonomy entry this error represents.
func (e *Error) Kind() Kind { return e.kind }

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether this error's kind is a transient infrastructure
// failure eligible for a boundary-local retry.
func (e *Error) Retryable() bool { return e.kind.Retryable() }

// Is reports whether err is a taxonomy Error of the given kind.
func Is(err error, kind Kind) bool {
	var te *Error
	if as, ok := err.(*Error); ok {
		te = as
	} else {
		return false
	}
	return te.kind == kind
}
