// Package memerr implements the core error taxonomy shared by every
// component of the memory engine. Every error surfaced above the storage
// layer is a *Error so the JSON-RPC transport can map it to a stable
// error code without re-deriving the kind from a string message.
package memerr

import (
	"errors"
	"fmt"
)

// Kind discriminates the abstract error taxonomy.
type Kind string

const (
	KindInvalidInput         Kind = "invalid_input"
	KindEntityNotFound       Kind = "entity_not_found"
	KindInvalidContext       Kind = "invalid_context"
	KindDuplicateEntity      Kind = "duplicate_entity"
	KindConfirmationRequired Kind = "confirmation_required"
	KindRateLimited          Kind = "rate_limited"
	KindTransactionInProg    Kind = "transaction_in_progress"
	KindNoActiveTransaction  Kind = "no_active_transaction"
	KindTransactionTimeout   Kind = "transaction_timeout"
	KindDataCorruption       Kind = "data_corruption"
	KindBackupFailed         Kind = "backup_failed"
	KindRestoreFailed        Kind = "restore_failed"
	KindInvalidBackupFormat  Kind = "invalid_backup_format"
	KindBackupCorrupted      Kind = "backup_corrupted"
	KindCircuitOpen          Kind = "circuit_open"
	KindTimeout              Kind = "timeout"
	KindConflict             Kind = "conflict"
	KindContextNotEmpty      Kind = "context_not_empty"
	KindInternal             Kind = "internal"
)

// Error is the single error type used across the core. It carries enough
// structure for the JSON-RPC transport to build a stable error-code
// response without string matching.
type Error struct {
	Kind Kind
	// Message is a user-friendly description.
	Message string
	// Suggestion is a suggested corrective action, shown to the caller.
	Suggestion string
	// Detail is a technical detail string, useful in logs but not
	// necessarily surfaced to an end user.
	Detail string
	// Context carries structured key/value pairs describing the failure
	// (entity name, context name, retry-after seconds, ...).
	Context map[string]any
	// Err is the wrapped underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Detail)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a bare *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a *Error of the given kind around an existing error.
func Wrap(kind Kind, message string, err error) *Error {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return &Error{Kind: kind, Message: message, Detail: detail, Err: err}
}

// WithContext attaches structured context and returns the receiver for
// chaining at the call site.
func (e *Error) WithContext(kv map[string]any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any, len(kv))
	}
	for k, v := range kv {
		e.Context[k] = v
	}
	return e
}

// WithSuggestion attaches a suggested corrective action.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error,
// otherwise returns KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is (or wraps) a *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Convenience constructors for the most frequently raised kinds.

func InvalidInput(format string, args ...any) *Error {
	return New(KindInvalidInput, fmt.Sprintf(format, args...))
}

func EntityNotFound(name string) *Error {
	return New(KindEntityNotFound, fmt.Sprintf("entity not found: %s", name)).
		WithContext(map[string]any{"name": name})
}

func InvalidContext(name string) *Error {
	return New(KindInvalidContext, fmt.Sprintf("unknown context: %s", name)).
		WithContext(map[string]any{"context": name})
}

func ConfirmationRequired(op string) *Error {
	return New(KindConfirmationRequired, fmt.Sprintf("operation %q is destructive and requires confirm:true", op)).
		WithSuggestion("retry the call with confirm: true")
}

func RateLimited(toolClass string, retryAfterSeconds float64) *Error {
	return New(KindRateLimited, fmt.Sprintf("rate limit exceeded for %s", toolClass)).
		WithContext(map[string]any{"retry_after_seconds": retryAfterSeconds, "tool_class": toolClass})
}

func CircuitOpen(context string) *Error {
	return New(KindCircuitOpen, fmt.Sprintf("resilience circuit open for context %q", context)).
		WithSuggestion("retry shortly; the circuit will half-open automatically")
}

func Internal(err error) *Error {
	return Wrap(KindInternal, "internal error", err)
}
