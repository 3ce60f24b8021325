// Package apperr defines the error taxonomy returned by the ledger engine.
//
// Every error that leaves the service layer is an *Error carrying a Kind.
// Callers branch on the kind with errors.Is against the package sentinels:
//
//	if errors.Is(err, apperr.ErrInsufficientFunds) { ... }
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindInvalidRequest: malformed amount or kind, rejected before any lock or storage access.
	KindInvalidRequest
	// KindNotFound: account missing or not owned by the caller.
	KindNotFound
	// KindInsufficientFunds: the operation would drive the balance negative.
	KindInsufficientFunds
	// KindBusy: exclusivity or the commit did not complete within budget. Safe to retry.
	KindBusy
	// KindConflict: a transaction id or idempotency key is already taken.
	KindConflict
	// KindStorageFailure: the atomic commit failed; nothing was persisted. Safe to retry.
	KindStorageFailure
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "InvalidRequest"
	case KindNotFound:
		return "NotFound"
	case KindInsufficientFunds:
		return "InsufficientFunds"
	case KindBusy:
		return "Busy"
	case KindConflict:
		return "Conflict"
	case KindStorageFailure:
		return "StorageFailure"
	default:
		return "Unknown"
	}
}

// Retryable reports whether a failure of this kind left no partial effect
// and may be resubmitted unchanged.
func (k Kind) Retryable() bool {
	return k == KindBusy || k == KindStorageFailure
}

// Error is the typed engine error.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "transaction.submit"
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	default:
		return msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Err == nil
}

var (
	ErrInvalidRequest    = &Error{Kind: KindInvalidRequest}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
	ErrBusy              = &Error{Kind: KindBusy}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrStorageFailure    = &Error{Kind: KindStorageFailure}
)

// New builds an *Error of the given kind.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap builds an *Error of the given kind around cause.
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
