// Package syncerr defines the error taxonomy shared by the sync engine.
//
// Every error raised while applying a pushed event is classified as either
// permanent (will never succeed on retry: validation, auth, not-found,
// conflict, business-rule) or retryable (transient infrastructure trouble).
// The client relies on this split to decide between re-queueing an event
// and surfacing it for manual attention.
package syncerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies one class of sync error.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindAuth         Kind = "auth"
	KindPermission   Kind = "permission"
	KindPinRequired  Kind = "pin_required"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindBusinessRule Kind = "business_rule"
	KindTransient    Kind = "transient"
)

// Error is a classified sync error. Code is a stable machine-readable
// identifier (e.g. "NEGATIVE_STOCK", "BAD_REQUEST") carried over the wire.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the error may succeed on a later attempt.
// Only transient errors are retryable; everything else is permanent.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient
}

// Constructors for each taxonomy class.

func Validation(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Auth(format string, args ...any) *Error {
	return &Error{Kind: KindAuth, Code: "UNAUTHORIZED", Message: fmt.Sprintf(format, args...)}
}

func Permission(format string, args ...any) *Error {
	return &Error{Kind: KindPermission, Code: "FORBIDDEN", Message: fmt.Sprintf(format, args...)}
}

func PinRequired(format string, args ...any) *Error {
	return &Error{Kind: KindPinRequired, Code: "PIN_REQUIRED", Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: "NOT_FOUND", Message: fmt.Sprintf(format, args...)}
}

func Conflict(code, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

func BusinessRule(code, format string, args ...any) *Error {
	return &Error{Kind: KindBusinessRule, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Transient(err error) *Error {
	return &Error{Kind: KindTransient, Code: "TRANSIENT", Message: err.Error(), Err: err}
}

// IsRetryable classifies an arbitrary error from the applier boundary.
// A *Error answers for itself; anything untyped (driver failures, I/O)
// is treated as transient so it gets retried rather than dropped.
func IsRetryable(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

// CodeOf returns the wire code for an error, "TRANSIENT" for untyped ones.
func CodeOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return "TRANSIENT"
}

// permanentSignatures are substrings of transport-level error text that
// indicate the whole batch would be rejected again on retry. Used when a
// push fails without per-event results (no response at all).
var permanentSignatures = []string{
	"unauthorized",
	"forbidden",
	"pin required",
	"invalid or expired token",
	"device mismatch",
}

// TransportPermanent reports whether a whole-batch transport failure
// carries an auth/forbidden/PIN signature and should escalate every
// event in the batch to failed_permanent instead of retrying.
func TransportPermanent(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range permanentSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
