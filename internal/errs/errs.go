// Package errs carries the recoverable error taxonomy shared by the billing
// services. The boundary layer maps kinds to transport responses; services
// return these unchanged instead of wrapping them.
package errs

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindUnknown           Kind = "unknown"
	KindNotFound          Kind = "not_found"
	KindValidation        Kind = "validation"
	KindDuplicate         Kind = "duplicate_transaction"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindAlreadyOwned      Kind = "already_owned"
	KindRateLimited       Kind = "rate_limited"
	KindTransient         Kind = "transient"
)

// Error is a user-facing billing error. Meta carries structured detail the
// caller may display, such as required/available amounts.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Meta    map[string]any
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func NotFound(code, message string) *Error {
	return New(KindNotFound, code, message)
}

func Validation(code, message string) *Error {
	return New(KindValidation, code, message)
}

// Duplicate marks a (product, user, reference) collision. Callers must treat
// it as success-already-applied, not as a fatal failure.
func Duplicate(code, message string) *Error {
	return New(KindDuplicate, code, message)
}

func InsufficientFunds(required, available decimal.Decimal) *Error {
	return &Error{
		Kind:    KindInsufficientFunds,
		Code:    "insufficient_funds",
		Message: fmt.Sprintf("requires %s but only %s is available", required.String(), available.String()),
		Meta: map[string]any{
			"required":  required.String(),
			"available": available.String(),
		},
	}
}

func AlreadyOwned(code, message string) *Error {
	return New(KindAlreadyOwned, code, message)
}

func RateLimited(code, message string) *Error {
	return New(KindRateLimited, code, message)
}

// Transient marks a retryable fault such as a serialization conflict. The
// request failed with no partial state; the caller may retry.
func Transient(code, message string) *Error {
	return New(KindTransient, code, message)
}

// KindOf extracts the kind from an error chain, KindUnknown when the error
// is not one of ours.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
