package domain

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind is the stable machine-readable failure class returned to callers.
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation_error"
	KindInsufficientFunds  ErrorKind = "insufficient_funds"
	KindInsufficientShares ErrorKind = "insufficient_shares"
	KindQuoteUnavailable   ErrorKind = "quote_unavailable"
	KindAccountNotFound    ErrorKind = "account_not_found"
	KindInternal           ErrorKind = "internal_error"
)

// QuoteCause refines KindQuoteUnavailable.
type QuoteCause string

const (
	CauseNone          QuoteCause = ""
	CauseNotFound      QuoteCause = "not_found"
	CauseRateLimited   QuoteCause = "rate_limited"
	CauseTimeout       QuoteCause = "timeout"
	CauseProviderError QuoteCause = "provider_error"
)

// Provider failure sentinels. Adapters wrap them with context.
var (
	ErrQuoteNotFound    = errors.New("quote not found")
	ErrQuoteRateLimited = errors.New("quote provider rate limit reached")
	ErrQuoteTimeout     = errors.New("quote provider timed out")
	ErrQuoteProvider    = errors.New("quote provider failure")

	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
	ErrStaleAccount    = errors.New("account was modified concurrently")
)

// Error carries a kind, a human message and the underlying cause.
type Error struct {
	Kind    ErrorKind
	Cause   QuoteCause
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error of the given kind.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validationf builds a validation error.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// QuoteUnavailable collapses a provider failure into the caller-facing kind.
func QuoteUnavailable(symbol string, err error) *Error {
	return &Error{
		Kind:    KindQuoteUnavailable,
		Cause:   QuoteCauseOf(err),
		Message: "quote unavailable for " + symbol,
		Err:     err,
	}
}

// Internal wraps a storage or programming fault.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf returns the kind of err; errors outside the taxonomy are internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, ErrAccountNotFound) {
		return KindAccountNotFound
	}
	return KindInternal
}

// QuoteCauseOf classifies a provider or cache failure.
func QuoteCauseOf(err error) QuoteCause {
	var de *Error
	if errors.As(err, &de) && de.Cause != CauseNone {
		return de.Cause
	}

	switch {
	case err == nil:
		return CauseNone
	case errors.Is(err, ErrQuoteNotFound):
		return CauseNotFound
	case errors.Is(err, ErrQuoteRateLimited):
		return CauseRateLimited
	case errors.Is(err, ErrQuoteTimeout), errors.Is(err, context.DeadlineExceeded):
		return CauseTimeout
	default:
		return CauseProviderError
	}
}
