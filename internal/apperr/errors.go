// Package apperr defines the business-rule failures the engine reports to callers.
package apperr

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindValidation          Kind = "validation_error"
	KindInsufficientMargin  Kind = "insufficient_margin"
	KindCreditLimitExceeded Kind = "credit_limit_exceeded"
	KindLeverageExceeded    Kind = "leverage_exceeded"
	KindPriceUnavailable    Kind = "price_unavailable"
	KindOrderNotPending     Kind = "order_not_pending"
	KindConditionNotMet     Kind = "condition_not_met"
	KindPersistence         Kind = "persistence_error"
	KindNotFound            Kind = "not_found"
)

// Error is a typed engine failure. Limit carries the computed bound for
// rejections such as CreditLimitExceeded so callers can show it.
type Error struct {
	Kind    Kind
	Message string
	Limit   *decimal.Decimal
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrValidation          = &Error{Kind: KindValidation, Message: "validation error"}
	ErrInsufficientMargin  = &Error{Kind: KindInsufficientMargin, Message: "insufficient margin"}
	ErrCreditLimitExceeded = &Error{Kind: KindCreditLimitExceeded, Message: "credit limit exceeded"}
	ErrLeverageExceeded    = &Error{Kind: KindLeverageExceeded, Message: "leverage exceeded"}
	ErrPriceUnavailable    = &Error{Kind: KindPriceUnavailable, Message: "price unavailable"}
	ErrOrderNotPending     = &Error{Kind: KindOrderNotPending, Message: "order is not pending"}
	ErrConditionNotMet     = &Error{Kind: KindConditionNotMet, Message: "price condition not met"}
	ErrPersistence         = &Error{Kind: KindPersistence, Message: "persistence error"}
	ErrNotFound            = &Error{Kind: KindNotFound, Message: "not found"}
)

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithLimit attaches the bound the request violated.
func WithLimit(kind Kind, msg string, limit decimal.Decimal) *Error {
	return &Error{Kind: kind, Message: msg, Limit: &limit}
}

func Validation(format string, args ...any) *Error {
	return Newf(KindValidation, format, args...)
}

// Persistence wraps a store failure. Errors that already carry a kind pass through.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindPersistence, Message: "failed to " + op, Err: err}
}

// KindOf reports the kind of err, or "" for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// LimitOf returns the limit attached to err, if any.
func LimitOf(err error) (decimal.Decimal, bool) {
	var e *Error
	if errors.As(err, &e) && e.Limit != nil {
		return *e.Limit, true
	}
	return decimal.Zero, false
}
