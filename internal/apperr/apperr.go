// Package apperr holds the error taxonomy shared by the billing and notification clients.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindPayment
	KindFetch
	KindServer
	KindNotFound
	KindCreate
	KindConflict
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPayment:
		return "payment"
	case KindFetch:
		return "fetch"
	case KindServer:
		return "server"
	case KindNotFound:
		return "not_found"
	case KindCreate:
		return "create"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by remote-call wrappers and stores.
// Message is safe to show to the user as-is.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Status  int
	Code    string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: err.Error(), Err: err}
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the user-facing message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func Validation(op, format string, args ...interface{}) *Error {
	return New(KindValidation, op, fmt.Sprintf(format, args...))
}

func NotFound(op, message string) *Error {
	return New(KindNotFound, op, message)
}

func Conflict(op, message string) *Error {
	return New(KindConflict, op, message)
}

func Unauthorized(op, message string) *Error {
	return New(KindUnauthorized, op, message)
}

// FromStatus classifies a non-2xx HTTP response.
func FromStatus(op string, status int, code, message string) *Error {
	kind := KindServer
	switch {
	case status == 404:
		kind = KindNotFound
	case status == 402 || code == "payment_failed" || code == "card_declined" || code == "payment_method_rejected":
		kind = KindPayment
	case status == 400 || status == 422:
		kind = KindValidation
	case status == 409:
		kind = KindConflict
	case status == 401 || status == 403:
		kind = KindUnauthorized
	}
	if message == "" {
		message = fmt.Sprintf("request failed with status %d", status)
	}
	return &Error{Kind: kind, Op: op, Message: message, Status: status, Code: code}
}
