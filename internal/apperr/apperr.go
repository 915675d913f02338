// Package apperr defines the error taxonomy shared by every component
// boundary. Handlers branch on Kind only; the wrapped cause is for logs.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation          Kind = "validation_error"
	KindMissingAuth         Kind = "missing_api_key"
	KindInvalidCredential   Kind = "invalid_api_key"
	KindNotActive           Kind = "agent_not_active"
	KindSuspended           Kind = "agent_suspended"
	KindRateLimited         Kind = "rate_limited"
	KindNotFound            Kind = "not_found"
	KindExpired             Kind = "expired"
	KindVerificationFailed  Kind = "verification_failed"
	KindAlreadyClaimed      Kind = "already_claimed"
	KindAlreadyPurchased    Kind = "already_purchased"
	KindNameTaken           Kind = "name_taken"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindPaymentFailed       Kind = "payment_failed"
	KindForbidden           Kind = "forbidden"
	KindInternal            Kind = "internal_error"
)

// InternalMessage is the only text an internal error ever shows a caller.
const InternalMessage = "internal server error"

type Error struct {
	Kind    Kind
	Message string
	Meta    map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// PublicMessage hides internal detail.
func (e *Error) PublicMessage() string {
	if e.Kind == KindInternal {
		return InternalMessage
	}
	return e.Message
}

// WithMeta returns e with an extra metadata field set. Meta is shown to
// callers, so it must never hold secrets.
func (e *Error) WithMeta(key string, value any) *Error {
	if e.Meta == nil {
		e.Meta = make(map[string]any)
	}
	e.Meta[key] = value
	return e
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Internal(message string, err error) *Error {
	return Wrap(KindInternal, message, err)
}

// From returns err as *Error. Anything that is not already classified is
// treated as internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("unexpected error", err)
}

func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return From(err).Kind
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindVerificationFailed:
		return http.StatusBadRequest
	case KindMissingAuth, KindInvalidCredential:
		return http.StatusUnauthorized
	case KindNotActive, KindSuspended, KindForbidden:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindExpired:
		return http.StatusGone
	case KindAlreadyClaimed, KindAlreadyPurchased, KindNameTaken:
		return http.StatusConflict
	case KindInsufficientBalance:
		return http.StatusPaymentRequired
	case KindPaymentFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
