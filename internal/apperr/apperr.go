// Package apperr is the error taxonomy shared by handlers and services.
// Every failure a request can hit maps to one Kind, and every Kind maps to
// one HTTP status.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindRateLimit
	KindConfiguration
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRateLimit:
		return "rate_limit"
	case KindConfiguration:
		return "configuration"
	case KindUpstream:
		return "upstream"
	default:
		return "internal"
	}
}

// Status is the HTTP status a Kind is reported with.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a machine-readable Code for the response body and an
// optional Detail that is safe to show the caller.
type Error struct {
	Kind   Kind
	Code   string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Code
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil && e.Err.Error() != e.Detail {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind and Code so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Code == "" || e.Code == t.Code)
}

var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrRateLimited   = &Error{Kind: KindRateLimit}
	ErrNotConfigured = &Error{Kind: KindConfiguration}
	ErrUpstream      = &Error{Kind: KindUpstream}
)

func Validation(code string) *Error {
	return &Error{Kind: KindValidation, Code: code}
}

func RateLimited() *Error {
	return &Error{Kind: KindRateLimit, Code: "rate_limited"}
}

// NotConfigured reports missing server credentials. what names them.
func NotConfigured(what string) *Error {
	return &Error{Kind: KindConfiguration, Code: "server not configured", Detail: what}
}

// Upstream wraps a failed third-party call. The detail is err's text.
func Upstream(code string, err error) *Error {
	e := &Error{Kind: KindUpstream, Code: code, Err: err}
	if err != nil {
		e.Detail = err.Error()
	}
	return e
}

// From returns err as an *Error, wrapping anything unknown as internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Kind: KindInternal, Code: "internal_error", Detail: err.Error(), Err: err}
}

// KindOf is KindInternal for errors outside the taxonomy.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}
