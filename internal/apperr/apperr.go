// Package apperr defines the error taxonomy shared by the services and the
// HTTP layer. Services return *Error values (usually package-level sentinels)
// and the handlers translate the Kind into a status code.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	Unknown Kind = iota
	InvalidInput
	NotFound
	Forbidden
	Unauthorized
	Conflict
	Expired
	LicenseRequired
	Misconfigured
	UpstreamFailure
	InvalidSignature
	RateLimited
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	case Unauthorized:
		return "unauthorized"
	case Conflict:
		return "conflict"
	case Expired:
		return "expired"
	case LicenseRequired:
		return "license_required"
	case Misconfigured:
		return "misconfigured"
	case UpstreamFailure:
		return "upstream_failure"
	case InvalidSignature:
		return "invalid_signature"
	case RateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by code so a wrapped copy still compares equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code != "" && e.Code == t.Code
}

// Wrap attaches a cause to a sentinel without mutating it.
func Wrap(sentinel *Error, err error) *Error {
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Message: sentinel.Message, Err: err}
}

// Upstream marks a store or gateway failure.
func Upstream(err error) *Error {
	return &Error{Kind: UpstreamFailure, Code: "UPSTREAM_FAILURE", Message: "upstream call failed", Err: err}
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidInput, InvalidSignature:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden, LicenseRequired:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Expired:
		return http.StatusGone
	case RateLimited:
		return http.StatusTooManyRequests
	case Misconfigured:
		return http.StatusServiceUnavailable
	case UpstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Public reports whether the error message may be shown to the client.
func Public(err error) bool {
	switch KindOf(err) {
	case Unknown, UpstreamFailure:
		return false
	}
	return true
}
