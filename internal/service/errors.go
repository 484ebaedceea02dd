package service

import (
	"errors"
	"net/http"
)

type ErrorKind string

const (
	KindInvalidInput          ErrorKind = "INVALID_INPUT"
	KindAlreadyRegistered     ErrorKind = "ALREADY_REGISTERED"
	KindTooManyAttempts       ErrorKind = "TOO_MANY_ATTEMPTS"
	KindUnsupportedChannel    ErrorKind = "UNSUPPORTED_CHANNEL"
	KindNotFound              ErrorKind = "NOT_FOUND"
	KindInvalidCode           ErrorKind = "INVALID_CODE"
	KindCodeExpired           ErrorKind = "CODE_EXPIRED"
	KindInvalidCredentials    ErrorKind = "INVALID_CREDENTIALS"
	KindDeliveryFailed        ErrorKind = "DELIVERY_FAILED"
	KindInvalidOrExpiredToken ErrorKind = "INVALID_OR_EXPIRED_TOKEN"
	KindPasswordMismatch      ErrorKind = "PASSWORD_MISMATCH"
	KindUnauthenticated       ErrorKind = "UNAUTHENTICATED"
	KindInternal              ErrorKind = "INTERNAL"
)

const internalMessage = "Internal server error."

// Error is returned by every AccountService operation. Err keeps the cause
// for logging and is never shown to callers.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
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

// Status maps the kind onto an HTTP status class.
func (e *Error) Status() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindInternal, KindDeliveryFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// PublicMessage is safe to send to a client.
func (e *Error) PublicMessage() string {
	if e.Kind == KindInternal {
		return internalMessage
	}
	return e.Message
}

func newError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func wrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func internalError(err error) *Error {
	return &Error{Kind: KindInternal, Message: internalMessage, Err: err}
}

// KindOf returns the kind of a service error, or KindInternal for anything else.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
