package alert

import (
	"errors"
	"fmt"
)

// Kind classifies evaluation failures.
type Kind string

// Failure kinds
const (
	KindNoConfiguration  Kind = "NoConfigurationSupplied"
	KindMissingAddress   Kind = "MissingAddress"
	KindInvalidParameter Kind = "InvalidParameter"
	KindTransport        Kind = "TransportFailure"
	KindUnexpectedStatus Kind = "UnexpectedHttpStatus"
	KindDecode           Kind = "DecodeFailure"
	KindAuthentication   Kind = "AuthenticationFailure"
	KindInternal         Kind = "InternalError"
)

const noConfigurationMessage = "There were no configurations supplied to the script."

// Error is an evaluation failure. Message becomes the UNKNOWN label.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, ErrDecode)
// works on any decode failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrNoConfiguration  = &Error{Kind: KindNoConfiguration}
	ErrMissingAddress   = &Error{Kind: KindMissingAddress}
	ErrInvalidParameter = &Error{Kind: KindInvalidParameter}
	ErrTransport        = &Error{Kind: KindTransport}
	ErrUnexpectedStatus = &Error{Kind: KindUnexpectedStatus}
	ErrDecode           = &Error{Kind: KindDecode}
	ErrAuthentication   = &Error{Kind: KindAuthentication}
)

func newError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func wrapError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the failure kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
