package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindFetchTimeout
	KindFetchTransport
	KindFetchEmptyBody
	KindFetchParse
	KindBundleTimeout
	KindBundleTransport
	KindBundleDecode
	KindLocationServiceDisabled
	KindLocationInitTimeout
	KindLocationUnavailable
	KindNoAugmentsAtLocation
	KindObjectConstruction
)

func (k ErrorKind) String() string {
	switch k {
	case KindFetchTimeout:
		return "fetch_timeout"
	case KindFetchTransport:
		return "fetch_transport_error"
	case KindFetchEmptyBody:
		return "fetch_empty_body"
	case KindFetchParse:
		return "fetch_parse_error"
	case KindBundleTimeout:
		return "bundle_timeout"
	case KindBundleTransport:
		return "bundle_transport_error"
	case KindBundleDecode:
		return "bundle_decode_error"
	case KindLocationServiceDisabled:
		return "location_service_disabled"
	case KindLocationInitTimeout:
		return "location_init_timeout"
	case KindLocationUnavailable:
		return "location_unavailable"
	case KindNoAugmentsAtLocation:
		return "no_augments_at_location"
	case KindObjectConstruction:
		return "object_construction_error"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per kind. Match with errors.Is.
var (
	ErrFetchTimeout            = &Error{Kind: KindFetchTimeout}
	ErrFetchTransport          = &Error{Kind: KindFetchTransport}
	ErrFetchEmptyBody          = &Error{Kind: KindFetchEmptyBody}
	ErrFetchParse              = &Error{Kind: KindFetchParse}
	ErrBundleTimeout           = &Error{Kind: KindBundleTimeout}
	ErrBundleTransport         = &Error{Kind: KindBundleTransport}
	ErrBundleDecode            = &Error{Kind: KindBundleDecode}
	ErrLocationServiceDisabled = &Error{Kind: KindLocationServiceDisabled}
	ErrLocationInitTimeout     = &Error{Kind: KindLocationInitTimeout}
	ErrLocationUnavailable     = &Error{Kind: KindLocationUnavailable}
	ErrNoAugmentsAtLocation    = &Error{Kind: KindNoAugmentsAtLocation}
	ErrObjectConstruction      = &Error{Kind: KindObjectConstruction}
)

// Error is a classified engine failure. Message is what the user sees.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewError builds an Error of the given kind.
func NewError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// UserMessage returns the text shown for err.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
