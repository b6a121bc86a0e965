package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so transports can translate them.
type ErrorKind string

// Error kinds surfaced at the request boundary.
const (
	KindInternal           ErrorKind = "internal"
	KindNotFound           ErrorKind = "not_found"
	KindUnauthorized       ErrorKind = "unauthorized"
	KindBadRequest         ErrorKind = "bad_request"
	KindServiceUnavailable ErrorKind = "service_unavailable"
)

// Error is a classified domain failure.
type Error struct {
	Kind    ErrorKind
	Entity  EntityType
	ID      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Entity != "" {
		msg = fmt.Sprintf("%s %q not found", e.Entity, e.ID)
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound reports a reference that does not resolve.
func NotFound(entity EntityType, id string) error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id}
}

// Unauthorized reports a permission failure.
func Unauthorized(format string, args ...any) error {
	return &Error{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

// BadRequest reports malformed or disallowed input.
func BadRequest(format string, args ...any) error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

// ServiceUnavailable reports a failed external dependency.
func ServiceUnavailable(message string, err error) error {
	return &Error{Kind: KindServiceUnavailable, Message: message, Err: err}
}

// KindOf classifies err. Blocking rule violations count as bad requests.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	var rv RuleViolationError
	if errors.As(err, &rv) {
		return KindBadRequest
	}
	return KindInternal
}

// IsNotFound reports whether err is a NotFound failure.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }
