package domain

import (
	"errors"
	"fmt"
)

// Kind classifies every failure a caller can observe.
type Kind string

const (
	KindValidation Kind = "validation_failure"
	KindAuthHard   Kind = "auth_failure_hard"
	KindAuthSoft   Kind = "auth_failure_soft"
	KindPermission Kind = "permission_failure"
	KindNotFound   Kind = "not_found"
	KindServer     Kind = "server_failure"
	KindNetwork    Kind = "network_failure"
	// KindRejected covers application codes outside the auth/permission/not-found/5xx
	// families, e.g. a 400 "out of stock" business rule.
	KindRejected Kind = "rejected"
)

// Error is the normalized {kind, message} outcome surfaced to callers.
type Error struct {
	Kind    Kind
	Message string
	// Code is the application (or HTTP) status code that produced the error, 0 when
	// the failure never reached the backend.
	Code int
	Err  error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels below, so errors.Is(err, domain.ErrNotFound) works for
// any *Error of that kind regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Code == 0 && t.Err == nil && t.Kind == e.Kind
}

// Kind sentinels.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrAuthHard   = &Error{Kind: KindAuthHard}
	ErrAuthSoft   = &Error{Kind: KindAuthSoft}
	ErrPermission = &Error{Kind: KindPermission}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrServer     = &Error{Kind: KindServer}
	ErrNetwork    = &Error{Kind: KindNetwork}
	ErrRejected   = &Error{Kind: KindRejected}
)

var ErrInvalidTransition = errors.New("invalid status transition")
var ErrPolicyDenied = errors.New("operation denied by order policy")
var ErrInvalidOrderNo = errors.New("malformed order number")

// NewValidation builds a ValidationFailure. cause may be nil.
func NewValidation(msg string, cause error) *Error {
	return &Error{Kind: KindValidation, Message: msg, Err: cause}
}

// KindOf reports the Kind carried by err, or "" when err is nil or unclassified.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsSoftAuth reports whether err is a swallowed-after-retry auth failure.
func IsSoftAuth(err error) bool {
	return errors.Is(err, ErrAuthSoft)
}
