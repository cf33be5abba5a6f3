// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

// Package apperr defines the error taxonomy shared by every SafeVision component.
//
// Remote failures are classified once, at the gateway boundary, into a Kind.
// Callers branch on the kind with errors.Is against the Err* sentinels:
//
//	if errors.Is(err, apperr.ErrDeviceNotConfigured) { ... }
//
// or extract the full detail with errors.As:
//
//	var e *apperr.Error
//	if errors.As(err, &e) { log.Int("status", e.Status) }
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	Unknown Kind = iota
	InvalidCredentials
	Unreachable
	AuthExpired
	Forbidden
	NotFound
	DeviceNotConfigured
	ActivationFailed
	DeactivationFailed
	AckConflict
	ServerError
	MalformedMessage
	BadRequest
)

var kindNames = map[Kind]string{
	Unknown:             "UNKNOWN",
	InvalidCredentials:  "INVALID_CREDENTIALS",
	Unreachable:         "UNREACHABLE",
	AuthExpired:         "AUTH_EXPIRED",
	Forbidden:           "FORBIDDEN",
	NotFound:            "NOT_FOUND",
	DeviceNotConfigured: "DEVICE_NOT_CONFIGURED",
	ActivationFailed:    "ACTIVATION_FAILED",
	DeactivationFailed:  "DEACTIVATION_FAILED",
	AckConflict:         "ACK_CONFLICT",
	ServerError:         "SERVER_ERROR",
	MalformedMessage:    "MALFORMED_MESSAGE",
	BadRequest:          "BAD_REQUEST",
}

// String returns the upper snake case code of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[Unknown]
}

// KindFromCode maps a code string (as produced by Kind.String) back to a Kind.
func KindFromCode(code string) (Kind, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for k, name := range kindNames {
		if name == code {
			return k, true
		}
	}
	return Unknown, false
}

// HTTPStatus is the status the local control API answers with for this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidCredentials, AuthExpired:
		return 401
	case Forbidden:
		return 403
	case NotFound:
		return 404
	case AckConflict:
		return 409
	case DeviceNotConfigured, BadRequest:
		return 400
	case Unreachable, ActivationFailed, DeactivationFailed:
		return 502
	default:
		return 500
	}
}

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Op      string // operation, e.g. "gateway.Acknowledge"
	Status  int    // HTTP status when the failure came from a response, 0 otherwise
	Message string // user-presentable message
	Err     error  // underlying cause
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(strings.ToLower(e.Kind.String()))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, which makes the Err* sentinels work
// with errors.Is regardless of Op, Status or Message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// UserMessage returns Message or, when empty, the default text for the kind.
func (e *Error) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return DefaultMessage(e.Kind)
}

// Sentinels for errors.Is.
var (
	ErrUnknown             = &Error{Kind: Unknown}
	ErrInvalidCredentials  = &Error{Kind: InvalidCredentials}
	ErrUnreachable         = &Error{Kind: Unreachable}
	ErrAuthExpired         = &Error{Kind: AuthExpired}
	ErrForbidden           = &Error{Kind: Forbidden}
	ErrNotFound            = &Error{Kind: NotFound}
	ErrDeviceNotConfigured = &Error{Kind: DeviceNotConfigured}
	ErrActivationFailed    = &Error{Kind: ActivationFailed}
	ErrDeactivationFailed  = &Error{Kind: DeactivationFailed}
	ErrAckConflict         = &Error{Kind: AckConflict}
	ErrServerError         = &Error{Kind: ServerError}
	ErrMalformedMessage    = &Error{Kind: MalformedMessage}
	ErrBadRequest          = &Error{Kind: BadRequest}
)

// New creates a classified error without an underlying cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Reclassify returns a copy of err with a new kind and op, keeping status,
// message and cause. Non-*Error values are wrapped.
func Reclassify(err error, kind Kind, op string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		cp := *e
		cp.Kind = kind
		cp.Op = op
		cp.Err = err
		return &cp
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err, or Unknown when err carries no classification.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// UserMessage returns a presentable message for any error.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.UserMessage()
	}
	if err == nil {
		return ""
	}
	return DefaultMessage(Unknown)
}

// DefaultMessage is the fallback user text for a kind.
func DefaultMessage(k Kind) string {
	switch k {
	case InvalidCredentials:
		return "invalid username or password"
	case Unreachable:
		return "server unavailable, check your connection"
	case AuthExpired:
		return "session expired, please log in again"
	case Forbidden:
		return "you do not have permission to perform this action"
	case NotFound:
		return "resource not found on the server"
	case DeviceNotConfigured:
		return "no camera configured, update your profile first"
	case ActivationFailed:
		return "could not activate protection"
	case DeactivationFailed:
		return "could not deactivate protection, the device is still armed"
	case AckConflict:
		return "alert could not be acknowledged"
	case ServerError:
		return "internal server error, contact support"
	case MalformedMessage:
		return "received a malformed alert"
	case BadRequest:
		return "invalid data"
	default:
		return "an unexpected error occurred, please try again"
	}
}
