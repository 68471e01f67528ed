// Package grammar implements the identifiers, destinations, and instruction
// grammar that every other package in the mesh parses and formats: the
// single-line textual forms that cross the wire and land in audit logs.
package grammar

import (
	"errors"
	"fmt"
)

// Kind classifies a mesh error so callers can branch with errors.Is/As
// without parsing message text.
type Kind int

const (
	KindUnknown Kind = iota
	KindParse
	KindMisconfigured
	KindInvalidInstruction
	KindInvalidPeer
	KindUnknownPeer
	KindMissingAgent
	KindNotFound
	KindDuplicate
	KindExpired
	KindLocked
	KindLogin
	KindCall
	KindState
	KindInvalidState
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "Parse"
	case KindMisconfigured:
		return "Misconfigured"
	case KindInvalidInstruction:
		return "InvalidInstruction"
	case KindInvalidPeer:
		return "InvalidPeer"
	case KindUnknownPeer:
		return "UnknownPeer"
	case KindMissingAgent:
		return "MissingAgent"
	case KindNotFound:
		return "NotFound"
	case KindDuplicate:
		return "Duplicate"
	case KindExpired:
		return "Expired"
	case KindLocked:
		return "Locked"
	case KindLogin:
		return "Login"
	case KindCall:
		return "Call"
	case KindState:
		return "State"
	case KindInvalidState:
		return "InvalidState"
	default:
		return "Unknown"
	}
}

// Error is the mesh-wide typed error: a Kind plus a message, optionally
// wrapping an underlying cause. It formats the way the bridge surfaces
// failures to callers: "<Kind>Error{message}", e.g. "NotFoundError{...}".
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%sError{}", e.Kind)
	}
	return fmt.Sprintf("%sError{%s}", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, &grammar.Error{Kind: grammar.KindNotFound})
// style checks: a target with an empty Message matches any error of that
// Kind; a target with a Message matches only that exact message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// New builds a Kind-tagged error with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error with a Kind, preserving it as the cause.
func Wrap(kind Kind, cause error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Sentinel values for errors.Is comparisons. Each carries a message, so it
// matches only errors of its Kind whose message is exactly that text.
var (
	ErrNotFound  = &Error{Kind: KindNotFound, Message: "not found"}
	ErrDuplicate = &Error{Kind: KindDuplicate, Message: "duplicate"}
	ErrExpired   = &Error{Kind: KindExpired, Message: "expired"}
)

// KindOf returns the Kind of err if it is (or wraps) a *Error, else KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
