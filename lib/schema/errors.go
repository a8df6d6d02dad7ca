// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"errors"
	"fmt"
)

// Kind classifies a failure reported to a client. The set is closed:
// the protocol server maps every error to one of these before replying.
type Kind string

const (
	// KindNotFound: unknown repository, agent, or session id.
	KindNotFound Kind = "not_found"

	// KindConflict: duplicate session start, duplicate repository,
	// worktree path collision.
	KindConflict Kind = "conflict"

	// KindBusy: release or removal attempted while a session is live.
	KindBusy Kind = "busy"

	// KindInvalidTransition: a session state change the lifecycle
	// does not allow.
	KindInvalidTransition Kind = "invalid_transition"

	// KindAllocation: git refused to create or resolve a worktree.
	KindAllocation Kind = "allocation"

	// KindIO: filesystem or process spawn failure.
	KindIO Kind = "io"

	// KindAlreadyRunning: another daemon owns the data directory.
	KindAlreadyRunning Kind = "already_running"

	// KindInvalidRequest: malformed or unsupported request fields.
	KindInvalidRequest Kind = "invalid_request"

	// KindInternal: anything unclassified. Seeing this on a client is
	// a daemon bug.
	KindInternal Kind = "internal"
)

// Error is a classified failure. It crosses the protocol boundary as
// {kind, message}; Cause is local to the process that created it.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error with the same Kind, so callers can write
// errors.Is(err, &schema.Error{Kind: schema.KindBusy}).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind && other.Message == ""
}

// Errorf returns an *Error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause under kind. The message is prepended to the
// cause's text when the error is printed.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal when err carries no classification. KindOf(nil) is "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
