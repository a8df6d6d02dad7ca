// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/workforest/lib/process"
)

// ExitUsage is the exit code for bad command-line input.
const ExitUsage = 2

// ExitError makes the CLI exit with Code without printing anything
// more. The command has already written its own output.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns e.Code.
func (e *ExitError) ExitCode() int {
	return e.Code
}

// UsageError is bad command-line input: a wrong argument count, an
// unknown flag or command, a malformed value.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }

func (e *UsageError) Unwrap() error { return e.Err }

// Validation returns a UsageError.
func Validation(format string, args ...any) error {
	return &UsageError{Err: fmt.Errorf(format, args...)}
}

// ExitCode maps a command error to the process exit code: the code of
// an ExitError, ExitUsage for a UsageError, and otherwise the daemon's
// exit code convention.
func ExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var usage *UsageError
	if errors.As(err, &usage) {
		return ExitUsage
	}
	return process.ExitCode(err)
}
