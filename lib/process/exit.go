// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"os"

	"github.com/bureau-foundation/workforest/lib/schema"
)

// Exit codes shared by workforest binaries.
const (
	ExitFailure = 1

	// ExitAlreadyRunning means another daemon already owns the data
	// directory. Launchers treat it as success.
	ExitAlreadyRunning = 3
)

// ExitCode maps err to the process exit code.
func ExitCode(err error) int {
	if schema.IsKind(err, schema.KindAlreadyRunning) {
		return ExitAlreadyRunning
	}
	return ExitFailure
}

// Fatal writes "error: err" to stderr and exits with ExitCode(err).
// Use it in main() for errors from run() where the structured logger
// may not be initialized.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(ExitCode(err))
}
