// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for workforest binaries:
// fatal error reporting before (or after) the structured logger exists,
// and the exit codes launchers rely on.
package process
