// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for workforest
// packages.
//
// [InitRepository] creates a real git repository with one commit in a
// temporary directory. Worktree, supervisor, and daemon tests run
// against real git rather than a fake so that metadata cleanup is
// verified against the tool that owns it.
//
// [RequireReceive], [RequireSend], [RequireClosed], and
// [RequireNoReceive] encapsulate the select-with-timeout safety valve
// so individual tests do not need direct time.After calls.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation, such as branch names shared across parallel tests.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no workforest-internal dependencies.
package testutil
