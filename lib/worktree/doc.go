// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package worktree allocates and releases the git worktrees that back
// agents. It is the only code that creates or deletes worktree
// directories.
//
// Worktrees live at <root>/<repository id>/<agent id>. The directory
// name comes from the agent id, never from branch text, so a branch
// name can neither escape the root nor collide with another agent.
//
// Git keeps linked-worktree metadata in the main repository's .git
// directory and does not tolerate concurrent mutation of it, so every
// operation on one repository runs under that repository's lock: an
// in-process mutex plus a flock(2) lock file, which also keeps a
// second daemon or a stray CLI invocation out. Different repositories
// proceed independently. A weighted semaphore caps the number of git
// processes running at once across all repositories.
package worktree
