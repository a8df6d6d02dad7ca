// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor runs agent processes as sessions and drives their
// lifecycle through the registry.
//
// Each session runs "sh -lc <command>" in the agent's worktree, in its
// own process group so that stopping a session reaches everything the
// command spawned. Combined stdout and stderr go into a per-session
// ring buffer readable with [Supervisor.Output].
//
// One watcher goroutine per process waits for it to exit and records
// the outcome with registry.CompleteSession. Client-driven stops and
// unexpected exits therefore reach subscribers through the same
// mutation path. A process that dies from a signal the supervisor did
// not send ends in the failed state; any other exit ends stopped.
package supervisor
