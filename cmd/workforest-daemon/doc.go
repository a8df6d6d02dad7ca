// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Workforest-daemon manages AI coding agents for a set of git
// repositories on one machine. Each agent gets its own git worktree
// and runs its tool as a supervised child process; clients drive the
// daemon over a CBOR protocol on loopback TCP.
//
// # Startup
//
// The daemon loads its configuration (--config, then
// $WORKFOREST_CONFIG, then defaults), takes the instance lock in the
// data directory, binds an ephemeral loopback port and publishes it in
// daemon.json. A second daemon for the same data directory exits with
// code 3. It then registers the repositories listed in repos.toml and
// adopts every journaled agent whose worktree still exists. Sessions
// are never restored: every agent starts idle.
//
// # Persistence
//
// A registry subscriber mirrors changes to disk. Agent creations and
// deletions go to the SQLite agent journal; repository additions and
// removals rewrite repos.toml.
//
// # Shutdown
//
// SIGINT, SIGTERM, or the shutdown action stop every live session
// (SIGTERM to the process group, SIGKILL after the stop grace), drain
// in-flight requests and subscribe streams, and withdraw the discovery
// record.
package main
