// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens workforest's SQLite databases: a small pool
// of zombiezen.com/go/sqlite connections with fixed pragmas and
// numbered schema migrations.
//
// Callers [Pool.Take] a connection, do their work, and [Pool.Put] it
// back. Connections are not safe for concurrent use.
//
// # Pragmas
//
//   - journal_mode=WAL: readers never block the writer.
//   - synchronous=FULL: the agent journal is tiny and rarely written,
//     and losing a row after power loss strands a worktree on disk.
//   - busy_timeout=5000: wait for the write lock instead of failing.
//   - foreign_keys=ON.
//
// # Migrations
//
// [Config].Migrations is an ordered list of SQL scripts. Open applies
// every script past the database's PRAGMA user_version, each in its
// own immediate transaction, and bumps user_version as it goes. Append
// new scripts; never edit one that has shipped.
package sqlitepool
