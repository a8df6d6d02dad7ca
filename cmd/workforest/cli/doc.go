// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework behind the workforest CLI: a
// tree of [Command] values dispatched by name, flags bound from struct
// tags ([FlagsFromParams]), --json output ([JSONOutput]), and
// [DaemonConfig] for commands that talk to the running daemon.
//
// Unknown commands and flags get a "did you mean" suggestion based on
// edit distance.
package cli
