// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements "workforest agent": creating agents,
// running their sessions, and reading session output.
package agent

import "github.com/bureau-foundation/workforest/cmd/workforest/cli"

// Command returns the "agent" command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "agent",
		Summary: "Create agents and manage their sessions",
		Description: `Create agents and manage their sessions.

An agent owns a git worktree on its own branch. A session is one run of
the agent's tool (or any command) in that worktree. Agents are named by
id or by label (agent-xxxxxxxx).`,
		Subcommands: []*cli.Command{
			createCommand(),
			listCommand(),
			deleteCommand(),
			startCommand(),
			stopCommand(),
			restartCommand(),
			sessionsCommand(),
			outputCommand(),
		},
	}
}
