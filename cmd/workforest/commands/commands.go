// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the workforest CLI command tree.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	agentcmd "github.com/bureau-foundation/workforest/cmd/workforest/agent"
	"github.com/bureau-foundation/workforest/cmd/workforest/cli"
	daemoncmd "github.com/bureau-foundation/workforest/cmd/workforest/daemon"
	repocmd "github.com/bureau-foundation/workforest/cmd/workforest/repo"
	watchcmd "github.com/bureau-foundation/workforest/cmd/workforest/watch"
	"github.com/bureau-foundation/workforest/lib/version"
)

// Root returns the complete workforest command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "workforest",
		Description: `workforest: run coding agents side by side, each in its own git worktree.

A local daemon owns the worktrees and the agent processes. Register a
repository, create agents for it, and start, stop, or watch their
sessions from any terminal.`,
		Examples: []cli.Example{
			{Description: "Start the daemon and register a repository", Command: "workforest daemon start && workforest repo add ~/src/api"},
			{Description: "Create an agent and start its tool", Command: "workforest agent create api --start"},
			{Description: "Watch everything live", Command: "workforest watch"},
		},
		Subcommands: []*cli.Command{
			daemoncmd.Command(),
			repocmd.Command(),
			agentcmd.Command(),
			watchcmd.Command(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, _ []string, _ *slog.Logger) error {
					fmt.Printf("workforest %s\n", version.Full())
					return nil
				},
			},
		},
	}
}
