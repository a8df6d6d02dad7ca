// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package daemon implements "workforest daemon": starting, stopping,
// and inspecting the background workforest-daemon process.
package daemon

import "github.com/bureau-foundation/workforest/cmd/workforest/cli"

// Command returns the "daemon" command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "daemon",
		Summary: "Start, stop, or inspect the workforest daemon",
		Description: `Start, stop, or inspect the workforest daemon.

One daemon runs per data directory. It publishes its address in
daemon.json inside the data directory; every other command finds the
daemon through that record.`,
		Subcommands: []*cli.Command{
			startCommand(),
			stopCommand(),
			statusCommand(),
		},
	}
}
