// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package watch implements "workforest watch", the live dashboard.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/workforest/cmd/workforest/cli"
	"github.com/bureau-foundation/workforest/lib/daemonclient"
	"github.com/bureau-foundation/workforest/lib/dashboard"
)

type watchParams struct {
	cli.DaemonConfig
	ReadOnly bool `json:"read_only" flag:"read-only" desc:"disable the start, stop, and restart keys"`
}

// Command returns the "watch" command.
func Command() *cli.Command {
	var params watchParams
	return &cli.Command{
		Name:    "watch",
		Summary: "Live dashboard of repositories, agents, and sessions",
		Description: `Open a live dashboard of every repository, agent, and session. The
view follows the daemon's event stream and reconnects if the daemon
restarts. Select an agent with j/k and press s, x, or r to start, stop,
or restart its session.`,
		Usage: "workforest watch [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("watch", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return cli.Validation("unexpected argument: %s", args[0])
			}
			return run(ctx, params, logger)
		},
	}
}

func run(ctx context.Context, params watchParams, logger *slog.Logger) error {
	if !cli.IsTerminal(os.Stdout) {
		return cli.Validation("watch needs a terminal; use 'workforest agent list' in scripts")
	}
	cfg, err := params.LoadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The dashboard owns the screen, so follow logs are discarded.
	connect := func(ctx context.Context) (*daemonclient.Client, error) {
		client, _, err := daemonclient.Connect(ctx, cfg.Paths.Root)
		return client, err
	}
	mirrors := dashboard.Watch(ctx, daemonclient.FollowOptions{
		Connect: connect,
		Logger:  slog.New(slog.DiscardHandler),
	})

	options := dashboard.Options{Mirrors: mirrors}
	if !params.ReadOnly {
		options.Actions = lazyActions{connect: connect}
	}

	program := tea.NewProgram(dashboard.NewModel(options), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	logger.Debug("dashboard closed")
	return nil
}
