// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/workforest/cmd/workforest/cli"
	"github.com/bureau-foundation/workforest/lib/schema"
)

type startParams struct {
	cli.DaemonConfig
	cli.JSONOutput
}

func startCommand() *cli.Command {
	var params startParams
	return &cli.Command{
		Name:    "start",
		Summary: "Start a session for an agent",
		Description: `Start a session: run the agent's tool, or the command given after
"--", in the agent's worktree. The command runs through the configured
shell in its own process group. An agent has at most one live session.`,
		Usage: "workforest agent start <agent> [-- <command>...] [flags]",
		Examples: []cli.Example{
			{Description: "Run the agent's tool", Command: "workforest agent start agent-1a2b3c4d"},
			{Description: "Run a one-off command in the worktree", Command: "workforest agent start agent-1a2b3c4d -- make test"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("start", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) == 0 {
				return cli.Validation("usage: workforest agent start <agent> [-- <command>...]")
			}
			client, _, err := params.Connect(ctx)
			if err != nil {
				return err
			}
			session, err := client.StartSession(ctx, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return printSession(params.JSONOutput, session, "started")
		},
	}
}

type stopParams struct {
	cli.DaemonConfig
	cli.JSONOutput
	Grace time.Duration `json:"grace" flag:"grace" desc:"time between SIGTERM and SIGKILL (default: the daemon's stop_grace)"`
}

func stopCommand() *cli.Command {
	var params stopParams
	return &cli.Command{
		Name:    "stop",
		Summary: "Stop an agent's session",
		Description: `Stop the agent's live session: SIGTERM to its process group, then
SIGKILL if it has not exited after the grace period. Returns once the
process is gone. Stopping an agent with no live session is a no-op.`,
		Usage: "workforest agent stop <agent> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("stop", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return cli.Validation("usage: workforest agent stop <agent>")
			}
			client, _, err := params.Connect(ctx)
			if err != nil {
				return err
			}
			session, err := client.StopSession(ctx, args[0], params.Grace)
			if err != nil {
				return err
			}
			return printSession(params.JSONOutput, session, "stopped")
		},
	}
}

func restartCommand() *cli.Command {
	var params stopParams
	return &cli.Command{
		Name:    "restart",
		Summary: "Restart an agent's session with the same command",
		Usage:   "workforest agent restart <agent> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("restart", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return cli.Validation("usage: workforest agent restart <agent>")
			}
			client, _, err := params.Connect(ctx)
			if err != nil {
				return err
			}
			session, err := client.RestartSession(ctx, args[0], params.Grace)
			if err != nil {
				return err
			}
			return printSession(params.JSONOutput, session, "restarted")
		},
	}
}

func printSession(output cli.JSONOutput, session schema.Session, verb string) error {
	if done, err := output.EmitJSON(session); done {
		return err
	}
	fmt.Printf("%s session %s: %s\n", verb, session.ID, describeSession(session))
	return nil
}

// describeSession is a one-line summary of a session's state.
func describeSession(session schema.Session) string {
	switch {
	case session.State.Live() && session.PID > 0:
		return fmt.Sprintf("%s, pid %d", session.State, session.PID)
	case session.Error != "":
		return fmt.Sprintf("%s: %s", session.State, session.Error)
	case session.Exit != nil:
		return fmt.Sprintf("%s, %s", session.State, session.Exit)
	default:
		return string(session.State)
	}
}

type sessionsParams struct {
	cli.DaemonConfig
	cli.JSONOutput
}

func sessionsCommand() *cli.Command {
	var params sessionsParams
	return &cli.Command{
		Name:    "sessions",
		Summary: "List an agent's recent sessions",
		Description: `List the agent's live session and its most recent finished sessions,
oldest first. The daemon keeps session_history_limit finished sessions
per agent.`,
		Usage: "workforest agent sessions <agent> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("sessions", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return cli.Validation("usage: workforest agent sessions <agent>")
			}
			client, _, err := params.Connect(ctx)
			if err != nil {
				return err
			}
			sessions, err := client.ListSessions(ctx, args[0])
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(sessions); done {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(os.Stderr, "no sessions")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tSTATE\tSTARTED\tCOMMAND")
			for _, session := range sessions {
				started := "-"
				if session.StartedAt != nil {
					started = session.StartedAt.Local().Format(time.DateTime)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", session.ID, describeSession(session), started, session.Command)
			}
			return tw.Flush()
		},
	}
}
