// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/workforest/cmd/workforest/cli"
	"github.com/bureau-foundation/workforest/lib/schema"
	"github.com/bureau-foundation/workforest/lib/version"
)

type statusParams struct {
	cli.DaemonConfig
	cli.JSONOutput
}

func statusCommand() *cli.Command {
	var params statusParams
	return &cli.Command{
		Name:    "status",
		Summary: "Show whether the daemon is running",
		Description: `Show the running daemon's address, version, uptime, and counts.
Exits 1 when no daemon is running.`,
		Usage: "workforest daemon status [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("status", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 0 {
				return cli.Validation("unexpected argument: %s", args[0])
			}
			return runStatus(ctx, params)
		},
	}
}

func runStatus(ctx context.Context, params statusParams) error {
	client, _, err := params.Connect(ctx)
	if err != nil {
		if schema.IsKind(err, schema.KindNotFound) {
			fmt.Fprintln(os.Stderr, "no workforest daemon running")
			return &cli.ExitError{Code: 1}
		}
		return err
	}
	status, err := client.Status(ctx)
	if err != nil {
		return err
	}

	if done, err := params.EmitJSON(status); done {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "address\t%s\n", status.Address)
	fmt.Fprintf(tw, "pid\t%d\n", status.PID)
	fmt.Fprintf(tw, "version\t%s\n", status.Version)
	if !version.SameRelease(status.Version) {
		fmt.Fprintf(tw, "\t(this CLI is %s)\n", version.Short())
	}
	fmt.Fprintf(tw, "started\t%s (%s)\n", status.StartedAt.Local().Format(time.DateTime), humanize.Time(status.StartedAt))
	fmt.Fprintf(tw, "data dir\t%s\n", status.DataDir)
	fmt.Fprintf(tw, "repositories\t%d\n", status.Repositories)
	fmt.Fprintf(tw, "agents\t%d\n", status.Agents)
	fmt.Fprintf(tw, "live sessions\t%d\n", status.LiveSessions)
	return tw.Flush()
}
