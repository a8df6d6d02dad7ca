// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/workforest/cmd/workforest/cli"
)

type deleteParams struct {
	cli.DaemonConfig
	cli.JSONOutput
}

func deleteCommand() *cli.Command {
	var params deleteParams
	return &cli.Command{
		Name:    "delete",
		Summary: "Delete an agent and its worktree",
		Description: `Delete an agent: remove its git worktree and forget it. Fails while
the agent has a live session; stop it first. The agent's branch is
kept.`,
		Usage: "workforest agent delete <agent> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("delete", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return cli.Validation("usage: workforest agent delete <agent>")
			}
			client, _, err := params.Connect(ctx)
			if err != nil {
				return err
			}
			response, err := client.DeleteAgent(ctx, args[0])
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(response); done {
				return err
			}
			if response.Released {
				fmt.Printf("deleted %s\n", args[0])
			} else {
				fmt.Printf("%s was already released\n", args[0])
			}
			return nil
		},
	}
}
