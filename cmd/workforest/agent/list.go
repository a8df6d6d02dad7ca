// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/workforest/cmd/workforest/cli"
	"github.com/bureau-foundation/workforest/lib/schema"
)

type listParams struct {
	cli.DaemonConfig
	cli.JSONOutput
}

// listEntry is one agent in list output with the state of its latest
// session.
type listEntry struct {
	schema.Agent
	Repository string              `json:"repository"`
	State      schema.SessionState `json:"state,omitempty"`
	PID        int                 `json:"pid,omitempty"`
}

func listCommand() *cli.Command {
	var params listParams
	return &cli.Command{
		Name:    "list",
		Summary: "List agents",
		Description: `List agents, optionally only those of one repository, with the state
of each agent's latest session ("idle" if it never ran).`,
		Usage: "workforest agent list [repository] [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 1 {
				return cli.Validation("usage: workforest agent list [repository]")
			}
			var repository string
			if len(args) == 1 {
				repository = args[0]
			}
			return runList(ctx, repository, params)
		},
	}
}

func runList(ctx context.Context, repository string, params listParams) error {
	client, _, err := params.Connect(ctx)
	if err != nil {
		return err
	}
	agents, err := client.ListAgents(ctx, repository)
	if err != nil {
		return err
	}
	repositories, err := client.ListRepositories(ctx)
	if err != nil {
		return err
	}
	names := make(map[string]string, len(repositories))
	for _, repository := range repositories {
		names[repository.ID] = repository.Name
	}

	entries := make([]listEntry, len(agents))
	for i, agent := range agents {
		entries[i] = listEntry{Agent: agent, Repository: names[agent.RepositoryID]}
		sessions, err := client.ListSessions(ctx, agent.ID)
		if err != nil {
			if schema.IsKind(err, schema.KindNotFound) {
				// Deleted while listing.
				continue
			}
			return err
		}
		if latest := latestSession(sessions); latest != nil {
			entries[i].State = latest.State
			entries[i].PID = latest.PID
		}
	}

	if done, err := params.EmitJSON(entries); done {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "no agents")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tREPOSITORY\tTOOL\tSTATE\tBRANCH\tCREATED")
	for _, entry := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			entry.Label, entry.Repository, entry.Tool, displayState(entry),
			entry.Branch, humanize.Time(entry.CreatedAt))
	}
	return tw.Flush()
}

func displayState(entry listEntry) string {
	switch {
	case entry.Releasing:
		return "releasing"
	case entry.State == "":
		return "idle"
	case entry.State.Live() && entry.PID > 0:
		return fmt.Sprintf("%s (pid %d)", entry.State, entry.PID)
	default:
		return string(entry.State)
	}
}

// latestSession returns the most recently created session, or nil.
func latestSession(sessions []schema.Session) *schema.Session {
	var latest *schema.Session
	for i := range sessions {
		if latest == nil || !sessions[i].CreatedAt.Before(latest.CreatedAt) {
			latest = &sessions[i]
		}
	}
	return latest
}
