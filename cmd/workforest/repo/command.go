// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package repo implements "workforest repo": registering git
// repositories with the daemon.
package repo

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/workforest/cmd/workforest/cli"
	"github.com/bureau-foundation/workforest/lib/schema"
)

// Command returns the "repo" command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "repo",
		Summary: "Register and list repositories",
		Subcommands: []*cli.Command{
			addCommand(),
			listCommand(),
			removeCommand(),
		},
	}
}

type addParams struct {
	cli.DaemonConfig
	cli.JSONOutput
	Tools       []string `json:"tools"        flag:"tool" desc:"tools agents may run (repeatable; default opencode,claude,codex)"`
	DefaultTool string   `json:"default_tool" flag:"default-tool" desc:"tool for agents created without --tool (default opencode if listed, else the first tool)"`
}

func addCommand() *cli.Command {
	var params addParams
	return &cli.Command{
		Name:    "add",
		Summary: "Register a git repository",
		Description: `Register the git repository containing <path>. Any directory inside
the working tree works; the repository is recorded by the canonical
path of its top level. The repository list survives daemon restarts.`,
		Usage: "workforest repo add <path> [flags]",
		Examples: []cli.Example{
			{Description: "Register the current repository", Command: "workforest repo add ."},
			{Description: "Allow only one tool", Command: "workforest repo add ~/src/api --tool claude"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("add", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return cli.Validation("usage: workforest repo add <path>")
			}
			client, _, err := params.Connect(ctx)
			if err != nil {
				return err
			}
			repository, err := client.AddRepository(ctx, schema.AddRepositoryRequest{
				Path:        args[0],
				Tools:       params.Tools,
				DefaultTool: params.DefaultTool,
			})
			if err != nil {
				return err
			}
			logger.Debug("repository added", "repository_id", repository.ID)
			if done, err := params.EmitJSON(repository); done {
				return err
			}
			fmt.Printf("added %s (%s)\n", repository.Name, repository.Path)
			return nil
		},
	}
}

type listParams struct {
	cli.DaemonConfig
	cli.JSONOutput
}

func listCommand() *cli.Command {
	var params listParams
	return &cli.Command{
		Name:    "list",
		Summary: "List registered repositories",
		Usage:   "workforest repo list [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 0 {
				return cli.Validation("unexpected argument: %s", args[0])
			}
			client, _, err := params.Connect(ctx)
			if err != nil {
				return err
			}
			repositories, err := client.ListRepositories(ctx)
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(repositories); done {
				return err
			}
			if len(repositories) == 0 {
				fmt.Fprintln(os.Stderr, "no repositories registered")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "NAME\tID\tTOOLS\tPATH")
			for _, repository := range repositories {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					repository.Name, repository.ID, formatTools(repository), repository.Path)
			}
			return tw.Flush()
		},
	}
}

// formatTools lists the tools with the default marked by a star.
func formatTools(repository schema.Repository) string {
	tools := make([]string, len(repository.Tools))
	for i, tool := range repository.Tools {
		tools[i] = tool
		if tool == repository.DefaultTool {
			tools[i] += "*"
		}
	}
	return strings.Join(tools, ",")
}

type removeParams struct {
	cli.DaemonConfig
	cli.JSONOutput
}

func removeCommand() *cli.Command {
	var params removeParams
	return &cli.Command{
		Name:    "remove",
		Summary: "Unregister a repository and delete its agents",
		Description: `Unregister a repository. Every agent of the repository is deleted
first, which removes its worktree; this fails if any agent still has a
live session. The repository itself is never touched.`,
		Usage: "workforest repo remove <repository> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("remove", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return cli.Validation("usage: workforest repo remove <repository>")
			}
			client, _, err := params.Connect(ctx)
			if err != nil {
				return err
			}
			repository, err := client.RemoveRepository(ctx, args[0])
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(repository); done {
				return err
			}
			fmt.Printf("removed %s\n", repository.Name)
			return nil
		},
	}
}
