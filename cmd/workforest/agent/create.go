// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/workforest/cmd/workforest/cli"
	"github.com/bureau-foundation/workforest/lib/schema"
)

type createParams struct {
	cli.DaemonConfig
	cli.JSONOutput
	Branch string `json:"branch" flag:"branch,b" desc:"branch to create or check out (default agent/<label>)"`
	Tool   string `json:"tool"   flag:"tool,t" desc:"tool the agent runs (default: the repository's default tool)"`
	Start  bool   `json:"start"  flag:"start" desc:"start a session right after creating the agent"`
}

// createResult is the --json output of create.
type createResult struct {
	Agent   schema.Agent    `json:"agent"`
	Session *schema.Session `json:"session,omitempty"`
}

func createCommand() *cli.Command {
	var params createParams
	return &cli.Command{
		Name:    "create",
		Summary: "Create an agent with its own worktree",
		Description: `Create an agent for <repository> (name or id). The daemon adds a git
worktree for the agent under the worktree root, on a new branch unless
--branch names an existing one.`,
		Usage: "workforest agent create <repository> [flags]",
		Examples: []cli.Example{
			{Description: "Create an agent with the default tool", Command: "workforest agent create api"},
			{Description: "Create and start a codex agent on a feature branch", Command: "workforest agent create api --tool codex --branch fix-login --start"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("create", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return cli.Validation("usage: workforest agent create <repository>")
			}
			return runCreate(ctx, args[0], params, logger)
		},
	}
}

func runCreate(ctx context.Context, repository string, params createParams, logger *slog.Logger) error {
	client, _, err := params.Connect(ctx)
	if err != nil {
		return err
	}
	agent, err := client.CreateAgent(ctx, schema.CreateAgentRequest{
		Repository: repository,
		Branch:     params.Branch,
		Tool:       params.Tool,
	})
	if err != nil {
		return err
	}
	logger.Debug("agent created", "agent_id", agent.ID, "worktree", agent.WorktreePath)

	result := createResult{Agent: agent}
	if params.Start {
		session, err := client.StartSession(ctx, agent.ID, "")
		if err != nil {
			return fmt.Errorf("agent %s created, but starting it failed: %w", agent.Label, err)
		}
		result.Session = &session
	}

	if done, err := params.EmitJSON(result); done {
		return err
	}
	fmt.Printf("created %s on branch %s\n  %s\n", agent.Label, agent.Branch, agent.WorktreePath)
	if result.Session != nil {
		fmt.Printf("started %s (pid %d)\n", agent.Tool, result.Session.PID)
	}
	return nil
}
