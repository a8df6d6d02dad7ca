// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/workforest/cmd/workforest/cli"
	"github.com/bureau-foundation/workforest/lib/schema"
)

// followInterval is the polling interval of "output --follow".
const followInterval = 500 * time.Millisecond

type outputParams struct {
	cli.DaemonConfig
	Session string `json:"session"    flag:"session" desc:"read this session instead of the agent's latest"`
	Since   int    `json:"since"      flag:"since" desc:"byte offset to start from"`
	Strip   bool   `json:"strip_ansi" flag:"strip-ansi" desc:"remove ANSI escape sequences"`
	Follow  bool   `json:"follow"     flag:"follow,f" desc:"keep printing output until the session ends"`
}

// OutputSource is the daemon client subset output reads through.
type OutputSource interface {
	GetOutput(ctx context.Context, request schema.GetOutputRequest) (schema.OutputChunk, error)
	ListSessions(ctx context.Context, agent string) ([]schema.Session, error)
}

func outputCommand() *cli.Command {
	var params outputParams
	return &cli.Command{
		Name:    "output",
		Summary: "Print a session's captured output",
		Description: `Print the captured stdout and stderr of the agent's latest session.
The daemon keeps the most recent output_buffer_bytes per session; if
older output was dropped a notice goes to stderr.`,
		Usage: "workforest agent output <agent> [flags]",
		Examples: []cli.Example{
			{Description: "Follow the agent's output, without colors", Command: "workforest agent output agent-1a2b3c4d -f --strip-ansi"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("output", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return cli.Validation("usage: workforest agent output <agent>")
			}
			if params.Since < 0 {
				return cli.Validation("--since must not be negative")
			}
			client, _, err := params.Connect(ctx)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return copyOutput(ctx, client, args[0], params, os.Stdout, os.Stderr)
		},
	}
}

// copyOutput writes the session's output from params.Since to stdout.
// With Follow it polls until the session is finished and drained, or
// ctx is done.
func copyOutput(ctx context.Context, source OutputSource, agent string, params outputParams, stdout, stderr io.Writer) error {
	sessionID := params.Session
	if sessionID == "" {
		sessions, err := source.ListSessions(ctx, agent)
		if err != nil {
			return err
		}
		latest := latestSession(sessions)
		if latest == nil {
			return schema.Errorf(schema.KindNotFound, "%s has no sessions", agent)
		}
		sessionID = latest.ID
	}

	since := int64(params.Since)
	for {
		chunk, err := source.GetOutput(ctx, schema.GetOutputRequest{
			Session:   sessionID,
			Since:     since,
			StripANSI: params.Strip,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if chunk.Truncated && chunk.Start > since {
			fmt.Fprintf(stderr, "[%d bytes of earlier output were dropped]\n", chunk.Start-since)
		}
		if _, err := stdout.Write(chunk.Data); err != nil {
			return err
		}
		advanced := chunk.End > since
		since = chunk.End
		if advanced {
			continue
		}
		if !params.Follow {
			return nil
		}

		finished, err := sessionFinished(ctx, source, agent, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if finished {
			// One more read picks up anything written before exit.
			chunk, err := source.GetOutput(ctx, schema.GetOutputRequest{Session: sessionID, Since: since, StripANSI: params.Strip})
			if err == nil {
				_, err = stdout.Write(chunk.Data)
			}
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(followInterval):
		}
	}
}

func sessionFinished(ctx context.Context, source OutputSource, agent, sessionID string) (bool, error) {
	sessions, err := source.ListSessions(ctx, agent)
	if err != nil {
		return false, err
	}
	for _, session := range sessions {
		if session.ID == sessionID {
			return session.State.Finished(), nil
		}
	}
	// Aged out of the history: finished long ago.
	return true, nil
}
