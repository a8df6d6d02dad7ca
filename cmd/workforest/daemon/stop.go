// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/workforest/cmd/workforest/cli"
	"github.com/bureau-foundation/workforest/lib/daemonclient"
	"github.com/bureau-foundation/workforest/lib/discovery"
)

type stopParams struct {
	cli.DaemonConfig
	Timeout time.Duration `json:"-" flag:"timeout" desc:"how long to wait for the daemon to exit" default:"60s"`
}

func stopCommand() *cli.Command {
	var params stopParams
	return &cli.Command{
		Name:    "stop",
		Summary: "Stop the daemon and every running session",
		Description: `Ask the daemon to shut down and wait for it to exit. The daemon
stops every live session first (SIGTERM, then SIGKILL after the stop
grace).

If the discovery record names a daemon that no longer answers, the
stale record is removed.`,
		Usage: "workforest daemon stop [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("stop", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return cli.Validation("unexpected argument: %s", args[0])
			}
			return runStop(ctx, params, logger)
		},
	}
}

func runStop(ctx context.Context, params stopParams, logger *slog.Logger) error {
	cfg, err := params.LoadConfig()
	if err != nil {
		return err
	}
	dataDir := cfg.Paths.Root

	record, err := discovery.Read(dataDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Println("no workforest daemon running")
			return nil
		}
		logger.Warn("unreadable discovery record, removing it", "error", err)
		return discovery.Clear(dataDir)
	}

	ctx, cancel := context.WithTimeout(ctx, params.Timeout)
	defer cancel()

	if err := daemonclient.New(record.Address).Shutdown(ctx); err != nil {
		logger.Warn("daemon not answering, removing stale record",
			"address", record.Address,
			"pid", record.PID,
			"error", err,
		)
		if err := discovery.Clear(dataDir); err != nil {
			return err
		}
		fmt.Printf("removed stale record for pid %d\n", record.PID)
		return nil
	}

	if err := discovery.WaitForRemoval(ctx, dataDir); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("daemon (pid %d) did not exit within %s", record.PID, params.Timeout)
		}
		return err
	}
	fmt.Println("workforest daemon stopped")
	return nil
}
