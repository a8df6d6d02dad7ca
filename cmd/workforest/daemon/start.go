// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/workforest/cmd/workforest/cli"
	"github.com/bureau-foundation/workforest/lib/config"
	"github.com/bureau-foundation/workforest/lib/discovery"
	"github.com/bureau-foundation/workforest/lib/process"
)

// DaemonBinary is the daemon executable's name.
const DaemonBinary = "workforest-daemon"

// LogFile is the daemon's log inside the data directory when started
// by "workforest daemon start".
const LogFile = "daemon.log"

// recordPollInterval is how often start checks for the daemon's
// discovery record.
const recordPollInterval = 100 * time.Millisecond

type startParams struct {
	cli.DaemonConfig
	cli.JSONOutput
	Binary  string        `json:"-" flag:"daemon-binary" desc:"workforest-daemon executable (default: next to this binary, then $PATH)"`
	Timeout time.Duration `json:"-" flag:"timeout" desc:"how long to wait for the daemon to come up" default:"15s"`
}

func startCommand() *cli.Command {
	var params startParams
	return &cli.Command{
		Name:    "start",
		Summary: "Start the daemon in the background",
		Description: `Start workforest-daemon in the background and wait until it is
reachable. If a daemon is already running for the data directory this
reports it and succeeds.

The daemon's output goes to daemon.log in the data directory.`,
		Usage: "workforest daemon start [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("start", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return cli.Validation("unexpected argument: %s", args[0])
			}
			return runStart(ctx, params, logger)
		},
	}
}

func runStart(ctx context.Context, params startParams, logger *slog.Logger) error {
	cfg, err := params.LoadConfig()
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}
	dataDir := cfg.Paths.Root

	if record, err := discovery.Locate(ctx, dataDir, nil); err == nil {
		return reportRecord(params.JSONOutput, record, "workforest daemon already running")
	}

	binary, err := resolveDaemonBinary(params.Binary)
	if err != nil {
		return err
	}

	exited, err := spawnDaemon(binary, params.ConfigPath, cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, params.Timeout)
	defer cancel()
	record, err := waitForDaemon(ctx, dataDir, exited)
	if err != nil {
		return fmt.Errorf("%w (see %s)", err, filepath.Join(dataDir, LogFile))
	}
	return reportRecord(params.JSONOutput, record, "workforest daemon started")
}

// resolveDaemonBinary returns explicit if set, else workforest-daemon
// next to the running executable, else the one on $PATH.
func resolveDaemonBinary(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), DaemonBinary)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	path, err := exec.LookPath(DaemonBinary)
	if err != nil {
		return "", fmt.Errorf("cannot find %s next to this binary or on $PATH (use --daemon-binary)", DaemonBinary)
	}
	return path, nil
}

// spawnDaemon starts the daemon in its own session with output
// appended to the data directory's log file. The returned channel
// receives the daemon's exit error if it exits.
func spawnDaemon(binary, configPath string, cfg *config.Config, logger *slog.Logger) (<-chan error, error) {
	logPath := filepath.Join(cfg.Paths.Root, LogFile)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening daemon log: %w", err)
	}
	defer logFile.Close()

	var args []string
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	cmd := exec.Command(binary, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", binary, err)
	}
	logger.Info("daemon spawned", "binary", binary, "pid", cmd.Process.Pid, "log", logPath)

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()
	return exited, nil
}

// waitForDaemon polls for a live discovery record. A daemon that exits
// with the already-running code lost a race to another daemon, which
// is then located instead.
func waitForDaemon(ctx context.Context, dataDir string, exited <-chan error) (discovery.Record, error) {
	ticker := time.NewTicker(recordPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return discovery.Record{}, errors.New("timed out waiting for the daemon to publish its address")

		case err := <-exited:
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && exitErr.ExitCode() == process.ExitAlreadyRunning {
				exited = nil
				continue
			}
			if err == nil {
				return discovery.Record{}, errors.New("daemon exited before publishing its address")
			}
			return discovery.Record{}, fmt.Errorf("daemon exited before publishing its address: %w", err)

		case <-ticker.C:
			if record, err := discovery.Locate(ctx, dataDir, nil); err == nil {
				return record, nil
			}
		}
	}
}

func reportRecord(output cli.JSONOutput, record discovery.Record, message string) error {
	if done, err := output.EmitJSON(record); done {
		return err
	}
	fmt.Printf("%s at %s (pid %d, version %s)\n", message, record.Address, record.PID, record.Version)
	return nil
}
