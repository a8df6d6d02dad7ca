// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/workforest/cmd/workforest/cli"
	"github.com/bureau-foundation/workforest/lib/discovery"
)

func TestWaitForDaemonExitFailure(t *testing.T) {
	t.Parallel()

	exited := make(chan error, 1)
	exited <- exec.Command("sh", "-c", "exit 7").Run()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := waitForDaemon(ctx, t.TempDir(), exited)
	if err == nil || !strings.Contains(err.Error(), "exited before publishing") {
		t.Fatalf("error = %v, want an early-exit error", err)
	}
}

func TestWaitForDaemonAlreadyRunningKeepsWaiting(t *testing.T) {
	t.Parallel()

	exited := make(chan error, 1)
	exited <- exec.Command("sh", "-c", "exit 3").Run()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := waitForDaemon(ctx, t.TempDir(), exited)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("error = %v, want a timeout after the already-running exit", err)
	}
}

func TestResolveDaemonBinary(t *testing.T) {
	t.Parallel()

	explicit := filepath.Join(t.TempDir(), "custom-daemon")
	path, err := resolveDaemonBinary(explicit)
	if err != nil || path != explicit {
		t.Errorf("resolveDaemonBinary(%q) = (%q, %v)", explicit, path, err)
	}
}

// writeConfig writes a configuration whose data directory is a fresh
// temp dir and returns both paths.
func writeConfig(t *testing.T) (configPath, dataDir string) {
	t.Helper()
	root := t.TempDir()
	dataDir = filepath.Join(root, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		t.Fatal(err)
	}
	configPath = filepath.Join(root, "workforest.yaml")
	content := "paths:\n  root: " + dataDir + "\n  repos_file: " + filepath.Join(root, "repos.toml") + "\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return configPath, dataDir
}

func TestStopWithoutDaemon(t *testing.T) {
	t.Parallel()

	configPath, _ := writeConfig(t)
	params := stopParams{DaemonConfig: cli.DaemonConfig{ConfigPath: configPath}, Timeout: 5 * time.Second}
	if err := runStop(context.Background(), params, slog.New(slog.DiscardHandler)); err != nil {
		t.Fatalf("runStop: %v", err)
	}
}

func TestStopClearsStaleRecord(t *testing.T) {
	t.Parallel()

	configPath, dataDir := writeConfig(t)

	// An address nothing listens on.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	address := listener.Addr().String()
	listener.Close()

	record := discovery.Record{Address: address, PID: 999999, StartedAt: time.Now(), Version: "0.0.0"}
	if err := discovery.Write(discovery.RecordPath(dataDir), record); err != nil {
		t.Fatalf("Write: %v", err)
	}

	params := stopParams{DaemonConfig: cli.DaemonConfig{ConfigPath: configPath}, Timeout: 5 * time.Second}
	if err := runStop(context.Background(), params, slog.New(slog.DiscardHandler)); err != nil {
		t.Fatalf("runStop: %v", err)
	}
	if _, err := discovery.Read(dataDir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stale record still present: %v", err)
	}
}
