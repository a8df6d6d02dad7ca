// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// InitRepository creates a git repository with a single commit on
// branch "main" in a fresh temporary directory and returns its path.
// The path has symlinks resolved so it compares equal to canonical
// paths computed by the code under test.
func InitRepository(t *testing.T) string {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skipf("git not available: %v", err)
	}

	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("resolving temp dir: %v", err)
	}
	dir = filepath.Join(dir, "repo")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("creating repository dir: %v", err)
	}

	Git(t, dir, "init", "--quiet", "--initial-branch=main")
	if err := os.WriteFile(filepath.Join(dir, "README"), []byte("test\n"), 0o644); err != nil {
		t.Fatalf("write README: %v", err)
	}
	Git(t, dir, "add", "README")
	Git(t, dir, "commit", "--quiet", "-m", "initial")
	return dir
}

// Git runs a git command in dir with a fixed test identity and returns
// its combined output, failing the test on error.
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()

	fullArgs := append([]string{
		"-C", dir,
		"-c", "user.name=Test",
		"-c", "user.email=test@test.local",
		"-c", "commit.gpgsign=false",
	}, args...)
	command := exec.Command("git", fullArgs...)
	command.Env = append(os.Environ(), "GIT_CONFIG_NOSYSTEM=1", "GIT_TERMINAL_PROMPT=0")
	output, err := command.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, output)
	}
	return string(output)
}
