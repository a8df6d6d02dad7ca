// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package git

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/workforest/lib/testutil"
)

func TestRepository_Run(t *testing.T) {
	t.Parallel()

	repo := NewRepository(testutil.InitRepository(t))
	output, err := repo.Run(context.Background(), "branch", "--list")
	if err != nil {
		t.Fatalf("Run(branch --list): %v", err)
	}
	if !strings.Contains(output, "main") {
		t.Errorf("branch list = %q, want to contain 'main'", output)
	}
}

func TestRepository_Run_InvalidSubcommand(t *testing.T) {
	t.Parallel()

	dir := testutil.InitRepository(t)
	_, err := NewRepository(dir).Run(context.Background(), "not-a-real-command")
	if err == nil {
		t.Fatal("expected error for invalid git subcommand")
	}
	if !strings.Contains(err.Error(), dir) {
		t.Errorf("error = %v, want to contain repository dir %q", err, dir)
	}
}

func TestRepository_Command(t *testing.T) {
	t.Parallel()

	cmd := NewRepository("/some/dir").Command(context.Background(), "status", "--porcelain")

	expectedArgs := []string{"git", "-C", "/some/dir", "status", "--porcelain"}
	if len(cmd.Args) != len(expectedArgs) {
		t.Fatalf("cmd.Args = %v, want %v", cmd.Args, expectedArgs)
	}
	for i, want := range expectedArgs {
		if cmd.Args[i] != want {
			t.Errorf("cmd.Args[%d] = %q, want %q", i, cmd.Args[i], want)
		}
	}
}

func TestTopLevel(t *testing.T) {
	t.Parallel()

	dir := testutil.InitRepository(t)
	subdir := filepath.Join(dir, "nested")
	if err := os.Mkdir(subdir, 0o755); err != nil {
		t.Fatal(err)
	}

	top, err := NewRepository(subdir).TopLevel(context.Background())
	if err != nil {
		t.Fatalf("TopLevel: %v", err)
	}
	if top != dir {
		t.Errorf("TopLevel = %q, want %q", top, dir)
	}

	if _, err := NewRepository(t.TempDir()).TopLevel(context.Background()); err == nil {
		t.Error("TopLevel outside a repository should fail")
	}
}

func TestCheckBranchName(t *testing.T) {
	t.Parallel()

	repo := NewRepository(testutil.InitRepository(t))
	ctx := context.Background()

	if name, err := repo.CheckBranchName(ctx, "agent/work"); err != nil || name != "agent/work" {
		t.Errorf("CheckBranchName(agent/work) = %q, %v", name, err)
	}
	for _, bad := range []string{"", "-x", "has space", "trailing.lock", "a..b"} {
		if _, err := repo.CheckBranchName(ctx, bad); err == nil {
			t.Errorf("CheckBranchName(%q) succeeded, want error", bad)
		}
	}
}

func TestWorktreeLifecycle(t *testing.T) {
	t.Parallel()

	dir := testutil.InitRepository(t)
	repo := NewRepository(dir)
	ctx := context.Background()
	worktreePath := filepath.Join(t.TempDir(), "wt")

	exists, err := repo.BranchExists(ctx, "feature")
	if err != nil || exists {
		t.Fatalf("BranchExists(feature) before add = %v, %v; want false, nil", exists, err)
	}

	if err := repo.AddWorktree(ctx, worktreePath, "feature", true); err != nil {
		t.Fatalf("AddWorktree: %v", err)
	}
	if _, err := os.Stat(filepath.Join(worktreePath, "README")); err != nil {
		t.Fatalf("worktree missing checkout: %v", err)
	}
	if exists, _ := repo.BranchExists(ctx, "feature"); !exists {
		t.Fatal("branch not created")
	}

	worktrees, err := repo.ListWorktrees(ctx)
	if err != nil {
		t.Fatalf("ListWorktrees: %v", err)
	}
	if len(worktrees) != 2 || worktrees[1].Branch != "feature" {
		t.Fatalf("worktrees = %+v, want main plus feature", worktrees)
	}

	// The branch is checked out; a second worktree on it is refused.
	if err := repo.AddWorktree(ctx, filepath.Join(t.TempDir(), "dup"), "feature", false); err == nil {
		t.Fatal("second worktree on the same branch should fail")
	}

	if err := repo.RemoveWorktree(ctx, worktreePath); err != nil {
		t.Fatalf("RemoveWorktree: %v", err)
	}
	if _, err := os.Stat(worktreePath); !os.IsNotExist(err) {
		t.Fatalf("worktree directory still present: %v", err)
	}
	if err := repo.DeleteBranch(ctx, "feature"); err != nil {
		t.Fatalf("DeleteBranch: %v", err)
	}
	if exists, _ := repo.BranchExists(ctx, "feature"); exists {
		t.Fatal("branch still present after DeleteBranch")
	}
}

func TestParseWorktreeList(t *testing.T) {
	t.Parallel()

	output := "worktree /repo\nHEAD 1111\nbranch refs/heads/main\n\n" +
		"worktree /trees/a\nHEAD 2222\ndetached\n\n" +
		"worktree /repo.git\nbare\n"
	got := parseWorktreeList(output)
	if len(got) != 3 {
		t.Fatalf("parsed %d worktrees, want 3", len(got))
	}
	if got[0].Branch != "main" || got[0].Head != "1111" {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Branch != "" || got[1].Path != "/trees/a" {
		t.Errorf("detached = %+v", got[1])
	}
	if !got[2].Bare {
		t.Errorf("bare entry not flagged: %+v", got[2])
	}
}

func TestHasWorktree(t *testing.T) {
	t.Parallel()

	dir := testutil.InitRepository(t)
	repo := NewRepository(dir)
	ctx := context.Background()
	parent := t.TempDir()
	worktreePath := filepath.Join(parent, "wt")

	if err := repo.AddWorktree(ctx, worktreePath, "feature", true); err != nil {
		t.Fatalf("AddWorktree: %v", err)
	}

	link := filepath.Join(t.TempDir(), "link")
	if err := os.Symlink(parent, link); err != nil {
		t.Fatal(err)
	}
	for _, path := range []string{worktreePath, filepath.Join(link, "wt")} {
		if registered, err := repo.HasWorktree(ctx, path); err != nil || !registered {
			t.Errorf("HasWorktree(%q) = %v, %v; want true", path, registered, err)
		}
	}
	if registered, err := repo.HasWorktree(ctx, dir); err != nil || registered {
		t.Errorf("HasWorktree(main checkout) = %v, %v; want false", registered, err)
	}
	if registered, err := repo.HasWorktree(ctx, filepath.Join(parent, "other")); err != nil || registered {
		t.Errorf("HasWorktree(unknown) = %v, %v; want false", registered, err)
	}

	if err := repo.RemoveWorktree(ctx, worktreePath); err != nil {
		t.Fatalf("RemoveWorktree: %v", err)
	}
	if registered, err := repo.HasWorktree(ctx, worktreePath); err != nil || registered {
		t.Errorf("HasWorktree after removal = %v, %v; want false", registered, err)
	}
}
