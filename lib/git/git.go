// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package git provides typed access to the git CLI for the worktree
// operations workforest needs: resolving a repository root, validating
// and inspecting branches, and adding, listing, and removing linked
// worktrees. All commands target a specific repository directory via
// the -C flag, which every Repository method injects.
//
// This package does no locking. Concurrent worktree mutations on one
// repository race on .git/worktrees metadata, so callers serialize
// them (see lib/worktree).
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Repository represents a git repository at a specific directory. All
// operations target this directory via "git -C <dir>".
type Repository struct {
	dir string
}

// NewRepository returns a Repository targeting the given directory.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Run executes a git command targeting this repository and returns
// stdout. Stderr is captured separately and included in error messages
// on failure. The returned error wraps *exec.ExitError when git ran
// and exited non-zero.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	command := r.Command(ctx, args...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s in %s: %w (stderr: %s)",
			strings.Join(args, " "), r.dir, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Command returns an *exec.Cmd for a git command without running it.
// The -C flag targeting this repository is prepended, and interactive
// prompts are disabled so a credential helper can never block the
// daemon.
func (r *Repository) Command(ctx context.Context, args ...string) *exec.Cmd {
	fullArgs := append([]string{"-C", r.dir}, args...)
	command := exec.CommandContext(ctx, "git", fullArgs...)
	command.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	return command
}

// TopLevel returns the absolute path of the working tree root
// containing Dir. Fails for bare repositories and for directories
// outside any repository.
func (r *Repository) TopLevel(ctx context.Context) (string, error) {
	output, err := r.Run(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(output), nil
}

// HasCommits reports whether HEAD resolves to a commit. A freshly
// initialized repository has no commits and cannot host worktrees
// for new branches.
func (r *Repository) HasCommits(ctx context.Context) bool {
	_, err := r.Run(ctx, "rev-parse", "--verify", "--quiet", "HEAD^{commit}")
	return err == nil
}

// CheckBranchName validates name as a branch name and returns git's
// normalized form.
func (r *Repository) CheckBranchName(ctx context.Context, name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "-") {
		return "", fmt.Errorf("invalid branch name %q", name)
	}
	output, err := r.Run(ctx, "check-ref-format", "--branch", name)
	if err != nil {
		return "", fmt.Errorf("invalid branch name %q: %w", name, err)
	}
	return strings.TrimSpace(output), nil
}

// BranchExists reports whether refs/heads/<name> exists.
func (r *Repository) BranchExists(ctx context.Context, name string) (bool, error) {
	_, err := r.Run(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	if err == nil {
		return true, nil
	}
	// show-ref exits 1 for a missing ref; anything else is a failure.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, err
}

// AddWorktree creates a linked worktree at path. With createBranch the
// branch is created from HEAD; otherwise the existing branch is
// checked out, which git refuses if another worktree has it.
func (r *Repository) AddWorktree(ctx context.Context, path, branch string, createBranch bool) error {
	args := []string{"worktree", "add"}
	if createBranch {
		args = append(args, "-b", branch, "--", path)
	} else {
		args = append(args, "--", path, branch)
	}
	_, err := r.Run(ctx, args...)
	return err
}

// RemoveWorktree removes the linked worktree at path, discarding any
// uncommitted changes in it.
func (r *Repository) RemoveWorktree(ctx context.Context, path string) error {
	_, err := r.Run(ctx, "worktree", "remove", "--force", "--force", "--", path)
	return err
}

// PruneWorktrees drops metadata for worktrees whose directories no
// longer exist.
func (r *Repository) PruneWorktrees(ctx context.Context) error {
	_, err := r.Run(ctx, "worktree", "prune")
	return err
}

// DeleteBranch force-deletes a local branch.
func (r *Repository) DeleteBranch(ctx context.Context, name string) error {
	_, err := r.Run(ctx, "branch", "-D", name)
	return err
}

// Worktree is one entry of "git worktree list --porcelain".
type Worktree struct {
	Path   string
	Head   string
	Branch string // short name; empty when detached
	Bare   bool
}

// ListWorktrees returns every worktree of the repository, the main
// one first.
func (r *Repository) ListWorktrees(ctx context.Context) ([]Worktree, error) {
	output, err := r.Run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseWorktreeList(output), nil
}

// HasWorktree reports whether path is one of the repository's linked
// worktrees. Paths are compared by file identity, so a symlinked or
// unclean spelling of a registered worktree still matches.
func (r *Repository) HasWorktree(ctx context.Context, path string) (bool, error) {
	worktrees, err := r.ListWorktrees(ctx)
	if err != nil {
		return false, err
	}
	target, statErr := os.Stat(path)
	cleaned := filepath.Clean(path)
	for _, worktree := range worktrees[min(1, len(worktrees)):] {
		if filepath.Clean(worktree.Path) == cleaned {
			return true, nil
		}
		if statErr != nil {
			continue
		}
		if info, err := os.Stat(worktree.Path); err == nil && os.SameFile(info, target) {
			return true, nil
		}
	}
	return false, nil
}

func parseWorktreeList(output string) []Worktree {
	var worktrees []Worktree
	var current *Worktree
	for _, line := range strings.Split(output, "\n") {
		key, value, _ := strings.Cut(line, " ")
		switch key {
		case "worktree":
			worktrees = append(worktrees, Worktree{Path: value})
			current = &worktrees[len(worktrees)-1]
		case "HEAD":
			if current != nil {
				current.Head = value
			}
		case "branch":
			if current != nil {
				current.Branch = strings.TrimPrefix(value, "refs/heads/")
			}
		case "bare":
			if current != nil {
				current.Bare = true
			}
		}
	}
	return worktrees
}
