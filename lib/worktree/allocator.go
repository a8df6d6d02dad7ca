// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worktree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/semaphore"

	"github.com/bureau-foundation/workforest/lib/git"
	"github.com/bureau-foundation/workforest/lib/registry"
	"github.com/bureau-foundation/workforest/lib/schema"
)

// Defaults for Options fields left zero.
const (
	DefaultConcurrency = 4
	DefaultGitTimeout  = time.Minute
)

// lockRetryDelay is how often a blocked repository lock is retried.
const lockRetryDelay = 25 * time.Millisecond

// Options configures an Allocator.
type Options struct {
	// Root is the directory under which worktrees are created.
	Root string

	// LockDir holds one lock file per repository.
	LockDir string

	// Registry receives agents once their worktree exists.
	Registry *registry.Registry

	// Concurrency caps simultaneous git operations. Zero means
	// DefaultConcurrency.
	Concurrency int64

	// GitTimeout bounds a single allocation or release, including
	// the wait for the repository lock. Zero means DefaultGitTimeout.
	GitTimeout time.Duration

	Logger *slog.Logger
}

// Allocator creates and removes agent worktrees.
type Allocator struct {
	root       string
	lockDir    string
	registry   *registry.Registry
	pool       *semaphore.Weighted
	gitTimeout time.Duration
	logger     *slog.Logger

	// locks maps repository id to *sync.Mutex.
	locks sync.Map
}

// Worktree describes an allocated worktree.
type Worktree struct {
	Path   string
	Branch string
	// CreatedBranch is true when the allocation created Branch, so a
	// rollback knows to delete it.
	CreatedBranch bool
}

// New returns an Allocator, creating Root and LockDir if needed.
func New(options Options) (*Allocator, error) {
	if options.Root == "" || options.LockDir == "" {
		return nil, errors.New("worktree: Root and LockDir are required")
	}
	if options.Registry == nil {
		return nil, errors.New("worktree: Registry is required")
	}
	if options.Concurrency <= 0 {
		options.Concurrency = DefaultConcurrency
	}
	if options.GitTimeout <= 0 {
		options.GitTimeout = DefaultGitTimeout
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	for _, dir := range []string{options.Root, options.LockDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return &Allocator{
		root:       options.Root,
		lockDir:    options.LockDir,
		registry:   options.Registry,
		pool:       semaphore.NewWeighted(options.Concurrency),
		gitTimeout: options.GitTimeout,
		logger:     options.Logger,
	}, nil
}

// Root returns the worktree root directory.
func (a *Allocator) Root() string {
	return a.root
}

// PathFor returns where the worktree of agentID in repositoryID lives.
func (a *Allocator) PathFor(repositoryID, agentID string) string {
	return filepath.Join(a.root, repositoryID, agentID)
}

// lockRepository serializes git work on one repository. It takes the
// in-process mutex, then the lock file, then a slot in the git pool,
// and returns a function that releases all three.
func (a *Allocator) lockRepository(ctx context.Context, repositoryID string) (func(), error) {
	value, _ := a.locks.LoadOrStore(repositoryID, &sync.Mutex{})
	mutex := value.(*sync.Mutex)
	mutex.Lock()

	fileLock := flock.New(filepath.Join(a.lockDir, repositoryID+".lock"))
	locked, err := fileLock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		mutex.Unlock()
		if err == nil {
			err = ctx.Err()
		}
		return nil, schema.Wrap(schema.KindIO, err, "locking repository %s", repositoryID)
	}

	if err := a.pool.Acquire(ctx, 1); err != nil {
		_ = fileLock.Unlock()
		mutex.Unlock()
		return nil, schema.Wrap(schema.KindIO, err, "waiting for a git slot")
	}

	return func() {
		a.pool.Release(1)
		if err := fileLock.Unlock(); err != nil {
			a.logger.Warn("releasing repository lock", "repository_id", repositoryID, "error", err)
		}
		mutex.Unlock()
	}, nil
}

// Allocate creates the worktree for agentID. An empty desiredBranch
// selects agent/<label>. An existing branch is checked out; a missing
// one is created from HEAD. The caller holds the repository lock.
//
// Fails with Conflict if the target directory already exists and with
// Allocation for a missing or empty repository, an invalid branch
// name, or any git failure. On failure nothing is left behind: the
// directory, its git metadata, and any branch this call created are
// removed.
func (a *Allocator) Allocate(ctx context.Context, repository schema.Repository, agentID, desiredBranch string) (Worktree, error) {
	info, err := os.Stat(repository.Path)
	if err != nil || !info.IsDir() {
		return Worktree{}, schema.Errorf(schema.KindAllocation,
			"repository %s is missing at %s", repository.Name, repository.Path)
	}
	repo := git.NewRepository(repository.Path)
	if !repo.HasCommits(ctx) {
		return Worktree{}, schema.Errorf(schema.KindAllocation,
			"repository %s has no commits or is not a git repository", repository.Name)
	}

	branch := desiredBranch
	if branch == "" {
		branch = "agent/" + schema.AgentLabel(agentID)
	}
	branch, err = repo.CheckBranchName(ctx, branch)
	if err != nil {
		return Worktree{}, schema.Wrap(schema.KindAllocation, err, "allocating worktree")
	}

	path := a.PathFor(repository.ID, agentID)
	if _, err := os.Lstat(path); err == nil {
		return Worktree{}, schema.Errorf(schema.KindConflict, "worktree path %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Worktree{}, schema.Wrap(schema.KindIO, err, "creating worktree parent")
	}

	exists, err := repo.BranchExists(ctx, branch)
	if err != nil {
		return Worktree{}, schema.Wrap(schema.KindAllocation, err, "checking branch %s", branch)
	}
	worktree := Worktree{Path: path, Branch: branch, CreatedBranch: !exists}

	if err := repo.AddWorktree(ctx, path, branch, !exists); err != nil {
		a.rollback(repo, worktree)
		return Worktree{}, schema.Wrap(schema.KindAllocation, err, "adding worktree for branch %s", branch)
	}

	a.logger.Info("worktree allocated",
		"repository_id", repository.ID,
		"agent_id", agentID,
		"path", path,
		"branch", branch,
		"created_branch", worktree.CreatedBranch,
	)
	return worktree, nil
}

// rollback undoes a partial or unwanted allocation. It runs on a fresh
// context so that cleanup still happens when the allocation timed out.
func (a *Allocator) rollback(repo *git.Repository, worktree Worktree) {
	ctx, cancel := context.WithTimeout(context.Background(), a.gitTimeout)
	defer cancel()

	if _, err := os.Lstat(worktree.Path); err == nil {
		if err := repo.RemoveWorktree(ctx, worktree.Path); err != nil {
			a.logger.Debug("rollback: git worktree remove", "path", worktree.Path, "error", err)
		}
	}
	if err := os.RemoveAll(worktree.Path); err != nil {
		a.logger.Warn("rollback: removing worktree directory", "path", worktree.Path, "error", err)
	}
	if err := repo.PruneWorktrees(ctx); err != nil {
		a.logger.Warn("rollback: pruning worktrees", "repository", repo.Dir(), "error", err)
	}
	if worktree.CreatedBranch {
		if exists, _ := repo.BranchExists(ctx, worktree.Branch); exists {
			if err := repo.DeleteBranch(ctx, worktree.Branch); err != nil {
				a.logger.Warn("rollback: deleting branch", "branch", worktree.Branch, "error", err)
			}
		}
	}
}

// CreateAgent allocates a worktree and registers an agent for it. If
// registration fails the worktree is rolled back.
func (a *Allocator) CreateAgent(ctx context.Context, request schema.CreateAgentRequest) (schema.Agent, error) {
	repository, err := a.registry.Repository(request.Repository)
	if err != nil {
		return schema.Agent{}, err
	}
	tool := request.Tool
	if tool == "" {
		tool = repository.DefaultTool
	}
	if !repository.HasTool(tool) {
		return schema.Agent{}, schema.Errorf(schema.KindInvalidRequest,
			"tool %q is not configured for repository %s (have %v)", tool, repository.Name, repository.Tools)
	}

	ctx, cancel := context.WithTimeout(ctx, a.gitTimeout)
	defer cancel()

	unlock, err := a.lockRepository(ctx, repository.ID)
	if err != nil {
		return schema.Agent{}, err
	}
	defer unlock()

	agentID := registry.NewAgentID()
	worktree, err := a.Allocate(ctx, repository, agentID, request.Branch)
	if err != nil {
		return schema.Agent{}, err
	}

	agent, err := a.registry.CreateAgent(schema.Agent{
		ID:           agentID,
		RepositoryID: repository.ID,
		WorktreePath: worktree.Path,
		Branch:       worktree.Branch,
		Tool:         tool,
	})
	if err != nil {
		a.rollback(git.NewRepository(repository.Path), worktree)
		return schema.Agent{}, err
	}
	return agent, nil
}

// Release removes an agent's worktree and then the agent. released is
// false when the agent had already been released. The agent's branch
// is kept so its commits survive.
//
// Fails with Busy while the agent has a live session and NotFound for
// an unknown agent. If git cannot remove the worktree the agent stays
// registered and the error is returned.
func (a *Allocator) Release(ctx context.Context, agentReference string) (released bool, err error) {
	agent, already, err := a.registry.BeginRelease(agentReference)
	if err != nil {
		return false, err
	}
	if already {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.gitTimeout)
	defer cancel()

	unlock, err := a.lockRepository(ctx, agent.RepositoryID)
	if err != nil {
		a.abortRelease(agent)
		return false, err
	}
	defer unlock()

	if err := a.releaseLocked(ctx, agent); err != nil {
		return false, err
	}
	return true, nil
}

// releaseLocked removes the worktree of an agent already marked
// releasing, then deletes the agent. The caller holds the repository
// lock.
func (a *Allocator) releaseLocked(ctx context.Context, agent schema.Agent) error {
	repository, err := a.registry.Repository(agent.RepositoryID)
	if err != nil {
		a.abortRelease(agent)
		return err
	}

	if err := removeWorktree(ctx, repository.Path, agent.WorktreePath); err != nil {
		a.abortRelease(agent)
		return schema.Wrap(schema.KindAllocation, err, "removing worktree of agent %s", agent.Label)
	}

	if _, err := a.registry.DeleteAgent(agent.ID); err != nil {
		return err
	}
	a.logger.Info("worktree released",
		"repository_id", agent.RepositoryID,
		"agent_id", agent.ID,
		"path", agent.WorktreePath,
	)
	return nil
}

func (a *Allocator) abortRelease(agent schema.Agent) {
	if _, err := a.registry.AbortRelease(agent.ID); err != nil {
		a.logger.Warn("aborting release", "agent_id", agent.ID, "error", err)
	}
}

// removeWorktree deletes a worktree directory and its metadata in the
// main repository. A repository that has vanished from disk only needs
// the directory removed.
func removeWorktree(ctx context.Context, repositoryPath, worktreePath string) error {
	repo := git.NewRepository(repositoryPath)
	repositoryExists := false
	if info, err := os.Stat(repositoryPath); err == nil && info.IsDir() {
		repositoryExists = true
	}

	if _, err := os.Lstat(worktreePath); err == nil && repositoryExists {
		// A worktree whose metadata was already pruned only needs the
		// directory removed below.
		registered, err := repo.HasWorktree(ctx, worktreePath)
		if err != nil {
			return err
		}
		if registered {
			if err := repo.RemoveWorktree(ctx, worktreePath); err != nil {
				return err
			}
		}
	}
	if err := os.RemoveAll(worktreePath); err != nil {
		return err
	}
	if repositoryExists {
		return repo.PruneWorktrees(ctx)
	}
	return nil
}

// ReleaseRepository releases every agent of a repository and then
// removes the repository. Refused with Busy if any agent has a live
// session. A failure part way leaves the already-released agents
// deleted and the rest registered.
func (a *Allocator) ReleaseRepository(ctx context.Context, repositoryReference string) (schema.Repository, error) {
	repository, err := a.registry.Repository(repositoryReference)
	if err != nil {
		return schema.Repository{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.gitTimeout)
	defer cancel()

	unlock, err := a.lockRepository(ctx, repository.ID)
	if err != nil {
		return schema.Repository{}, err
	}
	defer unlock()

	_, agents, err := a.registry.BeginRepositoryRemoval(repository.ID)
	if err != nil {
		return schema.Repository{}, err
	}

	for _, agent := range agents {
		marked, already, err := a.registry.BeginRelease(agent.ID)
		if err == nil && !already {
			err = a.releaseLocked(ctx, marked)
		}
		if err != nil {
			a.registry.AbortRepositoryRemoval(repository.ID)
			return schema.Repository{}, err
		}
	}

	removed, err := a.registry.RemoveRepository(repository.ID)
	if err != nil {
		a.registry.AbortRepositoryRemoval(repository.ID)
		return schema.Repository{}, err
	}
	a.logger.Info("repository removed", "repository_id", removed.ID, "agents_released", len(agents))
	return removed, nil
}

// Adopt registers an agent whose worktree already exists on disk, as
// recorded by an earlier daemon. Fails with NotFound when the worktree
// directory is gone.
func (a *Allocator) Adopt(agent schema.Agent) (schema.Agent, error) {
	if _, err := os.Stat(agent.WorktreePath); err != nil {
		return schema.Agent{}, schema.Wrap(schema.KindNotFound, err, "worktree of agent %s", agent.ID)
	}
	return a.registry.CreateAgent(agent)
}
