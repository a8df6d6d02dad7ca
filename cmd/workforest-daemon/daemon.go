// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bureau-foundation/workforest/lib/agentstore"
	"github.com/bureau-foundation/workforest/lib/clock"
	"github.com/bureau-foundation/workforest/lib/config"
	"github.com/bureau-foundation/workforest/lib/discovery"
	"github.com/bureau-foundation/workforest/lib/git"
	"github.com/bureau-foundation/workforest/lib/registry"
	"github.com/bureau-foundation/workforest/lib/repoconfig"
	"github.com/bureau-foundation/workforest/lib/schema"
	"github.com/bureau-foundation/workforest/lib/service"
	"github.com/bureau-foundation/workforest/lib/supervisor"
	"github.com/bureau-foundation/workforest/lib/version"
	"github.com/bureau-foundation/workforest/lib/worktree"
)

// shutdownSlack is added to the stop grace when bounding how long
// stopping every session may take.
const shutdownSlack = 5 * time.Second

// Daemon is the running workforest daemon: one registry shared by the
// allocator, the supervisor, the persistence loop, and the protocol
// handlers.
type Daemon struct {
	config    *config.Config
	clock     clock.Clock
	startedAt time.Time

	stopGrace         time.Duration
	heartbeatInterval time.Duration

	registry   *registry.Registry
	allocator  *worktree.Allocator
	supervisor *supervisor.Supervisor
	store      *agentstore.Store
	publisher  *discovery.Publisher
	server     *service.SocketServer

	// persistence feeds the persistence loop. Subscribed once restore
	// is done, so restored state is not written straight back.
	persistence *registry.Subscription

	// unavailable holds what restore could not load: repos.toml
	// entries whose repository is missing, and journaled agents of
	// repositories that are not registered. Both are written back
	// untouched so an unmounted disk does not erase them.
	unavailableMu           sync.Mutex
	unavailableRepositories []repoconfig.Entry
	unavailableAgents       map[string]schema.Agent

	// shutdownRequested is closed by the shutdown action.
	shutdownRequested chan struct{}
	shutdownOnce      sync.Once

	logger *slog.Logger
}

// newDaemon claims the data directory, restores the repositories and
// agents of the previous run, and registers the protocol actions. On
// error everything acquired so far is released.
func newDaemon(ctx context.Context, cfg *config.Config, clk clock.Clock, logger *slog.Logger) (daemon *Daemon, err error) {
	stopGrace, err := cfg.Daemon.StopGraceDuration()
	if err != nil {
		return nil, err
	}
	heartbeatInterval, err := cfg.Daemon.HeartbeatDuration()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}

	publisher, err := discovery.Acquire(ctx, discovery.Options{
		DataDir:       cfg.Paths.Root,
		Version:       version.Short(),
		ListenAddress: cfg.Daemon.ListenAddress,
		Clock:         clk,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			publisher.Listener().Close()
			publisher.Close()
		}
	}()

	store, err := agentstore.Open(ctx, cfg.Paths.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("opening agent journal: %w", err)
	}
	defer func() {
		if err != nil {
			store.Close()
		}
	}()

	reg := registry.New(registry.Options{
		Clock:        clk,
		HistoryLimit: cfg.Daemon.SessionHistoryLimit,
		Logger:       logger,
	})

	allocator, err := worktree.New(worktree.Options{
		Root:        cfg.Paths.Worktrees,
		LockDir:     cfg.Paths.Locks,
		Registry:    reg,
		Concurrency: int64(cfg.Daemon.GitConcurrency),
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	daemon = &Daemon{
		config:            cfg,
		clock:             clk,
		startedAt:         clk.Now(),
		stopGrace:         stopGrace,
		heartbeatInterval: heartbeatInterval,
		registry:          reg,
		allocator:         allocator,
		supervisor: supervisor.New(supervisor.Options{
			Registry:         reg,
			Clock:            clk,
			Shell:            cfg.Daemon.Shell,
			OutputBufferSize: cfg.Daemon.OutputBufferBytes,
			DefaultGrace:     stopGrace,
			Logger:           logger,
		}),
		store:             store,
		publisher:         publisher,
		unavailableAgents: make(map[string]schema.Agent),
		shutdownRequested: make(chan struct{}),
		logger:            logger,
	}

	if err := daemon.restore(ctx); err != nil {
		return nil, err
	}

	daemon.persistence = reg.Subscribe("persistence")
	daemon.server = service.NewSocketServer(publisher.Listener(), logger)
	daemon.registerActions(daemon.server)
	return daemon, nil
}

// restore registers the repositories listed in repos.toml and adopts
// every journaled agent whose worktree is still on disk. Agents whose
// worktree is gone are dropped from the journal. Listed repositories
// that cannot be loaded, and the journaled agents belonging to them,
// are kept aside and stay on disk. Sessions never survive a restart.
func (d *Daemon) restore(ctx context.Context) error {
	file, err := repoconfig.Load(d.config.Paths.ReposFile)
	if err != nil {
		return fmt.Errorf("loading repository list: %w", err)
	}
	for _, entry := range file.Repos {
		repository := entry.Repository()
		canonical, err := canonicalRepositoryPath(ctx, repository.Path)
		if err == nil {
			repository.Path = canonical
			_, err = d.registry.AddRepository(repository)
		}
		switch {
		case err == nil:
		case schema.IsKind(err, schema.KindConflict):
			d.logger.Warn("skipping duplicate listed repository", "path", entry.Path, "error", err)
		default:
			d.logger.Warn("listed repository unavailable, keeping it listed", "path", entry.Path, "error", err)
			d.unavailableRepositories = append(d.unavailableRepositories, entry)
		}
	}

	agents, err := d.store.List(ctx)
	if err != nil {
		return fmt.Errorf("reading agent journal: %w", err)
	}
	adopted, dropped := 0, 0
	for _, agent := range agents {
		if _, err := d.registry.Repository(agent.RepositoryID); err != nil {
			d.logger.Warn("keeping journaled agent of unavailable repository",
				"agent_id", agent.ID,
				"repository_id", agent.RepositoryID,
			)
			d.unavailableAgents[agent.ID] = agent
			continue
		}
		if _, err := d.allocator.Adopt(agent); err != nil {
			d.logger.Warn("dropping journaled agent",
				"agent_id", agent.ID,
				"repository_id", agent.RepositoryID,
				"error", err,
			)
			if err := d.store.Delete(ctx, agent.ID); err != nil {
				return fmt.Errorf("dropping agent %s from journal: %w", agent.ID, err)
			}
			dropped++
			continue
		}
		adopted++
	}

	d.logger.Info("state restored",
		"repositories", len(d.registry.ListRepositories()),
		"repositories_unavailable", len(d.unavailableRepositories),
		"agents", adopted,
		"agents_dropped", dropped,
		"agents_unavailable", len(d.unavailableAgents),
	)
	return nil
}

// adoptUnavailable adopts the journaled agents held back for a
// repository that has just been registered.
func (d *Daemon) adoptUnavailable(ctx context.Context, repositoryID string) {
	d.unavailableMu.Lock()
	var agents []schema.Agent
	for agentID, agent := range d.unavailableAgents {
		if agent.RepositoryID == repositoryID {
			agents = append(agents, agent)
			delete(d.unavailableAgents, agentID)
		}
	}
	d.unavailableMu.Unlock()

	for _, agent := range agents {
		if _, err := d.allocator.Adopt(agent); err != nil {
			d.logger.Warn("dropping journaled agent",
				"agent_id", agent.ID,
				"repository_id", repositoryID,
				"error", err,
			)
			if err := d.store.Delete(ctx, agent.ID); err != nil {
				d.logger.Error("removing agent from journal", "agent_id", agent.ID, "error", err)
			}
			continue
		}
		d.logger.Info("journaled agent adopted", "agent_id", agent.ID, "repository_id", repositoryID)
	}
}

// Run serves the protocol until ctx is cancelled or a client sends
// shutdown. It then stops every session, drains the server and the
// persistence loop, and withdraws the discovery record.
func (d *Daemon) Run(ctx context.Context) error {
	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	socketDone := make(chan error, 1)
	go func() {
		socketDone <- d.server.Serve(serverCtx)
	}()

	// The persistence loop outlives the server so that mutations from
	// draining handlers still reach disk.
	persistCtx, stopPersist := context.WithCancel(context.WithoutCancel(ctx))
	defer stopPersist()
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		d.persist(persistCtx, d.persistence)
	}()

	d.logger.Info("workforest daemon running",
		"address", d.publisher.Record().Address,
		"pid", d.publisher.Record().PID,
		"data_dir", d.config.Paths.Root,
		"version", version.Short(),
	)

	var serveErr error
	select {
	case <-ctx.Done():
	case <-d.shutdownRequested:
	case serveErr = <-socketDone:
		socketDone = nil
	}
	d.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.stopGrace+shutdownSlack)
	if err := d.supervisor.Shutdown(shutdownCtx, d.stopGrace); err != nil {
		d.logger.Error("stopping sessions", "error", err)
	}
	cancel()

	stopServer()
	if socketDone != nil {
		serveErr = <-socketDone
	}
	if serveErr != nil {
		d.logger.Error("socket server error", "error", serveErr)
	}

	stopPersist()
	<-persistDone

	if err := d.store.Close(); err != nil {
		d.logger.Error("closing agent journal", "error", err)
	}
	if err := d.publisher.Close(); err != nil {
		d.logger.Error("withdrawing discovery record", "error", err)
	}
	d.logger.Info("workforest daemon stopped")
	return serveErr
}

// requestShutdown makes Run begin shutting down. Safe to call more
// than once.
func (d *Daemon) requestShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdownRequested) })
}

// canonicalRepositoryPath resolves path to the root of the git working
// tree containing it: absolute, cleaned, with symlinks resolved.
func canonicalRepositoryPath(ctx context.Context, path string) (string, error) {
	if path == "" {
		return "", schema.Errorf(schema.KindInvalidRequest, "repository path is required")
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		return "", schema.Wrap(schema.KindInvalidRequest, err, "resolving %s", path)
	}
	resolved, err := filepath.EvalSymlinks(absolute)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", schema.Wrap(schema.KindNotFound, err, "%s does not exist", absolute)
		}
		return "", schema.Wrap(schema.KindIO, err, "resolving %s", absolute)
	}
	if info, err := os.Stat(resolved); err != nil || !info.IsDir() {
		return "", schema.Errorf(schema.KindInvalidRequest, "%s is not a directory", resolved)
	}

	topLevel, err := git.NewRepository(resolved).TopLevel(ctx)
	if err != nil {
		return "", schema.Wrap(schema.KindInvalidRequest, err, "%s is not inside a git working tree", resolved)
	}
	canonical, err := filepath.EvalSymlinks(topLevel)
	if err != nil {
		return "", schema.Wrap(schema.KindIO, err, "resolving %s", topLevel)
	}
	return filepath.Clean(canonical), nil
}
