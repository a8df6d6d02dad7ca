// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"path/filepath"

	"github.com/bureau-foundation/workforest/lib/registry"
	"github.com/bureau-foundation/workforest/lib/repoconfig"
	"github.com/bureau-foundation/workforest/lib/schema"
)

// persist mirrors registry changes to disk: agents to the journal and
// the repository list to repos.toml. It runs until ctx is done and
// then writes out whatever was already queued. Write failures are
// logged; the in-memory registry stays authoritative.
func (d *Daemon) persist(ctx context.Context, subscription *registry.Subscription) {
	defer subscription.Close()

	mirror := subscription.Snapshot.Clone()
	storeCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case event := <-subscription.Events():
					d.persistUpdate(storeCtx, subscription, &mirror, event)
				default:
					return
				}
			}
		case event := <-subscription.Events():
			d.persistUpdate(storeCtx, subscription, &mirror, event)
		}
	}
}

func (d *Daemon) persistUpdate(ctx context.Context, subscription *registry.Subscription, mirror *schema.Snapshot, event schema.Event) {
	update, ok := subscription.Receive(event)
	if !ok {
		return
	}

	if update.Snapshot != nil {
		*mirror = update.Snapshot.Clone()
		d.writeRepositoryList(mirror.Repositories)
		d.reconcileJournal(ctx, mirror.Agents)
		return
	}

	mirror.Apply(*update.Event)
	switch update.Event.Entity {
	case schema.EntityRepository:
		if update.Event.Kind != schema.EventUpdated {
			d.writeRepositoryList(mirror.Repositories)
		}
	case schema.EntityAgent:
		d.journalAgent(ctx, *update.Event)
	}
}

func (d *Daemon) journalAgent(ctx context.Context, event schema.Event) {
	switch event.Kind {
	case schema.EventCreated:
		if err := d.store.Save(ctx, *event.Agent); err != nil {
			d.logger.Error("journaling agent", "agent_id", event.ID, "error", err)
		}
	case schema.EventRemoved:
		if err := d.store.Delete(ctx, event.ID); err != nil {
			d.logger.Error("removing agent from journal", "agent_id", event.ID, "error", err)
		}
	}
}

// reconcileJournal makes the journal hold exactly agents. Used after a
// resync, when individual events were lost.
func (d *Daemon) reconcileJournal(ctx context.Context, agents []schema.Agent) {
	current := make(map[string]bool, len(agents))
	for _, agent := range agents {
		current[agent.ID] = true
		if err := d.store.Save(ctx, agent); err != nil {
			d.logger.Error("journaling agent", "agent_id", agent.ID, "error", err)
		}
	}

	stored, err := d.store.List(ctx)
	if err != nil {
		d.logger.Error("reading agent journal", "error", err)
		return
	}
	for _, agent := range stored {
		if current[agent.ID] || d.heldUnavailable(agent.ID) {
			continue
		}
		if err := d.store.Delete(ctx, agent.ID); err != nil {
			d.logger.Error("removing agent from journal", "agent_id", agent.ID, "error", err)
		}
	}
}

func (d *Daemon) heldUnavailable(agentID string) bool {
	d.unavailableMu.Lock()
	defer d.unavailableMu.Unlock()
	_, held := d.unavailableAgents[agentID]
	return held
}

// writeRepositoryList rewrites repos.toml with the registered
// repositories followed by the listed ones that could not be loaded.
// An unavailable entry is retired once its path is registered.
func (d *Daemon) writeRepositoryList(repositories []schema.Repository) {
	registered := make(map[string]bool, len(repositories))
	for _, repository := range repositories {
		registered[repository.Path] = true
	}
	file := repoconfig.FromRepositories(repositories)

	d.unavailableMu.Lock()
	kept := d.unavailableRepositories[:0]
	for _, entry := range d.unavailableRepositories {
		if registered[filepath.Clean(entry.Path)] {
			continue
		}
		kept = append(kept, entry)
	}
	d.unavailableRepositories = kept
	file.Repos = append(file.Repos, kept...)
	d.unavailableMu.Unlock()

	path := d.config.Paths.ReposFile
	if err := repoconfig.Save(path, file); err != nil {
		d.logger.Error("writing repository list", "path", path, "error", err)
		return
	}
	d.logger.Debug("repository list written", "path", path, "repositories", len(file.Repos))
}
