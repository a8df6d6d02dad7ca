// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"fmt"
	"path/filepath"
	"slices"
	"sort"

	"github.com/bureau-foundation/workforest/lib/schema"
)

// AddRepository registers a repository. Path must already be canonical;
// the registry derives ID from it. Name defaults to the path's base
// name and gets a numeric suffix if another repository holds it.
// Tools and DefaultTool fall back to the schema defaults, and a
// DefaultTool outside Tools is added to Tools. A zero AddedAt is set
// to now.
//
// Fails with a Conflict error if the path is already registered.
func (r *Registry) AddRepository(repository schema.Repository) (schema.Repository, error) {
	if repository.Path == "" || !filepath.IsAbs(repository.Path) {
		return schema.Repository{}, schema.Errorf(schema.KindInvalidRequest,
			"repository path %q is not absolute", repository.Path)
	}

	repository.ID = RepositoryID(repository.Path)
	repository.Tools = slices.Clone(repository.Tools)
	if len(repository.Tools) == 0 {
		repository.Tools = slices.Clone(schema.DefaultTools)
	}
	if repository.DefaultTool == "" {
		repository.DefaultTool = schema.DefaultTool
		if !slices.Contains(repository.Tools, schema.DefaultTool) {
			repository.DefaultTool = repository.Tools[0]
		}
	}
	if !slices.Contains(repository.Tools, repository.DefaultTool) {
		repository.Tools = append(repository.Tools, repository.DefaultTool)
	}
	if repository.AddedAt.IsZero() {
		repository.AddedAt = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.partitions[repository.ID]; ok {
		return schema.Repository{}, schema.Errorf(schema.KindConflict,
			"repository %s is already registered as %q", repository.Path, existing.repository.Name)
	}

	repository.Name = r.uniqueName(repository.Name, repository.Path)
	p := &partition{repository: repository, agents: make(map[string]*agentRecord)}
	r.partitions[repository.ID] = p
	r.names[repository.Name] = repository.ID

	r.broadcast.publish(schema.Event{
		Kind:         schema.EventCreated,
		Entity:       schema.EntityRepository,
		ID:           repository.ID,
		RepositoryID: repository.ID,
		Repository:   &repository,
	})
	return repository, nil
}

// uniqueName picks the first free name among base, base-2, base-3, ...
// A name equal to some repository's id is also skipped so references
// stay unambiguous. The caller holds r.mu.
func (r *Registry) uniqueName(preferred, path string) string {
	base := preferred
	if base == "" {
		base = filepath.Base(path)
	}
	taken := func(name string) bool {
		_, byName := r.names[name]
		_, byID := r.partitions[name]
		return byName || byID
	}
	name := base
	for suffix := 2; taken(name); suffix++ {
		name = fmt.Sprintf("%s-%d", base, suffix)
	}
	return name
}

// Repository resolves a repository by id or name.
func (r *Registry) Repository(reference string) (schema.Repository, error) {
	p, err := r.lookupPartition(reference)
	if err != nil {
		return schema.Repository{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.repository, nil
}

// ListRepositories returns every repository ordered by name.
func (r *Registry) ListRepositories() []schema.Repository {
	r.mu.RLock()
	defer r.mu.RUnlock()

	repositories := make([]schema.Repository, 0, len(r.partitions))
	for _, p := range r.partitions {
		// Repository fields never change after registration, so the
		// partition lock is not needed to read them.
		repositories = append(repositories, p.repository)
	}
	sort.Slice(repositories, func(i, j int) bool { return repositories[i].Name < repositories[j].Name })
	return repositories
}

// BeginRepositoryRemoval marks a repository as closing: no agent can be
// created and no session started until the removal completes or is
// aborted. Fails with Busy if any agent has a live session, and
// returns the repository's agents so the caller can release them.
func (r *Registry) BeginRepositoryRemoval(reference string) (schema.Repository, []schema.Agent, error) {
	p, err := r.lookupPartition(reference)
	if err != nil {
		return schema.Repository{}, nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.removed {
		return schema.Repository{}, nil, schema.Errorf(schema.KindNotFound, "repository %q not found", reference)
	}
	if p.removing {
		return schema.Repository{}, nil, schema.Errorf(schema.KindBusy,
			"repository %q is already being removed", p.repository.Name)
	}

	agents := make([]schema.Agent, 0, len(p.agents))
	for _, record := range sortedAgents(p) {
		if record.live() {
			return schema.Repository{}, nil, schema.Errorf(schema.KindBusy,
				"repository %q has a live session on agent %s", p.repository.Name, record.agent.Label)
		}
		agents = append(agents, record.agent)
	}
	p.removing = true
	return p.repository, agents, nil
}

// AbortRepositoryRemoval clears the closing mark set by
// BeginRepositoryRemoval.
func (r *Registry) AbortRepositoryRemoval(repositoryID string) {
	p, err := r.lookupPartition(repositoryID)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.removing = false
	p.mu.Unlock()
}

// RemoveRepository deletes a repository that has no agents left. Fails
// with Busy while any agent remains; agents must be released first
// (lib/worktree does this).
func (r *Registry) RemoveRepository(reference string) (schema.Repository, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := reference
	if named, ok := r.names[reference]; ok {
		id = named
	}
	p, ok := r.partitions[id]
	if !ok {
		return schema.Repository{}, schema.Errorf(schema.KindNotFound, "repository %q not found", reference)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.agents) > 0 {
		return schema.Repository{}, schema.Errorf(schema.KindBusy,
			"repository %q still has %d agent(s)", p.repository.Name, len(p.agents))
	}

	p.removed = true
	delete(r.partitions, id)
	delete(r.names, p.repository.Name)

	repository := p.repository
	r.broadcast.publish(schema.Event{
		Kind:         schema.EventRemoved,
		Entity:       schema.EntityRepository,
		ID:           repository.ID,
		RepositoryID: repository.ID,
		Repository:   &repository,
	})
	return repository, nil
}
