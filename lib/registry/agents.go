// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"sort"

	"github.com/bureau-foundation/workforest/lib/schema"
)

// CreateAgent records an agent whose worktree has already been
// allocated. The caller supplies ID, RepositoryID, WorktreePath,
// Branch, and Tool; the registry assigns Label and, when zero,
// CreatedAt.
//
// Fails with NotFound for an unknown repository, Busy while the
// repository is being removed, and Conflict when the id or the
// worktree path is already in use.
func (r *Registry) CreateAgent(agent schema.Agent) (schema.Agent, error) {
	if agent.ID == "" || agent.WorktreePath == "" {
		return schema.Agent{}, schema.Errorf(schema.KindInvalidRequest, "agent id and worktree path are required")
	}
	p, err := r.lookupPartition(agent.RepositoryID)
	if err != nil {
		return schema.Agent{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.removed:
		return schema.Agent{}, schema.Errorf(schema.KindNotFound, "repository %q not found", agent.RepositoryID)
	case p.removing:
		return schema.Agent{}, schema.Errorf(schema.KindBusy, "repository %q is being removed", p.repository.Name)
	}
	if _, exists := r.agentRepository.Load(agent.ID); exists {
		return schema.Agent{}, schema.Errorf(schema.KindConflict, "agent %s already exists", agent.ID)
	}
	for _, record := range p.agents {
		if record.agent.WorktreePath == agent.WorktreePath {
			return schema.Agent{}, schema.Errorf(schema.KindConflict,
				"worktree %s already belongs to agent %s", agent.WorktreePath, record.agent.Label)
		}
	}

	agent.RepositoryID = p.repository.ID
	agent.Releasing = false
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = r.now()
	}
	agent.Label = schema.AgentLabel(agent.ID)
	if _, taken := r.agentLabels.LoadOrStore(agent.Label, agent.ID); taken {
		agent.Label = fullLabel(agent.ID)
		r.agentLabels.Store(agent.Label, agent.ID)
	}

	p.agents[agent.ID] = &agentRecord{agent: agent}
	r.agentRepository.Store(agent.ID, p.repository.ID)
	r.released.Delete(agent.ID)

	r.publishAgent(schema.EventCreated, agent)
	return agent, nil
}

// Agent resolves an agent by id or label.
func (r *Registry) Agent(reference string) (schema.Agent, error) {
	p, record, err := r.lockAgent(reference)
	if err != nil {
		return schema.Agent{}, err
	}
	defer p.mu.Unlock()
	return record.agent, nil
}

// ListAgents returns agents ordered by creation time. A non-empty
// repositoryFilter (id or name) restricts the result to one
// repository and fails with NotFound if it names none.
func (r *Registry) ListAgents(repositoryFilter string) ([]schema.Agent, error) {
	var partitions []*partition
	if repositoryFilter != "" {
		p, err := r.lookupPartition(repositoryFilter)
		if err != nil {
			return nil, err
		}
		partitions = []*partition{p}
	} else {
		r.mu.RLock()
		for _, p := range r.partitions {
			partitions = append(partitions, p)
		}
		r.mu.RUnlock()
	}

	agents := []schema.Agent{}
	for _, p := range partitions {
		p.mu.Lock()
		if !p.removed {
			for _, record := range sortedAgents(p) {
				agents = append(agents, record.agent)
			}
		}
		p.mu.Unlock()
	}
	sortAgents(agents)
	return agents, nil
}

// BeginRelease marks an agent as releasing so no session can start
// while its worktree is removed. alreadyReleased is true, with a nil
// error, when the agent was deleted by an earlier release.
//
// Fails with NotFound for an id never seen, and Busy if the agent has
// a live session or a release is already in progress.
func (r *Registry) BeginRelease(reference string) (agent schema.Agent, alreadyReleased bool, err error) {
	p, record, err := r.lockAgent(reference)
	if err != nil {
		if _, ok := r.released.Load(reference); ok {
			return schema.Agent{}, true, nil
		}
		return schema.Agent{}, false, err
	}
	defer p.mu.Unlock()

	if record.agent.Releasing {
		return schema.Agent{}, false, schema.Errorf(schema.KindBusy,
			"agent %s is already being released", record.agent.Label)
	}
	if record.live() {
		return schema.Agent{}, false, schema.Errorf(schema.KindBusy,
			"agent %s has a live session", record.agent.Label)
	}

	record.agent.Releasing = true
	r.publishAgent(schema.EventUpdated, record.agent)
	return record.agent, false, nil
}

// AbortRelease clears the releasing mark after a failed worktree
// removal. The agent stays registered.
func (r *Registry) AbortRelease(agentID string) (schema.Agent, error) {
	p, record, err := r.lockAgent(agentID)
	if err != nil {
		return schema.Agent{}, err
	}
	defer p.mu.Unlock()

	if !record.agent.Releasing {
		return record.agent, nil
	}
	record.agent.Releasing = false
	r.publishAgent(schema.EventUpdated, record.agent)
	return record.agent, nil
}

// DeleteAgent removes an agent and its session history. Fails with
// Busy if a session is live. The agent's id is remembered so a
// repeated release is recognized as already done.
func (r *Registry) DeleteAgent(reference string) (schema.Agent, error) {
	p, record, err := r.lockAgent(reference)
	if err != nil {
		return schema.Agent{}, err
	}
	defer p.mu.Unlock()

	if record.live() {
		return schema.Agent{}, schema.Errorf(schema.KindBusy, "agent %s has a live session", record.agent.Label)
	}

	agent := record.agent
	for _, session := range record.sessions {
		r.sessionAgent.Delete(session.ID)
		removed := *session
		r.broadcast.publish(schema.Event{
			Kind:         schema.EventRemoved,
			Entity:       schema.EntitySession,
			ID:           removed.ID,
			RepositoryID: removed.RepositoryID,
			Session:      &removed,
		})
	}
	delete(p.agents, agent.ID)
	r.agentRepository.Delete(agent.ID)
	r.agentLabels.Delete(agent.Label)
	r.released.Store(agent.ID, struct{}{})
	r.released.Store(agent.Label, struct{}{})

	r.publishAgent(schema.EventRemoved, agent)
	return agent, nil
}

func (r *Registry) publishAgent(kind schema.EventKind, agent schema.Agent) {
	r.broadcast.publish(schema.Event{
		Kind:         kind,
		Entity:       schema.EntityAgent,
		ID:           agent.ID,
		RepositoryID: agent.RepositoryID,
		Agent:        &agent,
	})
}

func sortAgents(agents []schema.Agent) {
	sort.Slice(agents, func(i, j int) bool { return agentLess(agents[i], agents[j]) })
}

func agentLess(a, b schema.Agent) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
