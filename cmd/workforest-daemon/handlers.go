// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"

	"github.com/bureau-foundation/workforest/lib/codec"
	"github.com/bureau-foundation/workforest/lib/schema"
	"github.com/bureau-foundation/workforest/lib/service"
	"github.com/bureau-foundation/workforest/lib/version"
)

// registerActions registers every protocol action on the server. The
// action set is closed; anything else is rejected by the server.
//
// Mutating actions run on a context detached from the connection, so
// a client that hangs up mid-request cannot leave a worktree half
// created or a session half stopped.
func (d *Daemon) registerActions(server *service.SocketServer) {
	server.Handle(schema.ActionStatus, d.handleStatus)
	server.Handle(schema.ActionShutdown, d.handleShutdown)

	server.Handle(schema.ActionListRepositories, d.handleListRepositories)
	server.Handle(schema.ActionAddRepository, d.handleAddRepository)
	server.Handle(schema.ActionRemoveRepository, d.handleRemoveRepository)

	server.Handle(schema.ActionListAgents, d.handleListAgents)
	server.Handle(schema.ActionCreateAgent, d.handleCreateAgent)
	server.Handle(schema.ActionDeleteAgent, d.handleDeleteAgent)

	server.Handle(schema.ActionStartSession, d.handleStartSession)
	server.Handle(schema.ActionStopSession, d.handleStopSession)
	server.Handle(schema.ActionRestartSession, d.handleRestartSession)
	server.Handle(schema.ActionListSessions, d.handleListSessions)
	server.Handle(schema.ActionGetOutput, d.handleGetOutput)

	server.HandleStream(schema.ActionSubscribe, d.handleSubscribe)
}

// decodeRequest decodes the action-specific fields of raw into T.
func decodeRequest[T any](raw []byte) (T, error) {
	var request T
	if err := codec.Unmarshal(raw, &request); err != nil {
		return request, schema.Errorf(schema.KindInvalidRequest, "invalid request: %v", err)
	}
	return request, nil
}

func requireField(name, value string) error {
	if value == "" {
		return schema.Errorf(schema.KindInvalidRequest, "missing required field: %s", name)
	}
	return nil
}

// --- Daemon ---

func (d *Daemon) handleStatus(ctx context.Context, raw []byte) (any, error) {
	stats := d.registry.Stats()
	return schema.StatusResponse{
		Version:      version.Short(),
		PID:          os.Getpid(),
		Address:      d.publisher.Record().Address,
		DataDir:      d.config.Paths.Root,
		StartedAt:    d.startedAt.UTC(),
		Repositories: stats.Repositories,
		Agents:       stats.Agents,
		LiveSessions: stats.LiveSessions,
	}, nil
}

// handleShutdown acknowledges first; sessions are stopped after the
// response is written.
func (d *Daemon) handleShutdown(ctx context.Context, raw []byte) (any, error) {
	d.logger.Info("shutdown requested by client")
	d.requestShutdown()
	return nil, nil
}

// --- Repositories ---

func (d *Daemon) handleListRepositories(ctx context.Context, raw []byte) (any, error) {
	return d.registry.ListRepositories(), nil
}

func (d *Daemon) handleAddRepository(ctx context.Context, raw []byte) (any, error) {
	request, err := decodeRequest[schema.AddRepositoryRequest](raw)
	if err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	path, err := canonicalRepositoryPath(ctx, request.Path)
	if err != nil {
		return nil, err
	}
	repository, err := d.registry.AddRepository(schema.Repository{
		Path:        path,
		Tools:       request.Tools,
		DefaultTool: request.DefaultTool,
	})
	if err != nil {
		return nil, err
	}
	d.logger.Info("repository added",
		"repository_id", repository.ID,
		"name", repository.Name,
		"path", repository.Path,
	)
	d.adoptUnavailable(ctx, repository.ID)
	return repository, nil
}

func (d *Daemon) handleRemoveRepository(ctx context.Context, raw []byte) (any, error) {
	request, err := decodeRequest[schema.RepositoryRequest](raw)
	if err != nil {
		return nil, err
	}
	if err := requireField("repository", request.Repository); err != nil {
		return nil, err
	}
	return d.allocator.ReleaseRepository(context.WithoutCancel(ctx), request.Repository)
}

// --- Agents ---

func (d *Daemon) handleListAgents(ctx context.Context, raw []byte) (any, error) {
	request, err := decodeRequest[schema.ListAgentsRequest](raw)
	if err != nil {
		return nil, err
	}
	return d.registry.ListAgents(request.Repository)
}

func (d *Daemon) handleCreateAgent(ctx context.Context, raw []byte) (any, error) {
	request, err := decodeRequest[schema.CreateAgentRequest](raw)
	if err != nil {
		return nil, err
	}
	if err := requireField("repository", request.Repository); err != nil {
		return nil, err
	}
	agent, err := d.allocator.CreateAgent(context.WithoutCancel(ctx), request)
	if err != nil {
		return nil, err
	}
	d.logger.Info("agent created",
		"agent_id", agent.ID,
		"repository_id", agent.RepositoryID,
		"branch", agent.Branch,
		"worktree", agent.WorktreePath,
	)
	return agent, nil
}

func (d *Daemon) handleDeleteAgent(ctx context.Context, raw []byte) (any, error) {
	request, err := decodeRequest[schema.AgentRequest](raw)
	if err != nil {
		return nil, err
	}
	if err := requireField("agent", request.Agent); err != nil {
		return nil, err
	}

	agentID := request.Agent
	if agent, err := d.registry.Agent(request.Agent); err == nil {
		agentID = agent.ID
	}
	released, err := d.allocator.Release(context.WithoutCancel(ctx), request.Agent)
	if err != nil {
		return nil, err
	}
	return schema.DeleteAgentResponse{AgentID: agentID, Released: released}, nil
}

// --- Sessions ---

func (d *Daemon) handleStartSession(ctx context.Context, raw []byte) (any, error) {
	request, err := decodeRequest[schema.StartSessionRequest](raw)
	if err != nil {
		return nil, err
	}
	if err := requireField("agent", request.Agent); err != nil {
		return nil, err
	}
	return d.supervisor.Start(context.WithoutCancel(ctx), request.Agent, request.Command)
}

func (d *Daemon) handleStopSession(ctx context.Context, raw []byte) (any, error) {
	request, err := decodeRequest[schema.StopSessionRequest](raw)
	if err != nil {
		return nil, err
	}
	if err := requireField("agent", request.Agent); err != nil {
		return nil, err
	}
	return d.supervisor.Stop(context.WithoutCancel(ctx), request.Agent, request.Grace(d.stopGrace))
}

func (d *Daemon) handleRestartSession(ctx context.Context, raw []byte) (any, error) {
	request, err := decodeRequest[schema.StopSessionRequest](raw)
	if err != nil {
		return nil, err
	}
	if err := requireField("agent", request.Agent); err != nil {
		return nil, err
	}
	return d.supervisor.Restart(context.WithoutCancel(ctx), request.Agent, request.Grace(d.stopGrace))
}

func (d *Daemon) handleListSessions(ctx context.Context, raw []byte) (any, error) {
	request, err := decodeRequest[schema.AgentRequest](raw)
	if err != nil {
		return nil, err
	}
	if err := requireField("agent", request.Agent); err != nil {
		return nil, err
	}
	return d.registry.SessionHistory(request.Agent)
}

func (d *Daemon) handleGetOutput(ctx context.Context, raw []byte) (any, error) {
	request, err := decodeRequest[schema.GetOutputRequest](raw)
	if err != nil {
		return nil, err
	}
	if err := requireField("session", request.Session); err != nil {
		return nil, err
	}
	if request.Since < 0 {
		return nil, schema.Errorf(schema.KindInvalidRequest, "since must not be negative")
	}
	return d.supervisor.Output(request.Session, request.Since, request.StripANSI)
}
