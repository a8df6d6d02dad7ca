// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package daemonclient is the typed client for workforest-daemon. It
// finds the daemon through its discovery record and wraps every
// protocol action in a method.
package daemonclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bureau-foundation/workforest/lib/discovery"
	"github.com/bureau-foundation/workforest/lib/schema"
	"github.com/bureau-foundation/workforest/lib/service"
)

// Client talks to one daemon address.
type Client struct {
	service *service.ServiceClient
}

// New returns a client for the daemon at address.
func New(address string) *Client {
	return &Client{service: service.NewServiceClient(address)}
}

// Connect locates the daemon that owns dataDir. Fails with a
// KindNotFound error when no live daemon is published there.
func Connect(ctx context.Context, dataDir string) (*Client, discovery.Record, error) {
	record, err := discovery.Locate(ctx, dataDir, nil)
	if err != nil {
		return nil, record, err
	}
	return New(record.Address), record, nil
}

// Address returns the daemon address.
func (c *Client) Address() string {
	return c.service.Address()
}

// Status describes the running daemon.
func (c *Client) Status(ctx context.Context) (schema.StatusResponse, error) {
	var status schema.StatusResponse
	err := c.service.Call(ctx, schema.ActionStatus, nil, &status)
	return status, err
}

// Shutdown asks the daemon to stop every session and exit. The call
// returns once the daemon has accepted the request; use
// discovery.WaitForRemoval to wait for the exit itself.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.service.Call(ctx, schema.ActionShutdown, nil, nil)
}

// ListRepositories returns every registered repository.
func (c *Client) ListRepositories(ctx context.Context) ([]schema.Repository, error) {
	var repositories []schema.Repository
	err := c.service.Call(ctx, schema.ActionListRepositories, nil, &repositories)
	return repositories, err
}

// AddRepository registers the repository containing request.Path.
func (c *Client) AddRepository(ctx context.Context, request schema.AddRepositoryRequest) (schema.Repository, error) {
	fields := map[string]any{"path": request.Path}
	if len(request.Tools) > 0 {
		fields["tools"] = request.Tools
	}
	if request.DefaultTool != "" {
		fields["default_tool"] = request.DefaultTool
	}
	var repository schema.Repository
	err := c.service.Call(ctx, schema.ActionAddRepository, fields, &repository)
	return repository, err
}

// RemoveRepository releases every agent of the repository and
// unregisters it.
func (c *Client) RemoveRepository(ctx context.Context, reference string) (schema.Repository, error) {
	var repository schema.Repository
	err := c.service.Call(ctx, schema.ActionRemoveRepository,
		map[string]any{"repository": reference}, &repository)
	return repository, err
}

// ListAgents returns agents, limited to one repository when
// repository is non-empty.
func (c *Client) ListAgents(ctx context.Context, repository string) ([]schema.Agent, error) {
	var fields map[string]any
	if repository != "" {
		fields = map[string]any{"repository": repository}
	}
	var agents []schema.Agent
	err := c.service.Call(ctx, schema.ActionListAgents, fields, &agents)
	return agents, err
}

// CreateAgent allocates a worktree and registers an agent.
func (c *Client) CreateAgent(ctx context.Context, request schema.CreateAgentRequest) (schema.Agent, error) {
	fields := map[string]any{"repository": request.Repository}
	if request.Branch != "" {
		fields["branch"] = request.Branch
	}
	if request.Tool != "" {
		fields["tool"] = request.Tool
	}
	var agent schema.Agent
	err := c.service.Call(ctx, schema.ActionCreateAgent, fields, &agent)
	return agent, err
}

// DeleteAgent releases the agent's worktree and forgets it.
func (c *Client) DeleteAgent(ctx context.Context, reference string) (schema.DeleteAgentResponse, error) {
	var response schema.DeleteAgentResponse
	err := c.service.Call(ctx, schema.ActionDeleteAgent, map[string]any{"agent": reference}, &response)
	return response, err
}

// StartSession starts the agent's process. An empty command runs the
// agent's tool.
func (c *Client) StartSession(ctx context.Context, agent, command string) (schema.Session, error) {
	fields := map[string]any{"agent": agent}
	if command != "" {
		fields["command"] = command
	}
	var session schema.Session
	err := c.service.Call(ctx, schema.ActionStartSession, fields, &session)
	return session, err
}

// StopSession stops the agent's live session. A zero grace uses the
// daemon's default.
func (c *Client) StopSession(ctx context.Context, agent string, grace time.Duration) (schema.Session, error) {
	var session schema.Session
	err := c.service.Call(ctx, schema.ActionStopSession, stopFields(agent, grace), &session)
	return session, err
}

// RestartSession stops the agent's session and starts it again with
// the same command.
func (c *Client) RestartSession(ctx context.Context, agent string, grace time.Duration) (schema.Session, error) {
	var session schema.Session
	err := c.service.Call(ctx, schema.ActionRestartSession, stopFields(agent, grace), &session)
	return session, err
}

func stopFields(agent string, grace time.Duration) map[string]any {
	fields := map[string]any{"agent": agent}
	if grace > 0 {
		fields["grace_seconds"] = grace.Seconds()
	}
	return fields
}

// ListSessions returns the agent's retained sessions, oldest first.
func (c *Client) ListSessions(ctx context.Context, agent string) ([]schema.Session, error) {
	var sessions []schema.Session
	err := c.service.Call(ctx, schema.ActionListSessions, map[string]any{"agent": agent}, &sessions)
	return sessions, err
}

// GetOutput reads captured session output from request.Since onward.
func (c *Client) GetOutput(ctx context.Context, request schema.GetOutputRequest) (schema.OutputChunk, error) {
	fields := map[string]any{
		"session": request.Session,
		"since":   request.Since,
	}
	if request.StripANSI {
		fields["strip_ansi"] = true
	}
	var chunk schema.OutputChunk
	err := c.service.Call(ctx, schema.ActionGetOutput, fields, &chunk)
	return chunk, err
}

// Subscription is an open subscribe stream.
type Subscription struct {
	stream *service.Stream
}

// Subscribe opens the event stream. The first frame is a snapshot.
func (c *Client) Subscribe(ctx context.Context) (*Subscription, error) {
	stream, err := c.service.Stream(ctx, schema.ActionSubscribe, nil)
	if err != nil {
		return nil, err
	}
	return &Subscription{stream: stream}, nil
}

// Next returns the next frame. An error frame from the daemon is
// returned as its *schema.Error; a closed stream as io.EOF.
func (s *Subscription) Next() (schema.SubscribeFrame, error) {
	var frame schema.SubscribeFrame
	if err := s.stream.Receive(&frame); err != nil {
		if errors.Is(err, io.EOF) {
			return frame, io.EOF
		}
		return frame, err
	}
	if frame.Type == schema.FrameError {
		if frame.Error != nil {
			return frame, frame.Error
		}
		return frame, fmt.Errorf("daemon sent an error frame without details")
	}
	return frame, nil
}

// Close ends the subscription.
func (s *Subscription) Close() error {
	return s.stream.Close()
}
