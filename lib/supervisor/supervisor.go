// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/workforest/lib/clock"
	"github.com/bureau-foundation/workforest/lib/registry"
	"github.com/bureau-foundation/workforest/lib/ringbuffer"
	"github.com/bureau-foundation/workforest/lib/schema"
)

// DefaultGrace is the stop grace period used when a caller passes zero.
const DefaultGrace = 5 * time.Second

// MaxOutputChunk bounds a single Output read.
const MaxOutputChunk = 256 << 10

// Options configures a Supervisor.
type Options struct {
	Registry *registry.Registry

	// Clock times stop grace periods. Nil means clock.Real().
	Clock clock.Clock

	// Shell runs session commands as "<Shell> -lc <command>". Empty
	// means "sh".
	Shell string

	// OutputBufferSize is the per-session output capacity in bytes.
	// Zero means ringbuffer.DefaultSize.
	OutputBufferSize int

	// DefaultGrace applies when Stop is called with a zero grace.
	DefaultGrace time.Duration

	Logger *slog.Logger
}

// Supervisor starts, stops, and watches session processes.
type Supervisor struct {
	registry     *registry.Registry
	clock        clock.Clock
	shell        string
	outputSize   int
	defaultGrace time.Duration
	logger       *slog.Logger

	mu        sync.Mutex
	processes map[string]*process          // agent id -> running process
	outputs   map[string]*ringbuffer.Buffer // session id -> captured output
	// closing is set by Shutdown. Start refuses new sessions once it
	// is set; starts already past the check are counted in starting.
	closing bool

	starting sync.WaitGroup
	watchers sync.WaitGroup
}

// process is a spawned session process. done closes after the exit
// has been recorded in the registry; final holds the recorded session.
type process struct {
	agentID   string
	sessionID string
	cmd       *exec.Cmd

	// stopRequested is set before the supervisor signals the process,
	// so the watcher does not mistake the resulting exit for a crash.
	stopRequested atomic.Bool
	// killed is set when the grace period ran out and SIGKILL was sent.
	killed atomic.Bool

	done  chan struct{}
	final schema.Session
}

// New returns a Supervisor.
func New(options Options) *Supervisor {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Shell == "" {
		options.Shell = "sh"
	}
	if options.DefaultGrace <= 0 {
		options.DefaultGrace = DefaultGrace
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	return &Supervisor{
		registry:     options.Registry,
		clock:        options.Clock,
		shell:        options.Shell,
		outputSize:   options.OutputBufferSize,
		defaultGrace: options.DefaultGrace,
		logger:       options.Logger,
		processes:    make(map[string]*process),
		outputs:      make(map[string]*ringbuffer.Buffer),
	}
}

// Start launches a session for the agent. An empty command runs the
// agent's tool. The returned session is running, with its pid set.
//
// Fails with Conflict if the agent already has a live session, Busy if
// it is being released or the supervisor is shutting down, and IO if
// the process cannot be spawned; in the last case the session is
// recorded as failed with the spawn error.
func (s *Supervisor) Start(ctx context.Context, agentReference, command string) (schema.Session, error) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return schema.Session{}, schema.Errorf(schema.KindBusy, "daemon shutting down")
	}
	s.starting.Add(1)
	s.mu.Unlock()
	defer s.starting.Done()

	agent, err := s.registry.Agent(agentReference)
	if err != nil {
		return schema.Session{}, err
	}
	if command == "" {
		command = agent.Tool
	}
	if command == "" {
		return schema.Session{}, schema.Errorf(schema.KindInvalidRequest, "no command given and agent %s has no tool", agent.Label)
	}

	session, err := s.registry.BeginSession(agent.ID, command)
	if err != nil {
		return schema.Session{}, err
	}
	s.pruneOutputs()

	output := ringbuffer.New(s.outputSize)
	s.mu.Lock()
	s.outputs[session.ID] = output
	s.mu.Unlock()

	// The child writes straight into a pipe we drain ourselves, so
	// Wait returns as soon as the leader exits even if descendants
	// still hold the write end.
	reader, writer, err := os.Pipe()
	if err != nil {
		return s.spawnFailed(agent, err)
	}

	cmd := exec.Command(s.shell, "-lc", command)
	cmd.Dir = agent.WorktreePath
	cmd.Stdout = writer
	cmd.Stderr = writer
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = append(os.Environ(),
		"WORKFOREST_AGENT_ID="+agent.ID,
		"WORKFOREST_AGENT_LABEL="+agent.Label,
		"WORKFOREST_REPOSITORY_ID="+agent.RepositoryID,
		"WORKFOREST_SESSION_ID="+session.ID,
	)

	startErr := cmd.Start()
	writer.Close()
	if startErr != nil {
		reader.Close()
		return s.spawnFailed(agent, startErr)
	}
	go func() {
		defer reader.Close()
		_, _ = io.Copy(output, reader)
	}()

	p := &process{
		agentID:   agent.ID,
		sessionID: session.ID,
		cmd:       cmd,
		done:      make(chan struct{}),
	}
	s.mu.Lock()
	s.processes[agent.ID] = p
	s.mu.Unlock()

	running, err := s.registry.SetSessionState(agent.ID, schema.SessionUpdate{
		State: schema.SessionRunning,
		PID:   cmd.Process.Pid,
	})
	if err != nil {
		// The registry refused the transition; never leave an
		// untracked process behind.
		p.stopRequested.Store(true)
		signalGroup(cmd.Process.Pid, unix.SIGKILL)
	}

	s.watchers.Add(1)
	go s.watch(p)

	if err != nil {
		return schema.Session{}, err
	}
	s.logger.Info("session started",
		"agent_id", agent.ID,
		"session_id", session.ID,
		"pid", running.PID,
		"command", command,
	)
	return running, nil
}

// spawnFailed records a session that could not be spawned.
func (s *Supervisor) spawnFailed(agent schema.Agent, cause error) (schema.Session, error) {
	failed, err := s.registry.SetSessionState(agent.ID, schema.SessionUpdate{
		State: schema.SessionFailed,
		Error: cause.Error(),
	})
	if err != nil {
		s.logger.Error("recording spawn failure", "agent_id", agent.ID, "error", err)
	}
	s.logger.Warn("session spawn failed",
		"agent_id", agent.ID,
		"session_id", failed.ID,
		"error", cause,
	)
	return failed, schema.Wrap(schema.KindIO, cause, "starting session for agent %s", agent.Label)
}

// watch waits for a process to exit and records the outcome.
func (s *Supervisor) watch(p *process) {
	defer s.watchers.Done()

	waitErr := p.cmd.Wait()
	// Reap anything the command left running in its group.
	signalGroup(p.cmd.Process.Pid, unix.SIGKILL)

	exit, signaled := exitStatus(p.cmd.ProcessState, waitErr)
	exit.Killed = p.killed.Load()
	crashed := signaled && !p.stopRequested.Load()

	final, err := s.registry.CompleteSession(p.agentID, p.sessionID, exit, crashed)
	if err != nil {
		s.logger.Error("recording session exit",
			"agent_id", p.agentID,
			"session_id", p.sessionID,
			"error", err,
		)
	}

	s.mu.Lock()
	if s.processes[p.agentID] == p {
		delete(s.processes, p.agentID)
	}
	s.mu.Unlock()

	level := slog.LevelInfo
	if final.State == schema.SessionFailed {
		level = slog.LevelWarn
	}
	s.logger.Log(context.Background(), level, "session exited",
		"agent_id", p.agentID,
		"session_id", p.sessionID,
		"state", final.State,
		"exit", exit.String(),
	)

	p.final = final
	close(p.done)
}

// exitStatus converts a finished process's state. signaled reports
// whether a signal terminated it.
func exitStatus(state *os.ProcessState, waitErr error) (schema.ExitStatus, bool) {
	if state == nil {
		return schema.ExitStatus{Code: -1}, false
	}
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		signal := int(status.Signal())
		return schema.ExitStatus{Code: 128 + signal, Signal: signal}, true
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return schema.ExitStatus{Code: -1}, false
	}
	return schema.ExitStatus{Code: state.ExitCode()}, false
}

// signalGroup signals every process in the group led by pid. A group
// that no longer exists is not an error.
func signalGroup(pid int, signal unix.Signal) {
	if pid <= 0 {
		return
	}
	_ = unix.Kill(-pid, signal)
}

// Stop ends the agent's running session: SIGTERM to its process group,
// then SIGKILL if it is still alive after grace (zero means the
// default). It returns the session once its exit is recorded.
//
// Stopping a session that is not running returns its current state
// and does nothing. Fails with NotFound if the agent has never had a
// session.
func (s *Supervisor) Stop(ctx context.Context, agentReference string, grace time.Duration) (schema.Session, error) {
	session, err := s.registry.GetSession(agentReference)
	if err != nil {
		return schema.Session{}, err
	}
	if session.State != schema.SessionRunning {
		return session, nil
	}
	if grace <= 0 {
		grace = s.defaultGrace
	}

	s.mu.Lock()
	p := s.processes[session.AgentID]
	s.mu.Unlock()
	if p == nil || p.sessionID != session.ID {
		return s.registry.GetSession(session.AgentID)
	}

	p.stopRequested.Store(true)
	if _, err := s.registry.SetSessionState(session.AgentID, schema.SessionUpdate{State: schema.SessionStopping}); err != nil {
		if schema.IsKind(err, schema.KindInvalidTransition) {
			// The process exited between the check and the
			// transition, or another Stop got there first.
			return s.waitFinal(ctx, p)
		}
		return schema.Session{}, err
	}

	pid := p.cmd.Process.Pid
	s.logger.Info("stopping session", "agent_id", session.AgentID, "session_id", session.ID, "pid", pid, "grace", grace)
	signalGroup(pid, unix.SIGTERM)

	select {
	case <-p.done:
		return p.final, nil
	case <-s.clock.After(grace):
	case <-ctx.Done():
	}

	p.killed.Store(true)
	signalGroup(pid, unix.SIGKILL)
	s.logger.Warn("session did not stop within grace period, killed",
		"agent_id", session.AgentID,
		"session_id", session.ID,
		"grace", grace,
	)
	return s.waitFinal(context.WithoutCancel(ctx), p)
}

// killWait bounds the wait for a SIGKILLed process to be reaped.
const killWait = 10 * time.Second

// waitFinal waits for the watcher to record p's exit. If the process
// cannot be reaped in time the current registry state is returned.
func (s *Supervisor) waitFinal(ctx context.Context, p *process) (schema.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, killWait)
	defer cancel()
	select {
	case <-p.done:
		return p.final, nil
	case <-ctx.Done():
		return s.registry.GetSession(p.agentID)
	}
}

// Restart stops the agent's session if it is running and starts a new
// one with the same command. An agent that never ran starts its tool.
func (s *Supervisor) Restart(ctx context.Context, agentReference string, grace time.Duration) (schema.Session, error) {
	previous, err := s.Stop(ctx, agentReference, grace)
	command := ""
	switch {
	case err == nil:
		if previous.State.Live() {
			return schema.Session{}, schema.Errorf(schema.KindConflict,
				"session %s is still %s", previous.ID, previous.State)
		}
		command = previous.Command
	case schema.IsKind(err, schema.KindNotFound):
		if _, agentErr := s.registry.Agent(agentReference); agentErr != nil {
			return schema.Session{}, agentErr
		}
	default:
		return schema.Session{}, err
	}
	return s.Start(ctx, agentReference, command)
}

// Shutdown stops every running session concurrently and waits for
// all watchers to finish. Start fails with Busy from the moment
// Shutdown is called; starts already in progress finish first and are
// stopped with the rest. Each session gets its full grace even when
// stopping another one fails.
func (s *Supervisor) Shutdown(ctx context.Context, grace time.Duration) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.starting.Wait()

	s.mu.Lock()
	agentIDs := make([]string, 0, len(s.processes))
	for agentID := range s.processes {
		agentIDs = append(agentIDs, agentID)
	}
	s.mu.Unlock()

	var group errgroup.Group
	for _, agentID := range agentIDs {
		group.Go(func() error {
			_, err := s.Stop(ctx, agentID, grace)
			return err
		})
	}
	err := group.Wait()
	s.watchers.Wait()
	if len(agentIDs) > 0 {
		s.logger.Info("all sessions stopped", "count", len(agentIDs))
	}
	return err
}

// Output reads a session's captured output from offset since. With
// stripANSI, terminal escape sequences are removed from Data; offsets
// still refer to the raw stream.
func (s *Supervisor) Output(sessionID string, since int64, stripANSI bool) (schema.OutputChunk, error) {
	if _, err := s.registry.SessionByID(sessionID); err != nil {
		return schema.OutputChunk{}, err
	}

	s.mu.Lock()
	output := s.outputs[sessionID]
	s.mu.Unlock()
	if output == nil {
		// Spawn failed before any output buffer was attached.
		return schema.OutputChunk{SessionID: sessionID, Start: since, End: since, Data: []byte{}}, nil
	}

	chunk := output.ReadSince(since, MaxOutputChunk)
	data := chunk.Data
	if stripANSI {
		data = []byte(ansi.Strip(string(data)))
	}
	return schema.OutputChunk{
		SessionID: sessionID,
		Start:     chunk.Start,
		End:       chunk.End,
		Data:      data,
		Truncated: chunk.Truncated,
	}, nil
}

// pruneOutputs drops buffers of sessions the registry no longer
// retains.
func (s *Supervisor) pruneOutputs() {
	s.mu.Lock()
	sessionIDs := make([]string, 0, len(s.outputs))
	for sessionID := range s.outputs {
		sessionIDs = append(sessionIDs, sessionID)
	}
	s.mu.Unlock()

	for _, sessionID := range sessionIDs {
		if _, err := s.registry.SessionByID(sessionID); schema.IsKind(err, schema.KindNotFound) {
			s.mu.Lock()
			delete(s.outputs, sessionID)
			s.mu.Unlock()
		}
	}
}

// Running returns the number of processes currently supervised.
func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processes)
}
