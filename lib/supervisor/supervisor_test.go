// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/workforest/lib/clock"
	"github.com/bureau-foundation/workforest/lib/registry"
	"github.com/bureau-foundation/workforest/lib/schema"
	"github.com/bureau-foundation/workforest/lib/testutil"
)

const waitTimeout = 10 * time.Second

type fixture struct {
	supervisor *Supervisor
	registry   *registry.Registry
	agent      schema.Agent
}

func newFixture(t *testing.T, clk clock.Clock) *fixture {
	t.Helper()

	reg := registry.New(registry.Options{})
	repository, err := reg.AddRepository(schema.Repository{Path: "/src/project"})
	if err != nil {
		t.Fatal(err)
	}
	agent, err := reg.CreateAgent(schema.Agent{
		ID:           registry.NewAgentID(),
		RepositoryID: repository.ID,
		WorktreePath: t.TempDir(),
		Branch:       "agent/test",
		Tool:         "sleep 60",
	})
	if err != nil {
		t.Fatal(err)
	}
	supervisor := New(Options{Registry: reg, Clock: clk, OutputBufferSize: 4096})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		supervisor.Shutdown(ctx, 100*time.Millisecond)
	})
	return &fixture{supervisor: supervisor, registry: reg, agent: agent}
}

func (f *fixture) waitForState(t *testing.T, want schema.SessionState) schema.Session {
	t.Helper()
	var session schema.Session
	testutil.Eventually(t, waitTimeout, func() bool {
		session, _ = f.registry.GetSession(f.agent.ID)
		return session.State == want
	}, "session to reach %s", want)
	return session
}

func (f *fixture) waitForOutput(t *testing.T, sessionID, want string) {
	t.Helper()
	testutil.Eventually(t, waitTimeout, func() bool {
		chunk, err := f.supervisor.Output(sessionID, 0, false)
		return err == nil && strings.Contains(string(chunk.Data), want)
	}, "output to contain %q", want)
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	session, err := f.supervisor.Start(ctx, f.agent.ID, "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if session.State != schema.SessionRunning || session.PID <= 0 || session.Command != "sleep 60" {
		t.Fatalf("started session = %+v", session)
	}

	stopped, err := f.supervisor.Stop(ctx, f.agent.Label, 2*time.Second)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if stopped.State != schema.SessionStopped {
		t.Fatalf("state after stop = %s, want stopped", stopped.State)
	}
	if stopped.Exit == nil || stopped.Exit.Killed || stopped.Exit.Signal != int(unix.SIGTERM) {
		t.Errorf("exit = %+v, want SIGTERM without kill", stopped.Exit)
	}
	if f.supervisor.Running() != 0 {
		t.Errorf("Running() = %d after stop", f.supervisor.Running())
	}
}

func TestStopEscalatesAfterGrace(t *testing.T) {
	t.Parallel()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	f := newFixture(t, fake)
	ctx := context.Background()

	session, err := f.supervisor.Start(ctx, f.agent.ID, "trap '' TERM; echo ready; sleep 60")
	if err != nil {
		t.Fatal(err)
	}
	f.waitForOutput(t, session.ID, "ready")

	result := make(chan schema.Session, 1)
	go func() {
		stopped, err := f.supervisor.Stop(ctx, f.agent.ID, 3*time.Second)
		if err != nil {
			t.Errorf("Stop: %v", err)
		}
		result <- stopped
	}()

	fake.WaitForTimers(1)
	if got, _ := f.registry.GetSession(f.agent.ID); got.State != schema.SessionStopping {
		t.Errorf("state during grace = %s, want stopping", got.State)
	}
	fake.Advance(3 * time.Second)

	stopped := testutil.RequireReceive(t, result, waitTimeout, "stop result")
	if stopped.State != schema.SessionStopped {
		t.Fatalf("state = %s, want stopped", stopped.State)
	}
	if stopped.Exit == nil || !stopped.Exit.Killed || stopped.Exit.Code != 128+int(unix.SIGKILL) {
		t.Errorf("exit = %+v, want synthetic killed status", stopped.Exit)
	}
}

func TestDuplicateStartConflicts(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.supervisor.Start(ctx, f.agent.ID, ""); err != nil {
		t.Fatal(err)
	}
	_, err := f.supervisor.Start(ctx, f.agent.ID, "")
	if !schema.IsKind(err, schema.KindConflict) {
		t.Fatalf("second Start error = %v, want conflict", err)
	}
}

func TestConcurrentStartSingleLiveSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	const contenders = 12
	var wait sync.WaitGroup
	results := make(chan error, contenders)
	for i := 0; i < contenders; i++ {
		wait.Add(1)
		go func() {
			defer wait.Done()
			_, err := f.supervisor.Start(context.Background(), f.agent.ID, "")
			results <- err
		}()
	}
	wait.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else if !schema.IsKind(err, schema.KindConflict) {
			t.Errorf("unexpected error %v", err)
		}
	}
	if succeeded != 1 || f.supervisor.Running() != 1 {
		t.Fatalf("succeeded=%d running=%d, want 1 and 1", succeeded, f.supervisor.Running())
	}
}

func TestExternalKillFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	session, err := f.supervisor.Start(context.Background(), f.agent.ID, "exec sleep 60")
	if err != nil {
		t.Fatal(err)
	}
	if err := unix.Kill(session.PID, unix.SIGKILL); err != nil {
		t.Fatalf("kill: %v", err)
	}

	failed := f.waitForState(t, schema.SessionFailed)
	if failed.Exit == nil || failed.Exit.Signal != int(unix.SIGKILL) || failed.Exit.Killed {
		t.Errorf("exit = %+v, want external SIGKILL", failed.Exit)
	}
}

func TestCleanExitRecordsStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	session, err := f.supervisor.Start(context.Background(), f.agent.ID, "echo hello from $WORKFOREST_AGENT_LABEL; exit 3")
	if err != nil {
		t.Fatal(err)
	}
	stopped := f.waitForState(t, schema.SessionStopped)
	if stopped.Exit == nil || stopped.Exit.Code != 3 || stopped.Exit.Signal != 0 {
		t.Errorf("exit = %+v, want code 3", stopped.Exit)
	}
	f.waitForOutput(t, session.ID, "hello from "+f.agent.Label)

	// Stopping a finished session is a no-op.
	again, err := f.supervisor.Stop(context.Background(), f.agent.ID, time.Second)
	if err != nil || again.State != schema.SessionStopped || again.ID != session.ID {
		t.Errorf("Stop on stopped session = %+v, %v", again, err)
	}
}

func TestStopWithoutSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	_, err := f.supervisor.Stop(context.Background(), f.agent.ID, time.Second)
	if !schema.IsKind(err, schema.KindNotFound) {
		t.Fatalf("Stop error = %v, want not_found", err)
	}
}

func TestSpawnFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	if err := os.RemoveAll(f.agent.WorktreePath); err != nil {
		t.Fatal(err)
	}

	failed, err := f.supervisor.Start(context.Background(), f.agent.ID, "true")
	if !schema.IsKind(err, schema.KindIO) {
		t.Fatalf("Start error = %v, want io", err)
	}
	if failed.State != schema.SessionFailed || failed.Error == "" {
		t.Errorf("session = %+v, want failed with error", failed)
	}

	// The agent can be started again once the problem is fixed.
	if err := os.MkdirAll(f.agent.WorktreePath, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := f.supervisor.Start(context.Background(), f.agent.ID, "true"); err != nil {
		t.Fatalf("Start after fix: %v", err)
	}
}

func TestOutputStripsANSI(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	session, err := f.supervisor.Start(context.Background(), f.agent.ID, `printf '\033[31mred\033[0m\n'`)
	if err != nil {
		t.Fatal(err)
	}
	f.waitForState(t, schema.SessionStopped)
	f.waitForOutput(t, session.ID, "red")

	raw, err := f.supervisor.Output(session.ID, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw.Data), "\x1b[31m") {
		t.Errorf("raw output %q lacks escape sequence", raw.Data)
	}
	stripped, err := f.supervisor.Output(session.ID, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if string(stripped.Data) != "red\n" || stripped.End != raw.End {
		t.Errorf("stripped = %q end %d, want %q end %d", stripped.Data, stripped.End, "red\n", raw.End)
	}

	follow, err := f.supervisor.Output(session.ID, raw.End, false)
	if err != nil || len(follow.Data) != 0 {
		t.Errorf("Output past end = %+v, %v", follow, err)
	}

	_, err = f.supervisor.Output("missing", 0, false)
	if !schema.IsKind(err, schema.KindNotFound) {
		t.Errorf("Output(missing) error = %v, want not_found", err)
	}
}

func TestWorkingDirectoryIsWorktree(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	session, err := f.supervisor.Start(context.Background(), f.agent.ID, "pwd -P")
	if err != nil {
		t.Fatal(err)
	}
	f.waitForState(t, schema.SessionStopped)

	want, err := filepath.EvalSymlinks(f.agent.WorktreePath)
	if err != nil {
		t.Fatal(err)
	}
	f.waitForOutput(t, session.ID, want)
}

func TestRestart(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.supervisor.Start(ctx, f.agent.ID, "sleep 30")
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.supervisor.Restart(ctx, f.agent.ID, time.Second)
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if second.ID == first.ID || second.Command != "sleep 30" || second.State != schema.SessionRunning {
		t.Errorf("restarted session = %+v", second)
	}

	history, _ := f.registry.SessionHistory(f.agent.ID)
	if len(history) != 2 || history[0].State != schema.SessionStopped {
		t.Errorf("history = %+v", history)
	}
}

func TestShutdownStopsEverything(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	second, err := f.registry.CreateAgent(schema.Agent{
		ID:           registry.NewAgentID(),
		RepositoryID: f.agent.RepositoryID,
		WorktreePath: t.TempDir(),
		Tool:         "sleep 60",
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, agentID := range []string{f.agent.ID, second.ID} {
		if _, err := f.supervisor.Start(ctx, agentID, ""); err != nil {
			t.Fatal(err)
		}
	}

	if err := f.supervisor.Shutdown(ctx, 2*time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if f.supervisor.Running() != 0 {
		t.Fatalf("Running() = %d after Shutdown", f.supervisor.Running())
	}
	for _, agentID := range []string{f.agent.ID, second.ID} {
		session, _ := f.registry.GetSession(agentID)
		if session.State.Live() {
			t.Errorf("agent %s session still %s", agentID, session.State)
		}
	}
}

func TestStartDuringShutdownIsBusy(t *testing.T) {
	t.Parallel()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	f := newFixture(t, fake)
	ctx := context.Background()

	late, err := f.registry.CreateAgent(schema.Agent{
		ID:           registry.NewAgentID(),
		RepositoryID: f.agent.RepositoryID,
		WorktreePath: t.TempDir(),
		Tool:         "sleep 60",
	})
	if err != nil {
		t.Fatal(err)
	}
	session, err := f.supervisor.Start(ctx, f.agent.ID, "trap '' TERM; echo ready; sleep 60")
	if err != nil {
		t.Fatal(err)
	}
	f.waitForOutput(t, session.ID, "ready")

	result := make(chan error, 1)
	go func() { result <- f.supervisor.Shutdown(ctx, 3*time.Second) }()
	fake.WaitForTimers(1)

	if _, err := f.supervisor.Start(ctx, late.ID, ""); !schema.IsKind(err, schema.KindBusy) {
		t.Fatalf("Start during shutdown: err = %v, want busy", err)
	}
	if got, err := f.registry.GetSession(late.ID); err == nil {
		t.Errorf("refused start left session %+v", got)
	}

	fake.Advance(3 * time.Second)
	if err := testutil.RequireReceive(t, result, waitTimeout, "shutdown result"); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if f.supervisor.Running() != 0 {
		t.Errorf("Running() = %d after Shutdown", f.supervisor.Running())
	}
}

func TestShutdownKeepsGraceWhenAStopFails(t *testing.T) {
	t.Parallel()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	f := newFixture(t, fake)
	ctx := context.Background()

	session, err := f.supervisor.Start(ctx, f.agent.ID, "trap '' TERM; echo ready; sleep 60")
	if err != nil {
		t.Fatal(err)
	}
	f.waitForOutput(t, session.ID, "ready")

	// A process whose agent the registry no longer knows: stopping it
	// fails immediately with NotFound.
	f.supervisor.mu.Lock()
	f.supervisor.processes["vanished"] = &process{agentID: "vanished", sessionID: "gone", done: make(chan struct{})}
	f.supervisor.mu.Unlock()
	t.Cleanup(func() {
		f.supervisor.mu.Lock()
		delete(f.supervisor.processes, "vanished")
		f.supervisor.mu.Unlock()
	})

	result := make(chan error, 1)
	go func() { result <- f.supervisor.Shutdown(ctx, 3*time.Second) }()
	fake.WaitForTimers(1)

	testutil.RequireNoReceive(t, result, 300*time.Millisecond, "shutdown returned before the grace period ran out")
	if got, _ := f.registry.GetSession(f.agent.ID); got.State != schema.SessionStopping {
		t.Errorf("state during grace = %s, want stopping", got.State)
	}

	fake.Advance(3 * time.Second)
	err = testutil.RequireReceive(t, result, waitTimeout, "shutdown result")
	if !schema.IsKind(err, schema.KindNotFound) {
		t.Errorf("Shutdown err = %v, want not_found from the vanished agent", err)
	}
	stopped, _ := f.registry.GetSession(f.agent.ID)
	if stopped.State != schema.SessionStopped || stopped.Exit == nil || !stopped.Exit.Killed {
		t.Errorf("session = %+v, want stopped and killed after grace", stopped)
	}
}
