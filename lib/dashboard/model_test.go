// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dashboard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/bureau-foundation/workforest/lib/clock"
	"github.com/bureau-foundation/workforest/lib/daemonclient"
	"github.com/bureau-foundation/workforest/lib/schema"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testAgent(id, repositoryID string, created time.Duration) schema.Agent {
	return schema.Agent{
		ID:           id,
		Label:        schema.AgentLabel(id),
		RepositoryID: repositoryID,
		WorktreePath: "/worktrees/" + id,
		Branch:       "workforest/" + schema.AgentLabel(id),
		Tool:         "claude",
		CreatedAt:    epoch.Add(created),
	}
}

// testSnapshot has two repositories, listed out of name order, and
// three agents. alpha's agents are listed out of creation order.
func testSnapshot() schema.Snapshot {
	return schema.Snapshot{
		Sequence: 10,
		Repositories: []schema.Repository{
			{ID: "repo-beta", Name: "beta", Path: "/src/beta", Tools: []string{"claude"}},
			{ID: "repo-alpha", Name: "alpha", Path: "/src/alpha", Tools: []string{"claude"}},
		},
		Agents: []schema.Agent{
			testAgent("aaaa1111-0000-0000-0000-000000000000", "repo-alpha", 2*time.Minute),
			testAgent("aaaa2222-0000-0000-0000-000000000000", "repo-alpha", time.Minute),
			testAgent("bbbb1111-0000-0000-0000-000000000000", "repo-beta", 0),
		},
	}
}

func update(t *testing.T, model Model, message tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	updated, cmd := model.Update(message)
	result, ok := updated.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", updated)
	}
	return result, cmd
}

func newTestModel(t *testing.T, actions Actions) (Model, *clock.FakeClock) {
	t.Helper()
	fakeClock := clock.Fake(epoch.Add(time.Hour))
	model := NewModel(Options{Actions: actions, Clock: fakeClock})
	model, _ = update(t, model, tea.WindowSizeMsg{Width: 140, Height: 20})
	return model, fakeClock
}

func keyPress(text string) tea.KeyMsg {
	switch text {
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)}
	}
}

func TestRowsGroupedByRepository(t *testing.T) {
	t.Parallel()

	model, _ := newTestModel(t, nil)
	model, _ = update(t, model, mirrorMsg{mirror: daemonclient.Mirror{Snapshot: testSnapshot(), Connected: true}})

	want := []string{
		"repo-alpha",
		"aaaa2222-0000-0000-0000-000000000000",
		"aaaa1111-0000-0000-0000-000000000000",
		"repo-beta",
		"bbbb1111-0000-0000-0000-000000000000",
	}
	if len(model.rows) != len(want) {
		t.Fatalf("got %d rows, want %d", len(model.rows), len(want))
	}
	for i, key := range want {
		if model.rows[i].key() != key {
			t.Errorf("row %d = %s, want %s", i, model.rows[i].key(), key)
		}
	}

	selected, ok := model.selectedRow()
	if !ok || selected.agent.ID != want[1] {
		t.Errorf("initial selection = %q, want the first agent", selected.agent.ID)
	}
}

func TestCursorSkipsHeadingsAndFollowsAgent(t *testing.T) {
	t.Parallel()

	model, _ := newTestModel(t, nil)
	model, _ = update(t, model, mirrorMsg{mirror: daemonclient.Mirror{Snapshot: testSnapshot(), Connected: true}})

	model, _ = update(t, model, keyPress("down"))
	model, _ = update(t, model, keyPress("down"))
	selected, _ := model.selectedRow()
	if selected.agent.RepositoryID != "repo-beta" {
		t.Fatalf("after two downs selected %s, want beta's agent", selected.agent.ID)
	}
	model, _ = update(t, model, keyPress("down"))
	if again, _ := model.selectedRow(); again.agent.ID != selected.agent.ID {
		t.Errorf("cursor moved past the last agent to %s", again.agent.ID)
	}

	// A new alpha agent shifts beta's rows down; the selection stays.
	snapshot := testSnapshot()
	snapshot.Sequence = 11
	snapshot.Agents = append(snapshot.Agents, testAgent("aaaa3333-0000-0000-0000-000000000000", "repo-alpha", 3*time.Minute))
	model, _ = update(t, model, mirrorMsg{mirror: daemonclient.Mirror{Snapshot: snapshot, Connected: true}})
	if after, _ := model.selectedRow(); after.agent.ID != selected.agent.ID {
		t.Errorf("selection moved to %s after an insert above it", after.agent.ID)
	}

	// Removing the selected agent selects a neighbor.
	snapshot.Sequence = 12
	snapshot.Agents = snapshot.Agents[:2]
	snapshot.Agents = append(snapshot.Agents, testAgent("aaaa3333-0000-0000-0000-000000000000", "repo-alpha", 3*time.Minute))
	model, _ = update(t, model, mirrorMsg{mirror: daemonclient.Mirror{Snapshot: snapshot, Connected: true}})
	after, ok := model.selectedRow()
	if !ok || after.agent.ID == selected.agent.ID {
		t.Errorf("selection = %q, want a remaining agent", after.agent.ID)
	}
}

func TestLatestSessionShown(t *testing.T) {
	t.Parallel()

	snapshot := testSnapshot()
	agentID := snapshot.Agents[0].ID
	started := epoch.Add(50 * time.Minute)
	snapshot.Sessions = []schema.Session{
		{ID: "s1", AgentID: agentID, State: schema.SessionFailed, CreatedAt: epoch.Add(10 * time.Minute), Error: "spawn failed"},
		{ID: "s2", AgentID: agentID, State: schema.SessionRunning, PID: 4242, CreatedAt: started, StartedAt: &started},
	}

	model, _ := newTestModel(t, nil)
	model, _ = update(t, model, mirrorMsg{mirror: daemonclient.Mirror{Snapshot: snapshot, Connected: true}})

	for _, r := range model.rows {
		if r.agent.ID != agentID {
			continue
		}
		if r.session == nil || r.session.ID != "s2" {
			t.Fatalf("agent row shows session %v, want s2", r.session)
		}
	}

	view := model.View()
	if !strings.Contains(view, "pid 4242, started 10 minutes ago") {
		t.Errorf("view does not describe the running session:\n%s", view)
	}
	if !strings.Contains(view, "1 live sessions") {
		t.Errorf("view does not count the live session:\n%s", view)
	}
}

func TestHeatOnlyForChangedRows(t *testing.T) {
	t.Parallel()

	model, fakeClock := newTestModel(t, nil)
	snapshot := testSnapshot()
	model, _ = update(t, model, mirrorMsg{mirror: daemonclient.Mirror{Snapshot: snapshot, Connected: true}})

	now := fakeClock.Now()
	for _, r := range model.rows {
		if heat := model.heat.Heat(r.key(), now); heat != 0 {
			t.Errorf("row %s is hot after the first snapshot", r.key())
		}
	}

	changedID := snapshot.Agents[1].ID
	changed := testSnapshot()
	changed.Sequence = 11
	changed.Sessions = []schema.Session{
		{ID: "s1", AgentID: changedID, State: schema.SessionStarting, CreatedAt: epoch.Add(time.Hour)},
	}
	changed.Agents[2].Releasing = true
	model, cmd := update(t, model, mirrorMsg{mirror: daemonclient.Mirror{Snapshot: changed, Connected: true}})

	if heat := model.heat.Heat(changedID, now); heat != 1 {
		t.Errorf("heat of changed agent = %v, want 1", heat)
	}
	releasingID := changed.Agents[2].ID
	if model.heat.Heat(releasingID, now) != 1 {
		t.Errorf("releasing agent is not hot")
	}
	if heat := model.heat.Heat(changed.Agents[0].ID, now); heat != 0 {
		t.Errorf("heat of untouched agent = %v, want 0", heat)
	}
	if !model.tickRunning || cmd == nil {
		t.Error("heat animation was not scheduled")
	}
}

type recordingActions struct {
	mutex sync.Mutex
	calls []string
	err   error
}

func (actions *recordingActions) record(call string) {
	actions.mutex.Lock()
	defer actions.mutex.Unlock()
	actions.calls = append(actions.calls, call)
}

func (actions *recordingActions) StartSession(ctx context.Context, agent, command string) (schema.Session, error) {
	actions.record("start " + agent)
	return schema.Session{AgentID: agent, State: schema.SessionRunning}, actions.err
}

func (actions *recordingActions) StopSession(ctx context.Context, agent string, grace time.Duration) (schema.Session, error) {
	actions.record("stop " + agent)
	return schema.Session{AgentID: agent, State: schema.SessionStopped}, actions.err
}

func (actions *recordingActions) RestartSession(ctx context.Context, agent string, grace time.Duration) (schema.Session, error) {
	actions.record("restart " + agent)
	return schema.Session{AgentID: agent, State: schema.SessionRunning}, actions.err
}

func TestSessionActions(t *testing.T) {
	t.Parallel()

	actions := &recordingActions{}
	model, _ := newTestModel(t, actions)
	model, _ = update(t, model, mirrorMsg{mirror: daemonclient.Mirror{Snapshot: testSnapshot(), Connected: true}})
	selected, _ := model.selectedRow()

	for _, press := range []string{"s", "x", "r"} {
		var cmd tea.Cmd
		model, cmd = update(t, model, keyPress(press))
		if cmd == nil {
			t.Fatalf("key %q produced no command", press)
		}
		result, ok := cmd().(actionResultMsg)
		if !ok {
			t.Fatalf("key %q command did not return an action result", press)
		}
		model, _ = update(t, model, result)
	}

	want := []string{"start " + selected.agent.ID, "stop " + selected.agent.ID, "restart " + selected.agent.ID}
	if strings.Join(actions.calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", actions.calls, want)
	}
	if model.notice != "restarted "+selected.agent.Label || model.noticeIsError {
		t.Errorf("notice = %q (error %v)", model.notice, model.noticeIsError)
	}
	if !strings.Contains(model.View(), "restarted "+selected.agent.Label) {
		t.Error("notice not shown in the footer")
	}
}

func TestSessionActionError(t *testing.T) {
	t.Parallel()

	actions := &recordingActions{err: schema.Errorf(schema.KindConflict, "agent already has a live session")}
	model, _ := newTestModel(t, actions)
	model, _ = update(t, model, mirrorMsg{mirror: daemonclient.Mirror{Snapshot: testSnapshot(), Connected: true}})

	model, cmd := update(t, model, keyPress("s"))
	model, fade := update(t, model, cmd())
	if !model.noticeIsError || !strings.Contains(model.notice, "already has a live session") {
		t.Errorf("notice = %q (error %v)", model.notice, model.noticeIsError)
	}
	if fade == nil {
		t.Fatal("no fade scheduled for the notice")
	}

	// A fade from an older notice leaves a newer one alone.
	model, _ = update(t, model, noticeFadeMsg{serial: model.noticeSerial - 1})
	if model.notice == "" {
		t.Error("stale fade cleared the current notice")
	}
	model, _ = update(t, model, noticeFadeMsg{serial: model.noticeSerial})
	if model.notice != "" {
		t.Errorf("notice = %q after its fade", model.notice)
	}
}

func TestReadOnlyWithoutActions(t *testing.T) {
	t.Parallel()

	model, _ := newTestModel(t, nil)
	model, _ = update(t, model, mirrorMsg{mirror: daemonclient.Mirror{Snapshot: testSnapshot(), Connected: true}})
	if _, cmd := update(t, model, keyPress("s")); cmd != nil {
		t.Error("start produced a command without actions")
	}
}

func TestViewStates(t *testing.T) {
	t.Parallel()

	model := NewModel(Options{Clock: clock.Fake(epoch)})
	if model.View() != "Connecting..." {
		t.Errorf("view before the first resize = %q", model.View())
	}

	model, _ = newTestModel(t, nil)
	model, _ = update(t, model, mirrorMsg{mirror: daemonclient.Mirror{Connected: true}})
	if !strings.Contains(model.View(), "No repositories") {
		t.Errorf("empty view:\n%s", model.View())
	}

	model, _ = update(t, model, mirrorMsg{mirror: daemonclient.Mirror{
		Snapshot:  testSnapshot(),
		Connected: false,
		Err:       errors.New("connection refused"),
	}})
	view := model.View()
	if !strings.Contains(view, "disconnected: connection refused") {
		t.Errorf("disconnected view:\n%s", view)
	}
	if !strings.Contains(view, "alpha") || !strings.Contains(view, schema.AgentLabel("bbbb1111")) {
		t.Errorf("last known state not shown while disconnected:\n%s", view)
	}
}

func TestPublishLatestKeepsNewest(t *testing.T) {
	t.Parallel()

	channel := make(chan daemonclient.Mirror, 1)
	for sequence := uint64(1); sequence <= 3; sequence++ {
		publishLatest(channel, daemonclient.Mirror{Snapshot: schema.Snapshot{Sequence: sequence}})
	}
	mirror := <-channel
	if mirror.Snapshot.Sequence != 3 {
		t.Errorf("received sequence %d, want 3", mirror.Snapshot.Sequence)
	}
	select {
	case extra := <-channel:
		t.Errorf("unexpected extra mirror %d", extra.Snapshot.Sequence)
	default:
	}
}
