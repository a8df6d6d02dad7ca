// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "testing"

func TestSnapshotApply(t *testing.T) {
	t.Parallel()

	snapshot := Snapshot{Sequence: 4}

	// At or below the snapshot sequence: already reflected.
	snapshot.Apply(Event{Sequence: 4, Kind: EventCreated, Entity: EntityAgent, ID: "stale",
		Agent: &Agent{ID: "stale"}})
	if len(snapshot.Agents) != 0 {
		t.Fatalf("stale event applied: %+v", snapshot.Agents)
	}

	snapshot.Apply(Event{Sequence: 5, Kind: EventCreated, Entity: EntityAgent, ID: "a1",
		Agent: &Agent{ID: "a1", Branch: "agent/one"}})
	snapshot.Apply(Event{Sequence: 6, Kind: EventCreated, Entity: EntitySession, ID: "s1",
		Session: &Session{ID: "s1", AgentID: "a1", State: SessionStarting}})
	snapshot.Apply(Event{Sequence: 7, Kind: EventUpdated, Entity: EntitySession, ID: "s1",
		Session: &Session{ID: "s1", AgentID: "a1", State: SessionRunning}})

	if len(snapshot.Sessions) != 1 || snapshot.Sessions[0].State != SessionRunning {
		t.Fatalf("sessions = %+v, want one running session", snapshot.Sessions)
	}

	snapshot.Apply(Event{Sequence: 8, Kind: EventRemoved, Entity: EntityAgent, ID: "a1"})
	if len(snapshot.Agents) != 0 {
		t.Fatalf("agents after removal = %+v, want none", snapshot.Agents)
	}
	if snapshot.Sequence != 8 {
		t.Errorf("Sequence = %d, want 8", snapshot.Sequence)
	}
}

func TestSnapshotCloneIsIndependent(t *testing.T) {
	t.Parallel()

	snapshot := Snapshot{Sequence: 1, Sessions: []Session{{ID: "s1", State: SessionRunning}}}
	copied := snapshot.Clone()

	snapshot.Apply(Event{Sequence: 2, Kind: EventUpdated, Entity: EntitySession, ID: "s1",
		Session: &Session{ID: "s1", State: SessionStopped}})

	if copied.Sessions[0].State != SessionRunning {
		t.Errorf("clone changed with the original: %+v", copied.Sessions[0])
	}
	if copied.Sequence != 1 {
		t.Errorf("clone Sequence = %d, want 1", copied.Sequence)
	}
}
