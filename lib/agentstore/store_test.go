// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/workforest/lib/schema"
)

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := Open(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return store
}

func testAgent(id string, created time.Time) schema.Agent {
	return schema.Agent{
		ID:           id,
		Label:        schema.AgentLabel(id),
		RepositoryID: "0123456789ab",
		WorktreePath: "/trees/0123456789ab/" + id,
		Branch:       "agent/" + schema.AgentLabel(id),
		Tool:         "opencode",
		CreatedAt:    created,
	}
}

func TestSaveListDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "agents.db"))
	defer store.Close()

	base := time.Date(2026, 5, 1, 9, 0, 0, 123456789, time.UTC)
	second := testAgent("22222222-0000-4000-8000-000000000000", base.Add(time.Minute))
	first := testAgent("11111111-0000-4000-8000-000000000000", base)

	for _, agent := range []schema.Agent{second, first} {
		if err := store.Save(ctx, agent); err != nil {
			t.Fatalf("Save %s: %v", agent.ID, err)
		}
	}

	agents, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("List returned %d agents, want 2", len(agents))
	}
	if agents[0].ID != first.ID || agents[1].ID != second.ID {
		t.Errorf("order = [%s %s], want oldest first", agents[0].ID, agents[1].ID)
	}
	got := agents[0]
	if got.Label != first.Label || got.WorktreePath != first.WorktreePath ||
		got.Branch != first.Branch || got.Tool != first.Tool || got.RepositoryID != first.RepositoryID {
		t.Errorf("agent = %+v, want %+v", got, first)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, first.CreatedAt)
	}

	if err := store.Delete(ctx, first.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, first.ID); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	agents, err = store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(agents) != 1 || agents[0].ID != second.ID {
		t.Errorf("after delete: %+v", agents)
	}
}

func TestSaveReplaces(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "agents.db"))
	defer store.Close()

	agent := testAgent("33333333-0000-4000-8000-000000000000", time.Now())
	if err := store.Save(ctx, agent); err != nil {
		t.Fatalf("Save: %v", err)
	}
	agent.Tool = "claude"
	if err := store.Save(ctx, agent); err != nil {
		t.Fatalf("Save again: %v", err)
	}

	agents, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(agents) != 1 || agents[0].Tool != "claude" {
		t.Errorf("agents = %+v, want one agent with tool claude", agents)
	}
}

func TestJournalSurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "agents.db")

	store := openStore(t, path)
	agent := testAgent("44444444-0000-4000-8000-000000000000", time.Now())
	if err := store.Save(ctx, agent); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store = openStore(t, path)
	defer store.Close()
	agents, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(agents) != 1 || agents[0].ID != agent.ID {
		t.Errorf("agents after reopen = %+v", agents)
	}
}
