// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repoconfig

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/bureau-foundation/workforest/lib/schema"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	file, err := Load(filepath.Join(t.TempDir(), "repos.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(file.Repos) != 0 {
		t.Errorf("expected no repos, got %d", len(file.Repos))
	}
}

func TestLoadHandWrittenFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "repos.toml")
	content := `
[[repos]]
name = "demo"
path = "/src/demo"
tools = ["claude", "codex"]
default_tool = "claude"

[[repos]]
name = "other"
path = "/src/other"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	file, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(file.Repos) != 2 {
		t.Fatalf("expected 2 repos, got %d", len(file.Repos))
	}

	demo := file.Repos[0].Repository()
	if demo.Name != "demo" || demo.Path != "/src/demo" || demo.DefaultTool != "claude" {
		t.Errorf("demo = %+v", demo)
	}
	if !slices.Equal(demo.Tools, []string{"claude", "codex"}) {
		t.Errorf("demo tools = %v", demo.Tools)
	}
	if other := file.Repos[1]; len(other.Tools) != 0 || other.DefaultTool != "" {
		t.Errorf("other should leave tools to the registry defaults: %+v", other)
	}
}

func TestLoadRejectsEntryWithoutPath(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "repos.toml")
	if err := os.WriteFile(path, []byte("[[repos]]\nname = \"x\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "no path") {
		t.Fatalf("err = %v, want a missing-path error", err)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "repos.toml")
	if err := os.WriteFile(path, []byte("[[repos]\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestSaveThenLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "repos.toml")
	repositories := []schema.Repository{
		{ID: "aaaaaaaaaaaa", Name: "demo", Path: "/src/demo", Tools: []string{"opencode", "claude"}, DefaultTool: "opencode"},
		{ID: "bbbbbbbbbbbb", Name: "demo-2", Path: "/work/demo", Tools: []string{"codex"}, DefaultTool: "codex"},
	}

	if err := Save(path, FromRepositories(repositories)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind: %v", err)
	}

	file, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(file.Repos) != 2 {
		t.Fatalf("expected 2 repos, got %d", len(file.Repos))
	}
	for i, entry := range file.Repos {
		want := repositories[i]
		if entry.Name != want.Name || entry.Path != want.Path || entry.DefaultTool != want.DefaultTool {
			t.Errorf("repos[%d] = %+v, want %+v", i, entry, want)
		}
		if !slices.Equal(entry.Tools, want.Tools) {
			t.Errorf("repos[%d] tools = %v, want %v", i, entry.Tools, want.Tools)
		}
	}
}

func TestSaveEmptyList(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "repos.toml")
	if err := Save(path, FromRepositories(nil)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	file, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(file.Repos) != 0 {
		t.Errorf("expected no repos, got %+v", file.Repos)
	}
}
