// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package repoconfig reads and writes repos.toml, the operator-editable
// list of repositories the daemon manages:
//
//	[[repos]]
//	name = "demo"
//	path = "/home/me/src/demo"
//	tools = ["opencode", "claude", "codex"]
//	default_tool = "opencode"
//
// The daemon loads the file at startup and rewrites it whenever a
// repository is added or removed.
package repoconfig

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/BurntSushi/toml"

	"github.com/bureau-foundation/workforest/lib/schema"
)

// Entry is one repository in the file.
type Entry struct {
	Name        string   `toml:"name"`
	Path        string   `toml:"path"`
	Tools       []string `toml:"tools,omitempty"`
	DefaultTool string   `toml:"default_tool,omitempty"`
}

// File is the whole repos.toml document.
type File struct {
	Repos []Entry `toml:"repos"`
}

// Load reads path. A missing file is an empty list.
func Load(path string) (File, error) {
	var file File
	if _, err := toml.DecodeFile(path, &file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return File{}, nil
		}
		return File{}, fmt.Errorf("reading %s: %w", path, err)
	}
	for i, entry := range file.Repos {
		if entry.Path == "" {
			return File{}, fmt.Errorf("%s: repos[%d] has no path", path, i)
		}
	}
	return file, nil
}

// Save writes file to path atomically, creating the parent directory.
func Save(path string, file File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}

	var buffer bytes.Buffer
	if err := toml.NewEncoder(&buffer).Encode(file); err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}

	temporaryPath := path + ".tmp"
	if err := os.WriteFile(temporaryPath, buffer.Bytes(), 0o644); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("writing %s: %w", temporaryPath, err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming %s into place: %w", path, err)
	}
	return nil
}

// FromRepositories builds the file content for the registered
// repositories, in the order given.
func FromRepositories(repositories []schema.Repository) File {
	file := File{Repos: make([]Entry, 0, len(repositories))}
	for _, repository := range repositories {
		file.Repos = append(file.Repos, Entry{
			Name:        repository.Name,
			Path:        repository.Path,
			Tools:       slices.Clone(repository.Tools),
			DefaultTool: repository.DefaultTool,
		})
	}
	return file
}

// Repository converts an entry into a registration request for the
// registry. The path is used as written; callers canonicalise it.
func (e Entry) Repository() schema.Repository {
	return schema.Repository{
		Name:        e.Name,
		Path:        e.Path,
		Tools:       slices.Clone(e.Tools),
		DefaultTool: e.DefaultTool,
	}
}
