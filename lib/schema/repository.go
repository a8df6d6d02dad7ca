// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "time"

// DefaultTools are the agent commands offered for a repository that
// does not configure its own.
var DefaultTools = []string{"opencode", "claude", "codex"}

// DefaultTool is the tool used when neither the request nor the
// repository names one.
const DefaultTool = "opencode"

// Repository is a git repository registered with the daemon. Path is
// canonical (absolute, cleaned, symlinks resolved) and is the
// repository's identity; ID is derived from it.
type Repository struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Tools       []string  `json:"tools"`
	DefaultTool string    `json:"default_tool"`
	AddedAt     time.Time `json:"added_at"`
}

// HasTool reports whether tool is one of the repository's tools.
func (r *Repository) HasTool(tool string) bool {
	for _, candidate := range r.Tools {
		if candidate == tool {
			return true
		}
	}
	return false
}
