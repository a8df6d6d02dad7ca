// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "time"

// Agent is a unit of work bound to one repository and one worktree.
// An agent without a live session is idle; its worktree stays on disk
// until the agent is deleted.
type Agent struct {
	ID           string    `json:"id"`
	Label        string    `json:"label"`
	RepositoryID string    `json:"repository_id"`
	WorktreePath string    `json:"worktree_path"`
	Branch       string    `json:"branch"`
	Tool         string    `json:"tool"`
	CreatedAt    time.Time `json:"created_at"`

	// Releasing is set while the agent's worktree is being removed.
	// No session can start in this window.
	Releasing bool `json:"releasing,omitempty"`
}

// AgentLabel returns the short human name for an agent id: "agent-"
// followed by the first eight hex digits of the id.
func AgentLabel(agentID string) string {
	short := make([]byte, 0, 8)
	for i := 0; i < len(agentID) && len(short) < 8; i++ {
		if agentID[i] != '-' {
			short = append(short, agentID[i])
		}
	}
	return "agent-" + string(short)
}
