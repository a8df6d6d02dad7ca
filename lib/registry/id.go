// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// repositoryIDLength is the number of hex digits kept from the path
// hash. 48 bits makes collisions among one operator's repositories
// vanishingly unlikely while keeping ids typeable.
const repositoryIDLength = 12

// RepositoryID derives a repository's id from its canonical path. The
// id is stable across daemon restarts, so worktree directories and
// lock files named after it stay valid.
func RepositoryID(canonicalPath string) string {
	sum := blake3.Sum256([]byte(canonicalPath))
	return hex.EncodeToString(sum[:])[:repositoryIDLength]
}

// NewAgentID returns a fresh random agent id.
func NewAgentID() string {
	return uuid.NewString()
}

func newSessionID() string {
	return uuid.NewString()
}

// fullLabel is the fallback label used when the short label of an
// agent id is already taken.
func fullLabel(agentID string) string {
	return "agent-" + strings.ReplaceAll(agentID, "-", "")
}
