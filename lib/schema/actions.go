// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "time"

// Protocol actions. The set is closed: the daemon registers a handler
// for each one and rejects anything else.
const (
	ActionStatus   = "status"
	ActionShutdown = "shutdown"

	ActionListRepositories = "list-repositories"
	ActionAddRepository    = "add-repository"
	ActionRemoveRepository = "remove-repository"

	ActionListAgents  = "list-agents"
	ActionCreateAgent = "create-agent"
	ActionDeleteAgent = "delete-agent"

	ActionStartSession   = "start-session"
	ActionStopSession    = "stop-session"
	ActionRestartSession = "restart-session"
	ActionListSessions   = "list-sessions"
	ActionGetOutput      = "get-output"

	// ActionSubscribe is a stream action: the connection stays open
	// and carries SubscribeFrame values until either side closes it.
	ActionSubscribe = "subscribe"
)

// AddRepositoryRequest registers the git repository containing Path.
// Tools and DefaultTool fall back to DefaultTools and DefaultTool.
type AddRepositoryRequest struct {
	Path        string   `json:"path"`
	Tools       []string `json:"tools,omitempty"`
	DefaultTool string   `json:"default_tool,omitempty"`
}

// RepositoryRequest names a repository by id or name.
type RepositoryRequest struct {
	Repository string `json:"repository"`
}

// ListAgentsRequest filters by repository when Repository is set.
type ListAgentsRequest struct {
	Repository string `json:"repository,omitempty"`
}

// CreateAgentRequest allocates a worktree and registers an agent. An
// empty Branch means agent/<label>; an empty Tool means the
// repository's default tool.
type CreateAgentRequest struct {
	Repository string `json:"repository"`
	Branch     string `json:"branch,omitempty"`
	Tool       string `json:"tool,omitempty"`
}

// AgentRequest names an agent by id or label.
type AgentRequest struct {
	Agent string `json:"agent"`
}

// StartSessionRequest starts the agent's process. An empty Command
// runs the agent's tool.
type StartSessionRequest struct {
	Agent   string `json:"agent"`
	Command string `json:"command,omitempty"`
}

// StopSessionRequest stops the agent's live session, escalating to a
// forced kill after GraceSeconds. Zero means the daemon's default.
type StopSessionRequest struct {
	Agent        string  `json:"agent"`
	GraceSeconds float64 `json:"grace_seconds,omitempty"`
}

// Grace converts GraceSeconds to a duration, substituting fallback
// for a zero or negative value.
func (r StopSessionRequest) Grace(fallback time.Duration) time.Duration {
	if r.GraceSeconds <= 0 {
		return fallback
	}
	return time.Duration(r.GraceSeconds * float64(time.Second))
}

// GetOutputRequest reads captured output from offset Since onward.
type GetOutputRequest struct {
	Session   string `json:"session"`
	Since     int64  `json:"since"`
	StripANSI bool   `json:"strip_ansi,omitempty"`
}

// OutputChunk is a slice of a session's captured output. Start and End
// are absolute byte offsets in everything the process ever wrote; pass
// End as the next Since to follow the output. Truncated is set when
// bytes before Start were already discarded from the buffer.
type OutputChunk struct {
	SessionID string `json:"session_id"`
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
	Data      []byte `json:"data"`
	Truncated bool   `json:"truncated,omitempty"`
}

// DeleteAgentResponse reports the outcome of delete-agent. Released is
// false when the agent had already been released earlier.
type DeleteAgentResponse struct {
	AgentID  string `json:"agent_id"`
	Released bool   `json:"released"`
}

// StatusResponse describes the running daemon.
type StatusResponse struct {
	Version      string    `json:"version"`
	PID          int       `json:"pid"`
	Address      string    `json:"address"`
	DataDir      string    `json:"data_dir"`
	StartedAt    time.Time `json:"started_at"`
	Repositories int       `json:"repositories"`
	Agents       int       `json:"agents"`
	LiveSessions int       `json:"live_sessions"`
}

// Subscribe frame types.
const (
	FrameSnapshot  = "snapshot"
	FrameEvent     = "event"
	FrameResync    = "resync"
	FrameHeartbeat = "heartbeat"
	FrameError     = "error"
)

// SubscribeFrame is one message on the subscribe stream. The first
// frame is always a snapshot. A resync frame means the subscriber fell
// behind and events were dropped; the daemon follows it with a fresh
// snapshot.
type SubscribeFrame struct {
	Type     string    `json:"type"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Event    *Event    `json:"event,omitempty"`
	Error    *Error    `json:"error,omitempty"`
}
