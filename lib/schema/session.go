// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
	"time"
)

// SessionState is a position in the session lifecycle:
//
//	created -> starting -> running -> stopping -> stopped
//	               |           |          |
//	               v           v          v
//	             failed   stopped/failed  failed
//
// Created, stopped, and failed are rest states. Starting, running, and
// stopping are live: an agent has at most one session in a live state.
type SessionState string

const (
	SessionCreated  SessionState = "created"
	SessionStarting SessionState = "starting"
	SessionRunning  SessionState = "running"
	SessionStopping SessionState = "stopping"
	SessionStopped  SessionState = "stopped"
	SessionFailed   SessionState = "failed"
)

var sessionTransitions = map[SessionState][]SessionState{
	SessionCreated:  {SessionStarting, SessionFailed},
	SessionStarting: {SessionRunning, SessionFailed},
	SessionRunning:  {SessionStopping, SessionStopped, SessionFailed},
	SessionStopping: {SessionStopped, SessionFailed},
}

// Valid reports whether s is a known state.
func (s SessionState) Valid() bool {
	switch s {
	case SessionCreated, SessionStarting, SessionRunning,
		SessionStopping, SessionStopped, SessionFailed:
		return true
	}
	return false
}

// Live reports whether s counts against the one-live-session-per-agent
// limit.
func (s SessionState) Live() bool {
	return s == SessionStarting || s == SessionRunning || s == SessionStopping
}

// Finished reports whether s is terminal.
func (s SessionState) Finished() bool {
	return s == SessionStopped || s == SessionFailed
}

// CanTransition reports whether the lifecycle allows moving from s to
// next.
func (s SessionState) CanTransition(next SessionState) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidateTransition returns an InvalidTransition error when s cannot
// move to next.
func (s SessionState) ValidateTransition(next SessionState) error {
	if !next.Valid() {
		return Errorf(KindInvalidTransition, "unknown session state %q", next)
	}
	if !s.CanTransition(next) {
		return Errorf(KindInvalidTransition, "session cannot move from %s to %s", s, next)
	}
	return nil
}

// ExitStatus records how a session's process ended.
type ExitStatus struct {
	// Code is the process exit code, or 128+signal when the process
	// died from a signal (shell convention).
	Code int `json:"code"`

	// Signal is the terminating signal number, zero for a normal exit.
	Signal int `json:"signal,omitempty"`

	// Killed is set when the daemon force-killed the process after
	// the stop grace period ran out.
	Killed bool `json:"killed,omitempty"`
}

func (e ExitStatus) String() string {
	switch {
	case e.Killed:
		return fmt.Sprintf("killed (code %d)", e.Code)
	case e.Signal != 0:
		return fmt.Sprintf("signal %d (code %d)", e.Signal, e.Code)
	default:
		return fmt.Sprintf("exit %d", e.Code)
	}
}

// Session is one run of an agent's process.
type Session struct {
	ID           string       `json:"id"`
	AgentID      string       `json:"agent_id"`
	RepositoryID string       `json:"repository_id"`
	State        SessionState `json:"state"`
	Command      string       `json:"command"`
	PID          int          `json:"pid,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	StoppedAt    *time.Time   `json:"stopped_at,omitempty"`
	Exit         *ExitStatus  `json:"exit,omitempty"`

	// Error holds the spawn failure for a session that never ran.
	Error string `json:"error,omitempty"`
}

// SessionUpdate describes a state change requested of the registry.
// Fields left zero are not applied.
type SessionUpdate struct {
	State SessionState
	PID   int
	Exit  *ExitStatus
	Error string
}
