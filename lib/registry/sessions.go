// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"github.com/bureau-foundation/workforest/lib/schema"
)

// BeginSession creates a session for the agent and moves it to
// starting in one critical section. Of two concurrent calls for the
// same agent exactly one succeeds; the other fails with Conflict.
//
// Fails with NotFound for an unknown agent and Busy while the agent or
// its repository is being removed. Creating the session may evict the
// oldest finished session beyond the history limit.
func (r *Registry) BeginSession(agentReference, command string) (schema.Session, error) {
	p, record, err := r.lockAgent(agentReference)
	if err != nil {
		return schema.Session{}, err
	}
	defer p.mu.Unlock()

	switch {
	case p.removing:
		return schema.Session{}, schema.Errorf(schema.KindBusy,
			"repository %q is being removed", p.repository.Name)
	case record.agent.Releasing:
		return schema.Session{}, schema.Errorf(schema.KindBusy,
			"agent %s is being released", record.agent.Label)
	case record.live():
		current := record.current()
		return schema.Session{}, schema.Errorf(schema.KindConflict,
			"agent %s already has a %s session (%s)", record.agent.Label, current.State, current.ID)
	}

	session := &schema.Session{
		ID:           newSessionID(),
		AgentID:      record.agent.ID,
		RepositoryID: record.agent.RepositoryID,
		State:        schema.SessionCreated,
		Command:      command,
		CreatedAt:    r.now(),
	}
	record.sessions = append(record.sessions, session)
	r.sessionAgent.Store(session.ID, record.agent.ID)
	r.publishSession(schema.EventCreated, *session)

	if err := session.State.ValidateTransition(schema.SessionStarting); err != nil {
		return schema.Session{}, err
	}
	session.State = schema.SessionStarting
	r.publishSession(schema.EventUpdated, *session)

	r.trimHistory(record)
	return *session, nil
}

// trimHistory drops the oldest finished sessions while more than
// historyLimit precede the current one. The caller holds the
// partition lock.
func (r *Registry) trimHistory(record *agentRecord) {
	for len(record.sessions)-1 > r.historyLimit {
		evicted := *record.sessions[0]
		record.sessions[0] = nil
		record.sessions = record.sessions[1:]
		r.sessionAgent.Delete(evicted.ID)
		r.publishSession(schema.EventRemoved, evicted)
	}
}

// SetSessionState applies update to the agent's current session after
// validating the transition. An invalid transition fails with
// InvalidTransition and leaves the session untouched.
func (r *Registry) SetSessionState(agentReference string, update schema.SessionUpdate) (schema.Session, error) {
	p, record, err := r.lockAgent(agentReference)
	if err != nil {
		return schema.Session{}, err
	}
	defer p.mu.Unlock()

	session := record.current()
	if session == nil {
		return schema.Session{}, schema.Errorf(schema.KindNotFound,
			"agent %s has no session", record.agent.Label)
	}
	if err := session.State.ValidateTransition(update.State); err != nil {
		return schema.Session{}, err
	}
	r.applyUpdate(session, update)
	return *session, nil
}

// CompleteSession records the exit of sessionID's process. The final
// state depends on the state at exit: a stopping session becomes
// stopped, a running session becomes failed when crashed and stopped
// otherwise, and a session that never reached running becomes failed.
// Completing an already finished session returns it unchanged.
func (r *Registry) CompleteSession(agentID, sessionID string, exit schema.ExitStatus, crashed bool) (schema.Session, error) {
	p, record, err := r.lockAgent(agentID)
	if err != nil {
		return schema.Session{}, err
	}
	defer p.mu.Unlock()

	var session *schema.Session
	for _, candidate := range record.sessions {
		if candidate.ID == sessionID {
			session = candidate
		}
	}
	if session == nil {
		return schema.Session{}, schema.Errorf(schema.KindNotFound, "session %s not found", sessionID)
	}
	if session.State.Finished() {
		return *session, nil
	}

	next := schema.SessionStopped
	switch session.State {
	case schema.SessionRunning:
		if crashed {
			next = schema.SessionFailed
		}
	case schema.SessionStopping:
	default:
		next = schema.SessionFailed
	}
	if err := session.State.ValidateTransition(next); err != nil {
		return schema.Session{}, err
	}
	r.applyUpdate(session, schema.SessionUpdate{State: next, Exit: &exit})
	return *session, nil
}

// applyUpdate mutates session and publishes the change. The caller
// holds the partition lock and has validated the transition.
func (r *Registry) applyUpdate(session *schema.Session, update schema.SessionUpdate) {
	now := r.now()
	session.State = update.State
	if update.PID > 0 {
		session.PID = update.PID
	}
	if update.State == schema.SessionRunning && session.StartedAt == nil {
		session.StartedAt = &now
	}
	if update.State.Finished() && session.StoppedAt == nil {
		session.StoppedAt = &now
	}
	if update.Exit != nil {
		exit := *update.Exit
		session.Exit = &exit
	}
	if update.Error != "" {
		session.Error = update.Error
	}
	r.publishSession(schema.EventUpdated, *session)
}

// GetSession returns the agent's most recent session, live or not.
// Fails with NotFound when the agent has never had one.
func (r *Registry) GetSession(agentReference string) (schema.Session, error) {
	p, record, err := r.lockAgent(agentReference)
	if err != nil {
		return schema.Session{}, err
	}
	defer p.mu.Unlock()

	session := record.current()
	if session == nil {
		return schema.Session{}, schema.Errorf(schema.KindNotFound,
			"agent %s has no session", record.agent.Label)
	}
	return *session, nil
}

// SessionByID returns a retained session by id.
func (r *Registry) SessionByID(sessionID string) (schema.Session, error) {
	agentID, ok := r.sessionAgent.Load(sessionID)
	if !ok {
		return schema.Session{}, schema.Errorf(schema.KindNotFound, "session %q not found", sessionID)
	}
	p, record, err := r.lockAgent(agentID.(string))
	if err != nil {
		return schema.Session{}, schema.Errorf(schema.KindNotFound, "session %q not found", sessionID)
	}
	defer p.mu.Unlock()

	for _, session := range record.sessions {
		if session.ID == sessionID {
			return *session, nil
		}
	}
	return schema.Session{}, schema.Errorf(schema.KindNotFound, "session %q not found", sessionID)
}

// SessionHistory returns the agent's retained sessions, oldest first.
func (r *Registry) SessionHistory(agentReference string) ([]schema.Session, error) {
	p, record, err := r.lockAgent(agentReference)
	if err != nil {
		return nil, err
	}
	defer p.mu.Unlock()

	sessions := make([]schema.Session, 0, len(record.sessions))
	for _, session := range record.sessions {
		sessions = append(sessions, *session)
	}
	return sessions, nil
}

func (r *Registry) publishSession(kind schema.EventKind, session schema.Session) {
	r.broadcast.publish(schema.Event{
		Kind:         kind,
		Entity:       schema.EntitySession,
		ID:           session.ID,
		RepositoryID: session.RepositoryID,
		Session:      &session,
	})
}
