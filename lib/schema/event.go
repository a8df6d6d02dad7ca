// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "slices"

// EventKind says what happened to the entity named by an Event.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventRemoved EventKind = "removed"
)

// EntityType names the kind of entity an Event carries.
type EntityType string

const (
	EntityRepository EntityType = "repository"
	EntityAgent      EntityType = "agent"
	EntitySession    EntityType = "session"
)

// Event is one registry mutation. Sequence numbers are assigned in
// mutation order and are unique across the daemon's lifetime, so a
// subscriber can discard anything at or below its snapshot's Sequence.
//
// Exactly one of Repository, Agent, or Session is set, matching
// Entity. For removals the field holds the entity as it was last seen.
type Event struct {
	Sequence     uint64     `json:"sequence"`
	Kind         EventKind  `json:"kind"`
	Entity       EntityType `json:"entity"`
	ID           string     `json:"id"`
	RepositoryID string     `json:"repository_id"`

	Repository *Repository `json:"repository,omitempty"`
	Agent      *Agent      `json:"agent,omitempty"`
	Session    *Session    `json:"session,omitempty"`
}

// Snapshot is the complete registry state at Sequence. Sessions holds
// every retained session, live and historical.
type Snapshot struct {
	Sequence     uint64       `json:"sequence"`
	Repositories []Repository `json:"repositories"`
	Agents       []Agent      `json:"agents"`
	Sessions     []Session    `json:"sessions"`
}

// Apply folds an event into the snapshot. Clients use this to keep a
// local mirror current from the subscription stream. Events at or
// below the snapshot's sequence are ignored.
func (s *Snapshot) Apply(event Event) {
	if event.Sequence <= s.Sequence {
		return
	}
	s.Sequence = event.Sequence

	switch event.Entity {
	case EntityRepository:
		s.Repositories = applyEntity(s.Repositories, event.Kind, event.ID, event.Repository,
			func(r *Repository) string { return r.ID })
	case EntityAgent:
		s.Agents = applyEntity(s.Agents, event.Kind, event.ID, event.Agent,
			func(a *Agent) string { return a.ID })
	case EntitySession:
		s.Sessions = applyEntity(s.Sessions, event.Kind, event.ID, event.Session,
			func(session *Session) string { return session.ID })
	}
}

// Clone returns a copy that shares no slices with s, so one goroutine
// can keep applying events while another reads the copy.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		Sequence:     s.Sequence,
		Repositories: slices.Clone(s.Repositories),
		Agents:       slices.Clone(s.Agents),
		Sessions:     slices.Clone(s.Sessions),
	}
}

func applyEntity[T any](items []T, kind EventKind, id string, value *T, key func(*T) string) []T {
	index := -1
	for i := range items {
		if key(&items[i]) == id {
			index = i
			break
		}
	}

	switch kind {
	case EventRemoved:
		if index >= 0 {
			items = append(items[:index], items[index+1:]...)
		}
	default:
		if value == nil {
			return items
		}
		if index >= 0 {
			items[index] = *value
		} else {
			items = append(items, *value)
		}
	}
	return items
}
