// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/workforest/lib/clock"
	"github.com/bureau-foundation/workforest/lib/schema"
)

// DefaultHistoryLimit is the number of finished sessions retained per
// agent when Options.HistoryLimit is zero.
const DefaultHistoryLimit = 8

// Options configures a Registry.
type Options struct {
	// Clock stamps entity timestamps. Nil means clock.Real().
	Clock clock.Clock

	// HistoryLimit bounds the finished sessions kept per agent.
	// Zero means DefaultHistoryLimit.
	HistoryLimit int

	// Logger receives subscriber overflow warnings. Nil discards.
	Logger *slog.Logger
}

// Registry holds all repositories, agents, and sessions. The zero
// value is not usable; call New.
type Registry struct {
	clock        clock.Clock
	historyLimit int
	logger       *slog.Logger

	// mu guards partitions and names. Partition contents are guarded
	// by each partition's own mutex.
	mu         sync.RWMutex
	partitions map[string]*partition
	names      map[string]string // repository name -> id

	// Lookup indexes. Entries are added and removed inside the owning
	// partition's critical section; readers re-check membership under
	// that lock, so a stale hit only costs a NotFound.
	agentRepository sync.Map // agent id -> repository id
	agentLabels     sync.Map // agent label -> agent id
	sessionAgent    sync.Map // session id -> agent id
	released        sync.Map // agent id -> struct{}, agents deleted after release

	broadcast broadcaster
}

// partition holds one repository's agents and sessions.
type partition struct {
	mu         sync.Mutex
	repository schema.Repository
	agents     map[string]*agentRecord

	// removing blocks new agents and sessions while the repository is
	// being torn down. removed marks a partition that has left the
	// registry; operations that found it through a stale lookup fail.
	removing bool
	removed  bool
}

type agentRecord struct {
	agent schema.Agent
	// sessions is ordered oldest first. Only the last element can be
	// live.
	sessions []*schema.Session
}

// current returns the agent's most recent session, or nil.
func (r *agentRecord) current() *schema.Session {
	if len(r.sessions) == 0 {
		return nil
	}
	return r.sessions[len(r.sessions)-1]
}

// live reports whether the agent has a session in a live state.
func (r *agentRecord) live() bool {
	session := r.current()
	return session != nil && session.State.Live()
}

// New returns an empty Registry.
func New(options Options) *Registry {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.HistoryLimit <= 0 {
		options.HistoryLimit = DefaultHistoryLimit
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		clock:        options.Clock,
		historyLimit: options.HistoryLimit,
		logger:       options.Logger,
		partitions:   make(map[string]*partition),
		names:        make(map[string]string),
		broadcast:    broadcaster{subscribers: make(map[*Subscription]struct{})},
	}
}

func (r *Registry) now() time.Time {
	return r.clock.Now().UTC()
}

// lookupPartition resolves a repository id or name to its partition.
func (r *Registry) lookupPartition(reference string) (*partition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.partitions[reference]; ok {
		return p, nil
	}
	if id, ok := r.names[reference]; ok {
		return r.partitions[id], nil
	}
	return nil, schema.Errorf(schema.KindNotFound, "repository %q not found", reference)
}

// lockAgent resolves an agent id or label and returns its partition
// locked together with the record. The caller must unlock p.mu.
func (r *Registry) lockAgent(reference string) (*partition, *agentRecord, error) {
	agentID := reference
	if id, ok := r.agentLabels.Load(reference); ok {
		agentID = id.(string)
	}

	repositoryID, ok := r.agentRepository.Load(agentID)
	if !ok {
		return nil, nil, schema.Errorf(schema.KindNotFound, "agent %q not found", reference)
	}

	r.mu.RLock()
	p := r.partitions[repositoryID.(string)]
	r.mu.RUnlock()
	if p == nil {
		return nil, nil, schema.Errorf(schema.KindNotFound, "agent %q not found", reference)
	}

	p.mu.Lock()
	record, ok := p.agents[agentID]
	if !ok || p.removed {
		p.mu.Unlock()
		return nil, nil, schema.Errorf(schema.KindNotFound, "agent %q not found", reference)
	}
	return p, record, nil
}

// lockAll read-locks the partition set and locks every partition in
// ascending id order. The returned function releases everything.
func (r *Registry) lockAll() ([]*partition, func()) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.partitions))
	for id := range r.partitions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	locked := make([]*partition, 0, len(ids))
	for _, id := range ids {
		p := r.partitions[id]
		p.mu.Lock()
		locked = append(locked, p)
	}
	return locked, func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].mu.Unlock()
		}
		r.mu.RUnlock()
	}
}

// collect builds a snapshot from locked partitions.
func collect(partitions []*partition) schema.Snapshot {
	snapshot := schema.Snapshot{
		Repositories: []schema.Repository{},
		Agents:       []schema.Agent{},
		Sessions:     []schema.Session{},
	}
	for _, p := range partitions {
		snapshot.Repositories = append(snapshot.Repositories, p.repository)
		for _, record := range sortedAgents(p) {
			snapshot.Agents = append(snapshot.Agents, record.agent)
			for _, session := range record.sessions {
				snapshot.Sessions = append(snapshot.Sessions, *session)
			}
		}
	}
	sort.Slice(snapshot.Repositories, func(i, j int) bool {
		return snapshot.Repositories[i].Name < snapshot.Repositories[j].Name
	})
	return snapshot
}

// sortedAgents returns a partition's agents by creation time. The
// caller holds p.mu.
func sortedAgents(p *partition) []*agentRecord {
	records := make([]*agentRecord, 0, len(p.agents))
	for _, record := range p.agents {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return agentLess(records[i].agent, records[j].agent) })
	return records
}

// Snapshot returns the complete current state. Its Sequence is the
// sequence number of the last event reflected in it.
func (r *Registry) Snapshot() schema.Snapshot {
	partitions, unlock := r.lockAll()
	defer unlock()

	snapshot := collect(partitions)
	snapshot.Sequence = r.broadcast.current()
	return snapshot
}

// Stats summarizes the registry for status reporting.
type Stats struct {
	Repositories int
	Agents       int
	LiveSessions int
}

// Stats counts repositories, agents, and live sessions.
func (r *Registry) Stats() Stats {
	partitions, unlock := r.lockAll()
	defer unlock()

	stats := Stats{Repositories: len(partitions)}
	for _, p := range partitions {
		stats.Agents += len(p.agents)
		for _, record := range p.agents {
			if record.live() {
				stats.LiveSessions++
			}
		}
	}
	return stats
}
