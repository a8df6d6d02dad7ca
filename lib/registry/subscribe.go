// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/workforest/lib/schema"
)

// SubscriberBufferSize is the per-subscriber event buffer. A
// subscriber that falls further behind than this is marked for resync
// rather than slowing down mutations.
const SubscriberBufferSize = 256

// broadcaster fans events out to subscribers and owns the global
// sequence counter.
type broadcaster struct {
	mu          sync.Mutex
	sequence    uint64
	subscribers map[*Subscription]struct{}
}

// publish stamps event with the next sequence number and offers it to
// every subscriber without blocking. Called with the mutated
// partition's lock held.
func (b *broadcaster) publish(event schema.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sequence++
	event.Sequence = b.sequence
	for subscription := range b.subscribers {
		select {
		case subscription.events <- event:
		default:
			if subscription.resync.CompareAndSwap(false, true) {
				subscription.registry.logger.Warn("subscriber fell behind, scheduling resync",
					"subscriber", subscription.name, "sequence", event.Sequence)
			}
		}
	}
}

func (b *broadcaster) current() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sequence
}

// Subscription is a live view of registry mutations. Snapshot holds
// the state at subscription time; Events delivers every later
// mutation in sequence order.
//
// Feed each received event through Receive, which handles resync after
// an overflow and filters events already covered by a snapshot.
type Subscription struct {
	// Snapshot is the registry state the event stream starts from.
	Snapshot schema.Snapshot

	registry *Registry
	name     string
	events   chan schema.Event
	resync   atomic.Bool
	// floor is the sequence of the latest snapshot handed out; events
	// at or below it are already reflected. Touched only by the
	// consuming goroutine.
	floor     uint64
	closeOnce sync.Once
}

// Update is what a subscriber should apply next: either a single
// event, or a replacement snapshot after events were dropped.
type Update struct {
	Event    *schema.Event
	Snapshot *schema.Snapshot
}

// Subscribe registers a subscriber and captures the current state
// atomically: no mutation can land between the snapshot and the first
// buffered event. name identifies the subscriber in logs. Call Close
// when done.
func (r *Registry) Subscribe(name string) *Subscription {
	subscription := &Subscription{
		registry: r,
		name:     name,
		events:   make(chan schema.Event, SubscriberBufferSize),
	}

	partitions, unlock := r.lockAll()
	defer unlock()

	r.broadcast.mu.Lock()
	r.broadcast.subscribers[subscription] = struct{}{}
	sequence := r.broadcast.sequence
	r.broadcast.mu.Unlock()

	subscription.Snapshot = collect(partitions)
	subscription.Snapshot.Sequence = sequence
	subscription.floor = sequence
	return subscription
}

// Events returns the channel of raw events. It is never closed; select
// on it alongside your own shutdown signal.
func (s *Subscription) Events() <-chan schema.Event {
	return s.events
}

// Receive turns a raw event into the update to apply. ok is false when
// the event is already reflected in a snapshot and should be skipped.
//
// If the subscriber overflowed, Receive discards everything buffered
// and returns a fresh snapshot instead; events that follow it resume
// the stream with no gap.
func (s *Subscription) Receive(event schema.Event) (update Update, ok bool) {
	if s.resync.Load() {
		// Drain before snapshotting: anything published after the drain
		// is either covered by the snapshot (and filtered by floor) or
		// buffered after it.
		s.drain()
		s.resync.Store(false)
		snapshot := s.registry.Snapshot()
		s.floor = snapshot.Sequence
		return Update{Snapshot: &snapshot}, true
	}
	if event.Sequence <= s.floor {
		return Update{}, false
	}
	return Update{Event: &event}, true
}

func (s *Subscription) drain() {
	for {
		select {
		case <-s.events:
		default:
			return
		}
	}
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.registry.broadcast.mu.Lock()
		delete(s.registry.broadcast.subscribers, s)
		s.registry.broadcast.mu.Unlock()
	})
}
