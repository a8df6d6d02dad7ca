// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry is the daemon's in-memory authoritative state: every
// registered repository, its agents, and their sessions.
//
// State is partitioned by repository. Each partition has its own
// mutex, so mutations on different repositories never wait for each
// other; a top-level RWMutex guards only the set of partitions.
// Session lifecycle rules come from schema.SessionState and are
// checked inside the partition's critical section, so a check and the
// state change it guards can never be split by a concurrent caller.
//
// Every mutation publishes a schema.Event while still holding the
// partition lock. The broadcaster assigns sequence numbers under its
// own lock, which gives all subscribers one global order that agrees
// with the per-repository mutation order. [Registry.Subscribe] holds
// every partition lock while it registers the subscriber and captures
// the snapshot, so the first event a subscriber sees is exactly the
// first mutation after its snapshot.
//
// Lock order: Registry.mu, then partition.mu (ascending repository id
// when taking several), then broadcaster.mu. Nothing here performs
// I/O while holding a lock.
package registry
