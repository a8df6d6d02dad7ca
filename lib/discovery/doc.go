// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package discovery publishes where a running workforest daemon can
// be reached, and enforces that only one daemon owns a data directory.
//
// A daemon calls [Acquire] before doing anything else. Acquire takes
// an exclusive flock on <data_dir>/daemon.lock, probes any record left
// by a previous daemon, binds a loopback listener on an ephemeral
// port, and atomically writes the discovery record to
// <data_dir>/daemon.json:
//
//	{"address": "127.0.0.1:43117", "pid": 4242,
//	 "started_at": "2026-10-18T09:12:44.52Z", "version": "0.4.0"}
//
// Clients read the record with [Read] and confirm liveness with
// [Probe]. A record whose daemon does not answer is stale: clients
// treat it as "no daemon", and the next Acquire overwrites it.
//
// The record is JSON because people open it. Unknown fields are
// ignored when reading so older clients keep working against newer
// daemons.
package discovery
