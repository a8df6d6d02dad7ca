// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the entities and messages shared by
// workforest-daemon and its clients: [Repository], [Agent], [Session],
// the subscription [Event] and [Snapshot], the request types of the
// daemon protocol, and the error taxonomy ([Error], [Kind]).
//
// Every type here is encoded with CBOR on the wire and with JSON by the
// CLI's --json output, so fields carry json tags only (see lib/codec).
//
// The session lifecycle lives in [SessionState.CanTransition]; the
// registry consults it for every state change and nothing else decides
// which transitions are legal.
//
// This package depends on no other workforest packages.
package schema
