// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the daemon's protocol scaffolding: a CBOR
// request-response server with action dispatch, and the matching
// client.
//
// Every connection carries exactly one request. For ordinary actions
// the server replies with one [Response] and closes. Stream actions
// (registered with HandleStream) keep the connection and write a
// sequence of CBOR values until either side closes it; the subscribe
// feed is the only one today.
//
// Failures cross the socket as {ok: false, kind, error}. The kind is
// taken from the handler's *schema.Error, and [ServiceError] unwraps
// back to one on the client, so
//
//	errors.Is(err, &schema.Error{Kind: schema.KindBusy})
//
// reads the same in the daemon and in the CLI.
//
// The server listens on whatever listener it is given. workforest
// binds loopback TCP on an ephemeral port and publishes the address
// through lib/discovery.
package service
