// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides workforest's standard CBOR encoding
// configuration.
//
// Two serialization formats are used, with a clear boundary:
//
//   - CBOR for the daemon protocol: every request, response, and
//     subscription frame exchanged between workforest-daemon and its
//     clients.
//   - JSON for files a human might open and for CLI --json output: the
//     discovery record (daemon.json) and command output.
//
// Every package that speaks the protocol goes through this package so
// the daemon and its clients encode identically. The encoder uses Core
// Deterministic Encoding (RFC 8949 §4.2) and writes timestamps as
// RFC 3339 strings with nanoseconds, so a session's start time survives
// a round trip exactly.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (the subscribe stream):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// # Struct Tag Rules
//
//   - `cbor` tag: protocol envelopes that never leave the socket
//     (service.Response).
//   - `json` tag: types that are both sent over the socket and printed
//     by the CLI (lib/schema, including subscription frames).
//     fxamacker/cbor falls back to json tags when cbor tags are absent.
//
// Never put both tags on the same field.
package codec
