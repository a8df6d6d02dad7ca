// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Workforest is the command-line client for workforest-daemon.
//
//	workforest daemon start|stop|status
//	workforest repo add|list|remove
//	workforest agent create|list|delete|start|stop|restart|sessions|output
//	workforest watch
//
// Every command finds the daemon through the discovery record in the
// data directory named by the configuration (--config, then
// $WORKFOREST_CONFIG, then the built-in defaults). Most commands take
// --json for machine-readable output.
//
// Exit codes: 0 on success, 1 on failure, 2 for bad usage.
package main
