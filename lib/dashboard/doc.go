// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dashboard is the live terminal view behind "workforest
// watch". It follows the daemon's subscribe stream, lists agents
// grouped by repository with the state of each agent's latest session,
// and can start, stop, or restart the selected agent.
//
// Rows that change are highlighted and fade over a few seconds (see
// [tui.HeatTracker]). When the stream drops, the last known state stays
// on screen, marked disconnected, until the daemon is back.
package dashboard
