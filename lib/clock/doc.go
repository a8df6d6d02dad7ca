// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The registry stamps every entity with Clock.Now, the supervisor waits
// out a stop grace period with Clock.After, and the subscribe stream
// paces heartbeats with Clock.NewTicker. Production wiring passes
// Real(); tests pass Fake() and move time with Advance, using
// WaitForTimers to avoid racing a goroutine that has not yet registered
// its timer:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go supervisor.Stop(ctx, agentID, 5*time.Second)
//	c.WaitForTimers(1)
//	c.Advance(5 * time.Second)
package clock
