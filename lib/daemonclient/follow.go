// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package daemonclient

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/workforest/lib/clock"
	"github.com/bureau-foundation/workforest/lib/schema"
)

// Backoff parameters for reconnecting after the stream drops.
const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 10 * time.Second
)

// ConnectFunc produces a client for the current daemon. Follow calls
// it before every connection attempt, so a daemon restarted on a new
// port is picked up.
type ConnectFunc func(ctx context.Context) (*Client, error)

// Mirror is the state Follow reports after every change.
type Mirror struct {
	// Snapshot is a private copy of the daemon's state.
	Snapshot schema.Snapshot

	// Connected is false between a dropped stream and the next
	// snapshot. Snapshot then holds the last known state.
	Connected bool

	// Err is why the last connection ended, when Connected is false.
	Err error
}

// FollowOptions configures Follow.
type FollowOptions struct {
	Connect ConnectFunc
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Follow mirrors the daemon's registry until ctx is done, calling
// emit after each snapshot, event, and disconnect. It reconnects with
// exponential backoff. emit runs on Follow's goroutine and must not
// block for long.
func Follow(ctx context.Context, options FollowOptions, emit func(Mirror)) {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}

	var last schema.Snapshot
	backoff := initialBackoff
	for {
		received, err := followOnce(ctx, options.Connect, &last, emit)
		if ctx.Err() != nil {
			return
		}
		if received {
			backoff = initialBackoff
		}
		options.Logger.Warn("subscribe stream disconnected",
			"error", err,
			"backoff", backoff,
		)
		emit(Mirror{Snapshot: last.Clone(), Connected: false, Err: err})

		select {
		case <-ctx.Done():
			return
		case <-options.Clock.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// followOnce runs one subscription until it ends. received reports
// whether at least one snapshot arrived.
func followOnce(ctx context.Context, connect ConnectFunc, last *schema.Snapshot, emit func(Mirror)) (received bool, err error) {
	client, err := connect(ctx)
	if err != nil {
		return false, err
	}
	subscription, err := client.Subscribe(ctx)
	if err != nil {
		return false, err
	}
	defer subscription.Close()

	for {
		frame, err := subscription.Next()
		if err != nil {
			return received, err
		}

		switch frame.Type {
		case schema.FrameSnapshot:
			if frame.Snapshot == nil {
				return received, fmt.Errorf("snapshot frame without a snapshot")
			}
			*last = frame.Snapshot.Clone()
			received = true
		case schema.FrameEvent:
			if frame.Event == nil || !received {
				continue
			}
			last.Apply(*frame.Event)
		case schema.FrameResync:
			// A fresh snapshot follows. Keep showing the old state
			// until it arrives.
			continue
		default:
			// Heartbeats and frame types newer than this client.
			continue
		}
		emit(Mirror{Snapshot: last.Clone(), Connected: true})
	}
}
