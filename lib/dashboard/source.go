// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dashboard

import (
	"context"

	"github.com/bureau-foundation/workforest/lib/daemonclient"
)

// Watch follows the daemon in a background goroutine and returns a
// channel carrying its state. The channel holds at most one mirror; a
// newer mirror replaces one the UI has not read yet, so a slow redraw
// never stalls the stream. The channel is closed when ctx is done.
func Watch(ctx context.Context, options daemonclient.FollowOptions) <-chan daemonclient.Mirror {
	channel := make(chan daemonclient.Mirror, 1)
	go func() {
		defer close(channel)
		daemonclient.Follow(ctx, options, func(mirror daemonclient.Mirror) {
			publishLatest(channel, mirror)
		})
	}()
	return channel
}

// publishLatest puts mirror on channel, discarding an unread older
// value. Only one goroutine may publish.
func publishLatest(channel chan daemonclient.Mirror, mirror daemonclient.Mirror) {
	for {
		select {
		case channel <- mirror:
			return
		default:
		}
		select {
		case <-channel:
		default:
		}
	}
}
