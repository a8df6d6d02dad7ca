// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/bureau-foundation/workforest/lib/codec"
	"github.com/bureau-foundation/workforest/lib/netutil"
	"github.com/bureau-foundation/workforest/lib/registry"
	"github.com/bureau-foundation/workforest/lib/schema"
)

// frameWriteTimeout bounds a single frame write. A client that stops
// reading for longer is disconnected; its registry subscription then
// goes away with it.
const frameWriteTimeout = 10 * time.Second

var errClientGone = errors.New("subscriber disconnected")

// subscribeStream is one connected subscribe client.
type subscribeStream struct {
	conn    net.Conn
	encoder *codec.Encoder
}

func (s *subscribeStream) write(frame schema.SubscribeFrame) error {
	s.conn.SetWriteDeadline(time.Now().Add(frameWriteTimeout))
	return s.encoder.Encode(frame)
}

// handleSubscribe is the stream handler for the "subscribe" action.
// The first frame is the registry snapshot taken at subscription time;
// every later frame is an event with a higher sequence number, a
// heartbeat, or a resync followed by a fresh snapshot.
//
// The registry captures the snapshot and starts buffering events under
// the same locks, so the stream has no gap and no duplicate.
func (d *Daemon) handleSubscribe(ctx context.Context, raw []byte, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	stream := &subscribeStream{conn: conn, encoder: codec.NewEncoder(conn)}

	subscription := d.registry.Subscribe("subscribe " + remote)
	defer subscription.Close()

	d.logger.Info("subscribe stream started",
		"remote", remote,
		"sequence", subscription.Snapshot.Sequence,
		"agents", len(subscription.Snapshot.Agents),
	)
	defer d.logger.Info("subscribe stream ended", "remote", remote)

	// Clients send nothing after the request, so a returning read means
	// the client hung up.
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		io.Copy(io.Discard, conn)
		cancel(errClientGone)
	}()

	snapshot := subscription.Snapshot
	if err := stream.write(schema.SubscribeFrame{Type: schema.FrameSnapshot, Snapshot: &snapshot}); err != nil {
		d.writeFailed(remote, "snapshot", err)
		return
	}

	d.subscribeEventLoop(ctx, stream, subscription, remote)
}

// subscribeEventLoop forwards registry events until the client goes
// away, a write fails, or the daemon shuts down.
func (d *Daemon) subscribeEventLoop(ctx context.Context, stream *subscribeStream, subscription *registry.Subscription, remote string) {
	heartbeat := d.clock.NewTicker(d.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			if !errors.Is(context.Cause(ctx), errClientGone) {
				stream.write(schema.SubscribeFrame{
					Type:  schema.FrameError,
					Error: &schema.Error{Kind: schema.KindNotFound, Message: "daemon shutting down"},
				})
			}
			return

		case event := <-subscription.Events():
			update, ok := subscription.Receive(event)
			if !ok {
				continue
			}
			if update.Snapshot != nil {
				if err := stream.write(schema.SubscribeFrame{Type: schema.FrameResync}); err != nil {
					d.writeFailed(remote, "resync", err)
					return
				}
				if err := stream.write(schema.SubscribeFrame{Type: schema.FrameSnapshot, Snapshot: update.Snapshot}); err != nil {
					d.writeFailed(remote, "resync snapshot", err)
					return
				}
				continue
			}
			if err := stream.write(schema.SubscribeFrame{Type: schema.FrameEvent, Event: update.Event}); err != nil {
				d.writeFailed(remote, "event", err)
				return
			}

		case <-heartbeat.C:
			if err := stream.write(schema.SubscribeFrame{Type: schema.FrameHeartbeat}); err != nil {
				d.writeFailed(remote, "heartbeat", err)
				return
			}
		}
	}
}

// writeFailed logs a failed frame write. A client that hung up is
// routine; a stalled client or any other failure is worth a warning.
func (d *Daemon) writeFailed(remote, frame string, err error) {
	switch {
	case netutil.IsPeerGone(err):
		d.logger.Debug("subscriber went away", "remote", remote, "frame", frame)
	case netutil.IsTimeout(err):
		d.logger.Warn("subscriber stopped reading, disconnecting", "remote", remote, "frame", frame)
	default:
		d.logger.Warn("subscribe stream write failed", "remote", remote, "frame", frame, "error", err)
	}
}
