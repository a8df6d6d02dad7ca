// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"context"
	"time"

	"github.com/bureau-foundation/workforest/lib/daemonclient"
	"github.com/bureau-foundation/workforest/lib/schema"
)

// lazyActions locates the daemon for every action, so actions keep
// working after the daemon restarts on a new port.
type lazyActions struct {
	connect daemonclient.ConnectFunc
}

func (a lazyActions) StartSession(ctx context.Context, agent, command string) (schema.Session, error) {
	client, err := a.connect(ctx)
	if err != nil {
		return schema.Session{}, err
	}
	return client.StartSession(ctx, agent, command)
}

func (a lazyActions) StopSession(ctx context.Context, agent string, grace time.Duration) (schema.Session, error) {
	client, err := a.connect(ctx)
	if err != nil {
		return schema.Session{}, err
	}
	return client.StopSession(ctx, agent, grace)
}

func (a lazyActions) RestartSession(ctx context.Context, agent string, grace time.Duration) (schema.Session, error) {
	client, err := a.connect(ctx)
	if err != nil {
		return schema.Session{}, err
	}
	return client.RestartSession(ctx, agent, grace)
}
