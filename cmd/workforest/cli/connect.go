// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/workforest/lib/config"
	"github.com/bureau-foundation/workforest/lib/daemonclient"
	"github.com/bureau-foundation/workforest/lib/schema"
)

// DaemonConfig is embedded in the params of commands that need the
// configuration or the running daemon.
type DaemonConfig struct {
	ConfigPath string `json:"-" flag:"config" desc:"configuration file (default $WORKFOREST_CONFIG, then built-in defaults)"`
}

// LoadConfig resolves the configuration the daemon would use.
func (d *DaemonConfig) LoadConfig() (*config.Config, error) {
	return config.Resolve(d.ConfigPath)
}

// Connect returns a client for the daemon that owns the configured
// data directory.
func (d *DaemonConfig) Connect(ctx context.Context) (*daemonclient.Client, *config.Config, error) {
	cfg, err := d.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	client, _, err := daemonclient.Connect(ctx, cfg.Paths.Root)
	if err != nil {
		if schema.IsKind(err, schema.KindNotFound) {
			return nil, cfg, fmt.Errorf("%w (start it with 'workforest daemon start')", err)
		}
		return nil, cfg, err
	}
	return client, cfg, nil
}
