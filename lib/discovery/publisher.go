// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"

	"github.com/bureau-foundation/workforest/lib/clock"
	"github.com/bureau-foundation/workforest/lib/schema"
	"github.com/bureau-foundation/workforest/lib/service"
)

// ProbeTimeout bounds a liveness probe against a recorded address.
const ProbeTimeout = 2 * time.Second

// DefaultListenAddress binds loopback on an ephemeral port.
const DefaultListenAddress = "127.0.0.1:0"

// ProbeFunc checks whether the daemon described by record answers.
// A nil return means live.
type ProbeFunc func(ctx context.Context, record Record) error

// Options configures Acquire.
type Options struct {
	DataDir string
	Version string

	// ListenAddress defaults to DefaultListenAddress.
	ListenAddress string

	// Probe defaults to Probe.
	Probe ProbeFunc

	Clock  clock.Clock
	Logger *slog.Logger
}

// Publisher holds the instance lock and the published record for the
// lifetime of a daemon.
type Publisher struct {
	dataDir  string
	lock     *flock.Flock
	listener net.Listener
	record   Record
	logger   *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Acquire makes the calling process the daemon for opts.DataDir. It
// fails with a KindAlreadyRunning error when another process holds the
// instance lock or a previously recorded daemon still answers its
// probe; in both cases nothing is bound and no record is written.
//
// On success the returned Publisher owns the lock and the record. The
// listener is handed to the caller, who is responsible for closing it.
func Acquire(ctx context.Context, opts Options) (*Publisher, error) {
	if opts.DataDir == "" {
		return nil, errors.New("discovery: DataDir is required")
	}
	if opts.ListenAddress == "" {
		opts.ListenAddress = DefaultListenAddress
	}
	if opts.Probe == nil {
		opts.Probe = Probe
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if err := os.MkdirAll(opts.DataDir, 0o700); err != nil {
		return nil, schema.Wrap(schema.KindIO, err, "creating data directory %s", opts.DataDir)
	}

	lock := flock.New(filepath.Join(opts.DataDir, LockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, schema.Wrap(schema.KindIO, err, "acquiring instance lock")
	}
	if !locked {
		return nil, alreadyRunning(opts.DataDir)
	}

	publisher, err := publish(ctx, lock, opts)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return publisher, nil
}

func publish(ctx context.Context, lock *flock.Flock, opts Options) (*Publisher, error) {
	existing, err := Read(opts.DataDir)
	switch {
	case err == nil:
		probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
		probeErr := opts.Probe(probeCtx, existing)
		cancel()
		if probeErr == nil {
			return nil, schema.Errorf(schema.KindAlreadyRunning,
				"daemon already running at %s (pid %d)", existing.Address, existing.PID)
		}
		opts.Logger.Info("replacing stale discovery record",
			"address", existing.Address,
			"pid", existing.PID,
			"probe_error", probeErr,
		)
	case errors.Is(err, os.ErrNotExist):
	default:
		opts.Logger.Warn("ignoring unreadable discovery record", "error", err)
	}

	var listenConfig net.ListenConfig
	listener, err := listenConfig.Listen(ctx, "tcp", opts.ListenAddress)
	if err != nil {
		return nil, schema.Wrap(schema.KindIO, err, "binding %s", opts.ListenAddress)
	}

	record := Record{
		Address:   listener.Addr().String(),
		PID:       os.Getpid(),
		StartedAt: opts.Clock.Now().UTC(),
		Version:   opts.Version,
	}
	if err := Write(RecordPath(opts.DataDir), record); err != nil {
		listener.Close()
		return nil, schema.Wrap(schema.KindIO, err, "publishing discovery record")
	}

	opts.Logger.Info("discovery record published",
		"address", record.Address,
		"path", RecordPath(opts.DataDir),
	)

	return &Publisher{
		dataDir:  opts.DataDir,
		lock:     lock,
		listener: listener,
		record:   record,
		logger:   opts.Logger,
	}, nil
}

func alreadyRunning(dataDir string) error {
	if record, err := Read(dataDir); err == nil {
		return schema.Errorf(schema.KindAlreadyRunning,
			"daemon already running at %s (pid %d)", record.Address, record.PID)
	}
	return schema.Errorf(schema.KindAlreadyRunning,
		"another daemon holds the lock on %s", dataDir)
}

// Listener returns the bound listener.
func (p *Publisher) Listener() net.Listener { return p.listener }

// Record returns the published record.
func (p *Publisher) Record() Record { return p.record }

// Close removes the record (if it is still ours) and releases the
// instance lock. The lock file itself stays: deleting it would let a
// second process lock a fresh inode while a third still holds the old
// one. Safe to call more than once.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		current, err := Read(p.dataDir)
		if err == nil && current.PID == p.record.PID && current.Address == p.record.Address {
			p.closeErr = Clear(p.dataDir)
		}
		if err := p.lock.Unlock(); err != nil && p.closeErr == nil {
			p.closeErr = fmt.Errorf("releasing instance lock: %w", err)
		}
		p.logger.Info("discovery record withdrawn", "address", p.record.Address)
	})
	return p.closeErr
}

// Probe asks the daemon at record.Address for its status and checks
// that the answering process is the one the record names.
func Probe(ctx context.Context, record Record) error {
	var status schema.StatusResponse
	if err := service.NewServiceClient(record.Address).Call(ctx, schema.ActionStatus, nil, &status); err != nil {
		return err
	}
	if status.PID != record.PID {
		return fmt.Errorf("address %s answered as pid %d, record says %d", record.Address, status.PID, record.PID)
	}
	return nil
}

// Locate reads the record in dataDir and probes it. It returns a
// KindNotFound error when there is no record or the recorded daemon
// does not answer within ProbeTimeout.
func Locate(ctx context.Context, dataDir string, probe ProbeFunc) (Record, error) {
	if probe == nil {
		probe = Probe
	}
	record, err := Read(dataDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, schema.Errorf(schema.KindNotFound, "no daemon running for %s", dataDir)
		}
		return Record{}, schema.Wrap(schema.KindNotFound, err, "no usable discovery record")
	}

	probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()
	if err := probe(probeCtx, record); err != nil {
		return record, schema.Wrap(schema.KindNotFound, err, "daemon at %s is not answering", record.Address)
	}
	return record, nil
}

// WaitForRemoval blocks until the discovery record in dataDir is gone
// or ctx is done.
func WaitForRemoval(ctx context.Context, dataDir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(dataDir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("watching %s: %w", dataDir, err)
	}

	path := RecordPath(dataDir)
	gone := func() bool {
		_, err := os.Stat(path)
		return errors.Is(err, os.ErrNotExist)
	}

	// Checked after Add so a removal between the two is not missed.
	if gone() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if filepath.Clean(event.Name) == path && (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) && gone() {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			return fmt.Errorf("watching %s: %w", dataDir, err)
		}
	}
}
