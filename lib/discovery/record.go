// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// RecordFile is the discovery record's name inside the data
	// directory.
	RecordFile = "daemon.json"

	// LockFile is the instance lock's name inside the data directory.
	LockFile = "daemon.lock"
)

// Record tells clients how to reach the daemon.
type Record struct {
	Address   string    `json:"address"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Version   string    `json:"version"`
}

// RecordPath returns the discovery record path for dataDir.
func RecordPath(dataDir string) string {
	return filepath.Join(dataDir, RecordFile)
}

// Write atomically writes record to path. The record is written to a
// temporary file in the same directory, fsynced, and renamed into
// place, so readers never see a partial record. The parent directory
// must already exist.
func Write(path string, record Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling discovery record: %w", err)
	}
	data = append(data, '\n')

	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary discovery record: %w", err)
	}

	// Write, sync, close, in that order. On any failure the temporary
	// file is removed and the first error reported.
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary discovery record: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary discovery record: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary discovery record: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming discovery record into place: %w", err)
	}

	// Sync the directory so the rename survives a power loss.
	parentDirectory, err := os.Open(filepath.Dir(path))
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}

	return nil
}

// Read reads the discovery record in dataDir. When no record exists
// the returned error wraps os.ErrNotExist.
func Read(dataDir string) (Record, error) {
	path := RecordPath(dataDir)
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("parsing discovery record %s: %w", path, err)
	}
	if record.Address == "" {
		return Record{}, fmt.Errorf("discovery record %s has no address", path)
	}
	return record, nil
}

// Clear removes the discovery record in dataDir. Idempotent.
func Clear(dataDir string) error {
	if err := os.Remove(RecordPath(dataDir)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing discovery record: %w", err)
	}
	return nil
}
