// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import "time"

// HeatDecayDuration is how long a changed row stays highlighted. Heat
// falls linearly from 1 to 0 over this span.
const HeatDecayDuration = 5 * time.Second

// HeatTickInterval is the redraw interval while anything is hot.
const HeatTickInterval = 100 * time.Millisecond

// HeatKind selects the highlight color.
type HeatKind int

const (
	// HeatChange marks a created or updated row.
	HeatChange HeatKind = iota
	// HeatRemove marks a row that is going away.
	HeatRemove
)

type ignition struct {
	at   time.Time
	kind HeatKind
}

// HeatTracker remembers when rows last changed. The zero value is not
// usable; call NewHeatTracker.
type HeatTracker struct {
	ignitions map[string]ignition
}

// NewHeatTracker returns an empty tracker.
func NewHeatTracker() *HeatTracker {
	return &HeatTracker{ignitions: make(map[string]ignition)}
}

// Ignite marks id as changed at now, restarting its decay.
func (tracker *HeatTracker) Ignite(id string, kind HeatKind, now time.Time) {
	tracker.ignitions[id] = ignition{at: now, kind: kind}
}

// Heat returns id's intensity at now, in [0, 1].
func (tracker *HeatTracker) Heat(id string, now time.Time) float64 {
	entry, ok := tracker.ignitions[id]
	if !ok {
		return 0
	}
	elapsed := now.Sub(entry.at)
	if elapsed < 0 {
		return 1
	}
	if elapsed >= HeatDecayDuration {
		return 0
	}
	return 1 - float64(elapsed)/float64(HeatDecayDuration)
}

// Kind returns the kind id was last ignited with.
func (tracker *HeatTracker) Kind(id string) HeatKind {
	return tracker.ignitions[id].kind
}

// HasHot reports whether anything is still hot at now, and forgets
// entries that have cooled.
func (tracker *HeatTracker) HasHot(now time.Time) bool {
	hot := false
	for id, entry := range tracker.ignitions {
		if now.Sub(entry.at) < HeatDecayDuration {
			hot = true
			continue
		}
		delete(tracker.ignitions, id)
	}
	return hot
}
