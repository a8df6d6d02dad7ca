// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tui holds the terminal UI pieces shared by workforest's
// interactive views: the color theme, change highlighting that fades
// over a few seconds, and a one-column scrollbar. Views are bubbletea
// models; this package has no model of its own.
package tui
