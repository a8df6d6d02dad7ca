// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/workforest/lib/schema"
)

// Theme is the palette for workforest's terminal views. Colors are
// ANSI 256-color codes.
type Theme struct {
	NormalText lipgloss.Color
	FaintText  lipgloss.Color
	ErrorText  lipgloss.Color

	SelectedBackground lipgloss.Color
	SelectedForeground lipgloss.Color

	// Session state colors. Idle covers agents with no live session.
	StateIdle     lipgloss.Color
	StateStarting lipgloss.Color
	StateRunning  lipgloss.Color
	StateStopping lipgloss.Color
	StateStopped  lipgloss.Color
	StateFailed   lipgloss.Color

	HeaderForeground  lipgloss.Color
	RepositoryHeading lipgloss.Color
	BorderColor       lipgloss.Color
	HelpText          lipgloss.Color

	// Background tints for recently changed rows.
	HotAccentChange lipgloss.Color
	HotAccentRemove lipgloss.Color
}

// StateColor returns the color for a session state. The empty state
// means the agent has never run.
func (theme Theme) StateColor(state schema.SessionState) lipgloss.Color {
	switch state {
	case "", schema.SessionCreated:
		return theme.StateIdle
	case schema.SessionStarting:
		return theme.StateStarting
	case schema.SessionRunning:
		return theme.StateRunning
	case schema.SessionStopping:
		return theme.StateStopping
	case schema.SessionStopped:
		return theme.StateStopped
	case schema.SessionFailed:
		return theme.StateFailed
	default:
		return theme.FaintText
	}
}

// StateIcon returns a one-cell glyph for a session state.
func StateIcon(state schema.SessionState) string {
	switch state {
	case schema.SessionStarting:
		return "◔"
	case schema.SessionRunning:
		return "●"
	case schema.SessionStopping:
		return "◑"
	case schema.SessionStopped:
		return "○"
	case schema.SessionFailed:
		return "✗"
	default:
		return "·"
	}
}

// DefaultTheme targets 256-color terminals with a dark background.
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("245"),
	ErrorText:  lipgloss.Color("203"),

	SelectedBackground: lipgloss.Color("236"),
	SelectedForeground: lipgloss.Color("255"),

	StateIdle:     lipgloss.Color("245"), // gray
	StateStarting: lipgloss.Color("75"),  // blue
	StateRunning:  lipgloss.Color("114"), // green
	StateStopping: lipgloss.Color("220"), // amber
	StateStopped:  lipgloss.Color("245"), // gray
	StateFailed:   lipgloss.Color("196"), // red

	HeaderForeground:  lipgloss.Color("255"),
	RepositoryHeading: lipgloss.Color("141"),
	BorderColor:       lipgloss.Color("240"),
	HelpText:          lipgloss.Color("241"),

	HotAccentChange: lipgloss.Color("58"),
	HotAccentRemove: lipgloss.Color("52"),
}
