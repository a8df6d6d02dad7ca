// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// RenderScrollbar draws a one-column scrollbar height rows tall for a
// list of total rows showing visible rows from offset. When everything
// fits, the thumb fills the track.
func RenderScrollbar(theme Theme, height, total, visible, offset int) string {
	if height <= 0 {
		return ""
	}

	track := lipgloss.NewStyle().Foreground(theme.BorderColor).Render("│")
	thumb := lipgloss.NewStyle().Foreground(theme.FaintText).Render("┃")

	thumbStart, thumbSize := 0, height
	if total > visible && total > 0 {
		thumbSize = max(1, height*visible/total)
		scrollable := total - visible
		room := height - thumbSize
		if room > 0 {
			thumbStart = min(offset*room/scrollable, room)
		}
	}

	lines := make([]string, height)
	for row := range lines {
		if row >= thumbStart && row < thumbStart+thumbSize {
			lines[row] = thumb
		} else {
			lines[row] = track
		}
	}
	return strings.Join(lines, "\n")
}
