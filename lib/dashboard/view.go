// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"

	"github.com/bureau-foundation/workforest/lib/schema"
	"github.com/bureau-foundation/workforest/lib/tui"
)

// heatVisibleThreshold is the heat below which a row is drawn without
// its change highlight.
const heatVisibleThreshold = 0.15

// View implements tea.Model.
func (model Model) View() string {
	if !model.ready {
		return "Connecting..."
	}

	sections := []string{model.renderTitle()}

	if len(model.rows) == 0 {
		sections = append(sections, model.renderEmpty())
	} else {
		sections = append(sections, model.renderList())
	}

	sections = append(sections, lipgloss.NewStyle().
		Foreground(model.theme.BorderColor).
		Render(strings.Repeat("─", model.width)))
	sections = append(sections, model.renderFooter())
	return strings.Join(sections, "\n")
}

func (model Model) renderTitle() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(model.theme.HeaderForeground).
		Render(" workforest ")

	var status string
	switch {
	case model.connected:
		status = lipgloss.NewStyle().Foreground(model.theme.StateRunning).Render("● live")
	case model.streamErr != nil:
		status = lipgloss.NewStyle().Foreground(model.theme.ErrorText).
			Render(fmt.Sprintf("○ disconnected: %v (retrying)", model.streamErr))
	default:
		status = lipgloss.NewStyle().Foreground(model.theme.FaintText).Render("○ connecting")
	}

	running := 0
	for _, session := range model.snapshot.Sessions {
		if session.State.Live() {
			running++
		}
	}
	counts := lipgloss.NewStyle().Foreground(model.theme.FaintText).Render(fmt.Sprintf(
		"%d repositories · %d agents · %d live sessions",
		len(model.snapshot.Repositories), len(model.snapshot.Agents), running))

	left := title + " " + status
	gap := model.width - lipgloss.Width(left) - lipgloss.Width(counts) - 1
	if gap < 1 {
		return ansi.Truncate(left, model.width, "…")
	}
	return left + strings.Repeat(" ", gap) + counts + " "
}

func (model Model) renderEmpty() string {
	message := "No repositories. Add one with: workforest repo add <path>"
	lines := make([]string, model.visibleHeight())
	lines[0] = lipgloss.NewStyle().Foreground(model.theme.FaintText).Render("  " + message)
	return strings.Join(lines, "\n")
}

// renderList draws the visible rows with a scrollbar in the last
// column.
func (model Model) renderList() string {
	visible := model.visibleHeight()
	contentWidth := max(1, model.width-1)
	now := model.clock.Now()

	selectedIndex := -1
	if len(model.selectable) > 0 {
		selectedIndex = model.selectable[model.cursor]
	}

	lines := make([]string, visible)
	for line := range lines {
		index := model.scrollOffset + line
		if index >= len(model.rows) {
			lines[line] = strings.Repeat(" ", contentWidth)
			continue
		}
		lines[line] = model.renderRow(model.rows[index], index == selectedIndex, contentWidth, now)
	}

	scrollbar := tui.RenderScrollbar(model.theme, visible, len(model.rows), visible, model.scrollOffset)
	return lipgloss.JoinHorizontal(lipgloss.Top, strings.Join(lines, "\n"), scrollbar)
}

func (model Model) renderRow(r row, selected bool, width int, now time.Time) string {
	var text string
	var style lipgloss.Style
	if r.header {
		text = fmt.Sprintf(" %s  %s", r.repository.Name, r.repository.Path)
		style = lipgloss.NewStyle().Bold(true).Foreground(model.theme.RepositoryHeading)
	} else {
		text = agentLine(r, now)
		style = lipgloss.NewStyle().Foreground(model.theme.NormalText)
		if r.session != nil {
			style = style.Foreground(model.theme.StateColor(r.session.State))
		}
		if r.agent.Releasing {
			style = style.Foreground(model.theme.FaintText).Faint(true)
		}
	}

	text = ansi.Truncate(text, width, "…")
	if padding := width - lipgloss.Width(text); padding > 0 {
		text += strings.Repeat(" ", padding)
	}

	switch {
	case selected:
		style = style.Background(model.theme.SelectedBackground).Foreground(model.theme.SelectedForeground)
	case model.heat.Heat(r.key(), now) >= heatVisibleThreshold:
		if model.heat.Kind(r.key()) == tui.HeatRemove {
			style = style.Background(model.theme.HotAccentRemove)
		} else {
			style = style.Background(model.theme.HotAccentChange)
		}
	}
	return style.Render(text)
}

// agentLine is the unstyled text of an agent row.
func agentLine(r row, now time.Time) string {
	state := "idle"
	detail := ""
	if r.session != nil {
		state = string(r.session.State)
		detail = sessionDetail(*r.session, now)
	}
	if r.agent.Releasing {
		state = "releasing"
		detail = ""
	}

	icon := tui.StateIcon("")
	if r.session != nil {
		icon = tui.StateIcon(r.session.State)
	}

	line := fmt.Sprintf("   %s %-14s %-9s %-10s %s", icon, r.agent.Label, state, r.agent.Tool, r.agent.Branch)
	if detail != "" {
		line += "  " + detail
	}
	return line
}

// sessionDetail describes a session's process: how long it has run,
// or how it ended.
func sessionDetail(session schema.Session, now time.Time) string {
	switch {
	case session.State.Live() && session.StartedAt != nil:
		return fmt.Sprintf("pid %d, started %s", session.PID, humanize.RelTime(*session.StartedAt, now, "ago", "from now"))
	case session.Error != "":
		return session.Error
	case session.Exit != nil:
		return session.Exit.String()
	default:
		return ""
	}
}

func (model Model) renderFooter() string {
	if model.notice != "" {
		color := model.theme.NormalText
		if model.noticeIsError {
			color = model.theme.ErrorText
		}
		return ansi.Truncate(lipgloss.NewStyle().Foreground(color).Render(" "+model.notice), model.width, "…")
	}
	return model.help.ShortHelpView(model.keys.ShortHelp())
}
