// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dashboard

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/bureau-foundation/workforest/lib/clock"
	"github.com/bureau-foundation/workforest/lib/daemonclient"
	"github.com/bureau-foundation/workforest/lib/schema"
	"github.com/bureau-foundation/workforest/lib/tui"
)

// actionTimeout bounds one start, stop, or restart request. Stop waits
// for the process to exit, so this covers the daemon's stop grace.
const actionTimeout = 30 * time.Second

// noticeFadeDelay is how long an action result stays in the footer.
const noticeFadeDelay = 4 * time.Second

// Actions is the subset of the daemon client the dashboard drives.
// *daemonclient.Client implements it.
type Actions interface {
	StartSession(ctx context.Context, agent, command string) (schema.Session, error)
	StopSession(ctx context.Context, agent string, grace time.Duration) (schema.Session, error)
	RestartSession(ctx context.Context, agent string, grace time.Duration) (schema.Session, error)
}

// Options configures a Model.
type Options struct {
	// Mirrors delivers the daemon's state, usually from [Watch]. A nil
	// channel leaves the dashboard empty.
	Mirrors <-chan daemonclient.Mirror

	// Actions performs session commands. Nil makes the dashboard
	// read-only.
	Actions Actions

	Clock clock.Clock
	Theme *tui.Theme
	Keys  *KeyMap
}

type mirrorMsg struct {
	mirror daemonclient.Mirror
}

type heatTickMsg struct{}

type actionKind int

const (
	actionStart actionKind = iota
	actionStop
	actionRestart
)

func (kind actionKind) pastTense() string {
	switch kind {
	case actionStart:
		return "started"
	case actionStop:
		return "stopped"
	default:
		return "restarted"
	}
}

type actionResultMsg struct {
	kind    actionKind
	label   string
	session schema.Session
	err     error
}

type noticeFadeMsg struct {
	serial int
}

// row is one line of the list: a repository heading or an agent.
type row struct {
	header     bool
	repository schema.Repository
	agent      schema.Agent

	// session is the agent's most recent session, nil if it never ran.
	session *schema.Session
}

func (r row) key() string {
	if r.header {
		return r.repository.ID
	}
	return r.agent.ID
}

// signature summarizes what the row displays, so a changed row can be
// told from an untouched one across snapshots.
func (r row) signature() string {
	if r.header {
		return fmt.Sprintf("%s|%s|%v", r.repository.Name, r.repository.Path, r.repository.Tools)
	}
	signature := fmt.Sprintf("%s|%s|%t", r.agent.Branch, r.agent.Tool, r.agent.Releasing)
	if r.session != nil {
		signature += fmt.Sprintf("|%s|%s|%d", r.session.ID, r.session.State, r.session.PID)
	}
	return signature
}

// Model is the bubbletea model for the dashboard.
type Model struct {
	mirrors <-chan daemonclient.Mirror
	actions Actions
	clock   clock.Clock
	theme   tui.Theme
	keys    KeyMap
	help    help.Model

	snapshot  schema.Snapshot
	connected bool
	streamErr error
	received  bool

	rows []row
	// selectable holds the indices of agent rows; cursor indexes it.
	selectable   []int
	cursor       int
	selectedID   string
	scrollOffset int

	heat        *tui.HeatTracker
	signatures  map[string]string
	tickRunning bool

	notice        string
	noticeIsError bool
	noticeSerial  int

	width  int
	height int
	ready  bool
}

// NewModel returns a dashboard model.
func NewModel(options Options) Model {
	model := Model{
		mirrors:    options.Mirrors,
		actions:    options.Actions,
		clock:      options.Clock,
		theme:      tui.DefaultTheme,
		keys:       DefaultKeyMap,
		help:       help.New(),
		heat:       tui.NewHeatTracker(),
		signatures: make(map[string]string),
	}
	if model.clock == nil {
		model.clock = clock.Real()
	}
	if options.Theme != nil {
		model.theme = *options.Theme
	}
	if options.Keys != nil {
		model.keys = *options.Keys
	}
	return model
}

// Init implements tea.Model.
func (model Model) Init() tea.Cmd {
	return listenForMirror(model.mirrors)
}

func listenForMirror(channel <-chan daemonclient.Mirror) tea.Cmd {
	if channel == nil {
		return nil
	}
	return func() tea.Msg {
		mirror, ok := <-channel
		if !ok {
			return nil
		}
		return mirrorMsg{mirror: mirror}
	}
}

// Update implements tea.Model.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.KeyMsg:
		return model.handleKey(message)

	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height
		model.ready = true
		model.help.Width = message.Width
		model.ensureCursorVisible()

	case mirrorMsg:
		return model.handleMirror(message.mirror)

	case heatTickMsg:
		if model.heat.HasHot(model.clock.Now()) {
			return model, scheduleHeatTick()
		}
		model.tickRunning = false

	case actionResultMsg:
		model.noticeSerial++
		if message.err != nil {
			model.notice = fmt.Sprintf("%s: %v", message.label, message.err)
			model.noticeIsError = true
		} else {
			model.notice = fmt.Sprintf("%s %s", message.kind.pastTense(), message.label)
			model.noticeIsError = false
		}
		serial := model.noticeSerial
		return model, tea.Tick(noticeFadeDelay, func(time.Time) tea.Msg {
			return noticeFadeMsg{serial: serial}
		})

	case noticeFadeMsg:
		if message.serial == model.noticeSerial {
			model.notice = ""
			model.noticeIsError = false
		}
	}
	return model, nil
}

func (model Model) handleKey(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Quit):
		return model, tea.Quit
	case key.Matches(message, model.keys.Up):
		model.moveCursor(-1)
	case key.Matches(message, model.keys.Down):
		model.moveCursor(1)
	case key.Matches(message, model.keys.PageUp):
		model.moveCursor(-model.visibleHeight())
	case key.Matches(message, model.keys.PageDown):
		model.moveCursor(model.visibleHeight())
	case key.Matches(message, model.keys.Home):
		model.moveCursor(-len(model.selectable))
	case key.Matches(message, model.keys.End):
		model.moveCursor(len(model.selectable))
	case key.Matches(message, model.keys.Start):
		return model, model.runAction(actionStart)
	case key.Matches(message, model.keys.Stop):
		return model, model.runAction(actionStop)
	case key.Matches(message, model.keys.Restart):
		return model, model.runAction(actionRestart)
	}
	return model, nil
}

// runAction returns a command that applies kind to the selected agent,
// or nil when there is nothing to act on.
func (model Model) runAction(kind actionKind) tea.Cmd {
	selected, ok := model.selectedRow()
	if !ok || model.actions == nil {
		return nil
	}
	actions := model.actions
	agentID := selected.agent.ID
	label := selected.agent.Label
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()

		var session schema.Session
		var err error
		switch kind {
		case actionStart:
			session, err = actions.StartSession(ctx, agentID, "")
		case actionStop:
			session, err = actions.StopSession(ctx, agentID, 0)
		case actionRestart:
			session, err = actions.RestartSession(ctx, agentID, 0)
		}
		return actionResultMsg{kind: kind, label: label, session: session, err: err}
	}
}

// handleMirror replaces the displayed state and highlights the rows
// that differ from the previous state. The first snapshot highlights
// nothing.
func (model Model) handleMirror(mirror daemonclient.Mirror) (tea.Model, tea.Cmd) {
	now := model.clock.Now()
	model.snapshot = mirror.Snapshot
	model.connected = mirror.Connected
	model.streamErr = mirror.Err
	model.rebuildRows()

	signatures := make(map[string]string, len(model.rows))
	for _, r := range model.rows {
		signature := r.signature()
		signatures[r.key()] = signature
		if !model.received {
			continue
		}
		if previous, ok := model.signatures[r.key()]; ok && previous == signature {
			continue
		}
		kind := tui.HeatChange
		if !r.header && r.agent.Releasing {
			kind = tui.HeatRemove
		}
		model.heat.Ignite(r.key(), kind, now)
	}
	model.signatures = signatures
	if mirror.Connected {
		model.received = true
	}

	commands := []tea.Cmd{listenForMirror(model.mirrors)}
	if !model.tickRunning && model.heat.HasHot(now) {
		model.tickRunning = true
		commands = append(commands, scheduleHeatTick())
	}
	return model, tea.Batch(commands...)
}

func scheduleHeatTick() tea.Cmd {
	return tea.Tick(tui.HeatTickInterval, func(time.Time) tea.Msg {
		return heatTickMsg{}
	})
}

// rebuildRows lays out repositories by name, each followed by its
// agents in creation order, and keeps the selection on the same agent
// when it still exists.
func (model *Model) rebuildRows() {
	repositories := slices.Clone(model.snapshot.Repositories)
	slices.SortFunc(repositories, func(a, b schema.Repository) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.Path, b.Path))
	})

	agentsByRepository := make(map[string][]schema.Agent)
	for _, agent := range model.snapshot.Agents {
		agentsByRepository[agent.RepositoryID] = append(agentsByRepository[agent.RepositoryID], agent)
	}

	latest := make(map[string]*schema.Session)
	for i := range model.snapshot.Sessions {
		session := &model.snapshot.Sessions[i]
		current, ok := latest[session.AgentID]
		if !ok || session.CreatedAt.After(current.CreatedAt) ||
			(session.CreatedAt.Equal(current.CreatedAt) && session.ID > current.ID) {
			latest[session.AgentID] = session
		}
	}

	model.rows = nil
	model.selectable = nil
	for _, repository := range repositories {
		model.rows = append(model.rows, row{header: true, repository: repository})
		agents := agentsByRepository[repository.ID]
		slices.SortFunc(agents, func(a, b schema.Agent) int {
			return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
		})
		for _, agent := range agents {
			model.selectable = append(model.selectable, len(model.rows))
			model.rows = append(model.rows, row{
				repository: repository,
				agent:      agent,
				session:    latest[agent.ID],
			})
		}
	}

	model.restoreSelection()
}

func (model *Model) restoreSelection() {
	if len(model.selectable) == 0 {
		model.cursor = 0
		model.selectedID = ""
		model.scrollOffset = 0
		return
	}
	for position, index := range model.selectable {
		if model.rows[index].agent.ID == model.selectedID {
			model.cursor = position
			model.ensureCursorVisible()
			return
		}
	}
	model.cursor = min(model.cursor, len(model.selectable)-1)
	model.selectedID = model.rows[model.selectable[model.cursor]].agent.ID
	model.ensureCursorVisible()
}

func (model *Model) moveCursor(delta int) {
	if len(model.selectable) == 0 {
		return
	}
	model.cursor = max(0, min(model.cursor+delta, len(model.selectable)-1))
	model.selectedID = model.rows[model.selectable[model.cursor]].agent.ID
	model.ensureCursorVisible()
}

func (model *Model) ensureCursorVisible() {
	if len(model.selectable) == 0 {
		model.scrollOffset = 0
		return
	}
	line := model.selectable[model.cursor]
	visible := model.visibleHeight()
	if line < model.scrollOffset {
		model.scrollOffset = line
	}
	if line >= model.scrollOffset+visible {
		model.scrollOffset = line - visible + 1
	}
	// Keep the repository heading on screen when its first agent is.
	if line > 0 && model.rows[line-1].header && model.scrollOffset == line && visible > 1 {
		model.scrollOffset = line - 1
	}
	model.scrollOffset = max(0, min(model.scrollOffset, len(model.rows)-visible))
}

func (model Model) selectedRow() (row, bool) {
	if len(model.selectable) == 0 {
		return row{}, false
	}
	return model.rows[model.selectable[model.cursor]], true
}

// visibleHeight is the number of list rows that fit between the title
// bar and the footer.
func (model Model) visibleHeight() int {
	return max(1, model.height-3)
}
