package ui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/five82/alloclog/internal/logging"
	"github.com/five82/alloclog/internal/nomad"
	"github.com/five82/alloclog/internal/prefs"
	"github.com/five82/alloclog/internal/state"
	"github.com/five82/alloclog/internal/stats"
	"github.com/five82/alloclog/internal/tasklog"
)

// LogController is the part of tasklog.Controller the viewer drives.
type LogController interface {
	StartStreaming(ctx context.Context)
	GotoHead(ctx context.Context)
	GotoTail(ctx context.Context)
	Stop()
	Switch(ctx context.Context, p tasklog.Params)
	Status() tasklog.Status
	Text() string
	Updates() <-chan struct{}
}

var _ LogController = (*tasklog.Controller)(nil)

// Options configures the UI.
type Options struct {
	Context    context.Context
	Controller LogController
	Store      *state.Store
	Stats      *stats.Registry
	Allocation nomad.Allocation
	Prefs      *prefs.Store
	Ring       *logging.Ring
	Logger     *log.Entry
	PollTick   time.Duration
}

// Model is the root application state for Bubble Tea.
type Model struct {
	// Configuration
	ctx      context.Context
	ctrl     LogController
	store    *state.Store
	stats    *stats.Registry
	alloc    nomad.Allocation
	tasks    []string
	prefs    *prefs.Store
	ring     *logging.Ring
	log      *log.Entry
	pollTick time.Duration
	keys     keyMap

	// UI state
	theme     Theme
	width     int
	height    int
	ready     bool
	wrap      bool
	showStats bool

	// Data state
	status   tasklog.Status
	snapshot state.Snapshot

	// Log state
	logViewport viewport.Model
	logState    logState

	// Overlays
	showHelp        bool
	showDiagnostics bool
	diagViewport    viewport.Model
}

// New creates a new Bubble Tea model.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	pollTick := opts.PollTick
	if pollTick <= 0 {
		pollTick = DefaultUIInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	p := prefs.Defaults()
	if opts.Prefs != nil {
		p = opts.Prefs.Prefs()
	}

	m := Model{
		ctx:       ctx,
		ctrl:      opts.Controller,
		store:     opts.Store,
		stats:     opts.Stats,
		alloc:     opts.Allocation,
		tasks:     opts.Allocation.TaskNames(),
		prefs:     opts.Prefs,
		ring:      opts.Ring,
		log:       logger,
		pollTick:  pollTick,
		keys:      defaultKeyMap(),
		theme:     GetTheme(p.Theme),
		wrap:      p.Wrap,
		showStats: p.ShowStats,
		logState:  newLogState(),
	}
	if m.ctrl != nil {
		m.status = m.ctrl.Status()
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tickCmd(m.pollTick)}
	if m.store != nil {
		cmds = append(cmds, fetchSnapshotCmd(m.store))
	}
	if m.ctrl != nil {
		cmds = append(cmds, waitForUpdate(m.ctrl.Updates()), m.action(actionStream))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.resize()
		return m, nil

	case updateMsg:
		m.refresh()
		return m, waitForUpdate(m.ctrl.Updates())

	case actionMsg:
		m.refresh()
		if msg == actionHead {
			m.logState.follow = false
			m.logViewport.GotoTop()
		}
		return m, nil

	case tickMsg:
		cmds := []tea.Cmd{tickCmd(m.pollTick)}
		if m.store != nil {
			cmds = append(cmds, fetchSnapshotCmd(m.store))
		}
		return m, tea.Batch(cmds...)

	case snapshotMsg:
		m.snapshot = state.Snapshot(msg)
		return m, nil
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	if m.showHelp {
		return m.renderHelp()
	}
	if m.showDiagnostics {
		return m.renderDiagnostics()
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	if m.statsVisible() {
		b.WriteString(m.renderUsage())
		b.WriteString("\n")
	}
	b.WriteString(m.renderCommandBar())
	b.WriteString("\n")
	b.WriteString(m.renderLogs())
	return b.String()
}

// handleKey processes keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		m.showHelp = false
		return m, nil
	}
	if m.showDiagnostics {
		return m.handleDiagnosticsKey(msg)
	}
	if m.logState.searchActive {
		return m.handleSearchInput(msg)
	}

	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "?":
		m.showHelp = true
		return m, nil

	case "T":
		m.theme = GetTheme(NextTheme(m.theme.Name))
		m.savePrefs(func(p *prefs.Prefs) { p.Theme = m.theme.Name })
		m.relayout()
		return m, nil

	case "d":
		m.openDiagnostics()
		return m, nil

	case "w":
		m.wrap = !m.wrap
		m.savePrefs(func(p *prefs.Prefs) { p.Wrap = m.wrap })
		m.relayout()
		return m, nil

	case "s":
		m.showStats = !m.showStats
		m.savePrefs(func(p *prefs.Prefs) { p.ShowStats = m.showStats })
		m.resize()
		return m, nil
	}

	return m.handleLogsKey(msg)
}

// statsVisible reports whether the usage row is drawn.
func (m Model) statsVisible() bool {
	return m.showStats && m.stats != nil && m.width >= LayoutSparkWidth
}

// chromeHeight is the number of rows outside the log box.
func (m Model) chromeHeight() int {
	if m.statsVisible() {
		return chromeRows + 1
	}
	return chromeRows
}

// resize fits the viewports to the window.
func (m *Model) resize() {
	m.logViewport.Width = max(m.width-2, 0)
	m.logViewport.Height = max(m.height-m.chromeHeight()-2, 0)
	m.diagViewport.Width = max(m.width-4, 0)
	m.diagViewport.Height = max(m.height-4, 0)
	m.relayout()
}

func (m *Model) savePrefs(fn func(*prefs.Prefs)) {
	if m.prefs == nil {
		return
	}
	m.prefs.Update(fn)
}

// Messages

type tickMsg time.Time

type snapshotMsg state.Snapshot

// updateMsg reports that the controller changed its buffer or state.
type updateMsg struct{}

// actionMsg reports that a controller operation returned.
type actionMsg int

const (
	actionStream actionMsg = iota
	actionStop
	actionHead
	actionTail
	actionSwitch
)

// Commands

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchSnapshotCmd(store *state.Store) tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg(store.Snapshot())
	}
}

// waitForUpdate blocks until the controller signals. A closed channel ends
// the wait loop.
func waitForUpdate(updates <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-updates; !ok {
			return nil
		}
		return updateMsg{}
	}
}

// action runs a controller operation off the UI goroutine. Fetches block
// until they settle.
func (m Model) action(a actionMsg) tea.Cmd {
	ctrl, ctx := m.ctrl, m.ctx
	return func() tea.Msg {
		switch a {
		case actionStream:
			ctrl.StartStreaming(ctx)
		case actionStop:
			ctrl.Stop()
		case actionHead:
			ctrl.GotoHead(ctx)
		case actionTail:
			ctrl.GotoTail(ctx)
		}
		return a
	}
}

// switchTo points the controller at another task or log type.
func (m Model) switchTo(p tasklog.Params) tea.Cmd {
	ctrl, ctx := m.ctrl, m.ctx
	return func() tea.Msg {
		ctrl.Switch(ctx, p)
		return actionSwitch
	}
}

// Run starts the Bubble Tea program and blocks until the user quits or the
// context ends.
func Run(opts Options) error {
	if opts.Controller == nil {
		return errors.New("ui: no log controller")
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
		opts.Context = ctx
	}
	p := tea.NewProgram(New(opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
