package ui

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/five82/alloclog/internal/logtail"
	"github.com/five82/alloclog/internal/prefs"
	"github.com/five82/alloclog/internal/tasklog"
)

// logState holds all log-related state.
type logState struct {
	text   string   // last buffer text read from the controller
	lines  []string // sanitized source lines
	rows   []string // lines laid out for the viewport
	starts []int    // first row of each source line
	follow bool

	// Search
	searchActive   bool
	searchQuery    string
	searchRegex    *regexp.Regexp
	searchInput    textinput.Model
	searchMatches  []int // Line indices that match
	searchMatchIdx int   // Current match index
}

func newLogState() logState {
	ti := textinput.New()
	ti.Placeholder = "Search logs..."
	ti.CharLimit = SearchCharLimit
	ti.Prompt = "/"
	return logState{follow: true, searchInput: ti}
}

// refresh pulls status and text from the controller.
func (m *Model) refresh() {
	if m.ctrl == nil {
		return
	}
	m.status = m.ctrl.Status()
	text := m.ctrl.Text()
	if text == m.logState.text && m.logState.lines != nil {
		return
	}
	m.logState.text = text
	m.logState.lines = splitLines(text)
	if m.logState.lines == nil {
		m.logState.lines = []string{}
	}
	m.findSearchMatches()
	m.relayout()
}

// relayout rebuilds the viewport rows from the source lines.
func (m *Model) relayout() {
	decorated := m.decorateLines()
	m.logState.rows, m.logState.starts = layoutLines(decorated, m.logViewport.Width, m.wrap)
	m.logViewport.SetContent(strings.Join(m.logState.rows, "\n"))
	if m.logState.follow {
		m.logViewport.GotoBottom()
	}
}

// decorateLines applies search highlighting. Matched lines lose their own
// colors so the highlight reads clearly.
func (m *Model) decorateLines() []string {
	ls := &m.logState
	if ls.searchRegex == nil || len(ls.searchMatches) == 0 {
		return ls.lines
	}
	match := m.theme.Styles().Selected
	active := lipgloss.NewStyle().
		Background(lipgloss.Color(m.theme.Warning)).
		Foreground(lipgloss.Color(m.theme.Background))

	out := slices.Clone(ls.lines)
	for i, idx := range ls.searchMatches {
		style := match
		if i == ls.searchMatchIdx {
			style = active
		}
		out[idx] = style.Render(ansi.Strip(out[idx]))
	}
	return out
}

// renderLogs renders the log box and the status bar below it.
func (m Model) renderLogs() string {
	height := max(m.height-m.chromeHeight(), 2)
	box := m.renderBox(m.logTitle(), m.logViewport.View(), m.width, height)
	return box + "\n" + m.renderLogStatus()
}

// logTitle returns the plain text title for the log box.
func (m Model) logTitle() string {
	p := m.status.Params
	title := fmt.Sprintf("%s %s", p.Task, p.Values().Get("type"))
	if m.status.Pointer == logtail.PointerHead {
		title += " (head)"
	}
	return strings.TrimSpace(title)
}

// renderLogStatus renders the status bar.
func (m Model) renderLogStatus() string {
	bg := NewBgStyle(m.theme.Surface)
	styles := m.theme.Styles()
	ls := m.logState

	if ls.searchActive {
		return bg.FillLine(ls.searchInput.View(), m.width)
	}

	if ls.searchRegex != nil && len(ls.searchMatches) > 0 {
		line := bg.Render("/"+ls.searchQuery, styles.AccentText) +
			bg.Render(" - ", styles.FaintText) +
			bg.Render(fmt.Sprintf("%d/%d", ls.searchMatchIdx+1, len(ls.searchMatches)), styles.WarningText) +
			bg.Render(" - Press ", styles.FaintText) +
			bg.Render("n", styles.AccentText) +
			bg.Render(" for next, ", styles.FaintText) +
			bg.Render("N", styles.AccentText) +
			bg.Render(" for previous, ", styles.FaintText) +
			bg.Render("Esc", styles.AccentText) +
			bg.Render(" to clear", styles.FaintText)
		return bg.FillLine(line, m.width)
	}
	if ls.searchRegex != nil {
		return bg.FillLine(bg.Render("Pattern not found: "+ls.searchQuery, styles.DangerText), m.width)
	}

	var parts []string
	if msg := m.status.Message(); msg != "" {
		parts = append(parts, bg.Render(msg, m.messageStyle(styles)))
	} else if m.status.Err != nil {
		parts = append(parts, bg.Render(truncate(m.status.Err.Error(), m.width/2), styles.DangerText))
	}
	summary := fmt.Sprintf("%d lines  follow %s  wrap %s",
		len(ls.lines), ternary(ls.follow, "on", "off"), ternary(m.wrap, "on", "off"))
	parts = append(parts, bg.Render(summary, styles.FaintText))
	if m.status.Offset > 0 {
		parts = append(parts, bg.Render(fmt.Sprintf("offset %d", m.status.Offset), styles.FaintText))
	}
	return bg.FillLine(bg.Join(parts, "  "), m.width)
}

func (m Model) messageStyle(styles Styles) lipgloss.Style {
	switch m.status.State {
	case tasklog.StateNoConnection, tasklog.StateLogsDisabled:
		return styles.DangerText
	case tasklog.StateFetchingHead, tasklog.StateFetchingTail:
		return styles.WarningText
	case tasklog.StateStreaming:
		return styles.SuccessText
	default:
		return styles.MutedText
	}
}

// handleLogsKey processes keyboard input for the log view.
func (m Model) handleLogsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.ToggleStream):
		if m.ctrl == nil {
			return m, nil
		}
		if m.ctrl.Status().State == tasklog.StateStreaming {
			return m, m.action(actionStop)
		}
		m.logState.follow = true
		m.logViewport.GotoBottom()
		return m, m.action(actionStream)

	case key.Matches(msg, m.keys.Head):
		if m.ctrl == nil {
			return m, nil
		}
		m.logState.follow = false
		return m, m.action(actionHead)

	case key.Matches(msg, m.keys.Tail):
		if m.ctrl == nil {
			return m, nil
		}
		m.logState.follow = true
		return m, m.action(actionTail)

	case key.Matches(msg, m.keys.ToggleType):
		if m.ctrl == nil {
			return m, nil
		}
		p := m.ctrl.Status().Params
		p.Type = ternary(p.Values().Get("type") == "stdout", "stderr", "stdout")
		m.savePrefs(func(pr *prefs.Prefs) { pr.LogType = p.Type })
		m.log.WithField("type", p.Type).Debug("switching log type")
		m.logState.follow = true
		return m, m.switchTo(p)

	case key.Matches(msg, m.keys.NextTask):
		if m.ctrl == nil || len(m.tasks) < 2 {
			return m, nil
		}
		p := m.ctrl.Status().Params
		i := slices.Index(m.tasks, p.Task)
		p.Task = m.tasks[(i+1)%len(m.tasks)]
		m.log.WithField("task", p.Task).Debug("switching task")
		m.logState.follow = true
		return m, m.switchTo(p)

	case key.Matches(msg, m.keys.Search):
		m.logState.searchActive = true
		m.logState.searchInput.SetValue("")
		return m, m.logState.searchInput.Focus()

	case key.Matches(msg, m.keys.NextMatch):
		m.nextSearchMatch()
		return m, nil

	case key.Matches(msg, m.keys.PrevMatch):
		m.previousSearchMatch()
		return m, nil

	case key.Matches(msg, m.keys.Escape):
		if m.logState.searchRegex != nil {
			m.clearSearch()
			m.relayout()
		}
		return m, nil

	case key.Matches(msg, m.keys.Top):
		m.logViewport.GotoTop()
		m.logState.follow = false
		return m, nil

	case key.Matches(msg, m.keys.Bottom):
		m.logViewport.GotoBottom()
		m.logState.follow = true
		return m, nil

	case key.Matches(msg, m.keys.Down):
		m.logViewport.ScrollDown(1)
		m.logState.follow = m.logViewport.AtBottom()
		return m, nil

	case key.Matches(msg, m.keys.Up):
		m.logViewport.ScrollUp(1)
		m.logState.follow = false
		return m, nil

	case key.Matches(msg, m.keys.HalfPageDown):
		m.logViewport.HalfPageDown()
		m.logState.follow = m.logViewport.AtBottom()
		return m, nil

	case key.Matches(msg, m.keys.HalfPageUp):
		m.logViewport.HalfPageUp()
		m.logState.follow = false
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.logViewport.PageDown()
		m.logState.follow = m.logViewport.AtBottom()
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		m.logViewport.PageUp()
		m.logState.follow = false
		return m, nil
	}

	return m, nil
}

// handleSearchInput handles keyboard input while typing a search.
func (m Model) handleSearchInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Confirm):
		query := m.logState.searchInput.Value()
		if query == "" {
			m.logState.searchActive = false
			m.logState.searchInput.Blur()
			return m, nil
		}

		re, err := regexp.Compile("(?i)" + query)
		if err != nil {
			// Invalid pattern, keep editing.
			return m, nil
		}

		m.logState.searchRegex = re
		m.logState.searchQuery = query
		m.logState.searchMatchIdx = 0
		m.logState.searchActive = false
		m.logState.searchInput.Blur()

		m.findSearchMatches()
		m.relayout()
		if len(m.logState.searchMatches) > 0 {
			m.scrollToSearchMatch()
		}
		return m, nil

	case key.Matches(msg, m.keys.Escape):
		m.logState.searchActive = false
		m.logState.searchInput.Blur()
		m.logState.searchInput.SetValue("")
		return m, nil
	}

	var cmd tea.Cmd
	m.logState.searchInput, cmd = m.logState.searchInput.Update(msg)
	return m, cmd
}

func (m *Model) clearSearch() {
	m.logState.searchRegex = nil
	m.logState.searchQuery = ""
	m.logState.searchMatches = nil
	m.logState.searchMatchIdx = 0
}

// findSearchMatches finds all lines matching the current search regex. The
// active match index is clamped so new output does not reset it.
func (m *Model) findSearchMatches() {
	ls := &m.logState
	ls.searchMatches = nil
	if ls.searchRegex == nil {
		return
	}
	for i, line := range ls.lines {
		if ls.searchRegex.MatchString(ansi.Strip(line)) {
			ls.searchMatches = append(ls.searchMatches, i)
		}
	}
	if ls.searchMatchIdx >= len(ls.searchMatches) {
		ls.searchMatchIdx = 0
	}
}

func (m *Model) nextSearchMatch() {
	n := len(m.logState.searchMatches)
	if n == 0 {
		return
	}
	m.logState.searchMatchIdx = (m.logState.searchMatchIdx + 1) % n
	m.relayout()
	m.scrollToSearchMatch()
}

func (m *Model) previousSearchMatch() {
	n := len(m.logState.searchMatches)
	if n == 0 {
		return
	}
	m.logState.searchMatchIdx = (m.logState.searchMatchIdx - 1 + n) % n
	m.relayout()
	m.scrollToSearchMatch()
}

// scrollToSearchMatch centers the current match when possible.
func (m *Model) scrollToSearchMatch() {
	ls := &m.logState
	if ls.searchMatchIdx >= len(ls.searchMatches) {
		return
	}
	line := ls.searchMatches[ls.searchMatchIdx]
	if line >= len(ls.starts) {
		return
	}
	ls.follow = false
	m.logViewport.SetYOffset(max(ls.starts[line]-m.logViewport.Height/2, 0))
}
