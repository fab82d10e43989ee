package ui

import (
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/five82/alloclog/internal/logging"
)

// openDiagnostics loads the recent application log into the overlay.
func (m *Model) openDiagnostics() {
	m.showDiagnostics = true
	var entries []logging.Entry
	if m.ring != nil {
		entries = m.ring.Last(DiagnosticsLines)
	}
	m.diagViewport.SetContent(m.formatDiagnostics(entries))
	m.diagViewport.GotoBottom()
}

func (m Model) handleDiagnosticsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Diagnostics), key.Matches(msg, m.keys.Escape), key.Matches(msg, m.keys.Quit):
		m.showDiagnostics = false
	case key.Matches(msg, m.keys.Down):
		m.diagViewport.ScrollDown(1)
	case key.Matches(msg, m.keys.Up):
		m.diagViewport.ScrollUp(1)
	case key.Matches(msg, m.keys.PageDown), key.Matches(msg, m.keys.HalfPageDown):
		m.diagViewport.HalfPageDown()
	case key.Matches(msg, m.keys.PageUp), key.Matches(msg, m.keys.HalfPageUp):
		m.diagViewport.HalfPageUp()
	}
	return m, nil
}

// formatDiagnostics renders entries one per line: time, level, message and
// sorted fields.
func (m Model) formatDiagnostics(entries []logging.Entry) string {
	styles := m.theme.Styles()
	if len(entries) == 0 {
		return styles.FaintText.Render("no log entries yet")
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		var b strings.Builder
		b.WriteString(styles.FaintText.Render(e.Time.Format("15:04:05")))
		b.WriteString(" ")
		b.WriteString(levelStyle(e.Level, styles).Render(padRight(strings.ToUpper(e.Level), 5)))
		b.WriteString(" ")
		b.WriteString(styles.Text.Render(e.Message))
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(" ")
			b.WriteString(styles.MutedText.Render(k + "=" + e.Fields[k]))
		}
		lines = append(lines, b.String())
	}
	return strings.Join(lines, "\n")
}

func levelStyle(level string, styles Styles) lipgloss.Style {
	switch strings.ToLower(level) {
	case "error", "fatal", "panic":
		return styles.DangerText
	case "warning", "warn":
		return styles.WarningText
	case "debug", "trace":
		return styles.FaintText
	default:
		return styles.InfoText
	}
}

// renderDiagnostics renders the overlay full screen.
func (m Model) renderDiagnostics() string {
	title := "Diagnostics"
	if m.ring != nil {
		title += " (" + strconv.Itoa(m.ring.Len()) + " entries)"
	}
	box := m.renderBox(title, m.diagViewport.View(), m.width-2, m.height-2)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}
