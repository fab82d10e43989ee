package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// BgStyle provides helpers for rendering text with consistent background colors.
// This solves lipgloss's limitation where ANSI reset codes between styled segments
// cause gaps in background color. See: https://github.com/charmbracelet/lipgloss/discussions/78
type BgStyle struct {
	bg    lipgloss.Color
	space string // cached styled space
}

// NewBgStyle creates a new background style helper for the given color.
func NewBgStyle(bgColor string) BgStyle {
	bg := lipgloss.Color(bgColor)
	return BgStyle{
		bg:    bg,
		space: lipgloss.NewStyle().Background(bg).Render(" "),
	}
}

// Render renders text with a style, ensuring ALL characters including spaces
// have the background color applied.
func (b BgStyle) Render(text string, style lipgloss.Style) string {
	if text == "" {
		return ""
	}
	wordStyle := style.Background(b.bg)
	if !strings.Contains(text, " ") {
		return wordStyle.Render(text)
	}
	words := strings.Split(text, " ")
	result := make([]string, 0, len(words))
	for _, w := range words {
		if w != "" {
			result = append(result, wordStyle.Render(w))
		} else {
			result = append(result, "")
		}
	}
	return strings.Join(result, b.space)
}

// Join joins already rendered parts with a styled separator.
func (b BgStyle) Join(parts []string, sep string) string {
	return strings.Join(parts, lipgloss.NewStyle().Background(b.bg).Render(sep))
}

// FillLine pads rendered content to fill the specified width with the background color.
func (b BgStyle) FillLine(content string, width int) string {
	if w := ansi.StringWidth(content); w > width {
		content = ansi.Truncate(content, width, "")
	}
	return lipgloss.NewStyle().Background(b.bg).Width(width).Render(content)
}

const sgrReset = "\x1b[0m"

// renderBox draws content inside a rounded border with the title set into
// the top edge. width and height include the border.
func (m Model) renderBox(title, content string, width, height int) string {
	border := lipgloss.RoundedBorder()
	edge := lipgloss.NewStyle().Foreground(lipgloss.Color(m.theme.BorderFocus))
	styles := m.theme.Styles()
	inner := max(width-2, 0)
	rows := max(height-2, 0)

	label := ""
	if title != "" && inner > 3 {
		label = " " + ansi.Truncate(title, inner-3, "…") + " "
	}
	fill := max(inner-1-ansi.StringWidth(label), 0)

	var b strings.Builder
	b.WriteString(edge.Render(border.TopLeft + border.Top))
	b.WriteString(styles.AccentText.Bold(true).Render(label))
	b.WriteString(edge.Render(strings.Repeat(border.Top, fill) + border.TopRight))
	b.WriteString("\n")

	lines := strings.Split(content, "\n")
	for i := range rows {
		line := ""
		if i < len(lines) {
			line = ansi.Truncate(lines[i], inner, "")
		}
		b.WriteString(edge.Render(border.Left))
		b.WriteString(line)
		if strings.Contains(line, "\x1b") {
			b.WriteString(sgrReset)
		}
		b.WriteString(strings.Repeat(" ", max(inner-ansi.StringWidth(line), 0)))
		b.WriteString(edge.Render(border.Right))
		b.WriteString("\n")
	}

	b.WriteString(edge.Render(border.BottomLeft + strings.Repeat(border.Bottom, inner) + border.BottomRight))
	return b.String()
}
