package ui

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// sanitize keeps the colors of task output but drops every escape sequence
// that could move the cursor, retitle the terminal or clear the screen. Bare
// carriage returns and other control characters are removed as well.
func sanitize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	var state byte
	for len(text) > 0 {
		// A nil parser: params are not collected, so no sequence length limit.
		seq, width, n, newState := ansi.DecodeSequence(text, state, nil)
		if n <= 0 {
			n = 1
			seq = text[:1]
		}
		state = newState
		text = text[n:]
		if state != ansi.NormalState {
			// unterminated sequence at the end of the text
			continue
		}
		if keepSequence(seq, width) {
			b.WriteString(seq)
		}
	}
	return b.String()
}

func keepSequence(seq string, width int) bool {
	switch {
	case width > 0:
		return true
	case seq == "\n", seq == "\t":
		return true
	case ansi.HasCsiPrefix(seq):
		return isSGR(seq)
	}
	// zero-width graphemes such as combining marks
	return len(seq) > 1 && seq[0] >= 0xc0
}

// isSGR reports whether a CSI sequence sets colors or text attributes.
func isSGR(seq string) bool {
	params, ok := strings.CutPrefix(seq, "\x1b[")
	if !ok {
		params = strings.TrimPrefix(seq, "\x9b")
	}
	params, ok = strings.CutSuffix(params, "m")
	if !ok {
		return false
	}
	return strings.Trim(params, "0123456789;:") == ""
}

// splitLines sanitizes text and splits it into display lines. A trailing
// newline does not produce an empty last line.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.TrimSuffix(sanitize(text), "\n")
	return strings.Split(strings.ReplaceAll(text, "\t", "    "), "\n")
}

// layoutLines fits lines to width, soft-wrapping or truncating. It also
// returns, for each input line, the index of its first output row.
func layoutLines(lines []string, width int, wrap bool) ([]string, []int) {
	starts := make([]int, len(lines))
	if width <= 0 {
		for i := range lines {
			starts[i] = i
		}
		return lines, starts
	}
	out := make([]string, 0, len(lines))
	for i, line := range lines {
		starts[i] = len(out)
		if !wrap {
			out = append(out, ansi.Truncate(line, width, "…"))
			continue
		}
		if ansi.StringWidth(line) <= width {
			out = append(out, line)
			continue
		}
		out = append(out, strings.Split(ansi.Wrap(line, width, ""), "\n")...)
	}
	return out, starts
}
