package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/five82/alloclog/internal/stats"
	"github.com/five82/alloclog/internal/tasklog"
)

// renderHeader renders the top line: allocation, task and controller state.
func (m Model) renderHeader() string {
	bg := NewBgStyle(m.theme.Surface)
	styles := m.theme.Styles()
	compact := m.width < LayoutCompactWidth

	alloc := m.alloc
	if m.snapshot.HasAllocation {
		alloc = m.snapshot.Allocation
	}

	parts := []string{
		bg.Render("alloclog", styles.Logo),
		bg.Render(alloc.ShortID(), styles.AccentText),
	}
	if !compact && alloc.Name != "" {
		parts = append(parts, bg.Render(truncate(alloc.Name, 40), styles.Text))
	}
	if alloc.ClientStatus != "" {
		parts = append(parts, bg.Render(alloc.ClientStatus, clientStatusStyle(alloc.ClientStatus, styles)))
	}

	st := m.status
	parts = append(parts,
		bg.Render(st.Params.Task+":"+st.Params.Values().Get("type"), styles.Text),
		styles.StateStyle(st.State.String()).Render(st.State.String()),
	)
	if st.Transport == tasklog.TransportServer {
		parts = append(parts, bg.Render("via server", styles.WarningText))
	} else if !compact {
		parts = append(parts, bg.Render("via client", styles.MutedText))
	}
	if !compact {
		parts = append(parts, bg.Render(st.Kind.String(), styles.MutedText))
	}
	if m.snapshot.IsOffline() {
		parts = append(parts, bg.Render("offline", styles.DangerText))
	}

	return bg.FillLine(bg.Join(parts, "  "), m.width)
}

func clientStatusStyle(status string, styles Styles) lipgloss.Style {
	switch status {
	case "running":
		return styles.SuccessText
	case "pending":
		return styles.WarningText
	case "failed", "lost":
		return styles.DangerText
	default:
		return styles.MutedText
	}
}

// renderUsage renders CPU and memory figures with their sparklines.
func (m Model) renderUsage() string {
	bg := NewBgStyle(m.theme.Surface)
	styles := m.theme.Styles()

	tracker, ok := m.stats.Lookup(m.alloc.ID)
	if !ok {
		return bg.FillLine(bg.Render("waiting for usage stats", styles.FaintText), m.width)
	}
	cpu, mem, ok := tracker.Latest()
	if !ok {
		return bg.FillLine(bg.Render("waiting for usage stats", styles.FaintText), m.width)
	}
	cpuMHz, memMB := tracker.Reserved()

	spark := styles.AccentText
	if m.theme.Spark != "" {
		spark = spark.Foreground(lipgloss.Color(m.theme.Spark))
	}

	parts := []string{
		bg.Render("cpu", styles.MutedText),
		bg.Render(stats.FormatHertz(cpu.Used), styles.Text),
	}
	if cpuMHz > 0 {
		parts = append(parts, bg.Render(stats.FormatPercent(cpu.Percent), styles.Text))
	}
	parts = append(parts, bg.Render(usageSparkline(tracker.CPU(), cpuMHz > 0), spark))

	parts = append(parts,
		bg.Render("mem", styles.MutedText),
		bg.Render(stats.FormatBytes(mem.Used), styles.Text),
	)
	if memMB > 0 {
		parts = append(parts, bg.Render(stats.FormatPercent(mem.Percent), styles.Text))
	}
	parts = append(parts, bg.Render(usageSparkline(tracker.Memory(), memMB > 0), spark))

	return bg.FillLine(bg.Join(parts, " "), m.width)
}

// usageSparkline draws a series against its reservation when there is one,
// otherwise against its own peak.
func usageSparkline(series []stats.Sample, reserved bool) string {
	values := make([]float64, len(series))
	for i, s := range series {
		if reserved {
			values[i] = s.Percent
		} else {
			values[i] = s.Used
		}
	}
	ceiling := 0.0
	if reserved {
		ceiling = 1
	}
	return renderSparkline(values, SparkWidth, ceiling)
}

// renderCommandBar lists the main key bindings.
func (m Model) renderCommandBar() string {
	bg := NewBgStyle(m.theme.Background)
	styles := m.theme.Styles()

	bindings := m.keys.ShortHelp()
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		parts = append(parts, bg.Render("<"+h.Key+">", styles.AccentText)+bg.Render(" "+strings.ToLower(h.Desc), styles.MutedText))
	}
	return bg.FillLine(bg.Join(parts, "  "), m.width)
}
