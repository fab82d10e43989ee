package ui

import "time"

// Terminal width thresholds for responsive layouts.
const (
	// LayoutCompactWidth is the threshold below which the header drops
	// secondary fields.
	LayoutCompactWidth = 100

	// LayoutSparkWidth is the minimum width to draw usage sparklines.
	LayoutSparkWidth = 80
)

// Fixed rows around the log box: header, command bar and status bar.
const chromeRows = 3

const (
	// SparkWidth is the number of cells in a usage sparkline.
	SparkWidth = 20

	// DiagnosticsLines is how many recent log entries the diagnostics
	// overlay shows.
	DiagnosticsLines = 200

	// SearchCharLimit bounds the search input.
	SearchCharLimit = 100
)

// Timing constants.
const (
	// DefaultUIInterval is how often the header re-reads the state store.
	DefaultUIInterval = time.Second
)
