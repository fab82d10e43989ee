package ui

import "math"

// sparkChars are ordered from lowest to highest.
var sparkChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// renderSparkline draws values as a width-cell bar graph. Values are scaled
// to the larger of their maximum and ceiling, so a quiet series stays low.
// The newest values are right-aligned.
func renderSparkline(values []float64, width int, ceiling float64) string {
	if width <= 0 {
		return ""
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}

	scale := math.Max(findMax(values), ceiling)
	result := make([]rune, 0, width)
	for i := len(values); i < width; i++ {
		result = append(result, ' ')
	}
	for _, v := range values {
		level := 0
		if scale > 0 {
			level = int(math.Round(v / scale * 7))
		}
		level = max(0, min(level, 7))
		result = append(result, sparkChars[level])
	}
	return string(result)
}

func findMax(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	maxVal := values[0]
	for _, v := range values[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	return maxVal
}
