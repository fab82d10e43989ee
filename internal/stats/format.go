package stats

import (
	"fmt"
	"math"
)

var binaryUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// FormatBytes renders n with binary prefixes, e.g. "1.5 MiB".
func FormatBytes(n float64) string {
	if n < 0 {
		return "-" + FormatBytes(-n)
	}
	i := 0
	for n >= 1024 && i < len(binaryUnits)-1 {
		n /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d %s", int64(math.Round(n)), binaryUnits[i])
	}
	return fmt.Sprintf("%s %s", trim(n), binaryUnits[i])
}

var hertzUnits = []string{"MHz", "GHz", "THz"}

// FormatHertz renders a frequency given in MHz, e.g. "2.4 GHz".
func FormatHertz(mhz float64) string {
	if mhz < 0 {
		return "-" + FormatHertz(-mhz)
	}
	i := 0
	for mhz >= 1000 && i < len(hertzUnits)-1 {
		mhz /= 1000
		i++
	}
	return fmt.Sprintf("%s %s", trim(mhz), hertzUnits[i])
}

// FormatPercent renders a 0..1 ratio as a whole percentage.
func FormatPercent(ratio float64) string {
	return fmt.Sprintf("%d%%", int(math.Round(ratio*100)))
}

// trim keeps at most two decimals and drops trailing zeros.
func trim(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	for s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	return s
}
