// Package progress parses live subprocess output into typed progress
// events (firmware downloads, git clone percentages, build heartbeats)
// and tracks per-key state with deduplication, the same shape the
// original service's tqdm-log scraping followed.
package progress

import (
	"strconv"
	"strings"
)

// parseByteSize parses a tqdm-style byte count like "3.2MiB" or
// "4.1GB" into an integer byte count, base-2 for *iB units and base-10
// for bare-letter units, matching the source's unit table.
func parseByteSize(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	unitStart := len(s)
	for unitStart > 0 {
		c := s[unitStart-1]
		if (c >= '0' && c <= '9') || c == '.' {
			break
		}
		unitStart--
	}
	numPart := s[:unitStart]
	unitPart := s[unitStart:]

	num, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, false
	}

	mult, ok := unitMultiplier(unitPart)
	if !ok {
		return 0, false
	}
	return int64(num * float64(mult)), true
}

func unitMultiplier(unit string) (int64, bool) {
	binary := strings.HasSuffix(unit, "iB")
	base := unit
	base = strings.TrimSuffix(base, "iB")
	base = strings.TrimSuffix(base, "B")

	var scale int64
	switch strings.ToUpper(base) {
	case "":
		scale = 0
	case "K":
		scale = 1
	case "M":
		scale = 2
	case "G":
		scale = 3
	case "T":
		scale = 4
	case "P":
		scale = 5
	default:
		return 0, false
	}

	step := int64(1000)
	if binary {
		step = 1024
	}
	mult := int64(1)
	for i := int64(0); i < scale; i++ {
		mult *= step
	}
	return mult, true
}
