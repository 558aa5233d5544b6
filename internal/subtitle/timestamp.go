package subtitle

import (
	"fmt"
	"math"
	"strings"
)

// FormatTimestamp renders seconds as an SRT timecode, HH:MM:SS,mmm. Hours
// are not wrapped at 24. Negative and non-finite values render as zero.
// Values are rounded to the nearest millisecond, not truncated.
func FormatTimestamp(seconds float64) string {
	return formatTimestamp(seconds, ',')
}

func formatTimestamp(seconds float64, sep byte) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		seconds = 0
	}
	totalMs := int64(math.Round(seconds * 1000))
	h := totalMs / 3600000
	totalMs %= 3600000
	m := totalMs / 60000
	totalMs %= 60000
	s := totalMs / 1000
	ms := totalMs % 1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, ms)
}

// parseTimestamp accepts HH:MM:SS,mmm or HH:MM:SS.mmm.
func parseTimestamp(ts string) float64 {
	ts = strings.Replace(ts, ",", ".", 1)
	var h, m, s, ms int
	fmt.Sscanf(ts, "%d:%d:%d.%d", &h, &m, &s, &ms)
	return float64(h*3600+m*60+s) + float64(ms)/1000.0
}
