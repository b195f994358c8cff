package util

import "fmt"

// FormatBitsPerSecond formats bits per second with appropriate units
func FormatBitsPerSecond(bps float64) string {
	return formatWithUnits(bps, []string{"bps", "Kbps", "Mbps", "Gbps", "Tbps"}, 1000)
}

// FormatBytes formats byte counts with appropriate units
func FormatBytes(bytes float64) string {
	return formatWithUnits(bytes, []string{"B", "KB", "MB", "GB", "TB"}, 1000)
}

// FormatMillis renders a millisecond value the way RTT columns are printed.
func FormatMillis(ms float64) string {
	if ms < 0 {
		return "0.000 ms"
	}
	if ms >= 1000 {
		return fmt.Sprintf("%.2f s", ms/1000)
	}
	return fmt.Sprintf("%.3f ms", ms)
}

func formatWithUnits(value float64, units []string, base float64) string {
	if value < 0 {
		return "0"
	}
	idx := 0
	for value >= base && idx < len(units)-1 {
		value /= base
		idx++
	}
	switch {
	case value >= 100:
		return fmt.Sprintf("%.0f %s", value, units[idx])
	case value >= 10:
		return fmt.Sprintf("%.1f %s", value, units[idx])
	default:
		return fmt.Sprintf("%.2f %s", value, units[idx])
	}
}
