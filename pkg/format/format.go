// Package format renders numbers for humans: startup banners, shutdown
// reports and the admin stats payload.
package format

import (
	"fmt"
	"time"
)

func Bytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB", "TB", "PB"}
	return fmt.Sprintf("%.2f %s", float64(n)/float64(div), units[exp])
}

func Duration(d time.Duration) string {
	if d < time.Second {
		return d.String()
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

func Latency(ms int64) string {
	if ms == 0 {
		return "0ms"
	}
	if ms >= 1000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000.0)
	}
	return fmt.Sprintf("%dms", ms)
}

func Percentage(v float64) string {
	if v == 0 {
		return "0%"
	}
	if v == 100.0 {
		return "100%"
	}
	return fmt.Sprintf("%.1f%%", v)
}
