package tui

import (
	"fmt"
	"time"
)

func formatTime(t time.Time, now time.Time) string {
	t = t.Local()
	if t.Before(now) {
		return t.Format("Jan 02 15:04")
	}

	diff := t.Sub(now)
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("in %ds", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("in %dm", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("in %dh %dm", int(diff.Hours()), int(diff.Minutes())%60)
	}
	return t.Format("Jan 02 15:04")
}

// formatOptionalTime renders t, or "-" when it is unset or not meaningful
func formatOptionalTime(t *time.Time, show bool) string {
	if t == nil || !show {
		return "-"
	}
	return formatTime(*t, time.Now())
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= 3 {
		return string(runes[:max(limit, 0)])
	}
	return string(runes[:limit-3]) + "..."
}
