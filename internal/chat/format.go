package chat

import (
	"time"

	"github.com/dustin/go-humanize"
)

// FormatTimestamp renders ts relative to now for conversation lists and bubbles:
// "just now" under a minute, "N minutes ago" under an hour, a clock time under a day
// and a date beyond that. ts is shown in now's location.
func FormatTimestamp(ts, now time.Time) string {
	age := now.Sub(ts)
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return humanize.RelTime(ts, now, "ago", "from now")
	case age < 24*time.Hour:
		return ts.In(now.Location()).Format("15:04")
	default:
		return ts.In(now.Location()).Format("02/01/2006")
	}
}
