package policy

import (
	"time"

	"github.com/alanyoungcy/tradewatch/internal/domain"
)

// InQuietHours reports whether now falls inside the quiet window. A window
// whose start is after its end wraps midnight; equal bounds mean an empty
// window. With legacy set, the check is the plain string comparison
// now >= start || now <= end used by earlier releases.
func InQuietHours(qh domain.QuietHours, now time.Time, legacy bool) bool {
	if !qh.Enabled {
		return false
	}
	if legacy {
		cur := now.Format("15:04")
		return cur >= qh.Start || cur <= qh.End
	}

	start, err := domain.ParseClock(qh.Start)
	if err != nil {
		return false
	}
	end, err := domain.ParseClock(qh.End)
	if err != nil {
		return false
	}

	m := now.Hour()*60 + now.Minute()
	switch {
	case start == end:
		return false
	case start < end:
		return m >= start && m < end
	default:
		return m >= start || m < end
	}
}

// IsWeekend reports whether now is a Saturday or Sunday.
func IsWeekend(now time.Time) bool {
	d := now.Weekday()
	return d == time.Saturday || d == time.Sunday
}
