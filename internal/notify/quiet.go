package notify

import (
	"strconv"
	"strings"
	"time"

	"github.com/engels74/comradarr-sub001/internal/model"
)

// InQuietHours reports whether now falls inside the channel's quiet
// window. The window is [start, end): the start minute is quiet, the end
// minute is not. start > end denotes a midnight-spanning range. Invalid
// timezones fall back to UTC; unparseable times disable the window.
func InQuietHours(ch model.NotificationChannel, now time.Time) bool {
	if !ch.QuietHoursEnabled || ch.QuietHoursStart == nil || ch.QuietHoursEnd == nil {
		return false
	}

	start, ok := parseClock(*ch.QuietHoursStart)
	if !ok {
		return false
	}
	end, ok := parseClock(*ch.QuietHoursEnd)
	if !ok {
		return false
	}

	loc, err := time.LoadLocation(ch.QuietHoursTimezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	current := local.Hour()*60 + local.Minute()

	if start <= end {
		return current >= start && current < end
	}
	// Midnight span, e.g. 22:00 to 07:00.
	return current >= start || current < end
}

// parseClock converts "HH:MM" to minutes past midnight.
func parseClock(s string) (int, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
