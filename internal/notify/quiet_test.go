package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/engels74/comradarr-sub001/internal/model"
)

func quietChannel(start, end, tz string) model.NotificationChannel {
	return model.NotificationChannel{
		QuietHoursEnabled:  true,
		QuietHoursStart:    &start,
		QuietHoursEnd:      &end,
		QuietHoursTimezone: tz,
	}
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC)
}

func TestInQuietHoursSameDayWindow(t *testing.T) {
	ch := quietChannel("09:00", "17:00", "UTC")

	assert.False(t, InQuietHours(ch, at(8, 59)))
	assert.True(t, InQuietHours(ch, at(9, 0)), "start minute is inside")
	assert.True(t, InQuietHours(ch, at(12, 30)))
	assert.False(t, InQuietHours(ch, at(17, 0)), "end minute is outside")
}

func TestInQuietHoursMidnightSpan(t *testing.T) {
	ch := quietChannel("22:00", "07:00", "UTC")

	assert.True(t, InQuietHours(ch, at(23, 15)))
	assert.True(t, InQuietHours(ch, at(3, 0)))
	assert.True(t, InQuietHours(ch, at(22, 0)))
	assert.False(t, InQuietHours(ch, at(7, 0)))
	assert.False(t, InQuietHours(ch, at(12, 0)))
}

func TestInQuietHoursTimezone(t *testing.T) {
	ch := quietChannel("22:00", "07:00", "America/New_York")

	// 03:00 UTC is 22:00 or 23:00 in New York depending on DST; either
	// way inside the window.
	assert.True(t, InQuietHours(ch, at(3, 0)))
	// 17:00 UTC is mid-day in New York.
	assert.False(t, InQuietHours(ch, at(17, 0)))
}

func TestInQuietHoursInvalidTimezoneFallsBackToUTC(t *testing.T) {
	ch := quietChannel("09:00", "17:00", "Not/AZone")

	assert.True(t, InQuietHours(ch, at(10, 0)))
	assert.False(t, InQuietHours(ch, at(20, 0)))
}

func TestInQuietHoursDisabledOrMalformed(t *testing.T) {
	ch := quietChannel("09:00", "17:00", "UTC")
	ch.QuietHoursEnabled = false
	assert.False(t, InQuietHours(ch, at(10, 0)))

	bad := quietChannel("25:00", "17:00", "UTC")
	assert.False(t, InQuietHours(bad, at(10, 0)), "unparseable start disables the window")

	missing := model.NotificationChannel{QuietHoursEnabled: true}
	assert.False(t, InQuietHours(missing, at(10, 0)))
}
