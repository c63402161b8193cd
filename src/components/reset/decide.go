package reset

import (
	"log"
	"time"
)

const (
	// Weekly boundary anchor: Sunday at noon guild-local time. Star
	// selection runs an hour earlier so it reads the week being closed.
	WeeklyResetDay  = time.Sunday
	WeeklyResetHour = 12
	StarSelectHour  = 11

	weeklyCatchAll  = 7 * 24 * time.Hour
	weeklyEarliest  = 6*24*time.Hour + 12*time.Hour
	dailyCatchAll   = 24 * time.Hour
	monthlyCatchAll = 32 * 24 * time.Hour
	starEarliest    = 6 * 24 * time.Hour
)

// LoadLocation resolves an IANA timezone, falling back to UTC with a
// warning on anything unrecognized.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("reset: invalid timezone %q, using UTC", name)
		return time.UTC
	}
	return loc
}

// dailyDue reports whether a daily reset should fire. The boundary window
// is local midnight to 01:00; the persisted last-reset date differing from
// today's local date keeps it to once per day. A full elapsed day is the
// catch-all for processes that slept through every window tick.
func dailyDue(now, last time.Time, loc *time.Location) bool {
	if now.Sub(last) >= dailyCatchAll {
		return true
	}
	localNow := now.In(loc)
	if localNow.Hour() != 0 {
		return false
	}
	ny, nm, nd := localNow.Date()
	ly, lm, ld := last.In(loc).Date()
	return ny != ly || nm != lm || nd != ld
}

// weeklyDue reports whether a weekly reset should fire: unconditionally
// after a full week, or after 6.5 days once the Sunday-noon anchor is
// reached, or on Monday as the safety net for a missed Sunday window.
func weeklyDue(now, last time.Time, loc *time.Location) bool {
	elapsed := now.Sub(last)
	if elapsed >= weeklyCatchAll {
		return true
	}
	if elapsed < weeklyEarliest {
		return false
	}
	localNow := now.In(loc)
	if localNow.Weekday() == WeeklyResetDay && localNow.Hour() >= WeeklyResetHour {
		return true
	}
	return localNow.Weekday() == time.Monday
}

// monthlyDue reports whether a monthly reset should fire: the local
// month/year differs from the last reset's in local time. Comparing
// calendar months instead of a clock window means a process asleep
// through the day-1 midnight boundary fires on its next tick rather
// than days late. 32-day catch-all guards against broken state rows.
func monthlyDue(now, last time.Time, loc *time.Location) bool {
	if now.Sub(last) >= monthlyCatchAll {
		return true
	}
	localNow := now.In(loc)
	localLast := last.In(loc)
	return localNow.Month() != localLast.Month() || localNow.Year() != localLast.Year()
}

// starDue reports whether star-of-the-week selection should run: at least
// six days since the previous award and the Sunday pre-reset hour reached,
// with the same overdue catch-alls as the weekly reset.
func starDue(now, last time.Time, loc *time.Location) bool {
	elapsed := now.Sub(last)
	if elapsed >= weeklyCatchAll {
		return true
	}
	if elapsed < starEarliest {
		return false
	}
	localNow := now.In(loc)
	if localNow.Weekday() == WeeklyResetDay && localNow.Hour() >= StarSelectHour {
		return true
	}
	return localNow.Weekday() == time.Monday
}
