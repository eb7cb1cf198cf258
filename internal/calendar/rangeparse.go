package calendar

import (
	"strings"
	"time"
)

// ParseRangeRU resolves a Russian free-text request to a concrete time
// window in the given location. It recognizes "сегодня", "завтра",
// "выходные" and "неделя" stems; anything else falls back to the next 24
// hours. The label is the human-readable name of the window.
func ParseRangeRU(text string, loc *time.Location, now time.Time) (time.Time, time.Time, string) {
	s := strings.ToLower(text)
	now = now.In(loc)

	dayStart := func(d time.Time) time.Time {
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	}

	switch {
	case strings.Contains(s, "сегодня"):
		a := dayStart(now)
		return a, a.AddDate(0, 0, 1), "сегодня"
	case strings.Contains(s, "завтр"):
		a := dayStart(now.AddDate(0, 0, 1))
		return a, a.AddDate(0, 0, 1), "завтра"
	case strings.Contains(s, "выходн"):
		// days until Saturday, Monday-based week
		daysToSat := (6 - int(now.Weekday())) % 7
		a := dayStart(now.AddDate(0, 0, daysToSat))
		return a, a.AddDate(0, 0, 2), "на выходных"
	case strings.Contains(s, "недел"):
		return now, now.AddDate(0, 0, 7), "на неделю"
	}
	return now, now.AddDate(0, 0, 1), "на сутки"
}
