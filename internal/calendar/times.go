package calendar

import (
	"strings"
	"time"

	"github.com/san4s204/AI-ASSISTANT-main/pkg/models"
)

// ParseISO parses an ISO-8601 timestamp as emitted by calendar backends and
// the language model. A trailing "Z" is accepted; bare dates parse to
// midnight. Returns the zero time when the input does not parse.
func ParseISO(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// EventBounds resolves an event's start and end to concrete instants.
// All-day dates and naive timestamps are interpreted in loc. Either bound
// may come back zero when missing or unparseable.
func EventBounds(ev models.Event, loc *time.Location) (time.Time, time.Time) {
	return boundInstant(ev.Start, loc), boundInstant(ev.End, loc)
}

func boundInstant(t models.EventTime, loc *time.Location) time.Time {
	raw := t.DateTime
	if raw == "" {
		raw = t.Date
	}
	if raw == "" {
		return time.Time{}
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed
	}
	if parsed, err := time.ParseInLocation("2006-01-02T15:04:05", raw, loc); err == nil {
		return parsed
	}
	if parsed, err := time.ParseInLocation("2006-01-02", raw, loc); err == nil {
		return parsed
	}
	return time.Time{}
}

// TimedEventTime builds a timed bound in loc.
func TimedEventTime(t time.Time, loc *time.Location) models.EventTime {
	return models.EventTime{
		DateTime: t.In(loc).Format(time.RFC3339),
		TimeZone: loc.String(),
	}
}
