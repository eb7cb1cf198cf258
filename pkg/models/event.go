package models

// EventTime is one bound of a calendar event. Timed events carry DateTime
// (RFC 3339), all-day events carry Date (YYYY-MM-DD); exactly one is set.
type EventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// IsZero reports whether neither bound representation is set.
func (t EventTime) IsZero() bool {
	return t.DateTime == "" && t.Date == ""
}

// Event is a calendar item as returned by the calendar collaborator.
type Event struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary,omitempty"`
	Start       EventTime `json:"start"`
	End         EventTime `json:"end"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	HTMLLink    string    `json:"htmlLink,omitempty"`
}
