package calendar

import (
	"fmt"
	"html"
	"strings"

	"github.com/san4s204/AI-ASSISTANT-main/pkg/models"
)

const maxRenderedEvents = 20

// FormatEvents renders an event list as Telegram HTML. All-day events show
// their date span, timed events show localized start/end. Event fields are
// calendar data the owner's customers can influence, so they are escaped
// before interpolation into the HTML parse mode.
func FormatEvents(items []models.Event) string {
	if len(items) == 0 {
		return "Событий не найдено."
	}
	if len(items) > maxRenderedEvents {
		items = items[:maxRenderedEvents]
	}

	blocks := make([]string, 0, len(items))
	for _, ev := range items {
		title := ev.Summary
		if title == "" {
			title = "Без названия"
		}

		var when string
		if ev.Start.Date != "" {
			endDate := ev.End.Date
			if endDate == "" {
				endDate = ev.Start.Date
			}
			when = fmt.Sprintf("%s → %s", ev.Start.Date, endDate)
		} else {
			when = fmt.Sprintf("%s → %s", fmtInstant(ev.Start.DateTime), fmtInstant(ev.End.DateTime))
		}

		block := fmt.Sprintf("• <b>%s</b>\n%s", html.EscapeString(title), when)
		if ev.Location != "" {
			block += "\n" + html.EscapeString(ev.Location)
		}
		if ev.HTMLLink != "" {
			block += "\n" + html.EscapeString(ev.HTMLLink)
		}
		blocks = append(blocks, block)
	}
	return strings.Join(blocks, "\n\n")
}

func fmtInstant(s string) string {
	t := ParseISO(s)
	if t.IsZero() {
		return s
	}
	return t.Format("2006-01-02 15:04")
}
