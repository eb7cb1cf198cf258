// Package intent recovers a structured calendar command from free-form
// assistant output. Extraction is best-effort: a missing, malformed, or
// unrecognized plan block degrades to "no intent", never to an error.
package intent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/san4s204/AI-ASSISTANT-main/pkg/models"
)

var planRe = regexp.MustCompile(`(?s)<calendar_plan>\s*(\{.*?\})\s*</calendar_plan>`)

// Extract splits an assistant reply into the user-visible text and the
// embedded calendar plan, if any. When several plan blocks are present the
// last one wins. The block is always stripped from the returned text, even
// when its JSON does not parse.
func Extract(raw string) (string, *models.Intent) {
	matches := planRe.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		return strings.TrimSpace(raw), nil
	}
	last := matches[len(matches)-1]
	cleaned := strings.TrimSpace(raw[:last[0]] + raw[last[1]:])

	var in models.Intent
	if err := json.Unmarshal([]byte(raw[last[2]:last[3]]), &in); err != nil {
		return cleaned, nil
	}
	if !in.Action.Known() || in.Action == models.ActionNone {
		return cleaned, nil
	}
	return cleaned, &in
}

// SystemPrompt returns the instruction appended to the assistant's system
// prompt so it emits a machine-readable plan block alongside its reply.
func SystemPrompt(loc *time.Location, now time.Time) string {
	return fmt.Sprintf(`Дополнение: ты должен определить, требуется ли действие с календарём.
В конце ответа ОБЯЗАТЕЛЬНО добавь блок:

<calendar_plan>{JSON}</calendar_plan>

JSON строго валидный (без комментариев). Схема:
{
  "action": "none" | "list" | "create" | "update" | "delete",
  "needs_confirmation": true|false,
  "missing_fields": [строки],
  "range": {"start": "...", "end": "..."},
  "event": {"summary": "...", "start": "...", "end": "...", "location": null, "description": null},
  "match": {"strategy": "nearest", "range_days": 14, "query": "токены|поиска"},
  "patch": {"start": "...", "end": "...", "shift_minutes": 60, "summary": "...", "location": "...", "description": "..."}
}

Правила:
- Если пользователь не просит показать/создать/перенести/удалить запись — action="none".
- Для create/update/delete: needs_confirmation=true.
- Времена указывай ISO-8601 с таймзоной %s. Сейчас: %s.
- Если пользователь говорит "на час позже/раньше" — используй patch.shift_minutes (60 или -60).
- Если не хватает данных — заполни missing_fields и НЕ выдумывай.`,
		loc.String(), now.In(loc).Format(time.RFC3339))
}
