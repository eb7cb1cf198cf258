package models

// IntentAction is the structured command the assistant may embed in a reply.
type IntentAction string

const (
	ActionNone   IntentAction = "none"
	ActionList   IntentAction = "list"
	ActionCreate IntentAction = "create"
	ActionUpdate IntentAction = "update"
	ActionDelete IntentAction = "delete"
)

// Known reports whether the action is one this system executes.
func (a IntentAction) Known() bool {
	switch a {
	case ActionNone, ActionList, ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Mutating reports whether the action requires explicit user confirmation.
func (a IntentAction) Mutating() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

// Intent is the calendar plan extracted from free-form assistant output.
// Every field other than Action is best-effort: the extractor tolerates
// missing or malformed sections and the consumers treat them as absent.
type Intent struct {
	Action            IntentAction `json:"action"`
	NeedsConfirmation bool         `json:"needs_confirmation,omitempty"`
	MissingFields     []string     `json:"missing_fields,omitempty"`
	Range             *TimeRange   `json:"range,omitempty"`
	Event             *EventDraft  `json:"event,omitempty"`
	Match             *MatchSpec   `json:"match,omitempty"`
	Patch             *PatchSpec   `json:"patch,omitempty"`
}

// TimeRange is an explicit ISO-8601 window for list queries.
type TimeRange struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// EventDraft is the payload of a create intent.
type EventDraft struct {
	Summary     string  `json:"summary,omitempty"`
	Start       string  `json:"start,omitempty"`
	End         string  `json:"end,omitempty"`
	Location    *string `json:"location,omitempty"`
	Description *string `json:"description,omitempty"`
}

// MatchSpec narrows update/delete intents to concrete calendar items.
type MatchSpec struct {
	Strategy  string `json:"strategy,omitempty"`
	RangeDays int    `json:"range_days,omitempty"`
	Query     string `json:"query,omitempty"`
}

// PatchSpec is the payload of an update intent. ShiftMinutes moves both
// bounds relative to the matched event; absolute Start/End take precedence.
type PatchSpec struct {
	Start        string   `json:"start,omitempty"`
	End          string   `json:"end,omitempty"`
	ShiftMinutes *float64 `json:"shift_minutes,omitempty"`
	Summary      *string  `json:"summary,omitempty"`
	Location     *string  `json:"location,omitempty"`
	Description  *string  `json:"description,omitempty"`
}
