package models

import "time"

// PlanTier is the billing plan an owner is on.
type PlanTier string

const (
	PlanFree    PlanTier = "free"
	PlanPremium PlanTier = "premium"
)

// Owner is one end customer of the platform: the billing and quota subject
// that configured a tenant bot.
type Owner struct {
	ID                int64      `json:"id"`
	Username          string     `json:"username,omitempty"`
	BotToken          string     `json:"-"`
	KnowledgeSourceID string     `json:"knowledge_source_id,omitempty"`
	CalendarID        string     `json:"calendar_id,omitempty"`
	Subscription      string     `json:"subscription,omitempty"`
	SubscribedUntil   *time.Time `json:"subscribed_until,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// CollectionID returns the calendar the owner's actions target,
// defaulting to the primary calendar.
func (o *Owner) CollectionID() string {
	if o.CalendarID == "" {
		return "primary"
	}
	return o.CalendarID
}
