package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// PlanResolver maps an owner to a billing plan name.
type PlanResolver interface {
	ResolvePlan(ctx context.Context, ownerID int64) string
}

// PlanResolverFunc adapts a function to PlanResolver.
type PlanResolverFunc func(ctx context.Context, ownerID int64) string

func (f PlanResolverFunc) ResolvePlan(ctx context.Context, ownerID int64) string {
	return f(ctx, ownerID)
}

// Decision is the result of one admission check.
type Decision struct {
	Allowed     bool
	MinuteCount int64
	MinuteLimit int
	DayCount    int64
	DayLimit    int
}

// GateConfig configures a Gate.
type GateConfig struct {
	Counters Counters
	Plans    PlanResolver
	// RPM and RPD map plan names to limits; unknown plans fall back to
	// the "free" entry.
	RPM map[string]int
	RPD map[string]int
	// AdminIDs bypass counting entirely.
	AdminIDs []int64
	// KeyPrefix namespaces counter keys (default "rl").
	KeyPrefix string
	Now       func() time.Time
	Logger    *slog.Logger
}

// Gate is the admission control wrapping every inbound request.
type Gate struct {
	counters Counters
	plans    PlanResolver
	rpm      map[string]int
	rpd      map[string]int
	admins   map[int64]struct{}
	prefix   string
	now      func() time.Time
	logger   *slog.Logger
}

const (
	fallbackRPM = 20
	fallbackRPD = 500
)

// NewGate creates a Gate, applying defaults for unset fields.
func NewGate(cfg GateConfig) *Gate {
	if cfg.Counters == nil {
		cfg.Counters = NewMemoryCounters()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	admins := make(map[int64]struct{}, len(cfg.AdminIDs))
	for _, id := range cfg.AdminIDs {
		admins[id] = struct{}{}
	}
	return &Gate{
		counters: cfg.Counters,
		plans:    cfg.Plans,
		rpm:      cfg.RPM,
		rpd:      cfg.RPD,
		admins:   admins,
		prefix:   cfg.KeyPrefix,
		now:      cfg.Now,
		logger:   cfg.Logger.With("component", "ratelimit"),
	}
}

// Admit counts one inbound request for ownerID against its minute and day
// windows and reports whether it may proceed. Both counters are always
// incremented, so a refused request still counts against its windows.
func (g *Gate) Admit(ctx context.Context, ownerID int64) (Decision, error) {
	if _, ok := g.admins[ownerID]; ok {
		return Decision{Allowed: true}, nil
	}

	plan := "free"
	if g.plans != nil {
		plan = g.plans.ResolvePlan(ctx, ownerID)
	}
	rpm := limitFor(g.rpm, plan, fallbackRPM)
	rpd := limitFor(g.rpd, plan, fallbackRPD)

	now := g.now().UTC()
	minuteKey := fmt.Sprintf("%s:%d:m:%s", g.prefix, ownerID, now.Format("200601021504"))
	dayKey := fmt.Sprintf("%s:%d:d:%s", g.prefix, ownerID, now.Format("20060102"))

	minuteCount, err := g.counters.IncrWithTTL(ctx, minuteKey, time.Minute)
	if err != nil {
		return Decision{}, err
	}
	dayCount, err := g.counters.IncrWithTTL(ctx, dayKey, untilMidnightUTC(now))
	if err != nil {
		return Decision{}, err
	}

	d := Decision{
		Allowed:     minuteCount <= int64(rpm) && dayCount <= int64(rpd),
		MinuteCount: minuteCount,
		MinuteLimit: rpm,
		DayCount:    dayCount,
		DayLimit:    rpd,
	}
	if !d.Allowed {
		g.logger.Info("request rate limited",
			"owner_id", ownerID,
			"plan", plan,
			"minute", fmt.Sprintf("%d/%d", minuteCount, rpm),
			"day", fmt.Sprintf("%d/%d", dayCount, rpd))
	}
	return d, nil
}

func limitFor(m map[string]int, plan string, fallback int) int {
	if v, ok := m[plan]; ok {
		return v
	}
	if v, ok := m["free"]; ok {
		return v
	}
	return fallback
}

// untilMidnightUTC returns the remaining life of today's day bucket.
func untilMidnightUTC(now time.Time) time.Duration {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return midnight.Sub(now)
}

// RefusalMessage renders the user-facing refusal for a decision.
func RefusalMessage(d Decision) string {
	return fmt.Sprintf(
		"⛔️ Превышен лимит запросов.\n\nМинутный лимит: %d, сегодня: %d/%d.\nПопробуйте позже или обновите тариф в «Настройках».",
		d.MinuteLimit, d.DayCount, d.DayLimit)
}
