package confirm

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/san4s204/AI-ASSISTANT-main/internal/calendar"
	"github.com/san4s204/AI-ASSISTANT-main/pkg/models"
)

// Status classifies the result of a confirmation step for the caller that
// must render it to the user.
type Status string

const (
	// StatusOK means the action completed (or, for list, the query ran).
	StatusOK Status = "ok"
	// StatusAwaitingConfirm means a confirmation prompt must be shown.
	StatusAwaitingConfirm Status = "awaiting_confirm"
	// StatusAwaitingPick means a numbered candidate list must be shown.
	StatusAwaitingPick Status = "awaiting_pick"
	// StatusNotFound covers unknown, consumed, and zero-candidate tokens.
	StatusNotFound Status = "not_found"
	// StatusForbidden means the confirmation came from the wrong chat.
	StatusForbidden Status = "forbidden"
	// StatusExpired means the token outlived its TTL.
	StatusExpired Status = "expired"
	// StatusIncompleteData means a create intent lacks required fields.
	StatusIncompleteData Status = "incomplete_data"
	// StatusInvalidSelection means a pick index was out of bounds.
	StatusInvalidSelection Status = "invalid_selection"
	// StatusNothingToChange means an update intent produced an empty patch.
	StatusNothingToChange Status = "nothing_to_change"
	// StatusUnavailable means the calendar collaborator could not be reached.
	StatusUnavailable Status = "unavailable"
)

// Outcome is what a confirmation step produced: a user-facing message plus,
// when a keyboard must be attached, the token and candidate count.
type Outcome struct {
	Status    Status
	Message   string
	Token     string
	PickCount int
}

// User-facing messages, matching the bot's Russian UI.
const (
	msgStale          = "Операция устарела"
	msgWrongChat      = "Недоступно в этом чате"
	msgExpired        = "Истекло время подтверждения"
	msgCancelled      = "Ок, отменено."
	msgConfirmDefault = "Подтвердите действие с календарём."
	msgUnavailable    = "⚠️ Не удалось обратиться к Календарю. Проверьте подключение Google и права Calendar."
	msgNoCandidates   = "Не нашёл подходящее событие. Уточните дату/время/название."
	msgPickPrompt     = "Какое событие выбрать?"
	msgBadPick        = "Неверный выбор"
	msgIncomplete     = "Не хватает данных для записи. Уточните дату/время/услугу."
	msgNothing        = "Не вижу, что именно менять. Уточните новые детали."
	msgCreated        = "✅ Запись создана."
	msgUpdated        = "✅ Событие обновлено."
	msgDeleted        = "✅ Событие удалено."
	msgDeleteFailed   = "⚠️ Не удалось удалить событие."
)

const (
	defaultTTL       = 15 * time.Minute
	defaultMatchDays = 14
	maxCandidates    = 5
)

// FlowConfig configures a Flow.
type FlowConfig struct {
	Store           Store
	Calendar        calendar.Service
	TTL             time.Duration
	DefaultLocation *time.Location
	Now             func() time.Time
	Logger          *slog.Logger
}

// Flow drives pending actions from proposal to execution or abandonment.
type Flow struct {
	store      Store
	cal        calendar.Service
	ttl        time.Duration
	defaultLoc *time.Location
	now        func() time.Time
	logger     *slog.Logger
}

// NewFlow creates a Flow, applying defaults for unset fields.
func NewFlow(cfg FlowConfig) *Flow {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.TTL == 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.DefaultLocation == nil {
		cfg.DefaultLocation = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Flow{
		store:      cfg.Store,
		cal:        cfg.Calendar,
		ttl:        cfg.TTL,
		defaultLoc: cfg.DefaultLocation,
		now:        cfg.Now,
		logger:     cfg.Logger.With("component", "confirm"),
	}
}

// Store exposes the underlying pending-action store (for the sweeper).
func (f *Flow) Store() Store { return f.store }

// ProposeRequest carries everything Propose needs about one assistant turn.
type ProposeRequest struct {
	OwnerID      int64
	CollectionID string
	SessionID    int64
	// UserText is the original inbound message, used for fallback range
	// resolution on list queries.
	UserText string
	// AssistantReply is the cleaned natural-language reply; it doubles as
	// the confirmation prompt for mutating actions.
	AssistantReply string
	Intent         *models.Intent
}

// Propose consumes an extracted intent. List queries execute immediately
// and never create a pending action; mutating actions always park behind a
// fresh single-use token. A nil return means the message carried no
// calendar action and the plain reply should be delivered instead.
func (f *Flow) Propose(ctx context.Context, req ProposeRequest) *Outcome {
	if req.Intent == nil || !req.Intent.Action.Mutating() && req.Intent.Action != models.ActionList {
		return nil
	}

	if req.Intent.Action == models.ActionList {
		return f.runList(ctx, req)
	}

	token := newToken()
	f.store.Put(PendingAction{
		Token:        token,
		State:        StateProposed,
		Intent:       *req.Intent,
		OwnerID:      req.OwnerID,
		CollectionID: req.CollectionID,
		SessionID:    req.SessionID,
		ExpiresAt:    f.now().Add(f.ttl),
	})

	prompt := strings.TrimSpace(req.AssistantReply)
	if prompt == "" {
		prompt = msgConfirmDefault
	}
	return &Outcome{Status: StatusAwaitingConfirm, Message: prompt, Token: token}
}

func (f *Flow) runList(ctx context.Context, req ProposeRequest) *Outcome {
	loc := f.timezone(ctx, req.OwnerID)

	var start, end time.Time
	if r := req.Intent.Range; r != nil {
		start = calendar.ParseISO(r.Start)
		end = calendar.ParseISO(r.End)
	}
	if start.IsZero() || end.IsZero() {
		start, end, _ = calendar.ParseRangeRU(req.UserText, loc, f.now())
	}

	events, err := f.cal.ListBetween(ctx, req.OwnerID, req.CollectionID, start, end)
	if err != nil {
		f.logger.Warn("list events failed", "owner_id", req.OwnerID, "error", err)
		return &Outcome{Status: StatusUnavailable, Message: msgUnavailable}
	}

	msg := calendar.FormatEvents(events)
	if reply := strings.TrimSpace(req.AssistantReply); reply != "" {
		msg = reply + "\n\n" + msg
	}
	return &Outcome{Status: StatusOK, Message: msg}
}

// Confirm handles a positive confirmation of the pending action behind
// token. Creates execute right away; updates and deletes first resolve
// which concrete event they target.
func (f *Flow) Confirm(ctx context.Context, token string, sessionID int64) Outcome {
	pa, fail := f.guard(token, sessionID)
	if fail != nil {
		return *fail
	}

	switch pa.Intent.Action {
	case models.ActionCreate:
		return f.confirmCreate(ctx, pa)
	case models.ActionUpdate, models.ActionDelete:
		return f.resolveTarget(ctx, pa)
	default:
		// an intent that cannot be executed should never have been parked
		f.store.Remove(token)
		return Outcome{Status: StatusNotFound, Message: msgStale}
	}
}

func (f *Flow) confirmCreate(ctx context.Context, pa PendingAction) Outcome {
	draft, ok := draftFromIntent(pa.Intent.Event)
	if !ok {
		f.store.Remove(pa.Token)
		return Outcome{Status: StatusIncompleteData, Message: msgIncomplete}
	}

	if _, won := f.store.Remove(pa.Token); !won {
		return Outcome{Status: StatusNotFound, Message: msgStale}
	}

	created, err := f.cal.Create(ctx, pa.OwnerID, pa.CollectionID, draft)
	if err != nil {
		f.logger.Warn("create event failed", "owner_id", pa.OwnerID, "error", err)
		return Outcome{Status: StatusUnavailable, Message: msgUnavailable}
	}
	return Outcome{Status: StatusOK, Message: withLink(msgCreated, created)}
}

func draftFromIntent(ev *models.EventDraft) (calendar.Draft, bool) {
	if ev == nil {
		return calendar.Draft{}, false
	}
	summary := strings.TrimSpace(ev.Summary)
	start := calendar.ParseISO(ev.Start)
	end := calendar.ParseISO(ev.End)
	if summary == "" || start.IsZero() || end.IsZero() {
		return calendar.Draft{}, false
	}
	return calendar.Draft{
		Summary:     summary,
		Start:       start,
		End:         end,
		Location:    ev.Location,
		Description: ev.Description,
	}, true
}

func (f *Flow) resolveTarget(ctx context.Context, pa PendingAction) Outcome {
	loc := f.timezone(ctx, pa.OwnerID)

	rangeDays := defaultMatchDays
	query := ""
	if m := pa.Intent.Match; m != nil {
		if m.RangeDays > 0 {
			rangeDays = m.RangeDays
		}
		query = m.Query
	}

	start := f.now().In(loc)
	end := start.AddDate(0, 0, rangeDays)
	events, err := f.cal.ListBetween(ctx, pa.OwnerID, pa.CollectionID, start, end)
	if err != nil {
		// token kept: the user may retry once the calendar is reachable
		f.logger.Warn("candidate lookup failed", "owner_id", pa.OwnerID, "error", err)
		return Outcome{Status: StatusUnavailable, Message: msgUnavailable}
	}

	cands := filterCandidates(events, query, loc)
	switch len(cands) {
	case 0:
		f.store.Remove(pa.Token)
		return Outcome{Status: StatusNotFound, Message: msgNoCandidates}
	case 1:
		if _, won := f.store.Remove(pa.Token); !won {
			return Outcome{Status: StatusNotFound, Message: msgStale}
		}
		return f.execute(ctx, pa, cands[0], loc)
	}

	pa.State = StateAwaitingPick
	pa.Candidates = cands
	if !f.store.Update(pa) {
		return Outcome{Status: StatusNotFound, Message: msgStale}
	}
	return Outcome{
		Status:    StatusAwaitingPick,
		Message:   msgPickPrompt + "\n\n" + formatCandidates(cands),
		Token:     pa.Token,
		PickCount: len(cands),
	}
}

// Pick completes a disambiguated update or delete. The chosen candidate is
// acted on at most once; the token is consumed on every path except an
// out-of-bounds index.
func (f *Flow) Pick(ctx context.Context, token string, index int, sessionID int64) Outcome {
	pa, fail := f.guard(token, sessionID)
	if fail != nil {
		return *fail
	}
	if index < 0 || index >= len(pa.Candidates) {
		return Outcome{Status: StatusInvalidSelection, Message: msgBadPick}
	}
	chosen := pa.Candidates[index]
	loc := f.timezone(ctx, pa.OwnerID)

	if _, won := f.store.Remove(token); !won {
		return Outcome{Status: StatusNotFound, Message: msgStale}
	}
	return f.execute(ctx, pa, chosen, loc)
}

// execute performs the stored action against one concrete event. The token
// has already been consumed by the caller.
func (f *Flow) execute(ctx context.Context, pa PendingAction, chosen models.Event, loc *time.Location) Outcome {
	switch pa.Intent.Action {
	case models.ActionDelete:
		if err := f.cal.Delete(ctx, pa.OwnerID, pa.CollectionID, chosen.ID); err != nil {
			f.logger.Warn("delete event failed", "owner_id", pa.OwnerID, "event_id", chosen.ID, "error", err)
			return Outcome{Status: StatusUnavailable, Message: msgDeleteFailed}
		}
		return Outcome{Status: StatusOK, Message: msgDeleted}

	case models.ActionUpdate:
		patch := buildPatch(pa.Intent.Patch, chosen, loc)
		if patch.Empty() {
			return Outcome{Status: StatusNothingToChange, Message: msgNothing}
		}
		updated, err := f.cal.Patch(ctx, pa.OwnerID, pa.CollectionID, chosen.ID, patch)
		if err != nil {
			f.logger.Warn("patch event failed", "owner_id", pa.OwnerID, "event_id", chosen.ID, "error", err)
			return Outcome{Status: StatusUnavailable, Message: msgUnavailable}
		}
		return Outcome{Status: StatusOK, Message: withLink(msgUpdated, updated)}
	}
	return Outcome{Status: StatusNotFound, Message: msgStale}
}

// Cancel discards a pending action. Cancelling an unknown or already
// consumed token reports it as stale.
func (f *Flow) Cancel(token string) Outcome {
	if _, won := f.store.Remove(token); won {
		return Outcome{Status: StatusOK, Message: msgCancelled}
	}
	return Outcome{Status: StatusNotFound, Message: msgStale}
}

// guard applies the shared token checks in the order the protocol
// requires: unknown, wrong chat, expired (which consumes the record).
func (f *Flow) guard(token string, sessionID int64) (PendingAction, *Outcome) {
	pa, ok := f.store.Get(token)
	if !ok {
		return PendingAction{}, &Outcome{Status: StatusNotFound, Message: msgStale}
	}
	if pa.SessionID != sessionID {
		return PendingAction{}, &Outcome{Status: StatusForbidden, Message: msgWrongChat}
	}
	if f.now().After(pa.ExpiresAt) {
		f.store.Remove(token)
		return PendingAction{}, &Outcome{Status: StatusExpired, Message: msgExpired}
	}
	return pa, nil
}

func (f *Flow) timezone(ctx context.Context, ownerID int64) *time.Location {
	loc, err := f.cal.ResolveTimezone(ctx, ownerID)
	if err != nil || loc == nil {
		return f.defaultLoc
	}
	return loc
}

// filterCandidates keeps events whose title contains every query token
// (case-insensitive; an empty query matches everything), sorted ascending
// by start with unparseable starts last, capped at maxCandidates.
func filterCandidates(events []models.Event, query string, loc *time.Location) []models.Event {
	tokens := splitQuery(query)

	cands := make([]models.Event, 0, len(events))
	for _, ev := range events {
		title := strings.ToLower(ev.Summary)
		ok := true
		for _, tok := range tokens {
			if !strings.Contains(title, tok) {
				ok = false
				break
			}
		}
		if ok {
			cands = append(cands, ev)
		}
	}

	sort.SliceStable(cands, func(i, j int) bool {
		si, _ := calendar.EventBounds(cands[i], loc)
		sj, _ := calendar.EventBounds(cands[j], loc)
		switch {
		case si.IsZero():
			return false
		case sj.IsZero():
			return true
		}
		return si.Before(sj)
	})

	if len(cands) > maxCandidates {
		cands = cands[:maxCandidates]
	}
	return cands
}

func splitQuery(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return r == '|' || r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	return fields
}

func formatCandidates(cands []models.Event) string {
	lines := make([]string, 0, len(cands))
	for i, ev := range cands {
		title := ev.Summary
		if title == "" {
			title = "Без названия"
		}
		start := ev.Start.DateTime
		if start == "" {
			start = ev.Start.Date
		}
		lines = append(lines, fmt.Sprintf("%d) %s — %s", i+1, html.EscapeString(title), start))
	}
	return strings.Join(lines, "\n")
}

// buildPatch assembles the calendar patch for an update intent against the
// chosen event. A relative shift needs a valid positive-duration pair on
// the existing event; an absolute start without an end keeps the event's
// original duration.
func buildPatch(spec *models.PatchSpec, chosen models.Event, loc *time.Location) calendar.Patch {
	var p calendar.Patch
	if spec == nil {
		return p
	}

	oldStart, oldEnd := calendar.EventBounds(chosen, loc)
	validPair := !oldStart.IsZero() && !oldEnd.IsZero() && oldEnd.After(oldStart)

	if spec.ShiftMinutes != nil && validPair {
		d := time.Duration(*spec.ShiftMinutes * float64(time.Minute))
		s := calendar.TimedEventTime(oldStart.Add(d), loc)
		e := calendar.TimedEventTime(oldEnd.Add(d), loc)
		p.Start, p.End = &s, &e
	}

	newStart := calendar.ParseISO(spec.Start)
	newEnd := calendar.ParseISO(spec.End)
	if !newStart.IsZero() {
		if newEnd.IsZero() && validPair {
			newEnd = newStart.Add(oldEnd.Sub(oldStart))
		}
		if !newEnd.IsZero() {
			s := calendar.TimedEventTime(newStart, loc)
			e := calendar.TimedEventTime(newEnd, loc)
			p.Start, p.End = &s, &e
		}
	}

	if spec.Summary != nil {
		p.Summary = spec.Summary
	}
	if spec.Location != nil {
		p.Location = spec.Location
	}
	if spec.Description != nil {
		p.Description = spec.Description
	}
	return p
}

func withLink(msg string, ev *models.Event) string {
	if ev != nil && ev.HTMLLink != "" {
		return msg + "\n" + ev.HTMLLink
	}
	return msg
}
