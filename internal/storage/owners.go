package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/san4s204/AI-ASSISTANT-main/pkg/models"
)

// ErrOwnerNotFound is returned when no owner row matches the lookup.
var ErrOwnerNotFound = errors.New("owner not found")

// Owners persists tenant records: one row per bot owner with their bot
// credential, knowledge source and calendar bindings, and subscription
// state.
type Owners struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// OwnersOption customizes an Owners store.
type OwnersOption func(*Owners)

// WithClock overrides the time source (tests only).
func WithClock(now func() time.Time) OwnersOption {
	return func(o *Owners) { o.now = now }
}

// NewOwners creates the store and runs its schema migration.
func NewOwners(db *sql.DB, opts ...OwnersOption) (*Owners, error) {
	o := &Owners{db: db, now: time.Now, logger: slog.Default().With("component", "owners")}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.migrate(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Owners) migrate() error {
	_, err := o.db.Exec(`
		CREATE TABLE IF NOT EXISTS owners (
			id                  INTEGER PRIMARY KEY,
			username            TEXT,
			bot_token           TEXT NOT NULL DEFAULT '',
			knowledge_source_id TEXT NOT NULL DEFAULT '',
			calendar_id         TEXT NOT NULL DEFAULT '',
			subscription        TEXT NOT NULL DEFAULT 'free',
			subscribed_until    TEXT,
			created_at          TEXT NOT NULL DEFAULT (datetime('now'))
		);
		CREATE INDEX IF NOT EXISTS idx_owners_bot_token ON owners(bot_token) WHERE bot_token != '';
	`)
	if err != nil {
		return fmt.Errorf("owners migration: %w", err)
	}
	return nil
}

// Upsert inserts or updates an owner record by ID.
func (o *Owners) Upsert(ctx context.Context, owner models.Owner) error {
	var until any
	if owner.SubscribedUntil != nil {
		until = owner.SubscribedUntil.UTC().Format(time.RFC3339)
	}
	_, err := o.db.ExecContext(ctx, `
		INSERT INTO owners (id, username, bot_token, knowledge_source_id, calendar_id, subscription, subscribed_until)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username            = excluded.username,
			bot_token           = excluded.bot_token,
			knowledge_source_id = excluded.knowledge_source_id,
			calendar_id         = excluded.calendar_id,
			subscription        = excluded.subscription,
			subscribed_until    = excluded.subscribed_until
	`, owner.ID, owner.Username, owner.BotToken, owner.KnowledgeSourceID,
		owner.CalendarID, owner.Subscription, until)
	if err != nil {
		return fmt.Errorf("upsert owner %d: %w", owner.ID, err)
	}
	return nil
}

// Get returns the owner by ID, ErrOwnerNotFound when absent.
func (o *Owners) Get(ctx context.Context, ownerID int64) (models.Owner, error) {
	row := o.db.QueryRowContext(ctx, `
		SELECT id, username, bot_token, knowledge_source_id, calendar_id, subscription, subscribed_until, created_at
		FROM owners WHERE id = ?
	`, ownerID)
	owner, err := scanOwner(row)
	if err == sql.ErrNoRows {
		return models.Owner{}, fmt.Errorf("owner %d: %w", ownerID, ErrOwnerNotFound)
	}
	if err != nil {
		return models.Owner{}, fmt.Errorf("get owner %d: %w", ownerID, err)
	}
	return owner, nil
}

// ListActive returns all owners that carry a bot credential; these are
// the tenants whose workers should run.
func (o *Owners) ListActive(ctx context.Context) ([]models.Owner, error) {
	rows, err := o.db.QueryContext(ctx, `
		SELECT id, username, bot_token, knowledge_source_id, calendar_id, subscription, subscribed_until, created_at
		FROM owners WHERE bot_token != '' ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list active owners: %w", err)
	}
	defer rows.Close()

	var out []models.Owner
	for rows.Next() {
		owner, err := scanOwner(rows)
		if err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		out = append(out, owner)
	}
	return out, rows.Err()
}

// Delete removes the owner row. Deleting an absent owner is not an error.
func (o *Owners) Delete(ctx context.Context, ownerID int64) error {
	if _, err := o.db.ExecContext(ctx, `DELETE FROM owners WHERE id = ?`, ownerID); err != nil {
		return fmt.Errorf("delete owner %d: %w", ownerID, err)
	}
	return nil
}

// Plan resolves the owner's effective plan tier: premium only while a
// subscription is active and unexpired. Lookup failures degrade to the
// free tier rather than blocking the request.
func (o *Owners) Plan(ctx context.Context, ownerID int64) string {
	owner, err := o.Get(ctx, ownerID)
	if err != nil {
		if !errors.Is(err, ErrOwnerNotFound) {
			o.logger.Warn("plan lookup failed, defaulting to free", "owner_id", ownerID, "error", err)
		}
		return string(models.PlanFree)
	}
	if owner.Subscription == string(models.PlanPremium) {
		if owner.SubscribedUntil == nil || owner.SubscribedUntil.After(o.now()) {
			return string(models.PlanPremium)
		}
	}
	return string(models.PlanFree)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOwner(row rowScanner) (models.Owner, error) {
	var owner models.Owner
	var username, until sql.NullString
	var subscription, createdAt string
	if err := row.Scan(&owner.ID, &username, &owner.BotToken, &owner.KnowledgeSourceID,
		&owner.CalendarID, &subscription, &until, &createdAt); err != nil {
		return models.Owner{}, err
	}
	owner.Username = username.String
	owner.Subscription = subscription
	if until.Valid && until.String != "" {
		if t, err := time.Parse(time.RFC3339, until.String); err == nil {
			owner.SubscribedUntil = &t
		}
	}
	if t, err := time.Parse("2006-01-02 15:04:05", createdAt); err == nil {
		owner.CreatedAt = t
	}
	return owner, nil
}
