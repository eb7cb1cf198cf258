// Package wallet enforces a hard monthly token budget per owner: one
// wallet row per owner per calendar month plus an append-only ledger of
// successful debits. Debits are race-safe: the read-check-increment runs
// as one guarded UPDATE inside a transaction, so concurrent spenders can
// never jointly overshoot the allowance.
package wallet

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Wallet is the monthly token ledger over a SQLite database.
type Wallet struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// Entry is one ledger row. DeltaTokens is negative for debits.
type Entry struct {
	OwnerID     int64
	Timestamp   time.Time
	DeltaTokens int64
	Reason      string
	RequestID   string
	Metadata    map[string]any
}

// Option customizes a Wallet.
type Option func(*Wallet)

// WithClock overrides the time source (tests only).
func WithClock(now func() time.Time) Option {
	return func(w *Wallet) { w.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Wallet) { w.logger = logger }
}

// New creates a Wallet and runs its schema migration.
func New(db *sql.DB, opts ...Option) (*Wallet, error) {
	w := &Wallet{db: db, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "wallet")
	if err := w.migrate(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Wallet) migrate() error {
	_, err := w.db.Exec(`
		CREATE TABLE IF NOT EXISTS token_wallets (
			owner_id         INTEGER NOT NULL,
			period_start     TEXT NOT NULL,
			period_end       TEXT NOT NULL,
			allowance_tokens INTEGER NOT NULL,
			spent_tokens     INTEGER NOT NULL DEFAULT 0,
			updated_at       TEXT NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (owner_id, period_start)
		);
		CREATE TABLE IF NOT EXISTS token_ledger (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id     INTEGER NOT NULL,
			ts           TEXT NOT NULL,
			delta_tokens INTEGER NOT NULL,
			reason       TEXT,
			request_id   TEXT,
			meta_json    TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_token_ledger_owner_ts ON token_ledger(owner_id, ts DESC);
	`)
	if err != nil {
		return fmt.Errorf("wallet migration: %w", err)
	}
	return nil
}

// periodBounds returns the current calendar month's window in UTC.
func periodBounds(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// EnsurePeriod idempotently creates the current month's wallet row with
// the given allowance, or refreshes the allowance of an existing row.
// spent_tokens is never reset for an existing period; a new month simply
// gets a fresh row.
func (w *Wallet) EnsurePeriod(ctx context.Context, ownerID, allowanceTokens int64) error {
	start, end := periodBounds(w.now())
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO token_wallets (owner_id, period_start, period_end, allowance_tokens, spent_tokens)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(owner_id, period_start) DO UPDATE SET
			period_end       = excluded.period_end,
			allowance_tokens = excluded.allowance_tokens,
			updated_at       = datetime('now')
	`, ownerID, start.Format(time.RFC3339), end.Format(time.RFC3339), allowanceTokens)
	if err != nil {
		return fmt.Errorf("ensure wallet period for owner %d: %w", ownerID, err)
	}
	return nil
}

// Balance returns (allowance, spent, remaining) for the current period,
// zeros when no wallet row exists.
func (w *Wallet) Balance(ctx context.Context, ownerID int64) (int64, int64, int64, error) {
	start, _ := periodBounds(w.now())

	var allowance, spent int64
	err := w.db.QueryRowContext(ctx, `
		SELECT allowance_tokens, spent_tokens FROM token_wallets
		WHERE owner_id = ? AND period_start = ?
	`, ownerID, start.Format(time.RFC3339)).Scan(&allowance, &spent)
	if err == sql.ErrNoRows {
		return 0, 0, 0, nil
	}
	if err != nil {
		return 0, 0, 0, fmt.Errorf("wallet balance for owner %d: %w", ownerID, err)
	}
	remaining := allowance - spent
	if remaining < 0 {
		remaining = 0
	}
	return allowance, spent, remaining, nil
}

// CanSpend is an advisory pre-check: false when no wallet row exists or
// the estimate does not fit the remaining allowance. A race window exists
// between CanSpend and Debit; Debit is the authoritative gate.
func (w *Wallet) CanSpend(ctx context.Context, ownerID, estimateTokens int64) (bool, error) {
	allowance, spent, _, err := w.Balance(ctx, ownerID)
	if err != nil {
		return false, err
	}
	if allowance == 0 && spent == 0 {
		return false, nil
	}
	return spent+estimateTokens <= allowance, nil
}

// Debit atomically spends tokens against the current period. It returns
// false without mutating state when no wallet row exists or the debit
// would exceed the allowance; on success it increments spent_tokens and
// appends one ledger entry.
func (w *Wallet) Debit(ctx context.Context, ownerID, tokens int64, reason, requestID string, meta map[string]any) (bool, error) {
	start, _ := periodBounds(w.now())
	periodKey := start.Format(time.RFC3339)

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin debit tx: %w", err)
	}
	defer tx.Rollback()

	// single guarded update: the check and the increment are one statement
	res, err := tx.ExecContext(ctx, `
		UPDATE token_wallets
		SET spent_tokens = spent_tokens + ?, updated_at = datetime('now')
		WHERE owner_id = ? AND period_start = ?
		  AND spent_tokens + ? <= allowance_tokens
	`, tokens, ownerID, periodKey, tokens)
	if err != nil {
		return false, fmt.Errorf("debit owner %d: %w", ownerID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("debit owner %d: %w", ownerID, err)
	}
	if affected == 0 {
		return false, nil
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		metaJSON = []byte("{}")
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO token_ledger (owner_id, ts, delta_tokens, reason, request_id, meta_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ownerID, w.now().UTC().Format(time.RFC3339Nano), -tokens, reason, requestID, string(metaJSON))
	if err != nil {
		return false, fmt.Errorf("append ledger for owner %d: %w", ownerID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit debit for owner %d: %w", ownerID, err)
	}
	return true, nil
}

// RecentLedger returns the owner's latest ledger entries, newest first.
func (w *Wallet) RecentLedger(ctx context.Context, ownerID int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := w.db.QueryContext(ctx, `
		SELECT owner_id, ts, delta_tokens, reason, request_id, meta_json
		FROM token_ledger
		WHERE owner_id = ?
		ORDER BY ts DESC, id DESC
		LIMIT ?
	`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger for owner %d: %w", ownerID, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts, metaJSON string
		if err := rows.Scan(&e.OwnerID, &ts, &e.DeltaTokens, &e.Reason, &e.RequestID, &metaJSON); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		if metaJSON != "" {
			_ = json.Unmarshal([]byte(metaJSON), &e.Metadata)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
