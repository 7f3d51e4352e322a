/*
Package postgres provides a pgx-backed implementation of ledger.Store
for deployments where multiple processes share one database.

LOCKING:
  GetAccount inside a transaction uses SELECT ... FOR UPDATE. The engine
  reads accounts in deterministic ref order, so two transfers touching
  the same pair acquire row locks in the same order and cannot deadlock.
  The version guard on UPDATE also covers writers outside this package.

SCHEMA:
  Migrate() creates the three tables on startup. Production deployments
  would normally run versioned migrations instead.
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kwachapay/wallet-engine/ledger"
)

// Store implements ledger.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to connString and verifies the connection.
func New(ctx context.Context, connString string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", ledger.ErrStoreUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %v", ledger.ErrStoreUnavailable, err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		user_id    TEXT NOT NULL,
		currency   TEXT NOT NULL,
		balance    BIGINT NOT NULL CHECK (balance >= 0),
		version    BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, currency)
	);

	CREATE TABLE IF NOT EXISTS entries (
		id              TEXT PRIMARY KEY,
		token           TEXT NOT NULL UNIQUE,
		kind            TEXT NOT NULL,
		source_user     TEXT,
		source_currency TEXT,
		dest_user       TEXT,
		dest_currency   TEXT,
		amount          BIGINT NOT NULL,
		status          TEXT NOT NULL,
		reason          TEXT,
		committed_at    TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_source_user
		ON entries(source_user, committed_at DESC);
	CREATE INDEX IF NOT EXISTS idx_entries_dest_user
		ON entries(dest_user, committed_at DESC);

	CREATE TABLE IF NOT EXISTS idempotency (
		token      TEXT PRIMARY KEY,
		op_hash    TEXT NOT NULL,
		entry_id   TEXT NOT NULL,
		status     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_idempotency_created_at
		ON idempotency(created_at);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// TRANSACTIONS (ledger.Store)
// =============================================================================

func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ledger.ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if mapped := asConflict(err); errors.Is(mapped, ledger.ErrVersionConflict) {
			return mapped
		}
		return fmt.Errorf("%w: commit: %v", ledger.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) ListAccounts(ctx context.Context, userID string) ([]ledger.Account, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT user_id, currency, balance, version, created_at FROM accounts WHERE user_id = $1 ORDER BY currency",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list accounts: %v", ledger.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		var acct ledger.Account
		if err := rows.Scan(&acct.UserID, &acct.Currency, &acct.Balance, &acct.Version, &acct.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

func (s *Store) ListEntries(ctx context.Context, userID string, page ledger.Page) ([]ledger.Entry, error) {
	query := `
		SELECT id, token, kind, source_user, source_currency, dest_user, dest_currency,
		       amount, status, reason, committed_at
		FROM entries
		WHERE (source_user = $1 OR dest_user = $1)`
	args := []any{userID}

	if !page.BeforeTime.IsZero() {
		query += " AND (committed_at < $2 OR (committed_at = $2 AND id < $3))"
		args = append(args, page.BeforeTime, page.BeforeID)
	}
	query += " ORDER BY committed_at DESC, id DESC"
	if page.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", page.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list entries: %v", ledger.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) PruneIdempotency(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM idempotency WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: prune: %v", ledger.ErrStoreUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}

// =============================================================================
// TRANSACTION HANDLE (ledger.Tx)
// =============================================================================

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetAccount(ctx context.Context, ref ledger.AccountRef) (*ledger.Account, error) {
	var acct ledger.Account
	err := t.tx.QueryRow(ctx,
		"SELECT user_id, currency, balance, version, created_at FROM accounts WHERE user_id = $1 AND currency = $2 FOR UPDATE",
		ref.UserID, ref.Currency,
	).Scan(&acct.UserID, &acct.Currency, &acct.Balance, &acct.Version, &acct.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		// A FOR UPDATE read resuming after a competing commit raises a
		// serialization failure under RepeatableRead.
		return nil, asConflict(err)
	}
	return &acct, nil
}

func (t *pgTx) InsertAccount(ctx context.Context, acct ledger.Account) error {
	_, err := t.tx.Exec(ctx,
		"INSERT INTO accounts (user_id, currency, balance, version, created_at) VALUES ($1, $2, $3, $4, $5)",
		acct.UserID, acct.Currency, acct.Balance, acct.Version, acct.CreatedAt,
	)
	if err != nil {
		// A unique violation here means a lost create race; the engine
		// retries and finds the row.
		return asConflict(err)
	}
	return nil
}

func (t *pgTx) UpdateAccount(ctx context.Context, acct ledger.Account, expectedVersion int64) error {
	tag, err := t.tx.Exec(ctx,
		"UPDATE accounts SET balance = $1, version = version + 1 WHERE user_id = $2 AND currency = $3 AND version = $4",
		acct.Balance, acct.UserID, acct.Currency, expectedVersion,
	)
	if err != nil {
		return asConflict(err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrVersionConflict
	}
	return nil
}

func (t *pgTx) AppendEntry(ctx context.Context, e ledger.Entry) error {
	var srcUser, srcCur, dstUser, dstCur, reason *string
	if e.Source != nil {
		srcUser, srcCur = &e.Source.UserID, &e.Source.Currency
	}
	if e.Destination != nil {
		dstUser, dstCur = &e.Destination.UserID, &e.Destination.Currency
	}
	if e.Reason != "" {
		reason = &e.Reason
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO entries (id, token, kind, source_user, source_currency, dest_user, dest_currency,
		                     amount, status, reason, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.Token, string(e.Kind), srcUser, srcCur, dstUser, dstCur,
		e.Amount, string(e.Status), reason, e.CommittedAt,
	)
	// Concurrent same-token requests race to the token unique index;
	// the loser retries and replays the committed entry.
	return asConflict(err)
}

func (t *pgTx) GetEntry(ctx context.Context, id string) (*ledger.Entry, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, token, kind, source_user, source_currency, dest_user, dest_currency,
		       amount, status, reason, committed_at
		FROM entries WHERE id = $1`, id)

	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, asConflict(err)
	}
	return &e, nil
}

func (t *pgTx) GetIdempotency(ctx context.Context, token string) (*ledger.IdempotencyRecord, error) {
	var rec ledger.IdempotencyRecord
	var status string
	err := t.tx.QueryRow(ctx,
		"SELECT token, op_hash, entry_id, status, created_at FROM idempotency WHERE token = $1",
		token,
	).Scan(&rec.Token, &rec.OperationHash, &rec.EntryID, &status, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, asConflict(err)
	}
	rec.Status = ledger.EntryStatus(status)
	return &rec, nil
}

func (t *pgTx) PutIdempotency(ctx context.Context, rec ledger.IdempotencyRecord) error {
	_, err := t.tx.Exec(ctx,
		"INSERT INTO idempotency (token, op_hash, entry_id, status, created_at) VALUES ($1, $2, $3, $4, $5)",
		rec.Token, rec.OperationHash, rec.EntryID, string(rec.Status), rec.CreatedAt,
	)
	return asConflict(err)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// SQLSTATE codes that signal a retryable write race.
const (
	codeSerializationFailure = "40001"
	codeUniqueViolation      = "23505"
)

// asConflict converts serialization failures and unique-index races into
// ledger.ErrVersionConflict so the engine's retry loop engages. Every
// other error passes through unchanged.
func asConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == codeSerializationFailure || pgErr.Code == codeUniqueViolation {
			return fmt.Errorf("%w: %s", ledger.ErrVersionConflict, pgErr.Code)
		}
	}
	return err
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (ledger.Entry, error) {
	var (
		e            ledger.Entry
		kind, status string
		srcUser      *string
		srcCur       *string
		dstUser      *string
		dstCur       *string
		reason       *string
	)
	err := row.Scan(&e.ID, &e.Token, &kind, &srcUser, &srcCur, &dstUser, &dstCur,
		&e.Amount, &status, &reason, &e.CommittedAt)
	if err != nil {
		return e, err
	}

	e.Kind = ledger.OperationKind(kind)
	e.Status = ledger.EntryStatus(status)
	if reason != nil {
		e.Reason = *reason
	}
	if srcUser != nil {
		e.Source = &ledger.AccountRef{UserID: *srcUser, Currency: *srcCur}
	}
	if dstUser != nil {
		e.Destination = &ledger.AccountRef{UserID: *dstUser, Currency: *dstCur}
	}
	return e, nil
}
