/*
Package sqlite provides the SQLite-backed implementation of ledger.Store.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements touch the entries table. Account writes
  are conditional on the stored version; a stale write affects zero rows
  and surfaces ledger.ErrVersionConflict.

KEY TABLES:
  accounts:    one row per (user, currency) wallet, versioned
  entries:     immutable transaction log
  idempotency: token -> entry outcome, pruned after the retention window

ORDERING:
  entries.committed_at_ns stores UnixNano so the newest-first index scan
  and the continuation cursor compare integers, not formatted strings.

CONCURRENCY:
  Opened in WAL mode; a sync.Mutex serializes writers in-process, which
  matches SQLite's single-writer model.

USAGE:
  st, err := sqlite.New("./data/wallet.db")   // ":memory:" for tests
  engine := ledger.NewEngine(st)
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kwachapay/wallet-engine/ledger"
)

// Store implements ledger.Store on a single SQLite database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New opens (or creates) the database at dbPath and migrates the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ledger.ErrStoreUnavailable, err)
	}
	// The engine retries transactions itself; one connection avoids
	// SQLITE_BUSY between in-process writers on :memory: databases.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		user_id    TEXT NOT NULL,
		currency   TEXT NOT NULL,
		balance    INTEGER NOT NULL CHECK (balance >= 0),
		version    INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
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
		amount          INTEGER NOT NULL,
		status          TEXT NOT NULL,
		reason          TEXT,
		committed_at_ns INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_source_user
		ON entries(source_user, committed_at_ns DESC);
	CREATE INDEX IF NOT EXISTS idx_entries_dest_user
		ON entries(dest_user, committed_at_ns DESC);

	CREATE TABLE IF NOT EXISTS idempotency (
		token      TEXT PRIMARY KEY,
		op_hash    TEXT NOT NULL,
		entry_id   TEXT NOT NULL,
		status     TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_idempotency_created_at
		ON idempotency(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS (ledger.Store)
// =============================================================================

// WithTx runs fn inside one SQL transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ledger.ErrStoreUnavailable, err)
	}
	defer sqlTx.Rollback()

	if err := fn(&sqliteTx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ledger.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) ListAccounts(ctx context.Context, userID string) ([]ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, currency, balance, version, created_at FROM accounts WHERE user_id = ? ORDER BY currency",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list accounts: %v", ledger.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		var acct ledger.Account
		var createdAt string
		if err := rows.Scan(&acct.UserID, &acct.Currency, &acct.Balance, &acct.Version, &createdAt); err != nil {
			return nil, err
		}
		acct.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

func (s *Store) ListEntries(ctx context.Context, userID string, page ledger.Page) ([]ledger.Entry, error) {
	query := strings.Builder{}
	query.WriteString(`
		SELECT id, token, kind, source_user, source_currency, dest_user, dest_currency,
		       amount, status, reason, committed_at_ns
		FROM entries
		WHERE (source_user = ? OR dest_user = ?)`)
	args := []any{userID, userID}

	if !page.BeforeTime.IsZero() {
		query.WriteString(" AND (committed_at_ns < ? OR (committed_at_ns = ? AND id < ?))")
		ns := page.BeforeTime.UnixNano()
		args = append(args, ns, ns, page.BeforeID)
	}
	query.WriteString(" ORDER BY committed_at_ns DESC, id DESC")
	if page.Limit > 0 {
		query.WriteString(" LIMIT ?")
		args = append(args, page.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
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
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM idempotency WHERE created_at < ?",
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: prune: %v", ledger.ErrStoreUnavailable, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// =============================================================================
// TRANSACTION HANDLE (ledger.Tx)
// =============================================================================

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) GetAccount(ctx context.Context, ref ledger.AccountRef) (*ledger.Account, error) {
	var acct ledger.Account
	var createdAt string
	err := t.tx.QueryRowContext(ctx,
		"SELECT user_id, currency, balance, version, created_at FROM accounts WHERE user_id = ? AND currency = ?",
		ref.UserID, ref.Currency,
	).Scan(&acct.UserID, &acct.Currency, &acct.Balance, &acct.Version, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	acct.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &acct, nil
}

func (t *sqliteTx) InsertAccount(ctx context.Context, acct ledger.Account) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO accounts (user_id, currency, balance, version, created_at) VALUES (?, ?, ?, ?, ?)",
		acct.UserID, acct.Currency, acct.Balance, acct.Version,
		acct.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			// Lost a create race; the engine retries and finds the row.
			return ledger.ErrVersionConflict
		}
		return err
	}
	return nil
}

func (t *sqliteTx) UpdateAccount(ctx context.Context, acct ledger.Account, expectedVersion int64) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE accounts SET balance = ?, version = version + 1 WHERE user_id = ? AND currency = ? AND version = ?",
		acct.Balance, acct.UserID, acct.Currency, expectedVersion,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ledger.ErrVersionConflict
	}
	return nil
}

func (t *sqliteTx) AppendEntry(ctx context.Context, e ledger.Entry) error {
	var srcUser, srcCur, dstUser, dstCur sql.NullString
	if e.Source != nil {
		srcUser = sql.NullString{String: e.Source.UserID, Valid: true}
		srcCur = sql.NullString{String: e.Source.Currency, Valid: true}
	}
	if e.Destination != nil {
		dstUser = sql.NullString{String: e.Destination.UserID, Valid: true}
		dstCur = sql.NullString{String: e.Destination.Currency, Valid: true}
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO entries (id, token, kind, source_user, source_currency, dest_user, dest_currency,
		                     amount, status, reason, committed_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Token, string(e.Kind), srcUser, srcCur, dstUser, dstCur,
		e.Amount, string(e.Status), nullable(e.Reason), e.CommittedAt.UnixNano(),
	)
	return err
}

func (t *sqliteTx) GetEntry(ctx context.Context, id string) (*ledger.Entry, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT id, token, kind, source_user, source_currency, dest_user, dest_currency,
		       amount, status, reason, committed_at_ns
		FROM entries WHERE id = ?`, id)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *sqliteTx) GetIdempotency(ctx context.Context, token string) (*ledger.IdempotencyRecord, error) {
	var rec ledger.IdempotencyRecord
	var status, createdAt string
	err := t.tx.QueryRowContext(ctx,
		"SELECT token, op_hash, entry_id, status, created_at FROM idempotency WHERE token = ?",
		token,
	).Scan(&rec.Token, &rec.OperationHash, &rec.EntryID, &status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Status = ledger.EntryStatus(status)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &rec, nil
}

func (t *sqliteTx) PutIdempotency(ctx context.Context, rec ledger.IdempotencyRecord) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO idempotency (token, op_hash, entry_id, status, created_at) VALUES (?, ?, ?, ?, ?)",
		rec.Token, rec.OperationHash, rec.EntryID, string(rec.Status),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
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
		srcUser      sql.NullString
		srcCur       sql.NullString
		dstUser      sql.NullString
		dstCur       sql.NullString
		reason       sql.NullString
		committedNs  int64
	)
	err := row.Scan(&e.ID, &e.Token, &kind, &srcUser, &srcCur, &dstUser, &dstCur,
		&e.Amount, &status, &reason, &committedNs)
	if err != nil {
		return e, err
	}

	e.Kind = ledger.OperationKind(kind)
	e.Status = ledger.EntryStatus(status)
	e.Reason = reason.String
	e.CommittedAt = time.Unix(0, committedNs).UTC()
	if srcUser.Valid {
		e.Source = &ledger.AccountRef{UserID: srcUser.String, Currency: srcCur.String}
	}
	if dstUser.Valid {
		e.Destination = &ledger.AccountRef{UserID: dstUser.String, Currency: dstCur.String}
	}
	return e, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
