/*
store.go - Persistence contract for the ledger core

PURPOSE:
  Defines the interface between the engine and the database. The store's
  transaction primitive is the only legal synchronization boundary: the
  engine performs no locking of its own.

CONTRACT:
  WithTx runs fn atomically. If fn returns an error the transaction is
  rolled back and nothing is observable; otherwise everything fn wrote is
  committed together. Balance mutations, the ledger entry, and the
  idempotency record for one operation always share one transaction.

  UpdateAccount is conditional: it succeeds only if the stored version
  equals expectedVersion, otherwise it returns ErrVersionConflict. This
  is the compare-and-swap the engine's retry loop is built on.

  Entries are append-only. No store implementation exposes a way to
  update or delete them.

IMPLEMENTATIONS:
  - ledger/store: in-memory reference implementation (tests, dev)
  - store/sqlite: durable single-node store
  - store/postgres: pgx-backed store for shared deployments
*/
package ledger

import (
	"context"
	"time"
)

// Store is the durable home of accounts, entries, and idempotency
// records. Read methods outside WithTx observe committed state only.
type Store interface {
	// WithTx executes fn within an atomic transaction.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// ListAccounts returns all wallets owned by a user, sorted by currency.
	ListAccounts(ctx context.Context, userID string) ([]Account, error)

	// ListEntries returns committed entries touching the user, newest
	// first. Page bounds the result; see query.go for the cursor codec.
	ListEntries(ctx context.Context, userID string, page Page) ([]Entry, error)

	// PruneIdempotency removes idempotency records created before the
	// cutoff and reports how many were removed. Entries are never pruned.
	PruneIdempotency(ctx context.Context, cutoff time.Time) (int, error)
}

// Tx is the handle passed to WithTx callbacks. All writes are staged and
// become visible only on commit.
type Tx interface {
	// GetAccount returns the account or nil if it does not exist.
	GetAccount(ctx context.Context, ref AccountRef) (*Account, error)

	// InsertAccount creates a new account. Fails if it already exists.
	InsertAccount(ctx context.Context, acct Account) error

	// UpdateAccount writes acct iff the stored version equals
	// expectedVersion, bumping the version. Returns ErrVersionConflict
	// on a stale read.
	UpdateAccount(ctx context.Context, acct Account, expectedVersion int64) error

	// AppendEntry writes an immutable log row. Append-only.
	AppendEntry(ctx context.Context, e Entry) error

	// GetEntry returns a log row by ID, or nil if absent.
	GetEntry(ctx context.Context, id string) (*Entry, error)

	// GetIdempotency returns the record for a token, or nil if unseen.
	GetIdempotency(ctx context.Context, token string) (*IdempotencyRecord, error)

	// PutIdempotency records a token's outcome. Called exactly once per
	// token, in the same transaction as the entry it references.
	PutIdempotency(ctx context.Context, rec IdempotencyRecord) error
}

// Page bounds a ListEntries read. The Before* fields are exclusive: only
// entries strictly older than (BeforeTime, BeforeID) are returned. Zero
// values mean "from the top".
type Page struct {
	BeforeTime time.Time
	BeforeID   string
	Limit      int
}
