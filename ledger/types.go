/*
Package ledger implements the wallet ledger core: accounts, operations,
the append-only transaction log, and the transfer engine that mutates
balances atomically.

KEY CONCEPTS IN THIS FILE (types.go):
  - AccountRef: (user, currency) pair identifying a wallet
  - Account: a wallet's committed balance plus its optimistic version
  - Operation: the unit of work (transfer, deposit, withdraw)
  - Entry: an immutable log row recording the outcome of one operation
  - IdempotencyRecord: token -> outcome mapping guarding against replays

DESIGN PRINCIPLES:
  1. Minor units: balances and amounts are int64 in the currency's
     smallest unit. Never floating point.
  2. Immutability: entries are never modified, only appended.
  3. Idempotency: every operation carries a caller-supplied token; the
     same token always resolves to the same entry.
  4. Versioning: accounts carry a version number so the store can reject
     stale writes (optimistic concurrency).

SEE ALSO:
  - engine.go: the apply algorithm
  - store.go: persistence contract
  - query.go: read-side facade
*/
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// =============================================================================
// ACCOUNT - A wallet identified by (user, currency)
// =============================================================================

// AccountRef identifies a wallet. Currency codes are upper-case.
type AccountRef struct {
	UserID   string `json:"user_id"`
	Currency string `json:"currency"`
}

func (r AccountRef) String() string {
	return r.UserID + "/" + r.Currency
}

// Less defines the deterministic acquisition order for multi-account
// operations. Both stores lock/read accounts in this order so two
// concurrent transfers touching the same pair cannot deadlock.
func (r AccountRef) Less(o AccountRef) bool {
	if r.UserID != o.UserID {
		return r.UserID < o.UserID
	}
	return r.Currency < o.Currency
}

// Account is a wallet's committed state.
//
// INVARIANTS:
//   - Balance >= 0 at every committed state.
//   - Version increments on every balance change.
//   - Accounts are never deleted, only zeroed.
type Account struct {
	UserID    string    `json:"user_id"`
	Currency  string    `json:"currency"`
	Balance   int64     `json:"balance"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

func (a Account) Ref() AccountRef {
	return AccountRef{UserID: a.UserID, Currency: a.Currency}
}

// =============================================================================
// OPERATION - The unit of work submitted to the engine
// =============================================================================

type OperationKind string

const (
	KindTransfer OperationKind = "transfer"
	KindDeposit  OperationKind = "deposit"
	KindWithdraw OperationKind = "withdraw"
)

// Operation describes a balance-changing request.
//
// Which accounts must be present depends on Kind:
//   - Transfer: Source and Destination, Source != Destination
//   - Deposit:  Destination only
//   - Withdraw: Source only
//
// Token is the caller-generated idempotency token, globally unique per
// logical intent. Retrying with the same token never re-applies the
// economic effect.
type Operation struct {
	Kind        OperationKind `json:"kind"`
	Token       string        `json:"token"`
	Source      *AccountRef   `json:"source,omitempty"`
	Destination *AccountRef   `json:"destination,omitempty"`
	Amount      int64         `json:"amount"`
	RequestedAt time.Time     `json:"requested_at"`
}

// Hash returns a digest of the operation's economic payload. The engine
// stores it with the idempotency record so a token reused with a
// different payload can be detected and rejected.
func (op Operation) Hash() string {
	var src, dst string
	if op.Source != nil {
		src = op.Source.String()
	}
	if op.Destination != nil {
		dst = op.Destination.String()
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", op.Kind, src, dst, op.Amount)))
	return hex.EncodeToString(sum[:])
}

// Validate checks the operation shape before any store access.
func (op Operation) Validate() error {
	if op.Token == "" {
		return &InvalidOperationError{Field: "token", Reason: "idempotency token is required"}
	}
	if op.Amount <= 0 {
		return &InvalidOperationError{Field: "amount", Reason: "amount must be positive"}
	}
	switch op.Kind {
	case KindTransfer:
		if op.Source == nil || op.Destination == nil {
			return &InvalidOperationError{Field: "accounts", Reason: "transfer requires source and destination"}
		}
		if *op.Source == *op.Destination {
			return &InvalidOperationError{Field: "accounts", Reason: "source and destination must differ"}
		}
		if op.Source.Currency != op.Destination.Currency {
			return &InvalidOperationError{Field: "accounts", Reason: "transfer accounts must share a currency"}
		}
	case KindDeposit:
		if op.Source != nil || op.Destination == nil {
			return &InvalidOperationError{Field: "accounts", Reason: "deposit requires destination only"}
		}
	case KindWithdraw:
		if op.Source == nil || op.Destination != nil {
			return &InvalidOperationError{Field: "accounts", Reason: "withdraw requires source only"}
		}
	default:
		return &InvalidOperationError{Field: "kind", Reason: fmt.Sprintf("unknown operation kind %q", op.Kind)}
	}
	return nil
}

// =============================================================================
// ENTRY - Immutable transaction log row
// =============================================================================

type EntryStatus string

const (
	StatusCompleted EntryStatus = "completed"
	StatusRejected  EntryStatus = "rejected"
)

// Rejection reasons recorded on Rejected entries.
const (
	ReasonInsufficientFunds = "insufficient_funds"
)

// Entry records the resolved outcome of exactly one operation. Entries
// are written in the same atomic unit as the balance change they record
// and are never mutated or deleted.
type Entry struct {
	ID          string        `json:"id"`
	Token       string        `json:"token"`
	Kind        OperationKind `json:"kind"`
	Source      *AccountRef   `json:"source,omitempty"`
	Destination *AccountRef   `json:"destination,omitempty"`
	Amount      int64         `json:"amount"`
	Status      EntryStatus   `json:"status"`
	Reason      string        `json:"reason,omitempty"`
	CommittedAt time.Time     `json:"committed_at"`
}

// Touches reports whether the entry references the given user on either
// side. Used by the read path to build per-user statements.
func (e Entry) Touches(userID string) bool {
	if e.Source != nil && e.Source.UserID == userID {
		return true
	}
	if e.Destination != nil && e.Destination.UserID == userID {
		return true
	}
	return false
}

// =============================================================================
// IDEMPOTENCY RECORD - Token outcome mapping
// =============================================================================

// IdempotencyRecord maps a token to its resolved entry. Created at first
// processing, read on every retry, never updated after the original
// operation resolves. Pruned only after the retention window.
type IdempotencyRecord struct {
	Token         string      `json:"token"`
	OperationHash string      `json:"operation_hash"`
	EntryID       string      `json:"entry_id"`
	Status        EntryStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
}
