/*
engine.go - The transfer engine

PURPOSE:
  Validates and atomically applies balance-changing operations across one
  or two accounts. This is the only writer of accounts and entries.

ALGORITHM (per Apply call):
  1. Validate the operation shape. Malformed input never reaches the store.
  2. Inside one store transaction:
     a. Look up the idempotency token. A hit replays the stored entry
        without re-applying anything; a payload mismatch is fatal.
     b. Read the referenced accounts in deterministic order.
     c. For withdraw/transfer, require source balance >= amount. A
        shortfall still commits: a Rejected entry plus the idempotency
        record, so the rejection itself is idempotent.
     d. Apply deltas guarded by the versions read in (b). A missing
        destination is created with balance = amount.
     e. Append the Completed entry and the idempotency record.
  3. A version conflict aborts the transaction and retries the whole
     thing, up to maxAttempts, then surfaces Contention.

GUARANTEES:
  - Exactly-once economic effect per idempotency token.
  - All-or-nothing: a failure before commit changes nothing; a failure
    after commit is healed by the token lookup on retry.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

const defaultMaxAttempts = 3

// Engine applies operations against a Store. Safe for concurrent use;
// it holds no mutable state between Apply calls.
type Engine struct {
	store       Store
	maxAttempts int
	now         func() time.Time
	newID       func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxAttempts bounds the internal contention retry loop.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithClock overrides the commit timestamp source. Tests use this for
// deterministic ordering.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDFunc overrides entry ID generation.
func WithIDFunc(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		maxAttempts: defaultMaxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply resolves an operation to its ledger entry.
//
// The returned entry is authoritative even when err is non-nil: a
// business rejection returns the Rejected entry alongside an error that
// unwraps to ErrInsufficientFunds. Infrastructure and contention errors
// return a zero entry.
func (e *Engine) Apply(ctx context.Context, op Operation) (Entry, error) {
	if err := op.Validate(); err != nil {
		observeOperation(op.Kind, outcomeInvalid)
		return Entry{}, err
	}

	opHash := op.Hash()

	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		var (
			entry      Entry
			rejectErr  error
			replayed   bool
		)

		err := e.store.WithTx(ctx, func(tx Tx) error {
			rec, err := tx.GetIdempotency(ctx, op.Token)
			if err != nil {
				return err
			}
			if rec != nil {
				if rec.OperationHash != opHash {
					return fmt.Errorf("token %s: %w", op.Token, ErrDuplicateToken)
				}
				stored, err := tx.GetEntry(ctx, rec.EntryID)
				if err != nil {
					return err
				}
				if stored == nil {
					return fmt.Errorf("idempotency record %s references missing entry %s", op.Token, rec.EntryID)
				}
				entry = *stored
				replayed = true
				if entry.Status == StatusRejected {
					rejectErr = fmt.Errorf("replayed rejection for token %s: %w", op.Token, ErrInsufficientFunds)
				}
				return nil
			}

			entry, rejectErr, err = e.applyNew(ctx, tx, op, opHash)
			return err
		})

		if errors.Is(err, ErrVersionConflict) {
			observeContentionRetry(op.Kind)
			continue
		}
		if err != nil {
			observeOperation(op.Kind, outcomeError)
			return Entry{}, err
		}

		switch {
		case replayed:
			observeOperation(op.Kind, outcomeReplayed)
		case entry.Status == StatusRejected:
			observeOperation(op.Kind, outcomeRejected)
		default:
			observeOperation(op.Kind, outcomeCompleted)
		}
		return entry, rejectErr
	}

	observeOperation(op.Kind, outcomeContention)
	return Entry{}, &ContentionError{Token: op.Token, Attempts: e.maxAttempts}
}

// applyNew handles the first application of a token. It returns the
// committed entry and, for business rejections, the error to surface.
func (e *Engine) applyNew(ctx context.Context, tx Tx, op Operation, opHash string) (Entry, error, error) {
	now := e.now()

	// Read in deterministic order so two-account operations cannot
	// deadlock against each other in lock-based stores.
	refs := make([]AccountRef, 0, 2)
	if op.Source != nil {
		refs = append(refs, *op.Source)
	}
	if op.Destination != nil {
		refs = append(refs, *op.Destination)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })

	accounts := make(map[AccountRef]*Account, len(refs))
	for _, ref := range refs {
		acct, err := tx.GetAccount(ctx, ref)
		if err != nil {
			return Entry{}, nil, err
		}
		accounts[ref] = acct
	}

	// Balance validation. A missing source is a zero balance, not an
	// error: the rejection must still be recorded and idempotent.
	if op.Source != nil {
		var available int64
		if src := accounts[*op.Source]; src != nil {
			available = src.Balance
		}
		if available < op.Amount {
			entry := Entry{
				ID:          e.newID(),
				Token:       op.Token,
				Kind:        op.Kind,
				Source:      op.Source,
				Destination: op.Destination,
				Amount:      op.Amount,
				Status:      StatusRejected,
				Reason:      ReasonInsufficientFunds,
				CommittedAt: now,
			}
			if err := e.finalize(ctx, tx, entry, opHash, now); err != nil {
				return Entry{}, nil, err
			}
			return entry, &InsufficientFundsError{
				Source:    *op.Source,
				Available: available,
				Requested: op.Amount,
			}, nil
		}
	}

	// Apply deltas under the versions read above.
	if op.Source != nil {
		src := accounts[*op.Source]
		updated := *src
		updated.Balance -= op.Amount
		if err := tx.UpdateAccount(ctx, updated, src.Version); err != nil {
			return Entry{}, nil, err
		}
	}
	if op.Destination != nil {
		if dst := accounts[*op.Destination]; dst != nil {
			updated := *dst
			updated.Balance += op.Amount
			if err := tx.UpdateAccount(ctx, updated, dst.Version); err != nil {
				return Entry{}, nil, err
			}
		} else {
			acct := Account{
				UserID:    op.Destination.UserID,
				Currency:  op.Destination.Currency,
				Balance:   op.Amount,
				Version:   0,
				CreatedAt: now,
			}
			if err := tx.InsertAccount(ctx, acct); err != nil {
				return Entry{}, nil, err
			}
		}
	}

	entry := Entry{
		ID:          e.newID(),
		Token:       op.Token,
		Kind:        op.Kind,
		Source:      op.Source,
		Destination: op.Destination,
		Amount:      op.Amount,
		Status:      StatusCompleted,
		CommittedAt: now,
	}
	if err := e.finalize(ctx, tx, entry, opHash, now); err != nil {
		return Entry{}, nil, err
	}
	return entry, nil, nil
}

// finalize writes the entry and its idempotency record. Both ride the
// surrounding transaction; they can never diverge under crash.
func (e *Engine) finalize(ctx context.Context, tx Tx, entry Entry, opHash string, now time.Time) error {
	if err := tx.AppendEntry(ctx, entry); err != nil {
		return err
	}
	return tx.PutIdempotency(ctx, IdempotencyRecord{
		Token:         entry.Token,
		OperationHash: opHash,
		EntryID:       entry.ID,
		Status:        entry.Status,
		CreatedAt:     now,
	})
}

// Provision creates zero-balance wallets for each currency the user does
// not already hold. Existing wallets are untouched, so calling it twice
// is harmless. Returns the user's wallets for the requested currencies.
func (e *Engine) Provision(ctx context.Context, userID string, currencies []string) ([]Account, error) {
	if userID == "" {
		return nil, &InvalidOperationError{Field: "user_id", Reason: "user id is required"}
	}
	if len(currencies) == 0 {
		return nil, &InvalidOperationError{Field: "currencies", Reason: "at least one currency is required"}
	}

	now := e.now()
	provisioned := make([]Account, 0, len(currencies))

	err := e.store.WithTx(ctx, func(tx Tx) error {
		provisioned = provisioned[:0]
		for _, code := range currencies {
			ref := AccountRef{UserID: userID, Currency: code}
			acct, err := tx.GetAccount(ctx, ref)
			if err != nil {
				return err
			}
			if acct == nil {
				fresh := Account{
					UserID:    userID,
					Currency:  code,
					Balance:   0,
					Version:   0,
					CreatedAt: now,
				}
				if err := tx.InsertAccount(ctx, fresh); err != nil {
					return err
				}
				acct = &fresh
			}
			provisioned = append(provisioned, *acct)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return provisioned, nil
}
