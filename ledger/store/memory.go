// Package store provides the in-memory reference implementation of
// ledger.Store, used by tests and dev mode.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kwachapay/wallet-engine/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory holds all state behind one mutex. WithTx serializes writers,
// which trivially satisfies the store's atomicity contract; rollback is
// implemented by snapshotting before the callback and restoring on error.
type Memory struct {
	mu          sync.RWMutex
	accounts    map[ledger.AccountRef]ledger.Account
	entries     []ledger.Entry
	entryByID   map[string]int
	idempotency map[string]ledger.IdempotencyRecord
}

func NewMemory() *Memory {
	return &Memory{
		accounts:    make(map[ledger.AccountRef]ledger.Account),
		entryByID:   make(map[string]int),
		idempotency: make(map[string]ledger.IdempotencyRecord),
	}
}

// WithTx executes fn atomically. The callback runs under the write lock,
// so concurrent transactions serialize here rather than conflicting.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&memTx{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *Memory) ListAccounts(_ context.Context, userID string) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Account
	for _, acct := range m.accounts {
		if acct.UserID == userID {
			result = append(result, acct)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Currency < result[j].Currency })
	return result, nil
}

func (m *Memory) ListEntries(_ context.Context, userID string, page ledger.Page) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]ledger.Entry, 0)
	for _, e := range m.entries {
		if e.Touches(userID) {
			matched = append(matched, e)
		}
	}
	// Newest first, entry ID as tiebreaker.
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CommittedAt.Equal(matched[j].CommittedAt) {
			return matched[i].CommittedAt.After(matched[j].CommittedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	var result []ledger.Entry
	for _, e := range matched {
		if !page.BeforeTime.IsZero() {
			if e.CommittedAt.After(page.BeforeTime) {
				continue
			}
			if e.CommittedAt.Equal(page.BeforeTime) && e.ID >= page.BeforeID {
				continue
			}
		}
		result = append(result, e)
		if page.Limit > 0 && len(result) >= page.Limit {
			break
		}
	}
	return result, nil
}

func (m *Memory) PruneIdempotency(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pruned := 0
	for token, rec := range m.idempotency {
		if rec.CreatedAt.Before(cutoff) {
			delete(m.idempotency, token)
			pruned++
		}
	}
	return pruned, nil
}

// =============================================================================
// SNAPSHOT / ROLLBACK
// =============================================================================

type memSnapshot struct {
	accounts    map[ledger.AccountRef]ledger.Account
	entries     []ledger.Entry
	entryByID   map[string]int
	idempotency map[string]ledger.IdempotencyRecord
}

func (m *Memory) snapshot() memSnapshot {
	accounts := make(map[ledger.AccountRef]ledger.Account, len(m.accounts))
	for k, v := range m.accounts {
		accounts[k] = v
	}
	entryByID := make(map[string]int, len(m.entryByID))
	for k, v := range m.entryByID {
		entryByID[k] = v
	}
	idem := make(map[string]ledger.IdempotencyRecord, len(m.idempotency))
	for k, v := range m.idempotency {
		idem[k] = v
	}
	return memSnapshot{
		accounts:    accounts,
		entries:     append([]ledger.Entry{}, m.entries...),
		entryByID:   entryByID,
		idempotency: idem,
	}
}

func (m *Memory) restore(s memSnapshot) {
	m.accounts = s.accounts
	m.entries = s.entries
	m.entryByID = s.entryByID
	m.idempotency = s.idempotency
}

// =============================================================================
// TRANSACTION VIEW
// =============================================================================

// memTx operates directly on the parent under its lock; WithTx restores
// the snapshot if the callback fails.
type memTx struct {
	parent *Memory
}

func (t *memTx) GetAccount(_ context.Context, ref ledger.AccountRef) (*ledger.Account, error) {
	acct, ok := t.parent.accounts[ref]
	if !ok {
		return nil, nil
	}
	copied := acct
	return &copied, nil
}

func (t *memTx) InsertAccount(_ context.Context, acct ledger.Account) error {
	if _, exists := t.parent.accounts[acct.Ref()]; exists {
		return ledger.ErrVersionConflict
	}
	t.parent.accounts[acct.Ref()] = acct
	return nil
}

func (t *memTx) UpdateAccount(_ context.Context, acct ledger.Account, expectedVersion int64) error {
	current, ok := t.parent.accounts[acct.Ref()]
	if !ok || current.Version != expectedVersion {
		return ledger.ErrVersionConflict
	}
	acct.Version = expectedVersion + 1
	acct.CreatedAt = current.CreatedAt
	t.parent.accounts[acct.Ref()] = acct
	return nil
}

func (t *memTx) AppendEntry(_ context.Context, e ledger.Entry) error {
	t.parent.entryByID[e.ID] = len(t.parent.entries)
	t.parent.entries = append(t.parent.entries, e)
	return nil
}

func (t *memTx) GetEntry(_ context.Context, id string) (*ledger.Entry, error) {
	idx, ok := t.parent.entryByID[id]
	if !ok {
		return nil, nil
	}
	copied := t.parent.entries[idx]
	return &copied, nil
}

func (t *memTx) GetIdempotency(_ context.Context, token string) (*ledger.IdempotencyRecord, error) {
	rec, ok := t.parent.idempotency[token]
	if !ok {
		return nil, nil
	}
	copied := rec
	return &copied, nil
}

func (t *memTx) PutIdempotency(_ context.Context, rec ledger.IdempotencyRecord) error {
	t.parent.idempotency[rec.Token] = rec
	return nil
}
