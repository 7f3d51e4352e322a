package ledger_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwachapay/wallet-engine/ledger"
)

func seedEntries(t *testing.T, engine *ledger.Engine, user string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := engine.Apply(context.Background(), deposit(user, "USD", int64(i+1), fmt.Sprintf("seed-%d", i)))
		require.NoError(t, err)
	}
}

func TestListTransactions_NewestFirst(t *testing.T) {
	engine, st := newTestEngine(t)
	queries := ledger.NewQueries(st)
	seedEntries(t, engine, "u1", 5)

	entries, next, err := queries.ListTransactions(context.Background(), "u1", "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Empty(t, next, "a single page must not return a cursor")

	// Deposit i carried amount i+1; the last one committed first in the list.
	assert.Equal(t, int64(5), entries[0].Amount)
	assert.Equal(t, int64(1), entries[4].Amount)
	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].CommittedAt.After(entries[i-1].CommittedAt))
	}
}

func TestListTransactions_CursorWalksAllPagesWithoutGapsOrDuplicates(t *testing.T) {
	engine, st := newTestEngine(t)
	queries := ledger.NewQueries(st)
	seedEntries(t, engine, "u1", 23)

	seen := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		entries, next, err := queries.ListTransactions(context.Background(), "u1", cursor, 10)
		require.NoError(t, err)
		pages++
		for _, e := range entries {
			require.False(t, seen[e.ID], "entry %s returned twice", e.ID)
			seen[e.ID] = true
		}
		if next == "" {
			break
		}
		cursor = next
	}

	assert.Equal(t, 3, pages)
	assert.Len(t, seen, 23)
}

func TestListTransactions_ExactMultipleOfPageSize(t *testing.T) {
	engine, st := newTestEngine(t)
	queries := ledger.NewQueries(st)
	seedEntries(t, engine, "u1", 10)

	first, next, err := queries.ListTransactions(context.Background(), "u1", "", 10)
	require.NoError(t, err)
	require.Len(t, first, 10)

	if next != "" {
		rest, again, err := queries.ListTransactions(context.Background(), "u1", next, 10)
		require.NoError(t, err)
		assert.Empty(t, rest)
		assert.Empty(t, again)
	}
}

func TestListTransactions_MalformedCursor(t *testing.T) {
	_, st := newTestEngine(t)
	queries := ledger.NewQueries(st)

	_, _, err := queries.ListTransactions(context.Background(), "u1", "not base64!!", 10)
	require.ErrorIs(t, err, ledger.ErrInvalidOperation)

	// Valid base64 but not a cursor payload.
	_, _, err = queries.ListTransactions(context.Background(), "u1", "bm90LWEtY3Vyc29y", 10)
	require.ErrorIs(t, err, ledger.ErrInvalidOperation)
}

func TestListTransactions_FiltersToParticipant(t *testing.T) {
	engine, st := newTestEngine(t)
	queries := ledger.NewQueries(st)
	ctx := context.Background()

	_, err := engine.Apply(ctx, deposit("u1", "USD", 100, "d1"))
	require.NoError(t, err)
	_, err = engine.Apply(ctx, transfer("u1", "u2", "USD", 30, "x1"))
	require.NoError(t, err)
	_, err = engine.Apply(ctx, deposit("u3", "USD", 7, "d3"))
	require.NoError(t, err)

	// u2 only participated in the transfer.
	entries, _, err := queries.ListTransactions(ctx, "u2", "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "x1", entries[0].Token)

	// u1 sees both its deposit and the transfer.
	entries, _, err = queries.ListTransactions(ctx, "u1", "", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestListWallets_SortedByCurrency(t *testing.T) {
	engine, st := newTestEngine(t)
	queries := ledger.NewQueries(st)
	ctx := context.Background()

	_, err := engine.Provision(ctx, "u1", []string{"ZMW", "BTC", "USD"})
	require.NoError(t, err)

	wallets, err := queries.ListWallets(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, wallets, 3)
	assert.Equal(t, "BTC", wallets[0].Currency)
	assert.Equal(t, "USD", wallets[1].Currency)
	assert.Equal(t, "ZMW", wallets[2].Currency)
}
