package wallet_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwachapay/wallet-engine/ledger"
	"github.com/kwachapay/wallet-engine/ledger/store"
	"github.com/kwachapay/wallet-engine/wallet"
)

func newTestService(t *testing.T) *wallet.Service {
	t.Helper()
	mem := store.NewMemory()
	engine := ledger.NewEngine(mem)
	return wallet.NewService(engine, ledger.NewQueries(mem), wallet.NewRegistry())
}

func TestSignUp_ProvisionsDefaultWalletSet(t *testing.T) {
	svc := newTestService(t)

	views, err := svc.SignUp(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, views, 5)

	byCurrency := map[string]wallet.View{}
	for _, v := range views {
		byCurrency[v.Currency] = v
	}
	for _, code := range []string{"USD", "ZMW", "NGN", "BTC", "USDT"} {
		v, ok := byCurrency[code]
		require.True(t, ok, "missing %s wallet", code)
		assert.Zero(t, v.Minor)
	}
	assert.Equal(t, "0.00", byCurrency["USD"].Balance)
	assert.Equal(t, "0.00000000", byCurrency["BTC"].Balance)
	assert.Equal(t, "0.000000", byCurrency["USDT"].Balance)

	// SignUp again after a deposit keeps the balance.
	_, err = svc.Deposit(context.Background(), "alice", "USD", "12.50", "dep-1")
	require.NoError(t, err)
	views, err = svc.SignUp(context.Background(), "alice")
	require.NoError(t, err)
	for _, v := range views {
		if v.Currency == "USD" {
			assert.Equal(t, int64(1250), v.Minor)
			assert.Equal(t, "12.50", v.Balance)
		}
	}
}

func TestDeposit_CryptoDisplayAmountToMinorUnits(t *testing.T) {
	// Depositing "0.5" BTC with token "t2" credits 50000000 satoshi,
	// creating the wallet if it did not exist.

	svc := newTestService(t)
	ctx := context.Background()

	entry, err := svc.Deposit(ctx, "bob", "BTC", "0.5", "t2")
	require.NoError(t, err)
	assert.Equal(t, int64(50000000), entry.Amount)
	assert.Equal(t, ledger.StatusCompleted, entry.Status)

	views, err := svc.Wallets(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "BTC", views[0].Currency)
	assert.Equal(t, int64(50000000), views[0].Minor)
	assert.Equal(t, "0.50000000", views[0].Balance)
}

func TestDeposit_UnknownCode_RegisteredAsCrypto(t *testing.T) {
	svc := newTestService(t)

	entry, err := svc.Deposit(context.Background(), "bob", "doge", "1.25", "d1")
	require.NoError(t, err)
	require.NotNil(t, entry.Destination)
	assert.Equal(t, "DOGE", entry.Destination.Currency)
	assert.Equal(t, int64(125000000), entry.Amount, "default crypto exponent is 8")

	cur, ok := svc.Currencies().Get("DOGE")
	require.True(t, ok)
	assert.True(t, cur.Crypto)
}

func TestSend_MovesDisplayAmount(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Deposit(ctx, "alice", "ZMW", "100.00", "d1")
	require.NoError(t, err)

	entry, err := svc.Send(ctx, "alice", "bob", "zmw", "40", "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(4000), entry.Amount)

	aliceViews, err := svc.Wallets(ctx, "alice")
	require.NoError(t, err)
	for _, v := range aliceViews {
		if v.Currency == "ZMW" {
			assert.Equal(t, "60.00", v.Balance)
		}
	}
}

func TestSend_UnknownCurrency_Invalid(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Send(context.Background(), "alice", "bob", "XYZ", "1", "t1")
	require.ErrorIs(t, err, wallet.ErrUnknownCurrency)
	assert.ErrorIs(t, err, ledger.ErrInvalidOperation)
}

func TestWithdraw_InsufficientFunds_Surfaces(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Deposit(ctx, "alice", "USD", "10.00", "d1")
	require.NoError(t, err)

	entry, err := svc.Withdraw(ctx, "alice", "USD", "10.01", "w1")
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.Equal(t, ledger.StatusRejected, entry.Status)
}

func TestParseAmount_RejectsBadInput(t *testing.T) {
	usd, ok := wallet.NewRegistry().Get("USD")
	require.True(t, ok)

	for _, bad := range []string{"", "abc", "0", "-5", "1.005"} {
		_, err := usd.ParseAmount(bad)
		assert.ErrorIs(t, err, wallet.ErrBadAmount, "input %q", bad)
	}

	minor, err := usd.ParseAmount(" 12.34 ")
	require.NoError(t, err)
	assert.Equal(t, int64(1234), minor)
}

func TestTransactions_PaginatedStatement(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Deposit(ctx, "alice", "USD", "1.00", "d"+string(rune('a'+i)))
		require.NoError(t, err)
	}

	stmt, err := svc.Transactions(ctx, "alice", "", 2)
	require.NoError(t, err)
	require.Len(t, stmt.Entries, 2)
	require.NotEmpty(t, stmt.NextCursor)

	rest, err := svc.Transactions(ctx, "alice", stmt.NextCursor, 2)
	require.NoError(t, err)
	assert.Len(t, rest.Entries, 1)
	assert.Empty(t, rest.NextCursor)
}
