package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwachapay/wallet-engine/ledger"
	"github.com/kwachapay/wallet-engine/ledger/store"
)

func TestJanitor_SweepPrunesExpiredTokensOnly(t *testing.T) {
	// GIVEN: One token committed 60 days ago and one committed now
	// WHEN: A sweep runs with a 30-day retention
	// THEN: Only the old token is forgotten; its entry survives

	mem := store.NewMemory()
	ctx := context.Background()

	past := time.Now().UTC().Add(-60 * 24 * time.Hour)
	oldEngine := ledger.NewEngine(mem, ledger.WithClock(func() time.Time { return past }))
	_, err := oldEngine.Apply(ctx, deposit("u1", "USD", 10, "t-old"))
	require.NoError(t, err)

	engine := ledger.NewEngine(mem)
	_, err = engine.Apply(ctx, deposit("u1", "USD", 5, "t-new"))
	require.NoError(t, err)

	janitor := ledger.NewJanitor(mem)
	janitor.Sweep(ctx)

	require.NoError(t, mem.WithTx(ctx, func(tx ledger.Tx) error {
		gone, err := tx.GetIdempotency(ctx, "t-old")
		require.NoError(t, err)
		assert.Nil(t, gone)

		kept, err := tx.GetIdempotency(ctx, "t-new")
		require.NoError(t, err)
		assert.NotNil(t, kept)
		return nil
	}))

	// The log itself is never pruned.
	entries, err := mem.ListEntries(ctx, "u1", ledger.Page{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

// slowPruneStore blocks the first sweep until released, so tests can
// hold a sweep in flight while shutting the janitor down.
type slowPruneStore struct {
	ledger.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *slowPruneStore) PruneIdempotency(ctx context.Context, cutoff time.Time) (int, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.Store.PruneIdempotency(ctx, cutoff)
}

func TestJanitor_StopDuringSweep(t *testing.T) {
	// GIVEN: A sweep blocked inside the store
	// WHEN: Stop is called while that sweep is still in flight
	// THEN: Stop waits for the sweep and returns without crashing

	slow := &slowPruneStore{
		Store:   store.NewMemory(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	janitor := ledger.NewJanitor(slow)
	janitor.Interval = 5 * time.Millisecond
	janitor.Start()

	<-slow.entered

	done := make(chan struct{})
	go func() {
		janitor.Stop()
		close(done)
	}()

	// Give Stop time to halt the ticker before the sweep completes.
	time.Sleep(20 * time.Millisecond)
	close(slow.release)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the in-flight sweep finished")
	}
}

func TestJanitor_StartStop(t *testing.T) {
	janitor := ledger.NewJanitor(store.NewMemory())
	janitor.Interval = 10 * time.Millisecond

	janitor.Start()
	janitor.Start() // second Start is a no-op
	time.Sleep(25 * time.Millisecond)
	janitor.Stop()
	janitor.Stop() // second Stop is a no-op
}
